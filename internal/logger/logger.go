// Package logger provides the process-wide structured logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// Log is the global logger instance.
	Log *logrus.Logger
	logFile *os.File
)

// Config controls logger initialization.
type Config struct {
	Level   string // debug, info, warn, error
	Dir     string // directory for daily log files, empty defaults to data/logs
	ToStdout bool
}

func (c *Config) setDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Dir == "" {
		c.Dir = "data/logs"
	}
}

type compactFormatter struct {
	logrus.TextFormatter
}

func (f *compactFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	timestamp := entry.Time.Format("01-02 15:04:05")

	caller := ""
	for i := 3; i < 10; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if !strings.Contains(file, "logrus") && !strings.HasSuffix(file, "logger/logger.go") {
			dir := filepath.Dir(file)
			pkg := filepath.Base(dir)
			caller = fmt.Sprintf("%s/%s:%d", pkg, filepath.Base(file), line)
			break
		}
	}

	return []byte(fmt.Sprintf("%s [%s] %s %s\n", timestamp, level, caller, entry.Message)), nil
}

func init() {
	Log = logrus.New()
	Log.SetLevel(logrus.InfoLevel)
	Log.SetFormatter(&compactFormatter{})
	Log.SetOutput(os.Stdout)
}

// Init (re)configures the global logger. Safe to call once at process start.
func Init(cfg *Config) error {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()

	Log = logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	Log.SetLevel(level)
	Log.SetFormatter(&compactFormatter{})

	writers := []io.Writer{os.Stdout}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err == nil {
			name := filepath.Join(cfg.Dir, fmt.Sprintf("core_%s.log", time.Now().UTC().Format("2006-01-02")))
			f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				logFile = f
				writers = append(writers, f)
			}
		}
	}
	Log.SetOutput(io.MultiWriter(writers...))
	return nil
}

// Close releases the open log file, if any.
func Close() {
	if logFile != nil {
		logFile.Close()
	}
}

func Infof(format string, args ...interface{})  { Log.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { Log.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { Log.Errorf(format, args...) }
func Debugf(format string, args ...interface{}) { Log.Debugf(format, args...) }
