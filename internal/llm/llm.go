// Package llm is the multi-provider LLM client the Fast Analysis Engine
// calls for its single system+user prompt round trip. Grounded on the
// mcp package in the teacher repo: the same template-method retry flow
// (fixed CallWithMessages driving an overridable `call`), the same hooks
// interface for per-provider request/response shape, and the same
// functional-options construction. Trimmed relative to the teacher: the
// builder-pattern multi-turn/tool-calling surface (mcp.Request,
// mcp.CallWithRequest, request_builder.go) has no caller in this spec — the
// analysis engine only ever sends one system+user prompt pair — so it is
// left out; see DESIGN.md.
package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTemperature = 0.3

var defaultTimeout = 60 * time.Second

var retryableSubstrings = []string{
	"EOF",
	"timeout",
	"connection reset",
	"connection refused",
	"temporary failure",
	"no such host",
	"stream error",
}

// Logger is the Printf-style logging dependency every client accepts,
// satisfied directly by internal/logger's global *logrus.Logger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...interface{}) {}
func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}

// TokenUsage is reported after each call when a usage callback is set.
type TokenUsage struct {
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client is the common provider-agnostic AI client every concrete provider
// embeds and specializes via hooks, mirroring mcp.Client/clientHooks.
type Client struct {
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	UseFullURL bool
	MaxTokens  int

	Temperature     float64
	MaxRetries      int
	RetryWaitBase   time.Duration
	RetryableErrors []string

	httpClient *http.Client
	logger     Logger

	onUsage func(TokenUsage)

	hooks hooks
}

// hooks is the internal dispatch interface a provider overrides to change
// request/response shape without touching the fixed retry flow.
type hooks interface {
	buildRequestBody(systemPrompt, userPrompt string) map[string]any
	buildURL() string
	setAuthHeader(h http.Header)
	parseResponse(body []byte) (string, error)
}

// Option configures a Client at construction.
type Option func(*Client)

func WithAPIKey(key string) Option       { return func(c *Client) { c.APIKey = key } }
func WithBaseURL(url string) Option      { return func(c *Client) { c.BaseURL = url; c.UseFullURL = strings.HasSuffix(url, "#") } }
func WithModel(model string) Option      { return func(c *Client) { c.Model = model } }
func WithMaxTokens(n int) Option         { return func(c *Client) { c.MaxTokens = n } }
func WithTemperature(t float64) Option   { return func(c *Client) { c.Temperature = t } }
func WithMaxRetries(n int) Option        { return func(c *Client) { c.MaxRetries = n } }
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.httpClient.Timeout = d } }
func WithLogger(l Logger) Option         { return func(c *Client) { c.logger = l } }
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpClient = h } }
func WithUsageCallback(fn func(TokenUsage)) Option { return func(c *Client) { c.onUsage = fn } }

func newBase(provider, baseURL, model string, opts ...Option) *Client {
	c := &Client{
		Provider:        provider,
		BaseURL:         baseURL,
		Model:           model,
		MaxTokens:       2000,
		Temperature:     defaultTemperature,
		MaxRetries:      3,
		RetryWaitBase:   2 * time.Second,
		RetryableErrors: retryableSubstrings,
		httpClient:      &http.Client{Timeout: defaultTimeout},
		logger:          noopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) String() string { return fmt.Sprintf("[provider=%s model=%s]", c.Provider, c.Model) }

// CallWithMessages is the fixed retry flow: send, check if the error is
// retryable via the provider's own classification, back off, repeat.
func (c *Client) CallWithMessages(systemPrompt, userPrompt string) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("llm: API key not set for provider %s", c.Provider)
	}

	var lastErr error
	for attempt := 1; attempt <= c.MaxRetries; attempt++ {
		if attempt > 1 {
			c.logger.Warnf("llm %s: retrying call (%d/%d) after: %v", c, attempt, c.MaxRetries, lastErr)
		}
		result, err := c.call(systemPrompt, userPrompt)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !c.isRetryable(err) {
			return "", err
		}
		if attempt < c.MaxRetries {
			time.Sleep(c.RetryWaitBase * time.Duration(attempt))
		}
	}
	return "", fmt.Errorf("llm %s: failed after %d retries: %w", c, c.MaxRetries, lastErr)
}

func (c *Client) call(systemPrompt, userPrompt string) (string, error) {
	body := c.hooks.buildRequestBody(systemPrompt, userPrompt)
	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("llm: failed to encode request: %w", err)
	}

	url := c.hooks.buildURL()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("llm: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.hooks.setAuthHeader(req.Header)

	c.logger.Debugf("llm %s: POST %s", c, url)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm %s: API returned status %d: %s", c, resp.StatusCode, string(respBody))
	}

	return c.hooks.parseResponse(respBody)
}

func (c *Client) isRetryable(err error) bool {
	msg := err.Error()
	for _, s := range c.RetryableErrors {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) reportUsage(promptTokens, completionTokens int) {
	total := promptTokens + completionTokens
	if c.onUsage != nil && total > 0 {
		c.onUsage(TokenUsage{Provider: c.Provider, Model: c.Model, PromptTokens: promptTokens, CompletionTokens: completionTokens, TotalTokens: total})
	}
}

// --- default OpenAI-compatible hooks, reused by every provider except
// Claude, which has its own message/response envelope. ---

func (c *Client) buildRequestBody(systemPrompt, userPrompt string) map[string]any {
	messages := make([]map[string]string, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": systemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": userPrompt})

	body := map[string]any{
		"model":       c.Model,
		"messages":    messages,
		"temperature": c.Temperature,
	}
	if c.Provider == ProviderOpenAI {
		body["max_completion_tokens"] = c.MaxTokens
	} else {
		body["max_tokens"] = c.MaxTokens
	}
	return body
}

func (c *Client) buildURL() string {
	if c.UseFullURL {
		return strings.TrimSuffix(c.BaseURL, "#")
	}
	return c.BaseURL + "/chat/completions"
}

func (c *Client) setAuthHeader(h http.Header) {
	h.Set("Authorization", "Bearer "+c.APIKey)
}

func (c *Client) parseResponse(body []byte) (string, error) {
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("llm: malformed response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llm %s: API error: %s", c, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm %s: empty choices in response", c)
	}
	c.reportUsage(parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)
	return parsed.Choices[0].Message.Content, nil
}
