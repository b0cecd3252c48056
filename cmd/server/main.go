// Command server is quantcore's process entrypoint: it loads
// configuration, opens the database, wires every domain package from
// internal/, and serves the HTTP surface until an interrupt signal
// arrives. Grounded on main.go's load-config -> init-db -> init-stores
// -> start-api-server -> wait-for-signal sequence, generalized from the
// teacher's single SQLite trader store to the full set of quantcore
// stores and domain engines.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"quantcore/internal/analysis"
	"quantcore/internal/auth"
	"quantcore/internal/backtest"
	"quantcore/internal/collector"
	"quantcore/internal/config"
	"quantcore/internal/datasource"
	"quantcore/internal/datasource/equity"
	"quantcore/internal/datasource/polymarket"
	"quantcore/internal/httpapi"
	"quantcore/internal/llm"
	"quantcore/internal/logger"
	"quantcore/internal/macro"
	"quantcore/internal/memory"
	"quantcore/internal/notify"
	"quantcore/internal/prediction"
	"quantcore/internal/quicktrade"
	"quantcore/internal/secretstore"
	"quantcore/internal/store"
	"quantcore/internal/symbol"
	"quantcore/internal/venue"
	"quantcore/internal/venue/binance"
	"quantcore/internal/venue/bitget"
	"quantcore/internal/venue/bybit"
	"quantcore/internal/venue/gate"
	"quantcore/internal/venue/hyperliquid"
	"quantcore/internal/venue/okx"
)

func main() {
	logger.Init(nil)
	logger.Infof("quantcore starting")

	cfg := config.Load()
	logger.Infof("configuration loaded (db=%s, port=%d)", cfg.DBType, cfg.APIServerPort)

	if cfg.DBType == "sqlite" {
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				logger.Errorf("creating data directory: %v", err)
			}
		}
	}

	db, err := store.InitGormWithConfig(store.DBConfig{
		Type:     store.DBType(cfg.DBType),
		Path:     cfg.DBPath,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		logger.Errorf("opening database: %v", err)
		os.Exit(1)
	}
	logger.Infof("database ready (%s)", cfg.DBType)

	ledger, err := store.NewQuickTradeLedger(db)
	if err != nil {
		logger.Errorf("migrating quick-trade ledger: %v", err)
		os.Exit(1)
	}
	predictionStore, err := store.NewPredictionStore(db)
	if err != nil {
		logger.Errorf("migrating prediction cache: %v", err)
		os.Exit(1)
	}
	backtestRuns, err := backtest.NewStore(db)
	if err != nil {
		logger.Errorf("migrating backtest run store: %v", err)
		os.Exit(1)
	}
	credentials, err := secretstore.NewCredentialStore(db)
	if err != nil {
		logger.Errorf("migrating credential store: %v", err)
		os.Exit(1)
	}

	symbols := symbol.NewRegistry()
	cryptoVenues := map[string]venue.KlineSource{
		"binance": binance.New("", ""),
		"bybit":   bybit.New("", ""),
		"gate":    gate.New("", ""),
		"bitget":  bitget.New("", "", ""),
		"okx":     okx.New("", "", "", symbols),
	}
	equityClient := equity.NewProvider(cfg.AlpacaAPIKey, cfg.AlpacaSecretKey, cfg.TwelveDataKey)
	dataFactory := datasource.NewFactory(cryptoVenues, "binance", equityClient, symbols)

	memStore, err := memory.New(db, priceFetcher{dataFactory})
	if err != nil {
		logger.Errorf("migrating analysis memory store: %v", err)
		os.Exit(1)
	}

	coll := collector.New(dataFactory, nil, nil, nil, nil, nil, nil)

	llmClient, defaultModel := buildLLMClient(cfg)
	analysisModels := map[string]analysis.LLMCaller{}
	predictionModels := map[string]prediction.LLMCaller{}
	if llmClient != nil {
		analysisModels[defaultModel] = llmClient
		predictionModels[defaultModel] = llmClient
	}
	analysisEngine := analysis.New(coll, analysisModels, defaultModel, memStore)

	predictionAnalyzer := prediction.New(coll, predictionModels, defaultModel, predictionStore)

	macroAggregator := macro.New(map[string][]macro.Provider{})

	tradeResolver := &venueResolver{registry: symbols}
	executor := quicktrade.New(tradeResolver, ledger)

	polyClient := polymarket.NewClient()

	authService := auth.New([]byte(cfg.JWTSecret))

	var notifiers []notify.Notifier
	if chatID, convErr := strconv.ParseInt(cfg.TelegramChatID, 10, 64); convErr == nil && cfg.TelegramBotToken != "" {
		tg, tgErr := notify.NewTelegramNotifier(cfg.TelegramBotToken, chatID)
		if tgErr != nil {
			logger.Warnf("telegram notifier disabled: %v", tgErr)
		} else {
			notifiers = append(notifiers, tg)
		}
	}
	notifyManager := notify.NewManager(notifiers...)

	srv := httpapi.NewServer(httpapi.Deps{
		Analysis:     analysisEngine,
		Memory:       memStore,
		Prediction:   predictionAnalyzer,
		Markets:      polyClient,
		Macro:        macroAggregator,
		QuickTrade:   executor,
		History:      ledger,
		Credentials:  credentials,
		Backtest:     dataFactory,
		BacktestRuns: backtestRuns,
		Auth:         authService,
		Notify:       notifyManager,
	}, fmt.Sprintf(":%d", cfg.APIServerPort))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infof("listening on :%d", cfg.APIServerPort)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Errorf("http server: %v", err)
		os.Exit(1)
	}
	logger.Infof("shutdown complete")
}

// priceFetcher adapts datasource.Factory's ticker lookup to
// memory.PriceFetcher, used by validate_past_decisions to mark
// analysis recommendations against the realized price.
type priceFetcher struct {
	data *datasource.Factory
}

func (p priceFetcher) CurrentPrice(ctx context.Context, market, symbol string) (float64, error) {
	t, err := p.data.GetTicker(datasource.Market(market), "", symbol)
	if err != nil {
		return 0, err
	}
	return t.Last, nil
}

// buildLLMClient constructs the single configured LLM provider client,
// along with the model name under which analysis_fast and the
// prediction-market analyzer should register it. A process started
// without LLM_API_KEY runs with analysis/prediction disabled rather
// than failing startup, matching Deps' "nil disables the endpoint"
// contract.
func buildLLMClient(cfg *config.Config) (analysis.LLMCaller, string) {
	if cfg.LLMAPIKey == "" {
		logger.Warnf("LLM_API_KEY not set, analysis and prediction endpoints will be unavailable")
		return nil, ""
	}

	opts := []llm.Option{llm.WithAPIKey(cfg.LLMAPIKey)}
	if cfg.LLMModel != "" {
		opts = append(opts, llm.WithModel(cfg.LLMModel))
	}
	if cfg.LLMBaseURL != "" {
		opts = append(opts, llm.WithBaseURL(cfg.LLMBaseURL))
	}

	var client analysis.LLMCaller
	switch cfg.LLMProvider {
	case llm.ProviderQwen:
		client = llm.NewQwen(opts...)
	case llm.ProviderKimi:
		client = llm.NewKimi(opts...)
	case llm.ProviderOpenAI:
		client = llm.NewOpenAI(opts...)
	case llm.ProviderGemini:
		client = llm.NewGemini(opts...)
	case llm.ProviderGrok:
		client = llm.NewGrok(opts...)
	case llm.ProviderClaude:
		client = llm.NewClaude(opts...)
	default:
		client = llm.NewDeepSeek(opts...)
	}
	return client, cfg.LLMProvider + "-chat"
}

// venueResolver builds a venue.Trader from a quick-trade credential,
// dispatching on Credential.Exchange, mirroring
// manager/trader_manager.go's addTraderFromStore exchange-type switch.
type venueResolver struct {
	registry *symbol.Registry
}

func (r *venueResolver) Resolve(cred quicktrade.Credential) (venue.Trader, error) {
	switch cred.Exchange {
	case "binance":
		return binance.New(cred.APIKey, cred.SecretKey), nil
	case "bybit":
		return bybit.New(cred.APIKey, cred.SecretKey), nil
	case "gate":
		return gate.New(cred.APIKey, cred.SecretKey), nil
	case "bitget":
		return bitget.New(cred.APIKey, cred.SecretKey, cred.Passphrase), nil
	case "okx":
		return okx.New(cred.APIKey, cred.SecretKey, cred.Passphrase, r.registry), nil
	case "hyperliquid":
		return hyperliquid.New(cred.APIKey, cred.SecretKey, false)
	default:
		return nil, fmt.Errorf("quicktrade: unsupported exchange %q", cred.Exchange)
	}
}
