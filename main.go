package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"time"

	"squeezeScanner/config"
	"squeezeScanner/internal/adapters/binanceclient"
	"squeezeScanner/internal/adapters/logger"
	"squeezeScanner/internal/adapters/notify"
	"squeezeScanner/internal/app"
	"squeezeScanner/internal/markethours"
	"squeezeScanner/internal/metrics"
	"squeezeScanner/internal/ports"
	"squeezeScanner/internal/strategy"
	"squeezeScanner/internal/strategy/indicators"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	var appLogger ports.Logger
	if cfg.LogFormat == "json" {
		zl, err := logger.NewZapLogger(cfg.LogLevel)
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize logger: %v", err)
		}
		defer zl.Sync()
		appLogger = zl
	} else {
		appLogger = logger.NewStdLogger(cfg.LogLevel)
	}
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{
		"level":  cfg.LogLevel.String(),
		"format": cfg.LogFormat,
	})

	// 3. Resolve the watchlist
	symbols, err := cfg.ResolveSymbols()
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to resolve watchlist")
		log.Fatalf("FATAL: Failed to resolve watchlist: %v", err)
	}
	appLogger.Info(ctx, "Watchlist resolved", map[string]interface{}{"symbols": len(symbols)})

	// 4. Initialize Bar Provider (Binance Adapter)
	provider, err := binanceclient.New(binanceclient.Config{
		APIKey:    cfg.APIKey,
		SecretKey: cfg.SecretKey,
		Logger:    appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(ctx, "Binance client initialized")

	// 5. Initialize Notifier
	var notifier ports.Notifier
	switch cfg.Notifier {
	case "telegram":
		notifier, err = notify.NewTelegram(notify.TelegramConfig{
			BotToken: cfg.TelegramBotToken,
			ChatID:   cfg.TelegramChatID,
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize Telegram notifier")
			log.Fatalf("FATAL: Failed to initialize Telegram notifier: %v", err)
		}
	default:
		notifier = notify.NewConsole()
	}
	appLogger.Info(ctx, "Notifier initialized", map[string]interface{}{"notifier": cfg.Notifier})

	// 6. Initialize Metrics
	m := metrics.New()
	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, m, appLogger)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				appLogger.Error(shutdownCtx, err, "Error stopping metrics server")
			}
		}()
		appLogger.Info(ctx, "Metrics endpoint started", map[string]interface{}{"addr": cfg.MetricsAddr})
	}

	// 7. Initialize Indicator Engine
	engine, err := indicators.NewEngine(indicators.EngineConfig{
		BBPeriod:           cfg.BBPeriod,
		BBStdDevMultiplier: cfg.BBStdDevMultiplier,
		RSIPeriod:          cfg.RSIPeriod,
		VolatilityLookback: cfg.VolatilityLookback,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize indicator engine")
		log.Fatalf("FATAL: Failed to initialize indicator engine: %v", err)
	}

	// 8. Initialize Signal Detector
	detector, err := strategy.New(strategy.Config{
		RSIOverbought:           cfg.RSIOverbought,
		VolatilityThreshold:     cfg.VolatilityThreshold,
		PartialExitBandPosition: cfg.PartialExitBandPosition,
		MidBandTolerance:        cfg.MidBandTolerance,
		FullExitBandPosition:    cfg.FullExitBandPosition,
	}, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize signal detector")
		log.Fatalf("FATAL: Failed to initialize signal detector: %v", err)
	}
	appLogger.Info(ctx, "Signal detector initialized", map[string]interface{}{
		"preset":        cfg.Preset,
		"rsiOverbought": cfg.RSIOverbought,
	})

	// 9. Initialize Market-Hours Calendar
	calendar, err := markethours.New(markethours.Mode(cfg.MarketHours))
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize market-hours calendar")
		log.Fatalf("FATAL: Failed to initialize market-hours calendar: %v", err)
	}

	// 10. Initialize Scanner Service
	scanner, err := app.NewService(app.Deps{
		Config:   cfg,
		Symbols:  symbols,
		Logger:   appLogger,
		Provider: provider,
		Notifier: notifier,
		Engine:   engine,
		Detector: detector,
		Calendar: calendar,
		Metrics:  m,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize scanner service")
		log.Fatalf("FATAL: Failed to initialize scanner service: %v", err)
	}
	appLogger.Info(ctx, "Scanner service initialized")

	// 11. Start the Service
	if err := scanner.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Scanner service exited with error")
		log.Fatalf("FATAL: Scanner service exited with error: %v", err)
	}

	appLogger.Info(ctx, "Application finished gracefully.")
}
