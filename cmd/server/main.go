package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/leadguard/leadguard"
)

func main() {
	cfg := leadguard.LoadConfig()
	logger := leadguard.NewLogger(cfg.LogLevel, cfg.LogPretty)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.TokenSecret == "" {
		logger.Warn().Msg("no token secret configured, falling back to fingerprint-only token binding")
	}

	metrics := leadguard.NewInMemoryMetricsCollector()

	var store leadguard.GuardStore
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store = leadguard.NewRedisGuardStore(client, leadguard.WithRedisIdleTTL(cfg.IdleTTL))
		logger.Info().Str("addr", cfg.RedisAddr).Msg("using redis guard store")
	} else {
		store = leadguard.NewInMemoryGuardStore()
	}

	limiter := leadguard.NewLimiter(store,
		leadguard.WithLimits(cfg.RateWindow, cfg.MaxRequests),
		leadguard.WithLockout(cfg.MaxFailures, cfg.LockoutDuration),
		leadguard.WithLimiterLogger(logger),
		leadguard.WithLimiterMetrics(metrics),
	)

	tokens, err := leadguard.NewTokenService(cfg.TokenSecret, leadguard.WithTokenTTL(cfg.TokenTTL))
	if err != nil {
		logger.Fatal().Err(err).Msg("token service setup failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signatures := leadguard.DefaultSignatures()
	if cfg.SignatureDir != "" {
		if err := signatures.Load(cfg.SignatureDir); err != nil {
			logger.Fatal().Err(err).Str("dir", cfg.SignatureDir).Msg("loading signature rules failed")
		}
		go func() {
			if err := signatures.Watch(ctx, cfg.SignatureDir, logger); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Str("dir", cfg.SignatureDir).Msg("signature rule watcher stopped")
			}
		}()
	}

	classifier := leadguard.NewClassifier(signatures,
		leadguard.WithRequiredCaptcha(cfg.RequireCaptcha),
		leadguard.WithMinFillTime(cfg.MinFillTime),
	)

	registry := leadguard.NewNotificationRegistry()
	registry.Register(leadguard.NewLogSender(logger))
	if cfg.ResendAPIKey != "" {
		registry.Register(leadguard.NewResendSender(cfg.ResendAPIKey, cfg.EmailFrom))
	}
	if cfg.WebhookURL != "" {
		registry.Register(leadguard.NewWebhookSender(cfg.WebhookURL, nil))
	}
	sink, _ := registry.Get("resend")
	if sink == nil {
		if webhook, ok := registry.Get("webhook"); ok {
			sink = webhook
		} else {
			sink, _ = registry.Get("log")
			logger.Warn().Msg("no delivery sink configured, inquiries will only be logged")
		}
	}

	var ledger leadguard.Ledger
	if cfg.LedgerPath != "" {
		sqlLedger, err := leadguard.NewSQLiteLedger(cfg.LedgerPath, cfg.LedgerTTL)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.LedgerPath).Msg("opening submission ledger failed")
		}
		defer sqlLedger.Close()
		ledger = sqlLedger
	} else {
		ledger = leadguard.NewMemoryLedger(cfg.LedgerTTL)
	}

	orchestrator := leadguard.NewOrchestrator(limiter, tokens, classifier,
		leadguard.WithSink(sink, cfg.Recipient),
		leadguard.WithLedger(ledger),
		leadguard.WithOrchestratorLogger(logger),
		leadguard.WithOrchestratorMetrics(metrics),
		leadguard.WithSinkTimeout(cfg.SinkTimeout),
	)

	profiler := leadguard.NewTrafficProfiler(cfg.RateWindow, 256)

	edge := leadguard.NewEdgeFilter(
		leadguard.WithBlockedCIDRs(cfg.BlockedCIDRs),
		leadguard.WithEdgeProfiler(profiler),
		leadguard.WithEdgeLogger(logger),
		leadguard.WithEdgeMetrics(metrics),
	)

	server := leadguard.NewServer(tokens, orchestrator, store, edge,
		leadguard.WithServerLedger(ledger),
		leadguard.WithServerProfiler(profiler),
		leadguard.WithServerMetrics(metrics),
		leadguard.WithServerLogger(logger),
	)

	sweeper := leadguard.NewSweeper(store, ledger,
		leadguard.WithSweepInterval(cfg.SweepInterval),
		leadguard.WithIdleTTL(cfg.IdleTTL),
		leadguard.WithSweeperProfiler(profiler),
		leadguard.WithSweeperLogger(logger),
		leadguard.WithSweeperMetrics(metrics),
	)
	go sweeper.Run(ctx)

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("leadguard listening")
		if err := server.Listen(cfg.ListenAddr); err != nil {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")
	cancel()
	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}
