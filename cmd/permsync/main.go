package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/avastusrada/permsync/pkg/api"
	"github.com/avastusrada/permsync/pkg/config"
	"github.com/avastusrada/permsync/pkg/entu"
	"github.com/avastusrada/permsync/pkg/middleware"
	"github.com/avastusrada/permsync/pkg/observability"
	"github.com/avastusrada/permsync/pkg/sync"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel(), os.Stdout)
	logger.WithFields(map[string]interface{}{
		"port":        cfg.Server.Port,
		"health_port": cfg.Server.HealthPort,
		"entu_url":    cfg.Entu.BaseURL,
		"account":     cfg.Entu.Account,
	}).Info("Starting permsync")

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	otelProviders, err := observability.InitOTel(context.Background(), observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}

	entuOpts := []entu.Option{
		entu.WithHTTPClient(&http.Client{Timeout: cfg.Entu.Timeout}),
	}
	if metrics != nil {
		entuOpts = append(entuOpts, entu.WithObserver(metrics.ObserveEntuRequest))
	}
	gateway, err := entu.NewClient(cfg.Entu.BaseURL, cfg.Entu.Account, entuOpts...)
	if err != nil {
		log.Fatalf("Failed to create CMS client: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		if cfg.Redis.Password != "" {
			redisOpts.Password = cfg.Redis.Password
		}
		if cfg.Redis.DB != 0 {
			redisOpts.DB = cfg.Redis.DB
		}
		redisClient = redis.NewClient(redisOpts)

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.WithError(err).Warn("Redis is unreachable at startup, rate limiting will run degraded")
		}
		cancel()
	}

	secrets, err := buildSecretProvider(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to set up webhook secret: %v", err)
	}

	queue := sync.NewQueue()
	passLog := sync.NewPassLogStore(cfg.Sync.PassLogSize)
	service := sync.NewService(sync.ServiceConfig{
		Queue:    queue,
		Resolver: sync.NewResolver(gateway, logger),
		GrantEngine: sync.NewGrantEngine(gateway, logger, metrics, sync.GrantEngineConfig{
			Concurrency: cfg.Sync.GrantConcurrency,
			MaxPairs:    cfg.Sync.MaxGrantPairs,
		}),
		PassLog:     passLog,
		SettleDelay: cfg.Sync.ReprocessSettleDelay,
	}, logger, metrics)

	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	webhookLimit, apiLimit := buildRateLimiters(cleanupCtx, cfg, redisClient, logger)

	server := api.NewServer(api.Options{
		SyncService:      service,
		Gateway:          gateway,
		Logger:           logger,
		Metrics:          metrics,
		Secrets:          secretSource(secrets),
		InsecureDev:      cfg.Webhook.InsecureDev,
		WebhookRateLimit: webhookLimit,
		APIRateLimit:     apiLimit,
		TracingEnabled:   otelProviders != nil,
	})

	health := observability.NewHealthChecker()
	health.Register("entu", gateway.Ping)
	if redisClient != nil {
		health.RegisterRedis(redisClient)
	}
	healthServer := startHealthServer(cfg, health, metrics, logger)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@hourly", func() {
		defer observability.RecoverPanic(logger, "pass log pruning")
		removed := passLog.Prune(cfg.Sync.PassLogRetention)
		if removed > 0 {
			logger.WithField("removed", removed).Debug("Pruned old pass records")
		}
	}); err != nil {
		log.Fatalf("Failed to schedule pass log pruning: %v", err)
	}
	scheduler.Start()

	shutdown := observability.NewShutdownManager(cfg.Server.ShutdownTimeout, logger)
	shutdown.RegisterShutdownFunc("http server", server.Shutdown)
	shutdown.RegisterShutdownFunc("health server", healthServer.Shutdown)
	shutdown.RegisterShutdownFunc("scheduler", func(ctx context.Context) error {
		stopped := scheduler.Stop()
		select {
		case <-stopped.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.RegisterShutdownFunc("rate limiters", func(ctx context.Context) error {
		cancelCleanup()
		return nil
	})
	if secrets != nil {
		shutdown.RegisterShutdownFunc("secret watcher", func(ctx context.Context) error {
			return secrets.Close()
		})
	}
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	go func() {
		if err := server.Start(cfg.Server.Host, cfg.Server.Port,
			cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout); err != nil {
			logger.WithError(err).Error("HTTP server failed")
			shutdown.Shutdown()
		}
	}()

	shutdown.WaitForShutdown()
}

// buildSecretProvider resolves the webhook secret source: a watched file wins
// over an inline value. Returns nil when no secret is configured, which fails
// webhook auth closed unless insecure dev mode is on.
func buildSecretProvider(cfg *config.Config, logger *observability.Logger) (*config.SecretProvider, error) {
	if cfg.Webhook.SecretFile != "" {
		return config.WatchSecretFile(cfg.Webhook.SecretFile, logger)
	}
	if cfg.Webhook.Secret != "" {
		return config.StaticSecret(cfg.Webhook.Secret), nil
	}
	if !cfg.Webhook.InsecureDev {
		logger.Warn("No webhook secret configured, every webhook will be rejected")
	}
	return nil, nil
}

// secretSource converts a possibly-nil provider into the interface the server
// takes; a typed nil pointer must not leak into a non-nil interface value.
func secretSource(p *config.SecretProvider) api.SecretSource {
	if p == nil {
		return nil
	}
	return p
}

// buildRateLimiters prefers Redis-backed limiting when Redis is configured so
// limits hold across replicas, and falls back to per-process token buckets.
func buildRateLimiters(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *observability.Logger) (webhook, apiLimit func(http.Handler) http.Handler) {
	webhookCfg := middleware.DefaultWebhookRateLimitConfig()
	if cfg.Webhook.RateLimitPerMinute > 0 {
		webhookCfg.RequestsPerWindow = cfg.Webhook.RateLimitPerMinute
	}
	if cfg.Webhook.RateLimitBurst > 0 {
		webhookCfg.BurstSize = cfg.Webhook.RateLimitBurst
	}

	if redisClient != nil {
		webhook = middleware.NewDistributedRateLimiter(redisClient, webhookCfg, "permsync:rl:webhook").Handler(logger)
		apiLimit = middleware.NewDistributedRateLimiter(redisClient, middleware.DefaultAPIRateLimitConfig(), "permsync:rl:api").Handler(logger)
		return webhook, apiLimit
	}

	webhookLimiter := middleware.NewRateLimiter(webhookCfg)
	webhookLimiter.StartCleanup(ctx)
	apiLimiter := middleware.NewRateLimiter(middleware.DefaultAPIRateLimitConfig())
	apiLimiter.StartCleanup(ctx)
	return webhookLimiter.Handler, apiLimiter.Handler
}

// startHealthServer serves liveness, readiness and metrics on a separate port
// so probes stay reachable even when the main listener is saturated.
func startHealthServer(cfg *config.Config, health *observability.HealthChecker, metrics *observability.Metrics, logger *observability.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.Liveness)
	mux.HandleFunc("/readyz", health.Readiness)
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Health endpoints listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()
	return srv
}
