package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"portal/internal/accountgate"
	"portal/internal/allowlist"
	httpapi "portal/internal/http"
	"portal/internal/identity/oidc"
	"portal/internal/platform/config"
	"portal/internal/platform/httpserver"
	"portal/internal/platform/kafka"
	"portal/internal/platform/logger"
	"portal/internal/platform/metrics"
	"portal/internal/platform/redis"
	sessionhandler "portal/internal/session/handler"
	"portal/internal/session/notifier"
	sessionservice "portal/internal/session/service"
	sessionstore "portal/internal/session/store"
	"portal/internal/session/token"
	"portal/internal/upstream"
	"portal/internal/views"
	viewshandler "portal/internal/views/handler"
	"portal/pkg/platform/audit"
	"portal/pkg/platform/audit/publisher"
	kafkaaudit "portal/pkg/platform/audit/publishers/kafka"
	"portal/pkg/platform/audit/store/logging"
	"portal/pkg/platform/middleware/ratelimit"
)

const (
	shutdownGrace   = 15 * time.Second
	auditBufferSize = 256
	tokenIssuer     = "portal"

	sessionCleanupInterval = 5 * time.Minute
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error("portal stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("portal stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := metrics.NewRegistry()
	checks := map[string]httpapi.HealthCheck{}

	// Audit sink: Kafka when brokers are configured, structured logs otherwise.
	var auditStore audit.Store = logging.New(log)
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			return err
		}
		defer producer.Close()
		if err := producer.EnsureTopic(ctx, 1, 1); err != nil {
			log.WarnContext(ctx, "could not ensure audit topic", "topic", cfg.Kafka.AuditTopic, "error", err)
		}
		auditStore = kafkaaudit.New(producer)
		checks["kafka"] = producer.Ping
	}
	auditor := publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(auditBufferSize),
		publisher.WithLogger(log),
	)
	defer auditor.Close()

	// Session records: Redis when configured, process memory otherwise.
	memory := sessionstore.New()
	var sessions sessionservice.Store = memory
	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		sessions = sessionstore.NewRedis(redisClient.Client)
		memory = nil
		checks["redis"] = redisClient.Health
		log.InfoContext(ctx, "using redis session store")
	} else {
		log.WarnContext(ctx, "REDIS_URL not set, sessions are kept in memory")
	}

	up, err := upstream.New(cfg.Upstream.URL,
		upstream.WithTimeout(cfg.Upstream.Timeout),
		upstream.WithMetrics(upstream.NewMetrics(reg)),
	)
	if err != nil {
		return err
	}
	gate, err := allowlist.New(up,
		allowlist.WithTimeout(cfg.Upstream.AllowListTimeout),
		allowlist.WithLogger(log),
		allowlist.WithMetrics(allowlist.NewMetrics(reg)),
	)
	if err != nil {
		return err
	}

	provider, err := oidc.New(ctx, oidc.Config{
		Issuer:       cfg.OIDC.Issuer,
		ClientID:     cfg.OIDC.ClientID,
		ClientSecret: cfg.OIDC.ClientSecret,
		RedirectURI:  cfg.OIDC.RedirectURI,
		Scopes:       cfg.OIDC.Scopes,
	})
	if err != nil {
		return err
	}

	broker := notifier.New(notifier.WithLogger(log))
	flow, err := sessionservice.New(sessions, provider, gate,
		sessionservice.WithNotifier(broker),
		sessionservice.WithAuditor(auditor),
		sessionservice.WithLogger(log),
		sessionservice.WithMetrics(sessionservice.NewMetrics(reg)),
		sessionservice.WithSessionTTL(cfg.Session.TTL),
		sessionservice.WithAttemptTTL(cfg.Session.AttemptTTL),
	)
	if err != nil {
		return err
	}

	cookieKey, err := cfg.DeriveKey("session-cookie", 32)
	if err != nil {
		return err
	}
	cookies := token.NewService(cookieKey, tokenIssuer, tokenIssuer,
		token.WithSecureCookies(cfg.Session.CookieSecure),
	)

	registry, err := views.NewRegistry(up,
		views.WithMetrics(views.NewMetrics(reg)),
		views.WithLogger(log),
	)
	if err != nil {
		return err
	}
	agreements, err := views.NewAgreementRenderer(cfg.CompanyName)
	if err != nil {
		return err
	}

	limiter := ratelimit.New(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst, ratelimit.WithLogger(log))

	// The before-create hook is also served here when a hook secret is set.
	var hook httpapi.Registrar
	if cfg.HookSecret != "" {
		svc, err := accountgate.New(gate,
			accountgate.WithAuditor(auditor),
			accountgate.WithLogger(log),
			accountgate.WithMetrics(accountgate.NewMetrics(reg)),
		)
		if err != nil {
			return err
		}
		hook = accountgate.NewHandler(svc, cfg.HookSecret, log)
	}

	router := httpapi.NewRouter(httpapi.Options{
		Logger:         log,
		AllowedOrigins: cfg.AllowedOrigins,
		Cookies:        cookies,
		Sessions:       flow,
		CookieTTL:      cfg.Session.TTL,
		Auth:           sessionhandler.New(flow, broker, cookies, cfg.Session.TTL, log),
		Views:          viewshandler.New(registry, agreements, log),
		AccountGate:    hook,
		Limiter:        limiter,
		Registry:       reg,
		HTTPMetrics:    metrics.NewHTTP(reg),
		HealthChecks:   checks,
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return registry.Run(ctx, broker) })
	g.Go(func() error { return limiter.Run(ctx) })
	if memory != nil {
		g.Go(func() error { return memory.RunCleanup(ctx, sessionCleanupInterval) })
	}
	g.Go(func() error {
		log.InfoContext(ctx, "portal listening", "addr", cfg.Server.Addr)
		if err := httpserver.Run(ctx, srv, shutdownGrace); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	return g.Wait()
}
