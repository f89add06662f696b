// Command accountgate serves the blocking before-create hook the identity
// platform calls when someone signs up.
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
	"portal/internal/platform/config"
	"portal/internal/platform/httpserver"
	"portal/internal/platform/kafka"
	"portal/internal/platform/logger"
	"portal/internal/platform/metrics"
	"portal/internal/upstream"
	"portal/pkg/platform/audit"
	"portal/pkg/platform/audit/publisher"
	kafkaaudit "portal/pkg/platform/audit/publishers/kafka"
	"portal/pkg/platform/audit/store/logging"
	"portal/pkg/platform/middleware/ratelimit"
)

const shutdownGrace = 10 * time.Second

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

	if err := cfg.ValidateAccountGate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error("account gate stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := metrics.NewRegistry()
	checks := map[string]httpapi.HealthCheck{}

	var auditStore audit.Store = logging.New(log)
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			return err
		}
		defer producer.Close()
		auditStore = kafkaaudit.New(producer)
		checks["kafka"] = producer.Ping
	}
	auditor := publisher.NewPublisher(auditStore, publisher.WithLogger(log))
	defer auditor.Close()

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
	svc, err := accountgate.New(gate,
		accountgate.WithAuditor(auditor),
		accountgate.WithLogger(log),
		accountgate.WithMetrics(accountgate.NewMetrics(reg)),
	)
	if err != nil {
		return err
	}

	limiter := ratelimit.New(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst, ratelimit.WithLogger(log))
	router := httpapi.NewRouter(httpapi.Options{
		Logger:       log,
		AccountGate:  accountgate.NewHandler(svc, cfg.HookSecret, log),
		Limiter:      limiter,
		Registry:     reg,
		HTTPMetrics:  metrics.NewHTTP(reg),
		HealthChecks: checks,
	})
	srv := httpserver.New(cfg.Server.AccountGateAddr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return limiter.Run(ctx) })
	g.Go(func() error {
		log.InfoContext(ctx, "account gate listening", "addr", cfg.Server.AccountGateAddr)
		if err := httpserver.Run(ctx, srv, shutdownGrace); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	return g.Wait()
}
