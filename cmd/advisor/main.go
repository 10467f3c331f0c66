// Command advisor runs the job advisory and history service.
//
// The advisor tracks the lifecycle of jobs submitted to a remote queue-based
// execution service and derives:
//  1. Per-job event timelines
//  2. Average wait and estimated start times per execution target
//  3. Ranked target recommendations
//  4. User notifications, optionally mirrored to a chat webhook
//  5. Per-user analytics reports
//
// A background loop refreshes every tracked user from the job feed. The HTTP
// API listens on :8080 (configurable); a gRPC health service listens on :9090.
//
// Usage:
//
//	advisor \
//	  -storage=badger -data-dir=/var/lib/advisor \
//	  -source=http \
//	  -refresh-interval=5m \
//	  -webhook-url=https://hooks.slack.com/services/...
//
// Environment variables:
//
//	LISTEN             - HTTP listen address (default: :8080)
//	HEALTH_LISTEN      - gRPC health listen address (default: :9090)
//	STORAGE            - file, badger, redis or memory (default: file)
//	DATA_DIR           - Directory for file and badger storage (default: ./data)
//	REDIS_ADDR         - Redis address when STORAGE=redis
//	SOURCE             - Job feed: http or static (default: static)
//	SOURCE_URL         - Base URL of the http job feed
//	SOURCE_JOBS_PATH   - gjson path of the jobs array
//	REFRESH_INTERVAL   - Background refresh interval (default: 5m)
//	SESSION_TTL        - Idle time before a user stops being refreshed (default: 24h)
//	SLACK_WEBHOOK_URL  - Incoming webhook for job notifications
//	LOG_LEVEL          - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT         - Logging format: text, json (default: text)
//
// A .env file in the working directory is loaded first when present.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/HatiCode/jobadvisor/cmd/advisor/config"
	"github.com/HatiCode/jobadvisor/cmd/advisor/logger"
	"github.com/HatiCode/jobadvisor/cmd/advisor/metrics"
	"github.com/HatiCode/jobadvisor/cmd/advisor/router"
	"github.com/HatiCode/jobadvisor/pkg/analytics"
	"github.com/HatiCode/jobadvisor/pkg/history"
	"github.com/HatiCode/jobadvisor/pkg/httpx"
	"github.com/HatiCode/jobadvisor/pkg/notify"
	"github.com/HatiCode/jobadvisor/pkg/predictor"
	"github.com/HatiCode/jobadvisor/pkg/session"
	"github.com/HatiCode/jobadvisor/pkg/source"
	"github.com/HatiCode/jobadvisor/pkg/storage"
)

// version is set via ldflags at build time
var version = "dev"

var errShutdown = errors.New("shutdown requested")

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg := config.ParseFlags()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	log.Info("starting job advisor",
		"version", version,
		"listen", cfg.Listen,
		"storage", cfg.Storage,
		"source", cfg.Source,
	)

	if err := run(cfg, log); err != nil {
		log.Error("advisor stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(cfg *config.Config, log *slog.Logger) error {
	m := metrics.New(nil)

	backend, err := storage.Open(storage.Options{
		Kind:          cfg.Storage,
		Dir:           cfg.DataDir,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Error("failed to close storage", "error", err)
		}
	}()

	stores := make(map[string]storage.Store, 3)
	for _, name := range []string{storage.JobHistory, storage.QueueHistory, storage.Notifications} {
		s, err := backend.Store(name)
		if err != nil {
			return fmt.Errorf("open store %s: %w", name, err)
		}
		stores[name] = s
	}

	src, err := source.New(cfg.Source, cfg.SourceConfig)
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}

	notifyOpts := []notify.Option{
		notify.WithCap(cfg.NotificationCap),
		notify.WithPersistObserver(m.ObservePersist),
		notify.WithDeliveryObserver(m.ObserveDelivery),
	}
	if cfg.WebhookURL != "" {
		deliverer := notify.NewWebhookDeliverer(cfg.WebhookURL, cfg.WebhookPerMinute, nil, log)
		notifyOpts = append(notifyOpts, notify.WithDeliverer(deliverer))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := history.New(ctx, stores[storage.JobHistory], log,
		history.WithPersistObserver(m.ObservePersist))
	p := predictor.New(ctx, stores[storage.QueueHistory], log,
		predictor.WithCap(cfg.QueueHistoryCap),
		predictor.WithPersistObserver(m.ObservePersist))
	n := notify.New(ctx, stores[storage.Notifications], log, notifyOpts...)

	sessions := session.NewCache(nil)
	refresher := NewRefresher(src, sessions, h, p, n, cfg.SessionTTL, log, m)

	handler := router.SetupRoutes(router.Deps{
		History:    h,
		Predictor:  p,
		Notifier:   n,
		Aggregator: analytics.NewAggregator(h),
		Sessions:   sessions,
		Metrics:    m,
	}, log)
	httpServer := httpx.NewServer(cfg.Listen, handler, log)

	var grpcServer *grpc.Server
	var grpcListener net.Listener
	if cfg.HealthListen != "" {
		grpcListener, err = net.Listen("tcp", cfg.HealthListen)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.HealthListen, err)
		}
		grpcServer = grpc.NewServer()
		healthServer := health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		reflection.Register(grpcServer)
	}

	g, gctx := errgroup.WithContext(ctx)

	// Cancel the group on SIGINT and SIGTERM.
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			log.Info("received shutdown signal", "signal", sig)
			return fmt.Errorf("%w: received signal %v", errShutdown, sig)
		case <-gctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		if err := refresher.Run(gctx, cfg.RefreshInterval); err != nil && gctx.Err() == nil {
			return fmt.Errorf("refresh loop: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := n.Run(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("notification worker: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return httpServer.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return httpServer.Stop(cfg.ShutdownTimeout)
	})

	if grpcServer != nil {
		g.Go(func() error {
			log.Info("grpc health server listening", "address", cfg.HealthListen)
			return grpcServer.Serve(grpcListener)
		})
		g.Go(func() error {
			<-gctx.Done()
			grpcServer.GracefulStop()
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		return err
	}
	return nil
}
