package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"margaz-backend/config"
	"margaz-backend/internal/api"
	"margaz-backend/internal/db"
	"margaz-backend/internal/forward"
	"margaz-backend/internal/logging"
	"margaz-backend/internal/metrics"
	"margaz-backend/internal/notification"
	"margaz-backend/internal/store"
	"margaz-backend/internal/telemetry"
)

func main() {
	configPath := os.Getenv(config.EnvConfigPath)
	if configPath == "" {
		configPath = config.DefaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}

	logger, err := logging.New(logging.Config{
		Environment: cfg.Server.Environment,
		Version:     cfg.Server.Version,
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
	})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("margazd stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gormDB, err := db.Init(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	appStore := store.NewGormStore(gormDB)
	logger.Info("database initialized")

	guard, closeGuard, err := replayGuard(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeGuard()

	m := metrics.New(nil)

	relay := forward.New(forward.Options{
		URL:       cfg.Forward.URL,
		HTTPProxy: cfg.Forward.HTTPProxy,
		Timeout:   cfg.Forward.Timeout,
		QueueSize: cfg.Forward.QueueSize,
		Workers:   cfg.Forward.Workers,
	}, logger, m)
	relay.Start(ctx)
	if relay == nil {
		logger.Warn("no telemetry forward url configured, downstream relay disabled")
	}

	opts := []telemetry.Option{telemetry.WithForwarder(relay), telemetry.WithRecorder(m)}

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, webpushOptions, logger)
		pool.Start(ctx)
		opts = append(opts, telemetry.WithAlerter(pool))
	} else {
		logger.Warn("VAPID keys not configured, low-level alerts disabled")
	}

	securityMode, _ := telemetry.ParseSecurityMode(cfg.Telemetry.SecurityMode)
	defaultAuth, _ := telemetry.ParseAuthMode(cfg.Telemetry.DefaultAuthMode)
	ingest := telemetry.NewService(telemetry.Config{
		SecurityMode:      securityMode,
		DefaultAuthMode:   defaultAuth,
		MaxSkew:           cfg.Telemetry.MaxSkew,
		AllowAutoRegister: cfg.Telemetry.AutoRegister(),
		LowLevelThreshold: cfg.Alerts.LowLevelThreshold,
	}, appStore, guard, logger, opts...)

	logger.Info("telemetry security posture",
		zap.String("security_mode", string(securityMode)),
		zap.String("default_auth_mode", string(defaultAuth)),
		zap.Duration("max_skew", cfg.Telemetry.MaxSkew),
		zap.Bool("allow_unknown_autoregister", cfg.Telemetry.AutoRegister()),
		zap.String("replay_backend", cfg.Replay.Backend))

	handler := api.NewHandler(appStore, ingest, webpushOptions, nil, logger, cfg.Server.Version)
	router := api.NewRouter(handler, api.RouterOptions{Server: cfg.Server, Metrics: m})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeoutSec) * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		return fmt.Errorf("HTTP server ListenAndServe: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server Shutdown: %w", err)
	}

	// In-flight forwards are abandoned; the relay is best effort.
	cancel()
	relay.Wait()

	logger.Info("server gracefully stopped")
	return nil
}

// replayGuard builds the configured replay guard and a func releasing it.
func replayGuard(ctx context.Context, cfg *config.Config) (telemetry.ReplayGuard, func(), error) {
	if cfg.Replay.Backend != "redis" {
		return telemetry.NewMemoryGuard(cfg.Telemetry.MaxSkew), func() {}, nil
	}

	client, err := telemetry.ConnectRedis(ctx, cfg.Replay.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect replay guard to redis: %w", err)
	}
	guard := telemetry.NewRedisGuard(client, cfg.Replay.KeyPrefix, cfg.Telemetry.MaxSkew)
	return guard, func() { _ = client.Close() }, nil
}
