// Command authcore-server serves the authcore session API over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pantrychef/authcore"
	"github.com/pantrychef/authcore/auditsink"
	"github.com/pantrychef/authcore/httpapi"
	"github.com/pantrychef/authcore/internal/janitor"
	"github.com/pantrychef/authcore/internal/logging"
	sharedrate "github.com/pantrychef/authcore/internal/rate"
	"github.com/pantrychef/authcore/internal/serverconfig"
	promexport "github.com/pantrychef/authcore/metrics/export/prometheus"
	"github.com/pantrychef/authcore/revocation"
	"github.com/pantrychef/authcore/session"
	"github.com/pantrychef/authcore/storage/pgstore"
	"github.com/pantrychef/authcore/storage/redisstore"
)

func main() {
	configPath := flag.String("config", os.Getenv("AUTHCORE_CONFIG"), "path to a YAML or JSON config file")
	flag.Parse()

	cfg, err := serverconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("authcore-server exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

type stores struct {
	sessions    session.Store
	revocations revocation.Store
	redis       redis.UniversalClient
	close       func()
}

func run(ctx context.Context, cfg *serverconfig.Config, logger *zap.Logger) error {
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	var sinks authcore.MultiSink
	if cfg.Audit.Log {
		sinks = append(sinks, auditsink.NewZapSink(logger))
	}
	if cfg.KafkaEnabled() {
		kafkaSink, err := auditsink.NewKafkaSink(auditsink.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Source:  cfg.Kafka.Source,
		}, logger.Named("kafka"))
		if err != nil {
			return err
		}
		defer func() {
			if err := kafkaSink.Close(); err != nil {
				logger.Warn("close kafka audit sink", zap.Error(err))
			}
		}()
		sinks = append(sinks, kafkaSink)
	}

	builder := authcore.New().
		WithConfig(engineCfg).
		WithSessionStore(st.sessions).
		WithRevocationStore(st.revocations).
		WithLogger(logger.Named("engine"))
	if len(sinks) > 0 {
		builder = builder.WithAuditSink(sinks)
	}
	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	report := engine.SecurityReport()
	logger.Info("engine ready",
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("signing_algorithm", report.SigningAlgorithm),
		zap.String("identity_key_source", report.IdentityKeySource),
		zap.Duration("access_ttl", report.AccessTTL),
		zap.Duration("refresh_ttl", report.RefreshTTL),
		zap.Bool("audit", report.AuditEnabled),
	)

	jan, err := janitor.New(janitor.Config{
		Interval:  cfg.Store.PruneInterval,
		Retention: cfg.Store.Retention,
	}, logger.Named("janitor"),
		janitor.Target{Name: "sessions", Pruner: st.sessions},
		janitor.Target{Name: "revocations", Pruner: st.revocations},
	)
	if err != nil {
		return err
	}
	jan.Start()
	defer jan.Stop()

	deps := httpapi.Deps{
		Engine:     engine,
		Logger:     logger.Named("http"),
		TrustProxy: cfg.Server.TrustProxy,
	}
	switch {
	case cfg.RateLimit.Enabled && cfg.RateLimit.Shared:
		window, err := sharedrate.New(st.redis, sharedrate.Config{
			Limit:  int(cfg.RateLimit.PerMinute),
			Window: time.Minute,
			Prefix: cfg.Redis.Prefix + ":rl",
		})
		if err != nil {
			return err
		}
		deps.Limiter = httpapi.NewSharedRateLimiter(window, logger.Named("ratelimit"))
	case cfg.RateLimit.Enabled:
		limiter := httpapi.NewRateLimiter(httpapi.RateLimiterConfig{
			Rate:            rate.Limit(cfg.RateLimit.PerMinute / 60),
			Burst:           cfg.RateLimit.Burst,
			CleanupInterval: 5 * time.Minute,
		}, logger.Named("ratelimit"))
		defer limiter.Stop()
		deps.Limiter = limiter
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = promexport.Handler(promexport.NewCollector(engine))
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpapi.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exited", zap.Uint64("audit_dropped", engine.AuditDropped()))
	return nil
}

func openStores(ctx context.Context, cfg *serverconfig.Config, logger *zap.Logger) (*stores, error) {
	switch cfg.Store.Backend {
	case serverconfig.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		opts := redisstore.Options{Prefix: cfg.Redis.Prefix, Retention: cfg.Store.Retention}
		logger.Info("using redis store", zap.String("addr", cfg.Redis.Addr))
		return &stores{
			sessions:    redisstore.NewSessionStore(client, opts),
			revocations: redisstore.NewRevocationStore(client, opts),
			redis:       client,
			close:       func() { _ = client.Close() },
		}, nil

	case serverconfig.BackendPostgres:
		db, err := pgstore.Open(ctx, cfg.Postgres.DSN, pgstore.OpenOptions{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.AutoMigrate {
			if err := pgstore.Migrate(ctx, db); err != nil {
				_ = db.Close()
				return nil, err
			}
			logger.Info("database migrations applied")
		}
		logger.Info("using postgres store")
		return &stores{
			sessions:    pgstore.NewSessionStore(db),
			revocations: pgstore.NewRevocationStore(db),
			close:       func() { _ = db.Close() },
		}, nil

	default:
		logger.Warn("using in-memory store; sessions do not survive restarts")
		return &stores{
			sessions:    session.NewMemoryStore(),
			revocations: revocation.NewMemoryStore(),
			close:       func() {},
		}, nil
	}
}
