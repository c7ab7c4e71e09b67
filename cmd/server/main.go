package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/SpeedDial/config"
	"github.com/sifan077/SpeedDial/internal/app/cache"
	appmodel "github.com/sifan077/SpeedDial/internal/app/model"
	"github.com/sifan077/SpeedDial/internal/app/ratelimit"
	apprepository "github.com/sifan077/SpeedDial/internal/app/repository"
	appserver "github.com/sifan077/SpeedDial/internal/app/server"
	appservice "github.com/sifan077/SpeedDial/internal/app/service"
	inthttp "github.com/sifan077/SpeedDial/internal/http/handler"
	httpUtil "github.com/sifan077/SpeedDial/internal/http/util"
	infraDatabase "github.com/sifan077/SpeedDial/internal/infra/database"
	"github.com/sifan077/SpeedDial/internal/infra/logger"
	infraNATS "github.com/sifan077/SpeedDial/internal/infra/nats"
	infraPrometheus "github.com/sifan077/SpeedDial/internal/infra/prometheus"
	infraRedis "github.com/sifan077/SpeedDial/internal/infra/redis"
	"go.uber.org/zap"
)

const (
	filterCapacity = 100_000
	filterFPRate   = 0.001
	nonceSecretLen = 32
)

func main() {
	log := logger.MustInit(logger.FromEnv(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL")))
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	// Rebuild with the resolved settings; config.yaml may override env and level.
	log = logger.MustInit(logger.FromEnv(cfg.App.Env, cfg.App.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, cfg); err != nil {
		log.Error("SpeedDial exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, log *zap.Logger, cfg *config.Config) error {
	dial := cfg.SpeedDial

	log.Info("Configuration loaded successfully",
		zap.String("env", cfg.App.Env),
		zap.String("addr", cfg.App.Addr),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.Bool("nats_enabled", cfg.NATS.Enabled),
		zap.Bool("events_persist", cfg.Events.Persist),
		zap.Int("max_digits", dial.MaxDigits),
	)

	// Storage
	gormDB, err := infraDatabase.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = infraDatabase.Close(gormDB) }()

	if err := infraDatabase.AutoMigrate(ctx, gormDB, &appmodel.Entry{}, &appmodel.LookupEvent{}); err != nil {
		return fmt.Errorf("run database migrations: %w", err)
	}
	log.Info("Connected to database successfully", zap.String("driver", cfg.Database.Driver))

	healthChecks := []inthttp.HealthCheck{{
		Name:  "database",
		Check: func(ctx context.Context) error { return infraDatabase.Ping(ctx, gormDB) },
	}}

	if cfg.Database.Driver == config.DriverPostgres {
		pool, err := infraDatabase.NewPool(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()
		healthChecks = append(healthChecks, inthttp.HealthCheck{Name: "postgres", Check: pool.Ping})
	}

	// Metrics
	metrics := infraPrometheus.NewMetrics(promclient.DefaultRegisterer)
	if cfg.Prometheus.Enabled && cfg.App.IsProduction() {
		promServer := infraPrometheus.NewServer(cfg.Prometheus, promclient.DefaultGatherer)
		go func() {
			log.Info("Starting Prometheus metrics server", zap.Int("port", cfg.Prometheus.Port))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
		defer func() {
			if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Failed to close Prometheus server", zap.Error(err))
			}
		}()
	} else {
		log.Info("Skipping Prometheus metrics server")
	}

	// Cache and rate limiting
	var (
		entryCache cache.EntryCache
		dialLimit  ratelimit.Limiter
		ipLimit    ratelimit.Limiter
	)
	dialRate := ratelimit.Config{Max: dial.RateLimitMax, Window: dial.RateLimitWindow, KeyPrefix: "sd_rl"}
	ipRate := ratelimit.Config{Max: cfg.App.IPRateLimit, Window: time.Minute, KeyPrefix: "ip_rl"}

	if cfg.Redis.Enabled {
		redisClient, err := infraRedis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		log.Info("Connected to Redis successfully", zap.String("addr", infraRedis.Addr(cfg.Redis)))

		dialRate.KeyPrefix = cfg.Redis.Prefix + dialRate.KeyPrefix
		ipRate.KeyPrefix = cfg.Redis.Prefix + ipRate.KeyPrefix
		entryCache = cache.NewRedisCache(redisClient, cfg.Redis.Prefix)
		dialLimit = ratelimit.NewRedisLimiter(redisClient, dialRate)
		if cfg.App.IPRateLimit > 0 {
			ipLimit = ratelimit.NewRedisLimiter(redisClient, ipRate)
		}
		healthChecks = append(healthChecks, inthttp.HealthCheck{Name: "redis", Check: redisPing(redisClient)})
	} else {
		log.Info("Redis disabled; using in-process cache and rate limits")
		entryCache = cache.NewMemoryCache()
		dialLimit = ratelimit.NewMemoryLimiter(dialRate)
		if cfg.App.IPRateLimit > 0 {
			ipLimit = ratelimit.NewMemoryLimiter(ipRate)
		}
	}

	// Services
	entryRepo := apprepository.NewEntryRepository(gormDB)
	eventRepo := apprepository.NewLookupEventRepository(gormDB)

	var filter *cache.NumberFilter
	if dial.NegativeFilter {
		filter = cache.NewNumberFilter(filterCapacity, filterFPRate, dial.WithDefaults().CacheTTL)
	}

	entries := appservice.NewEntryService(appservice.EntryDeps{
		Logger:  log.Named("entries"),
		Repo:    entryRepo,
		Cache:   entryCache,
		Filter:  filter,
		Metrics: metrics,
		Config:  dial,
	})
	if filter != nil {
		if err := entries.WarmFilter(ctx); err != nil {
			log.Warn("Number filter not warmed; lookups go to storage", zap.Error(err))
		}
		refresher := appservice.NewFilterRefresher(log.Named("number-filter"), entries, filter.MaxAge())
		if err := refresher.Start(); err != nil {
			return err
		}
		defer refresher.Stop()
	}

	sinks := []appservice.EventSink{
		appservice.NewLogSink(log.Named("events")),
		appservice.NewMetricsSink(metrics),
	}

	if cfg.NATS.Enabled {
		natsConn, js, err := infraNATS.Connect(cfg.NATS, log.Named("nats"))
		if err != nil {
			return err
		}
		defer natsConn.Drain()
		log.Info("Connected to NATS successfully", zap.String("url", infraNATS.URL(cfg.NATS)))

		if err := appservice.EnsureLookupStream(js); err != nil {
			return err
		}
		sinks = append(sinks, appservice.NewEventPublisher(js))
		healthChecks = append(healthChecks, inthttp.HealthCheck{Name: "nats", Check: natsStatus(natsConn)})

		if cfg.Events.Persist {
			consumer := appservice.NewEventConsumer(js, log.Named("event-consumer"), eventRepo)
			if err := consumer.Start(ctx); err != nil {
				return err
			}

			pruner := appservice.NewEventPruner(log.Named("event-pruner"), eventRepo, cfg.Events.Retention, cfg.Events.PruneSchedule)
			if err := pruner.Start(); err != nil {
				return err
			}
			defer pruner.Stop()
		}
	}

	lookup := appservice.NewLookupService(appservice.LookupDeps{
		Logger:  log.Named("lookup"),
		Entries: entries,
		Limiter: dialLimit,
		Sinks:   sinks,
		Metrics: metrics,
		Config:  dial,
	})
	transfer := appservice.NewTransferService(log.Named("transfer"), entries, metrics, dial)

	nonceSecret := []byte(cfg.Admin.NonceSecret)
	if len(nonceSecret) == 0 {
		if nonceSecret, err = httpUtil.RandomSecret(nonceSecretLen); err != nil {
			return err
		}
		log.Warn("admin.nonce_secret not set; nonces will not survive a restart")
	}

	server := appserver.New(appserver.Dependencies{
		Logger:       log,
		App:          cfg.App,
		Admin:        cfg.Admin,
		Dial:         dial,
		Entries:      entries,
		Lookup:       lookup,
		Transfer:     transfer,
		Nonces:       httpUtil.NewNonceSigner(nonceSecret, cfg.Admin.NonceTTL),
		IPLimiter:    ipLimit,
		HealthChecks: healthChecks,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", zap.String("addr", cfg.App.Addr))
		errCh <- server.Listen(cfg.App.Addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("fiber server exited: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server", zap.Duration("timeout", cfg.App.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func redisPing(client *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

func natsStatus(conn *nats.Conn) func(ctx context.Context) error {
	return func(context.Context) error {
		if status := conn.Status(); status != nats.CONNECTED {
			return fmt.Errorf("nats connection %s", status)
		}
		return nil
	}
}
