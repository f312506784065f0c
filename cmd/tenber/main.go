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

	"github.com/joho/godotenv"
	"github.com/nidhogg/tenber/internal/api"
	"github.com/nidhogg/tenber/internal/config"
	"github.com/nidhogg/tenber/internal/events"
	"github.com/nidhogg/tenber/internal/ideas"
	"github.com/nidhogg/tenber/internal/metrics"
	pgstore "github.com/nidhogg/tenber/internal/store"
	"github.com/nidhogg/tenber/internal/store/sqlite"
	"github.com/nidhogg/tenber/internal/vitality"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/tenber.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()
	logger.Info("Starting tenber...", zap.String("config", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := vitality.New(cfg.VitalityEngineConfig())
	logger.Info("Vitality engine ready",
		zap.Duration("half_life", engine.HalfLife()),
		zap.Float64("lambda_per_hour", engine.Lambda()))

	// Pick the repository: PostgreSQL, then SQLite, then memory
	var (
		repo    ideas.Repository
		ready   func(ctx context.Context) error
		closers []func()
	)
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(ctx, cfg.Database.Postgres.DSN, engine, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, trying fallbacks", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(ctx, cfg.Database.Postgres.Migrations); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			repo, ready = ps, ps.Ping
			closers = append(closers, ps.Close)
		}
	}
	if repo == nil && cfg.Database.SQLite.Path != "" {
		db, sqlErr := sqlite.Open(cfg.Database.SQLite.Path, engine, logger)
		if sqlErr != nil {
			logger.Warn("SQLite unavailable, running in memory", zap.Error(sqlErr))
		} else {
			repo, ready = db, db.Ping
			closers = append(closers, func() { db.Close() })
		}
	}
	if repo == nil {
		repo = ideas.NewMemoryRepository(engine)
		logger.Info("Using in-memory repository")
	}

	collector := metrics.NewCollector()
	svc := ideas.NewService(repo, engine, cfg.Budget.Conviction, logger)
	svc.SetMetrics(collector)

	// Initialize event bus
	var bus *events.Bus
	if cfg.Database.Redis.URL != "" {
		b, busErr := events.NewBus(cfg.Database.Redis.URL, cfg.Database.Redis.Stream, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, change events disabled", zap.Error(busErr))
		} else {
			bus = b
			svc.SetPublisher(events.NewGuarded(bus, events.DefaultBreakerSettings(), logger))
		}
	}

	handler := api.NewHandler(svc, logger)
	handler.SetMetricsHandler(collector.Handler())
	if ready != nil {
		handler.SetReadiness(ready)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("tenber listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if bus != nil {
		g.Go(func() error {
			for ev := range bus.Subscribe(gctx) {
				logger.Debug("paths invalidated",
					zap.String("kind", string(ev.Kind)),
					zap.Strings("paths", ev.Paths))
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down tenber...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
	}
	if bus != nil {
		bus.Close()
	}
	for _, closeFn := range closers {
		closeFn()
	}
}
