package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pluginhub/pluginhub/internal/api"
	"github.com/pluginhub/pluginhub/internal/config"
	"github.com/pluginhub/pluginhub/internal/database"
	"github.com/pluginhub/pluginhub/internal/database/migrations"
	"github.com/pluginhub/pluginhub/internal/logging"
	"github.com/pluginhub/pluginhub/internal/metrics"
	"github.com/pluginhub/pluginhub/internal/plugindata"
	"github.com/pluginhub/pluginhub/internal/plugins"
	"github.com/pluginhub/pluginhub/internal/server"
)

const serviceVersion = "0.1.0"

// stores bundles the storage backends selected by STORAGE_DRIVER.
type stores struct {
	plugins  plugins.Store
	users    api.UserStore
	activity api.ActivityStore
	health   func(context.Context) error
	stats    func() map[string]interface{}
	close    func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	logger.Info("starting pluginhub", "version", serviceVersion)
	logger.Info("storage configuration", "config", cfg.Database.Describe())
	if cfg.Auth.JWTSecret == config.DefaultJWTSecret {
		logger.Warn("AUTH_JWT_SECRET not set, tokens are signed with the default secret")
	}

	st, err := openStores(context.Background(), cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Warn("failed to close storage", "error", err)
		}
	}()

	collector, err := metrics.NewHTTPCollector()
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		os.Exit(1)
	}

	service := plugindata.NewService(plugins.NewRegistry(st.plugins), st.activity, collector, logger)

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", api.NewHealthHandler(st.health, st.stats, logger))
	mux.HandleFunc("GET /api/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"service":"pluginhub","status":"ready","version":%q,"storage":%q}`, serviceVersion, cfg.Database.Driver)
	})
	mux.Handle("GET /metrics", collector.Handler())

	logger.Info("setting up REST API")
	api.SetupRoutes(mux, service, st.plugins, st.users, st.activity, cfg.Auth, logger)

	handler := collector.InstrumentHandler(logging.RequestLogger(logger)(api.CORS(mux)))
	srv := server.New(cfg.Server, logger, handler)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("API available", "url", fmt.Sprintf("http://localhost:%s", cfg.Server.Port))

	waitForSignal(logger)

	logger.Info("shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}

func openStores(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*stores, error) {
	if cfg.Driver == config.DriverMemory {
		logger.Warn("using in-memory storage, data is lost on restart")
		return &stores{
			plugins:  plugins.NewMemoryStore(),
			users:    database.NewMemoryUserRepository(),
			activity: database.NewMemoryActivityLog(),
			health:   func(context.Context) error { return nil },
			close:    func() error { return nil },
		}, nil
	}

	logger.Info("connecting to database", "driver", cfg.Driver)
	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("database connected")

	// The schema is embedded, so a failed migration means the binary cannot serve.
	if err := database.RunMigrations(ctx, db, migrations.FS, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &stores{
		plugins:  database.NewPluginRepository(db),
		users:    database.NewUserRepository(db),
		activity: database.NewActivityLogRepository(db),
		health:   func(ctx context.Context) error { return database.HealthCheck(ctx, db) },
		stats:    func() map[string]interface{} { return database.Stats(db) },
		close:    db.Close,
	}, nil
}

func waitForSignal(logger *slog.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	sig := <-c
	logger.Info("received signal", "signal", sig.String())
	signal.Stop(c)
}
