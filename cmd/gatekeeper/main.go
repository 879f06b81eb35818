// Command gatekeeper serves the authentication gate and the payment webhook
// endpoint over HTTP.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	gatekeeper "github.com/goliatone/go-gatekeeper"
	"github.com/goliatone/go-gatekeeper/adapters/gocommand"
	gkgojob "github.com/goliatone/go-gatekeeper/adapters/gojob"
	"github.com/goliatone/go-gatekeeper/adapters/gologger"
	gkprometheus "github.com/goliatone/go-gatekeeper/adapters/prometheus"
	"github.com/goliatone/go-gatekeeper/adapters/slogger"
	"github.com/goliatone/go-gatekeeper/core"
	gkmigrations "github.com/goliatone/go-gatekeeper/migrations"
	sqlstore "github.com/goliatone/go-gatekeeper/store/sql"
	httptransport "github.com/goliatone/go-gatekeeper/transport/http"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const envPrefix = "GATEKEEPER_"

func main() {
	envFile := flag.String("env", ".env", "optional dotenv file")
	migrateOnly := flag.Bool("migrate", false, "apply migrations and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if err := loadDotEnv(*envFile); err != nil {
		logger.Error("load env file", "file", *envFile, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *migrateOnly); err != nil {
		logger.Error("gatekeeper stopped", "error", err)
		os.Exit(1)
	}
}

// loadDotEnv applies file to the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv(file string) error {
	file = strings.TrimSpace(file)
	if file == "" {
		return nil
	}
	if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(file)
}

func run(ctx context.Context, base *slog.Logger, migrateOnly bool) error {
	cfg, err := gatekeeper.LoadConfig(ctx, core.NewEnvRawConfigLoader(envPrefix), gatekeeper.Config{})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	provider := slogger.New(base.With("service", cfg.ServiceName))
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := gkprometheus.NewRecorder(registry)
	observer := gologger.Observer("", provider, nil, metrics)

	client, err := openPersistence(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	observer.Info(ctx, "migrations applied", map[string]any{"driver": cfg.Database.GetDriver()})
	if migrateOnly {
		return nil
	}

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return err
	}
	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = cfg.Cache.IdentityTTL
	if cacheConfig.TTL > 0 {
		cacheService, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			return fmt.Errorf("identity cache: %w", err)
		}
		if err := factory.WithIdentityCache(cacheService); err != nil {
			return err
		}
	}

	notifier, err := gatekeeper.NotifierFromConfig(cfg, gologger.Observer("notify", provider, nil, metrics))
	if err != nil {
		return err
	}
	workerDone := make(chan error, 1)
	if cfg.Notify.Async {
		jobObserver := gologger.Observer("jobs", provider, nil, metrics)
		notificationWorker, err := gkgojob.NewNotificationWorker(factory.JobQueue(), notifier,
			gkgojob.WithHook(gkgojob.ObserverHook{Observer: jobObserver}))
		if err != nil {
			return err
		}
		notifier = gkgojob.NewNotificationEnqueuer(factory.JobQueue(), jobObserver)
		go func() {
			workerDone <- notificationWorker.Run(ctx)
		}()
	} else {
		workerDone <- nil
	}

	gk, err := gatekeeper.New(cfg,
		gatekeeper.WithStores(gatekeeper.Stores{
			Identities:    factory.IdentityStore(),
			Fulfillment:   factory.FulfillmentStore(),
			Ledger:        factory.PaymentEventStore(),
			Enrollments:   factory.FulfillmentStore(),
			FlaggedEvents: factory.PaymentEventStore(),
		}),
		gatekeeper.WithNotifier(notifier),
		gatekeeper.WithObserver(observer),
		gatekeeper.WithHTTPClient(&http.Client{Timeout: cfg.Auth.KeyFetchTimeout}),
	)
	if err != nil {
		return err
	}
	if err := gk.WarmUp(ctx); err != nil {
		observer.Warn(ctx, "key set warm up failed, continuing", map[string]any{"error": err.Error()})
	}

	adapter := gocommand.NewRegistryAdapter(nil)
	subs, err := gocommand.RegisterGatekeeper(adapter, gocommand.Handlers{
		Webhooks:      gk,
		Identities:    gk.Resolver(),
		Enrollments:   factory.FulfillmentStore(),
		FlaggedEvents: factory.PaymentEventStore(),
	})
	if err != nil {
		return err
	}
	defer subs.Unsubscribe()
	if err := adapter.Initialize(); err != nil {
		return err
	}
	bus := gocommand.NewBus()

	router, err := httptransport.NewRouter(httptransport.Config{
		Authenticator:   gk,
		Webhooks:        bus,
		Enrollments:     bus,
		FlaggedEvents:   bus,
		Metrics:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Health:          func(ctx context.Context) error { return client.DB().PingContext(ctx) },
		OpsToken:        cfg.HTTP.OpsToken,
		MaxWebhookBytes: cfg.Webhook.MaxBodyBytes,
		RequestTimeout:  cfg.HTTP.WriteTimeout,
		Observer:        gologger.Observer("http", provider, nil, metrics),
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		observer.Info(ctx, "http server listening", map[string]any{"addr": cfg.HTTP.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	observer.Info(shutdownCtx, "shutting down", nil)
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	select {
	case err := <-workerDone:
		return err
	case <-shutdownCtx.Done():
		return shutdownCtx.Err()
	}
}

// openPersistence opens the configured database, registers the embedded
// migrations for its dialect and applies them.
func openPersistence(ctx context.Context, cfg core.DatabaseConfig) (*persistence.Client, error) {
	driver, dialect, target, err := resolveDriver(cfg.GetDriver())
	if err != nil {
		return nil, err
	}
	if cfg.GetServer() == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	sqlDB, err := sql.Open(driver, cfg.GetServer())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if target == gkmigrations.SQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}

	if err := gkmigrations.Register(client, target); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return client, nil
}

func resolveDriver(name string) (driver string, dialect schema.Dialect, target gkmigrations.Dialect, err error) {
	target, err = gkmigrations.ParseDialect(name)
	if err != nil {
		return "", nil, "", fmt.Errorf("unsupported database.driver %q", name)
	}
	if target == gkmigrations.SQLite {
		return "sqlite3", sqlitedialect.New(), target, nil
	}
	return "postgres", pgdialect.New(), target, nil
}
