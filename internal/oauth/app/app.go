package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/regrant/internal/oauth/binding"
	"github.com/aussiebroadwan/regrant/internal/oauth/cache"
	"github.com/aussiebroadwan/regrant/internal/oauth/domain"
	httpapi "github.com/aussiebroadwan/regrant/internal/oauth/http"
	"github.com/aussiebroadwan/regrant/internal/oauth/issuer"
	"github.com/aussiebroadwan/regrant/internal/oauth/service"
	"github.com/aussiebroadwan/regrant/internal/oauth/store"
	"github.com/aussiebroadwan/regrant/internal/oauth/store/drivers/sqlite"
	"github.com/aussiebroadwan/regrant/pkg/cryptox"
	"github.com/aussiebroadwan/regrant/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the grant service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db         store.Store
	tokenCache cache.Cache

	processor    *service.GrantProcessor
	housekeeping *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application instance with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "regrant",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initCache(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	if cfg.Env == "dev" {
		if err := app.seedDevApplication(); err != nil {
			app.logger.Warn("dev seeding failed", "error", err)
		}
	}

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeeping.Start()

	app.logger.Info("regrant starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully stops the server, the housekeeping worker, and the
// backing store and cache.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down regrant...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeeping.Stop()

	if err := app.tokenCache.Close(); err != nil {
		app.logger.Error("error closing cache", "error", err)
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("regrant stopped")
	return nil
}

func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initCache() error {
	c, err := cache.New(cache.Config{
		Driver:     app.cfg.CacheDriver,
		Addr:       app.cfg.RedisAddr,
		Password:   app.cfg.RedisPassword,
		DB:         app.cfg.RedisDB,
		Prefix:     app.cfg.CachePrefix,
		DefaultTTL: app.cfg.CacheTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	app.tokenCache = c
	return nil
}

func (app *Application) initServices() {
	issuers := issuer.NewRegistry(issuer.NewOpaque(), app.extraIssuers()...)
	binders := binding.NewRegistry(binding.NewDevice(), binding.NewCertificate())

	// One backend serves all three namespaces; the key builders keep them
	// disjoint.
	coordinator := &service.CacheCoordinator{
		Enabled:    app.cfg.CacheEnabled,
		ByContext:  app.tokenCache,
		ByToken:    app.tokenCache,
		Attributes: app.tokenCache,
		TTL:        app.cfg.CacheTTL,
		Timeout:    app.cfg.CacheTimeout,
	}

	app.processor = &service.GrantProcessor{
		Validator: &service.RefreshTokenValidator{
			Store:         app.db,
			Binders:       binders,
			Cache:         coordinator,
			LookbackLimit: app.cfg.TokenLookbackLimit,
		},
		Rotation: &service.TokenRotationEngine{
			Store:   app.db,
			Issuers: issuers,
			Config: service.RotationConfig{
				AccessTokenValidity:  app.cfg.AccessTokenValidity,
				RefreshTokenValidity: app.cfg.RefreshTokenValidity,
				RenewRefreshToken:    app.cfg.RenewRefreshToken,
				ExtendRenewedExpiry:  app.cfg.ExtendRenewedExpiry,
				MinRemainingValidity: app.cfg.MinRemainingValidity,
			},
		},
		Store:        app.db,
		Cache:        coordinator,
		Issuers:      issuers,
		StoreTimeout: app.cfg.StoreTimeout,
	}

	app.housekeeping = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
		app.cfg.InactiveRetention,
	)
}

func (app *Application) extraIssuers() []issuer.Issuer {
	if app.cfg.JWTSigningSecret == "" {
		return nil
	}
	return []issuer.Issuer{issuer.NewJWT(app.cfg.IssuerName, []byte(app.cfg.JWTSigningSecret))}
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.processor, app.logger)
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// seedDevApplication bootstraps a default client application in dev
// environments so the token endpoint is usable out of the box.
func (app *Application) seedDevApplication() error {
	ctx := context.Background()

	empty, err := app.db.Applications().IsEmpty(ctx)
	if err != nil || !empty {
		return err
	}

	secret := getEnvOrDefault("REGRANT_DEV_CLIENT_SECRET", "dev-secret")
	hash, err := cryptox.HashSecret(secret)
	if err != nil {
		return err
	}

	if err := app.db.Applications().CreateApplication(ctx, domain.Application{
		ClientID:   "dev-client",
		Name:       "Development Client",
		SecretHash: hash,
	}); err != nil {
		return err
	}

	app.logger.Info("seeded dev client application", "client_id", "dev-client")
	return nil
}
