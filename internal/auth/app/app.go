package app

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tallyhq/tally/internal/auth/service"
	"github.com/tallyhq/tally/internal/auth/store"
	"github.com/tallyhq/tally/internal/auth/store/drivers/sqlite"
	"github.com/tallyhq/tally/pkg/cryptox"
	"github.com/tallyhq/tally/pkg/jwtx"
	"github.com/tallyhq/tally/pkg/ratex"
	"github.com/tallyhq/tally/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the auth core together: store, crypto material,
// services and the housekeeping worker. The surrounding application
// mounts its transport on top of the exposed services.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db     store.Store
	signer *jwtx.Signer

	Accounts     *service.AccountService
	Tokens       *service.TokenService
	TwoFactor    *service.TwoFactorService
	Devices      *service.DeviceService
	External     *service.ExternalIdentityService
	Login        *service.LoginService
	housekeeping *service.HousekeepingService
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "tally-auth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	cryptox.SetPepperPath(cfg.PepperFile)
	if cfg.MasterKeyPath != "" {
		cryptox.SetMasterKeyPath(cfg.MasterKeyPath)
		app.logger.Info("master key path configured", "path", cfg.MasterKeyPath)
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	signer, err := initSigner(cfg, app.logger)
	if err != nil {
		_ = app.db.Close()
		return nil, err
	}
	app.signer = signer

	app.initServices()
	return app, nil
}

// Run starts the background workers and blocks until a shutdown signal.
func (app *Application) Run() error {
	app.housekeeping.Start()
	app.logger.Info("auth core started", "version", BuildVersion)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	app.logger.Info("shutdown signal received", "signal", sig)

	return app.Shutdown()
}

// Shutdown stops the background workers and closes the store.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth core...")

	app.housekeeping.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("auth core stopped")
	return nil
}

// initDatabase opens the sqlite store and applies migrations.
func (app *Application) initDatabase() error {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
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

// initServices wires all business logic services.
func (app *Application) initServices() {
	app.Tokens = &service.TokenService{
		Store:      app.db,
		Signer:     app.signer,
		Verifier:   app.signer.Verifier(app.cfg.Issuer),
		Issuer:     app.cfg.Issuer,
		AccessTTL:  app.cfg.AccessTokenTTL,
		RefreshTTL: app.cfg.RefreshTokenTTL,
		PendingTTL: app.cfg.PendingTokenTTL,
	}

	app.Accounts = &service.AccountService{
		Store:             app.db,
		Tokens:            app.Tokens,
		Notifier:          service.LogNotifier{},
		APITokens:         service.NopAPITokenRevoker{},
		AllowRegistration: app.cfg.AllowRegistration,
		ResetTTL:          app.cfg.ResetTokenTTL,
	}

	app.Devices = &service.DeviceService{
		Store:  app.db,
		Window: app.cfg.DeviceWindow,
	}

	app.TwoFactor = &service.TwoFactorService{
		Store:            app.db,
		Tokens:           app.Tokens,
		Devices:          app.Devices,
		APITokens:        service.NopAPITokenRevoker{},
		Issuer:           app.cfg.Issuer,
		RequireTwoFactor: app.cfg.RequireTwoFactor,
	}

	app.External = &service.ExternalIdentityService{
		Store:             app.db,
		AllowRegistration: app.cfg.AllowRegistration,
	}

	app.Login = &service.LoginService{
		Accounts:  app.Accounts,
		Tokens:    app.Tokens,
		TwoFactor: app.TwoFactor,
		Devices:   app.Devices,
		External:  app.External,
		Limiter: ratex.New(ratex.Config{
			Attempts: app.cfg.LoginAttempts,
			Window:   app.cfg.LoginWindow,
			Burst:    app.cfg.LoginBurst,
		}),
	}

	app.housekeeping = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}
