// Package app wires configuration, services, middleware, and routes into the
// license server and owns its lifecycle.
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

	"github.com/go-chi/chi/v5"

	"ssblic/internal/config"
	"ssblic/internal/infrastructure"
	"ssblic/internal/middleware"
	"ssblic/internal/registry"
	"ssblic/internal/services"
	transport "ssblic/internal/transport/http"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Application is the assembled license server.
type Application struct {
	Config    *config.Config
	Logger    *slog.Logger
	Router    chi.Router
	Server    *http.Server
	Store     registry.Store
	Telemetry *infrastructure.Telemetry

	licenseService services.LicenseService
	healthService  *services.HealthService
}

// NewApplication builds the application from configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	telemetry, err := infrastructure.InitializeTelemetry("ssblic", Version)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	app := &Application{
		Config:    cfg,
		Logger:    logger,
		Telemetry: telemetry,
	}
	app.initializeServices()
	app.setupRouter()
	app.createServer()
	return app, nil
}

func (a *Application) initializeServices() {
	a.Store = registry.NewMemStore()
	issuer := registry.NewIssuer(a.Store, a.Logger)
	ledger := registry.NewLedger(a.Store, a.Logger)

	a.licenseService = services.NewLicenseService(a.Store, issuer, ledger, a.Logger)
	a.healthService = services.NewHealthService(a.Store, Version, a.Logger)
}

func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer(a.Logger))
	r.Use(middleware.StructuredLogger(a.Logger))
	if a.Config.Security.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(
			a.Config.Security.RateLimit.RPS,
			a.Config.Security.RateLimit.Burst,
			a.Logger,
		)
		r.Use(limiter.Handler)
	}

	licenseHandler := transport.NewLicenseHandler(a.licenseService, a.Logger)
	directoryHandler := transport.NewDirectoryHandler(a.licenseService, a.Logger)
	healthHandler := transport.NewHealthHandler(a.healthService, a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.HealthCheck)
		r.Get("/health/live", healthHandler.LivenessCheck)
		r.Get("/licenses.json", directoryHandler.Feed)
		r.Mount("/license", licenseHandler.Routes())

		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminAuth(a.Config.Security.AdminTokenSecret, a.Logger))
			r.Mount("/admin/license", licenseHandler.AdminRoutes())
		})
	})

	r.Handle("/metrics", a.Telemetry.MetricsHandler())

	a.Router = r
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start runs the HTTP server until the context is canceled.
func (a *Application) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("license server listening",
			slog.String("addr", a.Server.Addr),
			slog.String("version", Version),
		)
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return a.Stop()
	}
}

// Stop shuts the server down gracefully within the configured timeout.
func (a *Application) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	a.Logger.Info("shutting down license server")
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := a.Telemetry.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
	}
	if err := infrastructure.CloseLogFile(); err != nil {
		a.Logger.Warn("log file close failed", slog.String("error", err.Error()))
	}
	return nil
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	err := a.Start(ctx)
	a.Logger.Info("license server stopped",
		slog.String("uptime", time.Since(start).String()),
	)
	return err
}
