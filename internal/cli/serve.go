package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/clinicflow/internal/config"
	"github.com/Kocoro-lab/clinicflow/internal/health"
	"github.com/Kocoro-lab/clinicflow/internal/httpapi"
	"github.com/Kocoro-lab/clinicflow/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with health and metrics endpoints",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer func() { _ = a.logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return a.serve(ctx)
	},
}

// routes builds the server mux.
func (a *app) routes() (*http.ServeMux, error) {
	cfg := a.config()
	mux := http.NewServeMux()

	hm := health.NewManager(a.logger)
	checkers := []health.Checker{
		health.NewBreakerChecker("llm", a.llm.Breaker(), true),
		health.NewPolicyChecker(a.policy, cfg.Policy.Enabled),
		health.NewCustomHealthChecker("backend", true, time.Second, func(ctx context.Context) health.CheckResult {
			source := "built-in"
			if cfg.Backend.FixturesPath != "" {
				source = cfg.Backend.FixturesPath
			}
			return health.CheckResult{
				Status:  health.StatusHealthy,
				Message: "Mock backend ready",
				Details: map[string]interface{}{"fixtures": source},
			}
		}),
	}
	for _, c := range checkers {
		if err := hm.RegisterChecker(c); err != nil {
			return nil, err
		}
	}
	health.NewHTTPHandler(hm, a.logger).RegisterRoutes(mux)

	httpapi.NewAgentHandler(a.agent, a.logger).RegisterRoutes(mux)

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}
	return mux, nil
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.config()

	shutdownTracing, err := tracing.Initialize(cfg.Tracing, a.logger)
	if err != nil {
		a.logger.Warn("Failed to initialize tracing", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	a.manager.OnChange(config.ApplyLogLevel(a.level, a.logger))
	a.manager.OnChange(a.reloadPolicy)
	a.manager.Watch()

	mux, err := a.routes()
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening",
			zap.String("address", cfg.Server.Addr),
			zap.String("model", a.llm.Model()),
			zap.String("config_file", a.manager.ConfigFile()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		a.logger.Warn("Tracing shutdown failed", zap.Error(err))
	}
	return nil
}
