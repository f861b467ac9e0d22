package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulsegram/backend/internal/config"
	"github.com/pulsegram/backend/internal/db"
	"github.com/pulsegram/backend/internal/handlers"
	"github.com/pulsegram/backend/internal/httpserver"
	"github.com/pulsegram/backend/internal/logging"
	"github.com/pulsegram/backend/internal/middleware"
)

// Run bootstraps the pulsegram backend with the given command line.
func Run(ctx context.Context, args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCommand builds the pulsegram command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "pulsegram",
		Short:         "Real-time social backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:       "migrate [up|status|down]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "status", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd.Context(), cmd.OutOrStdout(), args)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "seed <name>",
		Short: "Apply a seed file such as dev",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	})

	return root
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New(os.Stdout, cfg.SlogLevel())
	slog.SetDefault(logger)

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.Options{
		MaxConns:    cfg.DBMaxConns,
		PingTimeout: 5 * time.Second,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	svc, err := buildDependencies(pool, cfg, logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, svc.handlers)

	handler := middleware.RequestLogger(logger, svc.metrics)(mux)

	srv := httpserver.New(cfg.AppPort, handler, httpserver.Options{
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	})

	logger.Info("starting http server", "port", cfg.AppPort, "auth", cfg.RequireAuth)
	svc.scheduler.Start()

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	case sig := <-signalCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	return errors.Join(runErr, shutdown(shutdownCtx, logger, srv, svc))
}

// shutdown stops accepting requests, closes live connections and waits for
// their cleanup, then stops background jobs and external clients.
func shutdown(ctx context.Context, logger *slog.Logger, srv *httpserver.Server, svc *services) error {
	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	svc.registry.Close()
	svc.socket.Close()
	if err := svc.socket.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("websocket drain: %w", err))
	}
	if err := svc.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
	}
	if err := svc.close(ctx); err != nil {
		errs = append(errs, err)
	}

	logger.Info("shutdown complete")
	return errors.Join(errs...)
}
