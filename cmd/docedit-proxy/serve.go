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

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wordassist/docedit-proxy/internal/app"
	"github.com/wordassist/docedit-proxy/internal/config"
	"github.com/wordassist/docedit-proxy/internal/ledger"
	"github.com/wordassist/docedit-proxy/internal/logger"
	"github.com/wordassist/docedit-proxy/internal/metrics"
	"github.com/wordassist/docedit-proxy/internal/relay"
	"github.com/wordassist/docedit-proxy/internal/server"
)

const shutdownTimeout = 15 * time.Second

var serveFlags struct {
	listenAddress string
	logLevel      string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the edit proxy server",
	Long: `Start the edit proxy server.

Examples:
  # Start with defaults
  docedit-proxy serve

  # Start with a config file
  docedit-proxy serve --config /etc/docedit/config.yaml

  # Override listen address
  docedit-proxy serve --listen 127.0.0.1:8443`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override listen address")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if serveFlags.listenAddress != "" {
		cfg.Server.ListenAddress = serveFlags.listenAddress
	}
	if serveFlags.logLevel != "" {
		cfg.Logging.Level = serveFlags.logLevel
	}

	log, closeLog, err := logger.FromConfig(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var observers []relay.Observer
	opts := server.Options{}

	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector(cfg.Metrics.Namespace, nil)
		observers = append(observers, collector)
		opts.Metrics = collector.Handler()
		opts.MetricsPath = cfg.Metrics.Path
		log.Info().Str("path", cfg.Metrics.Path).Msg("📈 Metrics enabled")
	}

	if cfg.Ledger.Enabled {
		l, err := ledger.Open(cfg.Ledger.Path, 0, log)
		if err != nil {
			return err
		}
		defer l.Close()
		observers = append(observers, l)
		opts.RecentSessions = func(ctx context.Context, limit int) (any, error) {
			return l.Recent(ctx, limit)
		}

		sched := ledger.NewScheduler(l, cfg.Ledger.PruneSchedule, cfg.Ledger.Retention, log)
		if err := sched.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to start ledger prune scheduler")
		} else {
			defer sched.Stop()
		}
		log.Info().Str("path", cfg.Ledger.Path).Msg("🗄️  Session ledger enabled")
	}

	r, store := app.NewRelay(cfg, nil, log, observers...)

	if cfgFile != "" {
		reloader := app.NewReloader(cfgFile, store, log)
		opts.Reload = reloader.Reload
		go func() {
			if err := config.NewWatcher(cfgFile, log).Watch(ctx, reloader.Apply); err != nil {
				log.Warn().Err(err).Msg("Config hot reload disabled")
			}
		}()
	}
	if cfg.Server.AdminAPIKey == "" {
		log.Info().Msg("ADMIN_API_KEY not set, admin endpoints will refuse requests")
	}

	srv := app.NewServer(cfg, r, log, opts)
	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return listenAndServe(ctx, httpSrv, cfg.Server.TLS, log)
}

func listenAndServe(ctx context.Context, httpSrv *http.Server, tlsCfg config.TLSConfig, log zerolog.Logger) error {
	home, _ := os.UserHomeDir()
	certFile, keyFile, useTLS := resolveTLS(tlsCfg, home)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if useTLS {
			log.Info().
				Str("address", httpSrv.Addr).
				Str("cert_file", certFile).
				Msg("🔒 Starting HTTPS server")
			err = httpSrv.ListenAndServeTLS(certFile, keyFile)
		} else {
			log.Warn().Msg("No TLS certificate found, serving plain HTTP (Office add-ins may require HTTPS)")
			log.Info().Str("address", httpSrv.Addr).Msg("Starting HTTP server")
			err = httpSrv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		log.Info().Msg("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		log.Info().Msg("✅ Server stopped")
		return nil
	}
}
