package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quotepacer/pacer/proxy"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP proxy",
	Long: `Start the HTTP proxy with graceful shutdown support.

SIGINT or SIGTERM stops accepting connections, waits for in-flight
requests up to PACER_SERVER_SHUTDOWN_TIMEOUT and then closes the
provider queues.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr = serveAddr
		}
		if versionInfo.Version != "" && versionInfo.Version != "dev" {
			proxy.Version = versionInfo.Version
		}

		a, err := build(cfg, logger)
		if err != nil {
			return errors.Wrap(err, "building components")
		}
		defer a.Close()

		srv, err := proxy.New(proxy.Options{
			Loader:           a.loader,
			Throttles:        a.throttles,
			Cache:            a.cache,
			Budget:           a.budget,
			Metrics:          a.metrics,
			Logger:           logger,
			InboundPerMinute: cfg.Inbound.PerMinute,
			InboundBurst:     cfg.Inbound.Burst,
			InboundMaxKeys:   cfg.Inbound.MaxKeys,
		})
		if err != nil {
			return errors.Wrap(err, "creating server")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go purgeLoop(ctx, a, cfg.Cache.PurgeInterval)

		hs := &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      srv.Handler(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		errChan := make(chan error, 1)
		go func() {
			logger.Info("Starting HTTP server",
				zap.String("addr", cfg.Server.Addr),
				zap.String("version", proxy.Version),
				zap.Strings("providers", a.throttles.Names()),
				zap.String("cache_backend", cfg.Cache.Backend),
				zap.Bool("cache_enabled", cfg.Cache.Enabled))
			if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		select {
		case err := <-errChan:
			return errors.Wrap(err, "server failed")
		case <-ctx.Done():
		}

		logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "server shutdown failed")
		}
		logger.Info("HTTP server stopped gracefully")
		return nil
	},
}

// purgeLoop drops expired cache entries every interval until ctx is done.
func purgeLoop(ctx context.Context, a *app, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.cache.Purge(); n > 0 {
				a.logger.Debug("purged expired cache entries", zap.Int("count", n))
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":3000", "listen address (overrides PACER_SERVER_ADDR)")
}
