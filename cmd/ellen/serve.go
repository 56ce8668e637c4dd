package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ellen/internal/config"
	"ellen/internal/handler"
	"ellen/internal/hub"
	"ellen/internal/logging"
	"ellen/internal/service"
	"ellen/internal/watcher"
)

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, path, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logging.Info().Msg("Starting ellen...")

	// Initialize event bus and SSE hub
	eventBus := service.NewEventBus()
	sseHub := hub.New()
	go sseHub.Run(ctx)

	eventChan := make(chan service.Event, 100)
	eventBus.Subscribe(eventChan)
	defer eventBus.Unsubscribe(eventChan)
	go hub.Relay(ctx, sseHub, eventChan)

	ingester, err := newIngester(cfg, eventBus)
	if err != nil {
		return err
	}
	if err := ingester.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := ingester.Close(); err != nil {
			logging.Error().Err(err).Msg("failed to close store")
		}
	}()
	logging.Info().
		Str("store", string(ingester.Store().Kind())).
		Str("path", ingester.Store().Path()).
		Msg("backing store ready")

	if cfg.Server.WatchConfig && path != "" {
		w := watcher.New(path, func(changed string) {
			reload(ctx, ingester, changed)
		})
		go func() {
			if err := w.Watch(ctx); err != nil {
				logging.Warn().Err(err).Msg("config watcher stopped")
			}
		}()
	}

	h := handler.NewWebhookHandler(ingester, cfg.Server.MaxBodyBytes)
	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: handler.NewRouter(h, handler.RouterConfig{
			RateLimit: cfg.Server.RateLimit,
			Events:    sseHub,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", cfg.Server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logging.Info().Msg("Shutting down server...")

	timeout := cfg.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}

	logging.Info().Msg("Server stopped")
	return nil
}

// reload re-reads the config file and applies it to the running ingester.
// A changed store kind swaps the backing store.
func reload(ctx context.Context, ingester *service.Ingester, path string) {
	cfg, _, err := config.LoadFromPath(path)
	if err != nil {
		logging.Error().Err(err).Str("path", path).Msg("ignoring invalid config change")
		return
	}
	settings, err := settingsFrom(cfg)
	if err != nil {
		logging.Error().Err(err).Msg("ignoring invalid config change")
		return
	}
	kind, err := cfg.StoreKind()
	if err != nil {
		logging.Error().Err(err).Msg("ignoring invalid config change")
		return
	}

	ingester.Reconfigure(settings)
	if kind == ingester.Store().Kind() {
		return
	}

	next, err := service.OpenStore(kind)
	if err != nil {
		logging.Error().Err(err).Msg("failed to open new backing store")
		return
	}
	if err := ingester.SwitchStore(ctx, next); err != nil {
		logging.Error().Err(err).Msg("keeping previous backing store")
	}
}
