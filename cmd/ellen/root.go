package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"ellen/internal/config"
	"ellen/internal/logging"
	"ellen/internal/repository"
	"ellen/internal/service"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCommand creates the root command for the ellen CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "ellen",
		Short:         "Gorilla/Ivar webhook receiver",
		Long:          "Receives facial-recognition notifications and stores them in an xlsx workbook or a SQLite database with retention pruning.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default: search $ELLEN_CONFIG, ./ellen.yaml, XDG paths)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log.level (trace|debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewPruneCommand(opts))
	cmd.AddCommand(NewEnsureCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// loadConfig loads (or on first start writes) the configuration and sets
// up logging from it.
func loadConfig(opts *RootOptions) (*config.Config, string, error) {
	cfg, path, created, err := config.LoadOrInit(opts.ConfigPath)
	if err != nil {
		return nil, path, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Log.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logging.Init(logging.Config{
		Level:  level,
		Format: cfg.Log.Format,
		Caller: cfg.Log.Caller,
	})

	if created {
		logging.Info().Str("path", path).Msg("wrote default config")
	}
	logging.Debug().Str("path", path).Str("summary", cfg.Summary()).Msg("loaded config")
	return cfg, path, nil
}

// settingsFrom converts config into ingestion settings
func settingsFrom(cfg *config.Config) (service.Settings, error) {
	opts, err := cfg.Options()
	if err != nil {
		return service.Settings{}, err
	}
	return service.Settings{
		Store:         opts,
		PruneInterval: cfg.Retention.PruneInterval.Duration(),
	}, nil
}

// newIngester builds an ingester over a configured store of the selected kind
func newIngester(cfg *config.Config, bus *service.EventBus) (*service.Ingester, error) {
	kind, err := cfg.StoreKind()
	if err != nil {
		return nil, err
	}
	settings, err := settingsFrom(cfg)
	if err != nil {
		return nil, err
	}
	store, err := service.OpenStore(kind)
	if err != nil {
		return nil, err
	}
	store.Configure(settings.Store)
	return service.NewIngester(store, settings, bus), nil
}

func printPrune(w io.Writer, store repository.Store, result repository.PruneResult) {
	fmt.Fprintf(w, "%s store %s: removed %d record(s)\n", store.Kind(), store.Path(), result.Removed)
	if result.RolledOver() {
		fmt.Fprintf(w, "rolled over to %s\n", result.RolloverFile)
	}
}
