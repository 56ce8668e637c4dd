package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ellen/internal/config"
)

// NewPruneCommand creates the prune command.
func NewPruneCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Apply the retention policy once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ingester, err := newIngester(cfg, nil)
			if err != nil {
				return err
			}
			defer ingester.Close()

			if _, err := ingester.Ensure(cmd.Context()); err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			result, err := ingester.Prune(cmd.Context())
			if err != nil {
				return err
			}
			printPrune(cmd.OutOrStdout(), ingester.Store(), result)
			return nil
		},
	}
}

// NewEnsureCommand creates the ensure command.
func NewEnsureCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure",
		Short: "Create the backing store if it is missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ingester, err := newIngester(cfg, nil)
			if err != nil {
				return err
			}
			defer ingester.Close()

			created, err := ingester.Ensure(cmd.Context())
			if err != nil {
				return err
			}
			store := ingester.Store()
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "created %s store at %s\n", store.Kind(), store.Path())
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s store already present at %s\n", store.Kind(), store.Path())
			}
			return nil
		},
	}
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialize configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.ConfigPath
			if path == "" {
				path = config.DefaultConfigPath()
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
				}
			}
			if err := config.DefaultConfig().Save(path); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s\n", path, cfg.Summary())
			return nil
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
