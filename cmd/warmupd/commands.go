package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/asset-warmup/internal/config"
	"github.com/JakeFAU/asset-warmup/internal/logging"
	"github.com/JakeFAU/asset-warmup/internal/server"
)

type envKeyType struct{}

// env carries the loaded config and logger from the root hook to subcommands.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "warmupd",
		Short:         "Collects and persists the CSS and JS a site's pages reference",
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKeyType{}, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKeyType{}).(*env); ok {
				_ = e.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env WARMUP_* overrides)")

	cmd.AddCommand(newServeCmd(), newInstallCmd(), newDropCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background persistence loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := envFrom(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return fmt.Errorf("build service: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}

func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Create the resource, used-CSS, and pending tables if missing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStorage(cmd, func(ctx context.Context, app *server.App) error {
				return app.InstallTables(ctx)
			})
		},
	}
}

func newDropCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop every table of the configured storage backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirm {
				return errors.New("refusing to drop tables without --yes")
			}
			return withStorage(cmd, func(ctx context.Context, app *server.App) error {
				return app.DropTables(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm dropping all tables")
	return cmd
}

func withStorage(cmd *cobra.Command, fn func(context.Context, *server.App) error) error {
	e, err := envFrom(cmd.Context())
	if err != nil {
		return err
	}
	app, err := server.OpenStorage(cmd.Context(), e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer app.Close()
	if err := fn(cmd.Context(), app); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}

func envFrom(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKeyType{}).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not loaded")
	}
	return e, nil
}
