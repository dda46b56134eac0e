// Package cmd defines and implements the CLI commands for the datapull executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/datapull/internal/app"
	"github.com/JakeFAU/datapull/internal/config"
	"github.com/JakeFAU/datapull/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// appFactory builds the application for one command invocation. Tests
// inject their own.
type appFactory func(ctx context.Context, cfgPath string) (*app.App, error)

func defaultFactory(ctx context.Context, cfgPath string) (*app.App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	a, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		return nil, err
	}
	if err := a.Load(ctx); err != nil {
		_ = a.Close(ctx) //nolint:errcheck // reporting the load error instead
		return nil, err
	}
	return a, nil
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd(build appFactory) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "datapull",
		Short: "Crawl official sources, review documents and upload chunks for retrieval.",
		Long: `datapull crawls configured sources, holds extracted documents for human
review, chunks approved documents and uploads them to the ingest service.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := build(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			a, ok := cmd.Context().Value(appKey).(*app.App)
			if !ok || a == nil {
				return nil
			}
			if err := a.Close(context.WithoutCancel(cmd.Context())); err != nil {
				return fmt.Errorf("close application: %w", err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	cmd.AddCommand(
		newCrawlCmd(),
		newReviewCmd(),
		newUploadCmd(),
		newServeCmd(),
		newOperationsCmd(),
		newHealthCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd(defaultFactory)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// closeOnError closes the app when a RunE fails, since cobra skips
// PersistentPostRunE in that case.
func closeOnError(cmd *cobra.Command, err error) error {
	if err == nil {
		return nil
	}
	if a, rerr := resolveApp(cmd.Context()); rerr == nil {
		if cerr := a.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
			a.Logger().Warn("close after failure", zap.Error(cerr))
		}
	}
	return err
}
