package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rl1809/retail-floor/internal/config"
	"github.com/rl1809/retail-floor/internal/platform/observability"
)

type rootOptions struct {
	configPath string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "retail-floor",
		Short:        "Sales floor queue, inventory transfers and supply orders",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	return cmd
}

// loadRuntime reads config and sets up logging and tracing.
func loadRuntime(ctx context.Context, opts *rootOptions) (*config.Config, *observability.Telemetry, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	tel, err := observability.Setup(ctx, cfg.Otel)
	if err != nil {
		// Telemetry is still usable without the exporters.
		tel.Logger.Error("failed to set up OpenTelemetry export", zap.Error(err))
	}
	return cfg, tel, nil
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, tel, err := loadRuntime(ctx, opts)
			if err != nil {
				return err
			}
			defer tel.Shutdown(context.Background())

			a, err := newApp(ctx, cfg, tel)
			if err != nil {
				tel.Logger.Error("failed to start", zap.Error(err))
				return err
			}
			return a.run(ctx)
		},
	}
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema for the configured SQL store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, tel, err := loadRuntime(ctx, opts)
			if err != nil {
				return err
			}
			defer tel.Shutdown(context.Background())

			store, err := openStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer store.Close()

			applied, err := migrate(ctx, store)
			if err != nil {
				return err
			}
			if !applied {
				tel.Logger.Info("store has no schema to apply", zap.String("driver", cfg.Store.Driver))
				return nil
			}
			tel.Logger.Info("schema applied", zap.String("driver", cfg.Store.Driver))
			return nil
		},
	}
}
