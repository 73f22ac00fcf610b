// Command appsyncsim serves a configured GraphQL API locally, resolving
// fields through mapping templates and data sources.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hanpama/appsyncsim/internal/config"
	eventbus "github.com/hanpama/appsyncsim/internal/eventbus"
	"github.com/hanpama/appsyncsim/internal/otel"
	"github.com/hanpama/appsyncsim/internal/simulator"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
	dev        bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "appsyncsim",
		Short:         "Local simulator for AppSync-style GraphQL APIs.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "appsync.yaml", "configuration file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&g.dev, "dev", false, "human readable logs")

	root.AddCommand(newServeCmd(g), newValidateCmd(g))
	return root
}

func newLogger(g *globalFlags) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(g.logLevel)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if g.dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

func newServeCmd(g *globalFlags) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Serve the API described by the configuration file.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger(g)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			eventbus.Use(eventbus.New())
			shutdown, err := otel.Setup(cmd.Context(), cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
			if err != nil {
				return fmt.Errorf("telemetry: %w", err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Warn("telemetry shutdown", zap.Error(err))
				}
			}()

			sim, err := simulator.New(cfg, simulator.WithLogger(log))
			if err != nil {
				return err
			}
			defer sim.Close()

			log.Info("serving",
				zap.String("api", cfg.AppSync.Name),
				zap.String("url", "http://"+cfg.Server.Addr()+"/graphql"),
				zap.String("apiKey", cfg.AppSync.APIKey))
			return sim.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "override server.port")
	return cmd
}

func newValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration, schema and mapping templates without serving.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			sim, err := simulator.New(cfg)
			if err != nil {
				return err
			}
			defer sim.Close()
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d data sources, %d functions, %d resolvers OK\n",
				g.configPath, len(cfg.DataSources), len(cfg.Functions), len(cfg.Resolvers))
			return err
		},
	}
}
