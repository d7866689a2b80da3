package main

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradecore/internal/config"
	"github.com/Aidin1998/tradecore/pkg/logger"
)

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "tradecore",
		Short: "Order, trade and position service with a live market data fan-out",
		Long: `tradecore accepts orders over HTTP, fills them against cached asset
prices, keeps per-user positions and balances, and streams market data and
private account events over WebSocket.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(opts.envFile); err != nil {
				log.Printf("Warning: %s not loaded, using environment variables", opts.envFile)
			}
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before configuration")

	cmd.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newSeedCommand(opts),
	)
	return cmd
}

// bootstrap loads configuration and builds the process logger
func bootstrap(opts *rootOptions) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, zapLogger, nil
}
