package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradecore/internal/database"
	"github.com/Aidin1998/tradecore/internal/trading/repository"
	"github.com/Aidin1998/tradecore/pkg/models"
)

type seedOptions struct {
	email    string
	balance  string
	currency string
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	so := &seedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the configured assets and a funded test user",
		RunE: func(cmd *cobra.Command, args []string) error {
			balance, err := decimal.NewFromString(so.balance)
			if err != nil {
				return fmt.Errorf("invalid --balance: %w", err)
			}

			cfg, zapLogger, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer zapLogger.Sync()

			db, err := database.Open(cfg.Database, zapLogger)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}

			ctx := cmd.Context()
			repo := repository.NewRepository(db, zapLogger)
			for _, symbol := range cfg.MarketData.Symbols {
				if err := repo.EnsureAsset(ctx, &models.Asset{Symbol: symbol, Name: symbol}); err != nil {
					return err
				}
			}

			email := so.email
			if email == "" {
				email = "trader-" + uuid.NewString()[:8] + "@example.com"
			}
			user := &models.User{Email: email, Currency: so.currency, Balance: balance}
			if err := repo.CreateUser(ctx, user); err != nil {
				return err
			}

			zapLogger.Info("Seeded test user",
				zap.String("user_id", user.ID.String()),
				zap.String("email", user.Email),
				zap.String("balance", user.Balance.String()),
				zap.Int("assets", len(cfg.MarketData.Symbols)))
			fmt.Fprintln(cmd.OutOrStdout(), user.ID.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&so.email, "email", "", "email of the test user (random when empty)")
	cmd.Flags().StringVar(&so.balance, "balance", "100000", "starting cash balance")
	cmd.Flags().StringVar(&so.currency, "currency", "USD", "balance currency")
	return cmd
}
