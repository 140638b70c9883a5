package main

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/rank-tracker/internal/model"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Manage prepaid credit accounts",
}

var creditsBalanceCmd = &cobra.Command{
	Use:   "balance <account-id>",
	Short: "Show an account's credit balance and recent ledger entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		acct, err := env.Store.GetAccount(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if acct == nil {
			return eris.Errorf("account %s not found", args[0])
		}
		entries, err := env.Store.ListLedgerEntries(cmd.Context(), args[0], 20)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"account": acct,
			"ledger":  entries,
		})
	},
}

var creditsAddCmd = &cobra.Command{
	Use:   "add <account-id> <amount>",
	Short: "Add credits to an account, creating it if missing",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.Atoi(args[1])
		if err != nil || amount <= 0 {
			return eris.Errorf("amount must be a positive integer, got %q", args[1])
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		acct, err := env.Store.GetAccount(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if acct == nil {
			if err := env.Store.UpsertAccount(cmd.Context(), model.Account{ID: args[0]}); err != nil {
				return err
			}
		}
		if err := env.Credits.Refund(cmd.Context(), args[0], amount, "manual", "credit top-up"); err != nil {
			return err
		}

		zap.L().Info("credits added",
			zap.String("account_id", args[0]),
			zap.Int("amount", amount))
		return nil
	},
}

func init() {
	creditsCmd.AddCommand(creditsBalanceCmd)
	creditsCmd.AddCommand(creditsAddCmd)
	rootCmd.AddCommand(creditsCmd)
}
