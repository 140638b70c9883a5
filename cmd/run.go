package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run <config-id>",
	Short: "Run all checks for one tracking config immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		cfgRow, err := env.Store.GetConfig(ctx, args[0])
		if err != nil {
			return err
		}
		if cfgRow == nil {
			return eris.Errorf("config %s not found", args[0])
		}

		out, err := env.Checker.Run(ctx, *cfgRow)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run one dispatch pass over all currently-due configs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Dispatcher.DispatchDue(ctx); err != nil {
			return err
		}
		zap.L().Info("dispatch pass complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(dispatchCmd)
}
