package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/rank-tracker/internal/export"
	"github.com/sells-group/rank-tracker/internal/model"
)

var (
	exportFrom string
	exportTo   string
	exportOut  string
)

var exportCmd = &cobra.Command{
	Use:   "export <config-id>",
	Short: "Export daily summaries for a config to an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := time.Parse("2006-01-02", exportFrom)
		if err != nil {
			return eris.Wrap(err, "parse --from")
		}
		to, err := time.Parse("2006-01-02", exportTo)
		if err != nil {
			return eris.Wrap(err, "parse --to")
		}
		if to.Before(from) {
			return eris.New("--to must not be before --from")
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		cfgRow, err := env.Store.GetConfig(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if cfgRow == nil {
			return eris.Errorf("config %s not found", args[0])
		}

		var summaries []model.DailySummary
		for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
			sum, err := env.Store.GetDailySummary(cmd.Context(), cfgRow.ID, d.Format("2006-01-02"))
			if err != nil {
				return err
			}
			if sum != nil {
				summaries = append(summaries, *sum)
			}
		}

		if err := export.WriteSummaries(exportOut, summaries); err != nil {
			return err
		}
		zap.L().Info("export complete",
			zap.String("config_id", cfgRow.ID),
			zap.Int("days", len(summaries)),
			zap.String("path", exportOut))
		return nil
	},
}

func init() {
	today := time.Now().UTC().Format("2006-01-02")
	exportCmd.Flags().StringVar(&exportFrom, "from", today, "start date (YYYY-MM-DD)")
	exportCmd.Flags().StringVar(&exportTo, "to", today, "end date (YYYY-MM-DD)")
	exportCmd.Flags().StringVar(&exportOut, "out", "rank-tracker-export.xlsx", "output file path")
	rootCmd.AddCommand(exportCmd)
}
