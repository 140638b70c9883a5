package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/rank-tracker/internal/model"
)

var (
	unifyTypes      []string
	unifyFrequency  string
	unifyDayOfWeek  int
	unifyDayOfMonth int
	unifyHourUTC    int
	unifyPreview    bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Inspect and override concept schedules",
}

var scheduleStateCmd = &cobra.Command{
	Use:   "state <concept-id>",
	Short: "Show the schedule override state for a concept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		state, err := env.Schedules.State(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(map[string]string{
			"concept_id": args[0],
			"state":      string(state),
		})
	},
}

var scheduleUnifyCmd = &cobra.Command{
	Use:   "unify <concept-id>",
	Short: "Enable a unified schedule, pausing covered per-type schedules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		types := make([]model.CheckType, 0, len(unifyTypes))
		for _, t := range unifyTypes {
			types = append(types, model.CheckType(t))
		}

		if unifyPreview {
			dups, err := env.Schedules.Preview(cmd.Context(), args[0], types)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"would_pause": dups})
		}

		us, err := env.Schedules.Enable(cmd.Context(), model.UnifiedSchedule{
			ConceptID:  args[0],
			CheckTypes: types,
			Frequency:  model.Frequency(unifyFrequency),
			DayOfWeek:  unifyDayOfWeek,
			DayOfMonth: unifyDayOfMonth,
			HourUTC:    unifyHourUTC,
		})
		if err != nil {
			return err
		}
		zap.L().Info("unified schedule enabled",
			zap.String("concept_id", args[0]),
			zap.String("unified_id", us.ID))
		return nil
	},
}

var scheduleRestoreCmd = &cobra.Command{
	Use:   "restore <concept-id>",
	Short: "Disable the unified schedule and restore paused schedules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		us, err := env.Store.GetUnifiedScheduleByConcept(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if us == nil {
			return eris.Errorf("no unified schedule for concept %s", args[0])
		}
		if err := env.Schedules.Disable(cmd.Context(), us.ID); err != nil {
			return err
		}
		zap.L().Info("unified schedule disabled, individual schedules restored",
			zap.String("concept_id", args[0]))
		return nil
	},
}

func init() {
	scheduleUnifyCmd.Flags().StringSliceVar(&unifyTypes, "types", []string{"search_rank", "geo_grid"}, "check types to unify")
	scheduleUnifyCmd.Flags().StringVar(&unifyFrequency, "frequency", "daily", "unified frequency (daily, weekly, monthly)")
	scheduleUnifyCmd.Flags().IntVar(&unifyDayOfWeek, "day-of-week", 0, "day of week for weekly (0=Sunday)")
	scheduleUnifyCmd.Flags().IntVar(&unifyDayOfMonth, "day-of-month", 1, "day of month for monthly")
	scheduleUnifyCmd.Flags().IntVar(&unifyHourUTC, "hour", 6, "hour of day, UTC")
	scheduleUnifyCmd.Flags().BoolVar(&unifyPreview, "preview", false, "show which schedules would pause without applying")

	scheduleCmd.AddCommand(scheduleStateCmd)
	scheduleCmd.AddCommand(scheduleUnifyCmd)
	scheduleCmd.AddCommand(scheduleRestoreCmd)
	rootCmd.AddCommand(scheduleCmd)
}
