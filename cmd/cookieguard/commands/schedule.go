package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/cookieguard/internal/config"
	cgerrors "github.com/systmms/cookieguard/internal/errors"
	"github.com/systmms/cookieguard/internal/manager"
	"github.com/systmms/cookieguard/internal/rotation"
)

// NewScheduleCommand creates the schedule command
func NewScheduleCommand(app *App) *cobra.Command {
	var disable bool

	cmd := &cobra.Command{
		Use:   "schedule [cron-expr]",
		Short: "Show or set the automatic rotation schedule",
		Long: `The schedule is a five-field cron expression stored in the metadata. Each
activation checks whether a rotation is due (COOKIEGUARD_ROTATION_INTERVAL
after the last one) and rotates if so. 'cookieguard monitor' runs the schedule.

Without arguments the current schedule is shown.`,
		Example: `  cookieguard schedule
  cookieguard schedule "0 3 * * *"
  cookieguard schedule --disable`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withManager(cmd, func(ctx context.Context, m *manager.Manager, _ *config.Config) error {
				if len(args) == 0 && !disable {
					sched, err := m.Schedule(ctx)
					if err != nil {
						return cgerrors.CredentialError("Schedule", err)
					}
					app.printSchedule(sched.Cron, sched.Enabled)
					return nil
				}

				expr := ""
				if len(args) == 1 {
					expr = args[0]
				}
				sched, err := m.SetSchedule(ctx, expr, !disable)
				if err != nil {
					return cgerrors.UserError{
						Message:    "Invalid schedule",
						Details:    err.Error(),
						Suggestion: "Use five cron fields, e.g. \"0 3 * * *\" for 03:00 daily",
						Err:        err,
					}
				}
				app.printf("✅ Schedule saved\n")
				app.printSchedule(sched.Cron, sched.Enabled)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&disable, "disable", false, "Store the schedule but turn automatic rotation off")

	return cmd
}

func (a *App) printSchedule(expr string, enabled bool) {
	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	a.printf("Schedule: %s (%s)\n", expr, state)
	if !enabled {
		return
	}
	if next, err := rotation.NextRun(expr, time.Now()); err == nil {
		a.printf("Next check: %s\n", next.Format("2006-01-02 15:04 MST"))
	}
}
