package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/systmms/cookieguard/internal/config"
	cgerrors "github.com/systmms/cookieguard/internal/errors"
	"github.com/systmms/cookieguard/internal/manager"
	"github.com/systmms/cookieguard/internal/rotation"
)

// NewRotateCommand creates the rotate command
func NewRotateCommand(app *App) *cobra.Command {
	var (
		dryRun    bool
		notify    bool
		emergency bool
		reason    string
		format    string
	)

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Promote the backup credentials to active",
		Long: `Rotate credentials: archive the current active bundle, copy backup over
active and update the rotation metadata. The backup slot is left in place.

An unfinished rotation recorded in the metadata is resumed where it stopped.

Emergency rotation snapshots active to backups/emergency-<ts> first and always
notifies operators.`,
		Example: `  # Preview a rotation
  cookieguard rotate --dry-run

  # Rotate and notify operators
  cookieguard rotate --notify

  # Credentials leaked
  cookieguard rotate --emergency --reason "cookies posted in chat"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if emergency && reason == "" {
				return cgerrors.UserError{
					Message:    "Emergency rotation needs a reason",
					Suggestion: "Add --reason \"what happened\"",
				}
			}
			if emergency && dryRun {
				return cgerrors.UserError{
					Message:    "--emergency cannot be combined with --dry-run",
					Suggestion: "Preview with 'cookieguard rotate --dry-run' first",
				}
			}

			return app.withManager(cmd, func(ctx context.Context, m *manager.Manager, _ *config.Config) error {
				var (
					res *rotation.Result
					err error
				)
				if emergency {
					res, err = m.Orchestrator().EmergencyRotate(ctx, reason, initiator())
				} else {
					res, err = m.Orchestrator().Rotate(ctx, rotation.Options{
						DryRun:      dryRun,
						Notify:      notify,
						Reason:      reason,
						InitiatedBy: initiator(),
					})
				}
				if errors.Is(err, rotation.ErrInProgress) {
					return cgerrors.UserError{
						Message:    "A rotation is already running",
						Suggestion: "Wait for it to finish and run the command again",
						Err:        err,
					}
				}
				if res != nil {
					handled, rerr := app.render(format, res)
					if rerr != nil {
						return rerr
					}
					if !handled {
						app.printRotation(res)
					}
				}
				if err != nil {
					return cgerrors.CredentialError("Rotation", err)
				}
				if res.Warning != "" && !res.DryRun {
					return ErrIssues
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would happen without changing anything")
	cmd.Flags().BoolVar(&notify, "notify", false, "Send rotation notifications")
	cmd.Flags().BoolVar(&emergency, "emergency", false, "Snapshot active and rotate immediately")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in history and notifications")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, json, yaml")

	return cmd
}

func (a *App) printRotation(res *rotation.Result) {
	switch {
	case res.DryRun:
		a.printf("Dry run: would archive active to %s and promote backup\n", orDash(string(res.ArchiveSlot)))
	case res.Warning != "":
		a.printf("⚠️  Rotation skipped: %s\n", res.Warning)
		return
	case res.Rotated:
		a.printf("✅ Rotation %s complete (rotation #%d)\n", res.ID, res.RotationCount)
		if res.Resumed {
			a.printf("   resumed an unfinished rotation\n")
		}
		if res.SnapshotSlot != "" {
			a.printf("   snapshot: %s\n", res.SnapshotSlot)
		}
		a.printf("   archived: %s\n", orDash(string(res.ArchiveSlot)))
		for _, p := range res.Pruned {
			a.printf("   pruned:   %s\n", p)
		}
		if res.NextDue != nil {
			a.printf("   next due: %s\n", res.NextDue.Format("2006-01-02 15:04 MST"))
		}
	default:
		a.printf("❌ Rotation %s failed\n", orDash(res.ID))
	}
	for _, s := range res.Steps {
		line := "   - " + s.Name + ": " + s.Status
		if s.Error != "" {
			line += " (" + s.Error + ")"
		}
		a.printf("%s\n", line)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
