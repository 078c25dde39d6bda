package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/cookieguard/internal/config"
	cgerrors "github.com/systmms/cookieguard/internal/errors"
	"github.com/systmms/cookieguard/internal/manager"
)

// NewCleanupCommand creates the cleanup command
func NewCleanupCommand(app *App) *cobra.Command {
	var (
		days   int
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old archives, backups and history",
		Long: `Delete archive/ and backups/ slots and history entries older than --days and
release stale ephemeral files. The newest COOKIEGUARD_BACKUP_RETENTION archives
are always kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return cgerrors.UserError{Message: "--days must be positive"}
			}
			return app.withManager(cmd, func(ctx context.Context, m *manager.Manager, _ *config.Config) error {
				res, err := m.Cleanup(ctx, time.Duration(days)*24*time.Hour, dryRun)
				if res != nil {
					verb := "Deleted"
					if res.DryRun {
						verb = "Would delete"
					}
					for _, s := range res.Deleted {
						app.printf("  %s %s\n", verb, s)
					}
					app.printf("%s %d slots, kept %d", verb, len(res.Deleted), res.Kept)
					if !res.DryRun {
						app.printf(", removed %d history entries, released %d ephemeral files", res.HistoryRemoved, res.EphemeralReleased)
					}
					app.printf("\n")
				}
				if err != nil {
					return cgerrors.CredentialError("Cleanup", err)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "Delete items older than this many days")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List what would be deleted")

	return cmd
}
