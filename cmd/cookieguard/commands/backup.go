package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/cookieguard/internal/config"
	"github.com/systmms/cookieguard/internal/credential"
	cgerrors "github.com/systmms/cookieguard/internal/errors"
	"github.com/systmms/cookieguard/internal/manager"
)

// NewBackupCommand creates the backup command
func NewBackupCommand(app *App) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot a slot to backups/",
		Long: `Copy a slot (active by default) to backups/manual-<timestamp>.

Snapshots are removed by 'cookieguard cleanup' once they are older than --days.`,
		Example: `  cookieguard backup
  cookieguard backup --source backup`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withManager(cmd, func(ctx context.Context, m *manager.Manager, _ *config.Config) error {
				dst, err := m.Backup(ctx, credential.Slot(source), initiator())
				if err != nil {
					return cgerrors.CredentialError("Backup", err)
				}
				app.printf("✅ Backed up %s to %s\n", source, dst)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&source, "source", string(credential.SlotActive), "Slot to snapshot")

	return cmd
}

// NewRestoreCommand creates the restore command
func NewRestoreCommand(app *App) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "restore <slot>",
		Short: "Copy an archived or backed-up bundle over active",
		Long: `Restore active from backup, archive/<timestamp> or backups/<name>.

The source must decrypt, validate and contain unexpired records. The current
active bundle is first snapshotted to backups/pre-restore-<timestamp>.`,
		Example: `  cookieguard restore archive/20260401T120000.000Z --confirm
  cookieguard restore backup --confirm`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from := credential.Slot(args[0])
			if !confirm {
				return cgerrors.UserError{
					Message:    fmt.Sprintf("Restoring %s overwrites the active credentials", from),
					Suggestion: "Re-run with --confirm",
				}
			}

			return app.withManager(cmd, func(ctx context.Context, m *manager.Manager, _ *config.Config) error {
				res, err := m.Restore(ctx, from, initiator())
				if err != nil {
					return cgerrors.CredentialError("Restore", err)
				}
				app.printf("✅ Restored %s to %s\n", res.From, res.To)
				if res.Snapshot != "" {
					app.printf("   previous active saved to %s\n", res.Snapshot)
				}
				if res.Result != nil {
					app.printf("   %d records, %d expired\n", res.Result.RecordCount, res.Result.ExpiredCount)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "Confirm overwriting active")

	return cmd
}
