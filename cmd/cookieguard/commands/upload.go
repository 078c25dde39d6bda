package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/systmms/cookieguard/internal/config"
	"github.com/systmms/cookieguard/internal/credential"
	"github.com/systmms/cookieguard/internal/ephemeral"
	cgerrors "github.com/systmms/cookieguard/internal/errors"
	"github.com/systmms/cookieguard/internal/manager"
	"github.com/systmms/cookieguard/internal/validation"
)

// NewUploadCommand creates the upload command
func NewUploadCommand(app *App) *cobra.Command {
	var (
		slot   string
		dryRun bool
		shred  bool
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Validate, encrypt and store a cookie export",
		Long: `Upload a Netscape (tab-separated) or JSON cookie export to the active or
backup slot. The file is validated first; bundles with no usable records or
only expired records are rejected.

Fresh exports normally go to backup and reach active with 'cookieguard rotate'.`,
		Example: `  cookieguard upload cookies.txt
  cookieguard upload cookies.json --slot active
  cookieguard upload cookies.txt --dry-run
  cookieguard upload cookies.txt --shred`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Clean(args[0])
			data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
			if err != nil {
				return cgerrors.SimplifyError(fmt.Errorf("read %s: %w", path, err))
			}
			defer func() {
				for i := range data {
					data[i] = 0
				}
			}()

			return app.withManager(cmd, func(ctx context.Context, m *manager.Manager, _ *config.Config) error {
				res, err := m.Upload(ctx, credential.Slot(slot), data, dryRun)
				if res != nil && res.Validation != nil {
					app.printValidation(res.Validation)
				}
				if err != nil {
					return cgerrors.CredentialError("Upload", err)
				}
				if res.DryRun {
					app.printf("Dry run: %s is valid and would be stored in %s\n", path, res.Slot)
					return nil
				}
				app.printf("✅ Stored %s in %s (sha256 %s)\n", path, res.Slot, short(res.Checksum))

				if shred {
					method, err := ephemeral.Shred(path)
					if err != nil {
						return fmt.Errorf("uploaded, but failed to shred %s: %w", path, err)
					}
					app.printf("   %s removed (%s)\n", path, method)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&slot, "slot", string(credential.SlotBackup), "Target slot: active or backup")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate only")
	cmd.Flags().BoolVar(&shred, "shred", false, "Overwrite and delete the source file after upload")

	return cmd
}

func (a *App) printValidation(r *validation.Result) {
	a.printf("Format: %s, %d records (%d expired, %d session)\n", r.Format, r.RecordCount, r.ExpiredCount, r.SessionCount)
	if len(r.Domains) > 0 {
		a.printf("Domains: %v\n", r.Domains)
	}
	if r.EarliestExpiry != nil {
		a.printf("Earliest expiry: %s\n", r.EarliestExpiry.Format("2006-01-02 15:04 MST"))
	}
	for _, w := range r.Warnings {
		a.printf("  ⚠️  %s\n", w)
	}
	for _, i := range r.Issues {
		a.printf("  ❌ %s\n", i)
	}
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
