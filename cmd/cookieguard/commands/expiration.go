package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/cookieguard/internal/config"
	cgerrors "github.com/systmms/cookieguard/internal/errors"
	"github.com/systmms/cookieguard/internal/manager"
)

// NewCheckExpirationCommand creates the check-expiration command
func NewCheckExpirationCommand(app *App) *cobra.Command {
	var (
		warnDays int
		format   string
	)

	cmd := &cobra.Command{
		Use:   "check-expiration",
		Short: "Report when the stored credentials expire",
		Long: `Decrypt and validate the active and backup slots and report their expiry.

Exits 1 when active is missing, invalid, expired or expiring within --warn-days,
or when backup is unusable. A missing backup is reported but is not an issue.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if warnDays < 0 {
				return cgerrors.UserError{Message: "--warn-days must not be negative"}
			}
			return app.withManager(cmd, func(ctx context.Context, m *manager.Manager, _ *config.Config) error {
				report, err := m.CheckExpiration(ctx, time.Duration(warnDays)*24*time.Hour)
				if err != nil {
					return cgerrors.CredentialError("Expiration check", err)
				}
				handled, err := app.render(format, report)
				if err != nil {
					return err
				}
				if !handled {
					app.printExpiry(report)
				}
				if report.HasIssues() {
					return ErrIssues
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&warnDays, "warn-days", 7, "Warn when records expire within this many days")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, json, yaml")

	return cmd
}

func (a *App) printExpiry(r *manager.ExpiryReport) {
	a.printf("Credential expiry (checked %s)\n", r.CheckedAt.Format("2006-01-02 15:04 MST"))
	for _, s := range r.Slots {
		icon := "✅"
		detail := ""
		switch s.Status {
		case manager.ExpiryOK:
			detail = describeResult(s)
		case manager.ExpiryWarning:
			icon = "⚠️ "
			detail = describeResult(s)
		case manager.ExpiryMissing:
			icon = "➖"
			detail = "not stored"
		case manager.ExpiryExpired:
			icon = "❌"
			detail = fmt.Sprintf("all %d records expired", s.Result.RecordCount)
		case manager.ExpiryInvalid:
			icon = "❌"
			detail = fmt.Sprintf("invalid: %v", s.Result.Issues)
		case manager.ExpiryError:
			icon = "❌"
			detail = s.Error
		}
		a.printf("  %s %-7s %-9s %s\n", icon, s.Slot, s.Status, detail)
	}
}

func describeResult(s manager.SlotReport) string {
	r := s.Result
	msg := fmt.Sprintf("%d records (%d expired, %d session)", r.RecordCount, r.ExpiredCount, r.SessionCount)
	if s.ExpiresIn != nil {
		msg += fmt.Sprintf(", earliest expiry in %s", formatDuration(*s.ExpiresIn))
	}
	return msg
}
