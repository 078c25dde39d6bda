package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/cookieguard/internal/config"
	cgerrors "github.com/systmms/cookieguard/internal/errors"
	"github.com/systmms/cookieguard/internal/execenv"
	"github.com/systmms/cookieguard/internal/manager"
)

// NewIssueCommand creates the issue command
func NewIssueCommand(app *App) *cobra.Command {
	var (
		caller  string
		hold    time.Duration
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue [-- command args...]",
		Short: "Issue an ephemeral cookie file to a consumer",
		Long: `Decrypt the current credentials into a private temporary file.

With a command after --, the command runs with COOKIEGUARD_COOKIE_FILE set to
the file path and the file is shredded when it exits. The command's exit code
is passed through.

Without a command, the path is printed and the file is kept until --hold
elapses or the process is interrupted.`,
		Example: `  cookieguard issue -- sh -c 'yt-dlp --cookies "$COOKIEGUARD_COOKIE_FILE" URL'
  cookieguard issue --caller worker-3 --hold 2m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				if err := execenv.ValidateCommand(args); err != nil {
					return err
				}
			}
			if caller == "" {
				caller = initiator()
			}

			return app.withManager(cmd, func(ctx context.Context, m *manager.Manager, cfg *config.Config) error {
				lease, err := m.Acquire(ctx, caller)
				if err != nil {
					return cgerrors.CredentialError("Issue", err)
				}
				defer func() {
					if err := lease.Release(); err != nil {
						app.Logger.Warn("Failed to release %s: %v", lease.Path, err)
					}
				}()

				if lease.Fallback {
					app.Logger.Warn("Serving %s credentials; active is unusable", lease.Slot)
				}

				if len(args) > 0 {
					return execenv.New(app.Logger).Exec(ctx, execenv.ExecOptions{
						Command:     args,
						Environment: map[string]string{execenv.CookieFileEnv: lease.Path},
						Timeout:     timeout,
					})
				}

				app.printf("%s\n", lease.Path)

				wait := hold
				if wait <= 0 {
					wait = cfg.EphemeralMaxAge
				}
				sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				timer := time.NewTimer(wait)
				defer timer.Stop()
				select {
				case <-sigCtx.Done():
				case <-timer.C:
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&caller, "caller", "", "Caller identity for rate limiting (default: current user)")
	cmd.Flags().DurationVar(&hold, "hold", 0, "How long to keep the file without a command (default: COOKIEGUARD_EPHEMERAL_MAX_AGE)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Kill the command after this long (0 for no limit)")

	return cmd
}
