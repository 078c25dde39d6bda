package commands

import (
	"github.com/spf13/cobra"

	"github.com/systmms/cookieguard/internal/logging"
)

// NewRootCommand assembles the cookieguard command tree around app
func NewRootCommand(app *App, version string) *cobra.Command {
	var (
		noColor bool
		debug   bool
	)

	rootCmd := &cobra.Command{
		Use:   "cookieguard",
		Short: "Encrypted storage and rotation for browser session cookies",
		Long: `cookieguard keeps browser cookie exports encrypted in object storage, rotates
them between active and backup slots and hands short-lived plaintext files
to consumers such as yt-dlp.

Configuration is read from COOKIEGUARD_* environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if app.Out == nil {
				app.Out = cmd.OutOrStdout()
			}
			if debug || noColor || app.Logger == nil {
				app.Logger = logging.New(debug, noColor)
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		NewIssueCommand(app),
		NewUploadCommand(app),
		NewRotateCommand(app),
		NewCheckExpirationCommand(app),
		NewHealthCheckCommand(app),
		NewBackupCommand(app),
		NewRestoreCommand(app),
		NewCleanupCommand(app),
		NewAuditCommand(app),
		NewScheduleCommand(app),
		NewMonitorCommand(app),
		NewCompletionCommand(app),
	)

	return rootCmd
}
