package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/cookieguard/internal/config"
	"github.com/systmms/cookieguard/internal/manager"
)

// NewHealthCheckCommand creates the health-check command
func NewHealthCheckCommand(app *App) *cobra.Command {
	var (
		detailed bool
		format   string
	)

	cmd := &cobra.Command{
		Use:   "health-check",
		Short: "Check storage, credentials and the ephemeral directory",
		Long: `Run the health checks concurrently and report each one.

This command checks:
- Backend reachability and metadata (unfinished or overdue rotations)
- Active and backup credentials decrypt, validate and are not expired
- The ephemeral directory is writable with mode 0700

--detailed adds bucket versioning and the caller identity of the AWS credentials.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withManager(cmd, func(ctx context.Context, m *manager.Manager, _ *config.Config) error {
				report := m.Health(ctx, detailed)
				handled, err := app.render(format, report)
				if err != nil {
					return err
				}
				if !handled {
					app.printHealth(report)
				}
				if !report.Healthy {
					return ErrIssues
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&detailed, "detailed", false, "Include versioning and identity checks")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, json, yaml")

	return cmd
}

func (a *App) printHealth(r *manager.HealthReport) {
	w := tabwriter.NewWriter(a.Out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CHECK\tSTATUS\tDURATION\tDETAILS")
	for _, c := range r.Checks {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Name, healthIcon(c.Status), formatDuration(c.Duration), c.Message)
	}
	_ = w.Flush()

	if r.Healthy {
		a.printf("\n✅ Healthy\n")
	} else {
		a.printf("\n❌ Unhealthy\n")
	}
}

func healthIcon(s manager.HealthStatus) string {
	switch s {
	case manager.HealthOK:
		return "✅ ok"
	case manager.HealthDegraded:
		return "⚠️  degraded"
	}
	return "❌ failed"
}
