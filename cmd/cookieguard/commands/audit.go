package commands

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/cookieguard/internal/config"
	cgerrors "github.com/systmms/cookieguard/internal/errors"
	"github.com/systmms/cookieguard/internal/manager"
	"github.com/systmms/cookieguard/internal/rotation/history"
)

// auditReport is the document written for json, yaml and html output
type auditReport struct {
	GeneratedAt time.Time       `json:"generated_at" yaml:"generated_at"`
	Since       time.Time       `json:"since" yaml:"since"`
	Count       int             `json:"count" yaml:"count"`
	Failures    int             `json:"failures" yaml:"failures"`
	ByAction    map[string]int  `json:"by_action" yaml:"by_action"`
	Entries     []history.Entry `json:"entries" yaml:"entries"`
}

// NewAuditCommand creates the audit command
func NewAuditCommand(app *App) *cobra.Command {
	var (
		days   int
		action string
		status string
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the credential operation history",
		Long: `Display recorded rotations, uploads, backups, restores, fallbacks and
cleanups, newest first.`,
		Example: `  # Last 30 days as a table
  cookieguard audit

  # Only fallbacks in the last week
  cookieguard audit --days 7 --action fallback

  # HTML report
  cookieguard audit --format html > audit.html`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return cgerrors.UserError{Message: "--days must be positive"}
			}
			return app.withManager(cmd, func(ctx context.Context, m *manager.Manager, _ *config.Config) error {
				now := time.Now().UTC()
				since := now.Add(-time.Duration(days) * 24 * time.Hour)
				entries, err := m.History().List(history.Filter{Since: since, Action: action, Limit: limit})
				if err != nil {
					return fmt.Errorf("failed to read history: %w", err)
				}
				entries = filterStatus(entries, status)

				report := &auditReport{
					GeneratedAt: now,
					Since:       since,
					Count:       len(entries),
					ByAction:    make(map[string]int),
					Entries:     entries,
				}
				for _, e := range entries {
					report.ByAction[e.Action]++
					if e.Status == history.StatusFailed {
						report.Failures++
					}
				}

				if format == "html" {
					return auditTemplate.Execute(app.Out, report)
				}
				handled, err := app.render(format, report)
				if err != nil || handled {
					return err
				}
				app.printAudit(report)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "Show entries from the last N days")
	cmd.Flags().StringVar(&action, "action", "", "Filter by action: rotate, emergency_rotate, upload, backup, restore, fallback, cleanup, schedule")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status: success, failed, skipped, dry_run")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of entries (0 for all)")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, json, yaml, html")

	return cmd
}

func filterStatus(entries []history.Entry, status string) []history.Entry {
	if status == "" {
		return entries
	}
	var out []history.Entry
	for _, e := range entries {
		if strings.EqualFold(e.Status, status) {
			out = append(out, e)
		}
	}
	return out
}

func (a *App) printAudit(r *auditReport) {
	if len(r.Entries) == 0 {
		a.printf("No history since %s\n", r.Since.Format("2006-01-02"))
		return
	}

	w := tabwriter.NewWriter(a.Out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIMESTAMP\tACTION\tSTATUS\tTRIGGER\tBY\tSLOT\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "---------\t------\t------\t-------\t--\t----\t--------\t-----")
	for _, e := range r.Entries {
		slot := e.Slot
		if e.Source != "" {
			slot = e.Source + " -> " + orDash(e.Slot)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Action,
			formatStatus(e.Status),
			orDash(e.Trigger),
			orDash(e.InitiatedBy),
			orDash(slot),
			formatDuration(e.Duration),
			orDash(truncate(e.Error, 50)),
		)
	}
	_ = w.Flush()

	a.printf("\nShowing %d entries since %s (%d failed)\n", r.Count, r.Since.Format("2006-01-02"), r.Failures)
}

func formatStatus(status string) string {
	switch status {
	case history.StatusSuccess:
		return "✅ success"
	case history.StatusFailed:
		return "❌ failed"
	case history.StatusSkipped:
		return "⚠️  skipped"
	case history.StatusDryRun:
		return "🔍 dry_run"
	}
	return status
}

var auditTemplate = template.Must(template.New("audit").Funcs(template.FuncMap{
	"ts":  func(t time.Time) string { return t.Format("2006-01-02 15:04:05 MST") },
	"dur": formatDuration,
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>cookieguard audit</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; font-size: 0.9em; }
tr.failed { background: #fdd; }
tr.skipped { background: #ffd; }
</style>
</head>
<body>
<h1>Credential audit</h1>
<p>Generated {{ts .GeneratedAt}}, covering entries since {{ts .Since}}.</p>
<p>{{.Count}} entries, {{.Failures}} failed.</p>
<ul>
{{- range $action, $n := .ByAction}}
<li>{{$action}}: {{$n}}</li>
{{- end}}
</ul>
<table>
<tr><th>Timestamp</th><th>Action</th><th>Status</th><th>Trigger</th><th>By</th><th>Source</th><th>Slot</th><th>Duration</th><th>Reason</th><th>Error</th></tr>
{{- range .Entries}}
<tr class="{{.Status}}"><td>{{ts .Timestamp}}</td><td>{{.Action}}</td><td>{{.Status}}</td><td>{{.Trigger}}</td><td>{{.InitiatedBy}}</td><td>{{.Source}}</td><td>{{.Slot}}</td><td>{{dur .Duration}}</td><td>{{.Reason}}</td><td>{{.Error}}</td></tr>
{{- end}}
</table>
</body>
</html>
`))
