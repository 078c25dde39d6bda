// Package commands implements the cookieguard CLI.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/systmms/cookieguard/internal/config"
	cgerrors "github.com/systmms/cookieguard/internal/errors"
	"github.com/systmms/cookieguard/internal/logging"
	"github.com/systmms/cookieguard/internal/manager"
)

// ErrIssues is returned when a command completed but found problems. The CLI exits 1 without
// printing it again.
var ErrIssues = errors.New("issues found")

// OpenFunc builds a manager and returns the configuration it was built from
type OpenFunc func(ctx context.Context, logger *logging.Logger) (*manager.Manager, *config.Config, error)

// App is the state shared by every command
type App struct {
	Logger *logging.Logger
	Out    io.Writer
	Open   OpenFunc

	// ShutdownTimeout bounds Close after a command finishes
	ShutdownTimeout time.Duration
}

// NewApp returns an App that loads configuration from the environment
func NewApp() *App {
	return &App{
		Logger:          logging.New(false, false),
		Out:             os.Stdout,
		Open:            OpenFromEnv,
		ShutdownTimeout: 10 * time.Second,
	}
}

// OpenFromEnv loads the configuration from COOKIEGUARD_* variables and opens a manager
func OpenFromEnv(ctx context.Context, logger *logging.Logger) (*manager.Manager, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	m, err := manager.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return m, cfg, nil
}

// withManager opens the manager, starts its background work and closes it when fn returns
func (a *App) withManager(cmd *cobra.Command, fn func(ctx context.Context, m *manager.Manager, cfg *config.Config) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	m, cfg, err := a.Open(ctx, a.Logger)
	if err != nil {
		return cgerrors.SimplifyError(err)
	}
	m.Start(ctx)
	defer func() {
		timeout := a.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		closeCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := m.Close(closeCtx); err != nil {
			a.Logger.Warn("Shutdown incomplete: %v", err)
		}
	}()

	return fn(ctx, m, cfg)
}

func (a *App) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(a.Out, format, args...)
}

// render writes v as json or yaml. It reports false for the text format.
func (a *App) render(format string, v interface{}) (bool, error) {
	switch format {
	case "json":
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(a.Out)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	case "", "text":
		return false, nil
	}
	return true, cgerrors.UserError{
		Message:    fmt.Sprintf("Unknown output format %q", format),
		Suggestion: "Use text, json or yaml",
	}
}

// initiator names the operator for audit entries
func initiator() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "cli"
}

func formatDuration(d time.Duration) string {
	switch {
	case d == 0:
		return "-"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
