package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/cookieguard/internal/config"
	"github.com/systmms/cookieguard/internal/manager"
	"github.com/systmms/cookieguard/internal/metrics"
	"github.com/systmms/cookieguard/internal/rotation"
)

// NewMonitorCommand creates the monitor command
func NewMonitorCommand(app *App) *cobra.Command {
	var (
		interval    time.Duration
		metricsAddr string
		warnDays    int
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the rotation schedule and periodic health checks",
		Long: `Long-running mode. Runs the stored rotation schedule, checks health and
expiry every --interval and serves Prometheus metrics with a /health endpoint.

Stops on SIGINT or SIGTERM.`,
		Example: `  cookieguard monitor
  cookieguard monitor --interval 1m --metrics-addr 127.0.0.1:9100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			return app.withManager(cmd, func(ctx context.Context, m *manager.Manager, cfg *config.Config) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				var healthy atomic.Bool
				healthy.Store(true)

				srvCfg := metrics.DefaultServerConfig()
				srvCfg.Addr = cfg.MetricsAddr
				if cmd.Flags().Changed("metrics-addr") {
					srvCfg.Addr = metricsAddr
				}
				server := metrics.NewServer(srvCfg, app.Logger.Named("metrics"), healthy.Load)
				if err := server.Start(); err != nil {
					return fmt.Errorf("failed to start metrics server: %w", err)
				}

				scheduler := rotation.NewScheduler(m.Orchestrator(), app.Logger)
				sched, err := m.Schedule(ctx)
				switch {
				case err != nil:
					app.Logger.Warn("Could not read rotation schedule: %v", err)
				case sched.Enabled:
					if err := scheduler.Start(ctx, sched.Cron); err != nil {
						app.Logger.Warn("Rotation schedule not started: %v", err)
					}
				default:
					app.Logger.Info("Automatic rotation is disabled")
				}

				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					if err := scheduler.Stop(shutdownCtx); err != nil {
						app.Logger.Warn("Scheduler stop: %v", err)
					}
					if err := server.Stop(shutdownCtx); err != nil {
						app.Logger.Warn("Metrics server stop: %v", err)
					}
				}()

				if addr := server.Addr(); addr != "" {
					app.printf("Monitoring (metrics on %s, checks every %s)\n", addr, interval)
				} else {
					app.printf("Monitoring (checks every %s)\n", interval)
				}

				warn := time.Duration(warnDays) * 24 * time.Hour
				check := func() {
					ok := app.monitorCheck(ctx, m, warn)
					healthy.Store(ok)
				}
				check()

				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						app.Logger.Info("Monitor stopping")
						return nil
					case <-ticker.C:
						check()
					}
				}
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "Time between health and expiry checks")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Metrics listen address (default: COOKIEGUARD_METRICS_ADDR, empty disables)")
	cmd.Flags().IntVar(&warnDays, "warn-days", 7, "Warn when credentials expire within this many days")

	return cmd
}

// monitorCheck logs problems and reports whether the service is healthy
func (a *App) monitorCheck(ctx context.Context, m *manager.Manager, warn time.Duration) bool {
	report := m.Health(ctx, false)
	for _, c := range report.Checks {
		if c.Status != manager.HealthOK {
			a.Logger.Warn("Health check %s: %s", c.Name, c.Message)
		}
	}

	expiry, err := m.CheckExpiration(ctx, warn)
	if err != nil {
		a.Logger.Warn("Expiry check failed: %v", err)
		return report.Healthy
	}
	for _, s := range expiry.Slots {
		switch {
		case s.Error != "":
			a.Logger.Warn("Slot %s: %s", s.Slot, s.Error)
		case s.ExpiringSoon && s.ExpiresIn != nil:
			a.Logger.Warn("Slot %s expires in %s", s.Slot, s.ExpiresIn.Round(time.Minute))
		}
	}
	return report.Healthy
}
