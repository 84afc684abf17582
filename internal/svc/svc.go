// Package svc signals already-provisioned collaborators after a switch:
// the app's systemd unit, its background workers, and nginx. Slipway
// never writes unit files or proxy configuration itself; it only asks
// the running system to pick up the release that is now current.
package svc

import (
	"context"
	"log/slog"
	"time"

	"slipway/pkg/cmdutil"
)

// DefaultSignalTimeout bounds a single systemctl or nginx invocation.
const DefaultSignalTimeout = 30 * time.Second

// RunFunc executes a command and returns its combined output. It
// exists so tests can observe signals without a systemd around.
type RunFunc func(ctx context.Context, parts []string) ([]byte, error)

// Manager sends reload and restart signals. Every signal is
// best-effort: a unit that fails to reload is logged, never fatal,
// because the pointer/filesystem state is already correct and a
// retry loop here would just hang the deployment.
type Manager struct {
	Logger *slog.Logger
	Run    RunFunc
}

// NewManager creates a manager that shells out to systemctl and nginx.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		Logger: logger,
		Run: func(ctx context.Context, parts []string) ([]byte, error) {
			return cmdutil.RunWithTimeout(ctx, "", DefaultSignalTimeout, parts)
		},
	}
}

// ReloadApp asks systemd to reload the app's serving unit, restarting
// it if the unit has no reload action. A missing unit name is a no-op.
func (m *Manager) ReloadApp(ctx context.Context, unit string) {
	if unit == "" {
		return
	}
	m.signal(ctx, "app service", []string{"systemctl", "reload-or-restart", unit})
}

// RestartWorkers restarts background worker units so they pick up the
// new release's code. Workers hold the old release's files open until
// restarted, which also blocks pruning on some filesystems.
func (m *Manager) RestartWorkers(ctx context.Context, units []string) {
	for _, unit := range units {
		if unit == "" {
			continue
		}
		m.signal(ctx, "worker", []string{"systemctl", "restart", unit})
	}
}

// ReloadNginx asks nginx to re-read its configuration. The config is
// validated first so a broken vhost left by an operator does not take
// the proxy down with it.
func (m *Manager) ReloadNginx(ctx context.Context) {
	if output, err := m.Run(ctx, []string{"nginx", "-t"}); err != nil {
		m.Logger.Warn("Nginx config test failed, skipping reload", "error", err, "output", string(output))
		return
	}
	m.signal(ctx, "nginx", []string{"systemctl", "reload", "nginx"})
}

func (m *Manager) signal(ctx context.Context, what string, parts []string) {
	m.Logger.Info("Signalling service", "target", what, "command", cmdutil.FormatCommand(parts))
	if output, err := m.Run(ctx, parts); err != nil {
		m.Logger.Warn("Service signal failed", "target", what, "error", err, "output", string(output))
		return
	}
	m.Logger.Info("Service signalled", "target", what)
}
