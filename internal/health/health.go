// Package health gates a release before and after promotion: a local
// self-check of the freshly built release, and an HTTP probe of the
// serving endpoint once the switch has happened.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"slipway/pkg/cmdutil"
)

// ErrSelfCheck indicates the release's own introspection command exited
// non-zero. A broken build will not fix itself, so there is no retry.
var ErrSelfCheck = errors.New("release self-check failed")

// ErrProbeExhausted indicates the HTTP probe failed every attempt.
var ErrProbeExhausted = errors.New("health probe exhausted all attempts")

const (
	// DefaultProbeAttempts is how many times the HTTP probe is tried
	// before the release is declared unfit.
	DefaultProbeAttempts = 5

	// DefaultProbeDelay is the fixed pause between probe attempts. A
	// freshly switched process may need a moment to warm up (fpm
	// reload, cache rebuild) before it answers correctly.
	DefaultProbeDelay = 3 * time.Second

	// DefaultProbeTimeout bounds a single probe request.
	DefaultProbeTimeout = 10 * time.Second
)

// SelfCheck runs the app's introspection command inside the release
// directory. Any non-zero exit is an immediate hard failure.
func SelfCheck(ctx context.Context, logger *slog.Logger, releaseDir string, command []string, timeout time.Duration) error {
	logger.Info("Running self-check", "command", cmdutil.FormatCommand(command), "dir", releaseDir)

	result, err := cmdutil.Run(ctx, cmdutil.ExecOptions{
		Dir:            releaseDir,
		Timeout:        timeout,
		CombinedOutput: true,
	}, command)
	if err != nil {
		if result != nil && len(result.Output) > 0 {
			logger.Error("Self-check failed", "exit_code", result.ExitCode, "output", string(result.Output))
		} else {
			logger.Error("Self-check failed", "error", err)
		}
		return fmt.Errorf("%w: %v", ErrSelfCheck, err)
	}

	logger.Info("Self-check passed", "duration", result.Duration)
	return nil
}

// Prober issues HTTP GET requests against an application health URL
// with a fixed number of attempts and a fixed delay between them.
type Prober struct {
	URL      string
	Attempts int
	Delay    time.Duration
	Client   *http.Client
	Logger   *slog.Logger
}

// NewProber creates a prober with the default retry bound.
func NewProber(url string, logger *slog.Logger) *Prober {
	return &Prober{
		URL:      url,
		Attempts: DefaultProbeAttempts,
		Delay:    DefaultProbeDelay,
		Client:   &http.Client{Timeout: DefaultProbeTimeout},
		Logger:   logger,
	}
}

// Probe checks the health URL until it answers with a 2xx status or
// the attempt bound is exhausted. Connection errors and bad status
// codes are logged distinctly; the semantics are identical (release is
// not serving), but the operator wants to know which one it was.
func (p *Prober) Probe(ctx context.Context) error {
	var lastErr error

	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err := p.probeOnce(ctx)
		if err == nil {
			p.Logger.Info("Health probe passed", "url", p.URL, "attempt", attempt)
			return nil
		}
		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			p.Logger.Warn("Health probe got bad status", "url", p.URL, "attempt", attempt, "status", statusErr.Code)
		} else {
			p.Logger.Warn("Health probe could not reach app", "url", p.URL, "attempt", attempt, "error", err)
		}

		if attempt < p.Attempts {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrProbeExhausted, ctx.Err())
			case <-time.After(p.Delay):
			}
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrProbeExhausted, p.Attempts, lastErr)
}

func (p *Prober) probeOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// StatusError reports a reachable endpoint that answered with a
// non-success status code.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.Code)
}
