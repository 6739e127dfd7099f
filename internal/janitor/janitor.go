// Package janitor runs the periodic retention sweeps: stale refresh token rows
// and audit entries past their retention window.
package janitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"orgdir.io/internal/audit"
	"orgdir.io/internal/auth"
	"orgdir.io/internal/obs"
)

// DefaultInterval is how often the sweep runs.
const DefaultInterval = 1 * time.Hour

const sweepTimeout = 30 * time.Second

// Janitor owns the background cleanup loop.
type Janitor struct {
	refresh  *auth.RefreshTokenManager
	audit    *audit.Log
	interval time.Duration
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithInterval overrides the sweep cadence.
func WithInterval(d time.Duration) Option {
	return func(j *Janitor) {
		if d > 0 {
			j.interval = d
		}
	}
}

// New constructs a Janitor. Either sweep target may be nil; the loop skips it.
func New(refresh *auth.RefreshTokenManager, auditLog *audit.Log, opts ...Option) *Janitor {
	j := &Janitor{refresh: refresh, audit: auditLog, interval: DefaultInterval}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
// Sweep failures are logged and never stop the loop.
func (j *Janitor) Run(ctx context.Context) {
	j.sweep(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	logger := obs.Logger()
	if j.refresh != nil {
		if n, err := j.refresh.Cleanup(sctx); err != nil {
			logger.Error("refresh token cleanup failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("refresh token cleanup", zap.Int64("deleted", n))
		}
	}
	if j.audit != nil {
		if n, err := j.audit.Cleanup(sctx); err != nil {
			logger.Error("audit cleanup failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("audit cleanup", zap.Int64("deleted", n))
		}
	}
}
