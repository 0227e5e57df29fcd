// Package gc removes expired sessions and dead refresh token records in
// bounded batches so the opportunistic per-request cleanup never has to
// keep up on its own.
package gc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/classlane/portal-auth-service/internal/observability"
	"github.com/classlane/portal-auth-service/internal/repository"
)

const (
	DefaultLightInterval = 2 * time.Hour
	DefaultLightBatch    = 500
	DefaultFullInterval  = 12 * time.Hour
	DefaultFullBatch     = 1000
)

// Janitor runs two sweep tiers on independent timers. The light sweep
// removes only expired rows; the full sweep also removes revoked refresh
// records. Batches are capped, so a backlog drains across runs instead of
// producing one huge delete.
type Janitor struct {
	sessions repository.SessionRepository
	tokens   repository.RefreshTokenRepository

	lightInterval time.Duration
	lightBatch    int
	fullInterval  time.Duration
	fullBatch     int
}

type Option func(*Janitor)

// WithIntervals overrides the sweep cadence. Zero values keep the default.
func WithIntervals(light, full time.Duration) Option {
	return func(j *Janitor) {
		if light > 0 {
			j.lightInterval = light
		}
		if full > 0 {
			j.fullInterval = full
		}
	}
}

// WithBatchSizes overrides the per-run caps. Zero values keep the default.
func WithBatchSizes(light, full int) Option {
	return func(j *Janitor) {
		if light > 0 {
			j.lightBatch = light
		}
		if full > 0 {
			j.fullBatch = full
		}
	}
}

func NewJanitor(sessions repository.SessionRepository, tokens repository.RefreshTokenRepository, opts ...Option) *Janitor {
	j := &Janitor{
		sessions:      sessions,
		tokens:        tokens,
		lightInterval: DefaultLightInterval,
		lightBatch:    DefaultLightBatch,
		fullInterval:  DefaultFullInterval,
		fullBatch:     DefaultFullBatch,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run blocks until ctx is cancelled, firing the two tiers on their own
// tickers. Sweep failures are logged and the loop keeps going; a missed
// run only defers cleanup to the next tick.
func (j *Janitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(j.lightInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				j.LightSweep(ctx)
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(j.fullInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				j.FullSweep(ctx)
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// LightSweep deletes up to the light batch of expired sessions and expired
// refresh records. Revoked but unexpired refresh records survive.
func (j *Janitor) LightSweep(ctx context.Context) error {
	var errs []error
	if n, err := j.sessions.DeleteExpired(j.lightBatch); err != nil {
		slog.ErrorContext(ctx, "light sweep: sessions", "error", err)
		errs = append(errs, err)
	} else {
		observability.RecordSweep(ctx, "light", "session", n)
		if n > 0 {
			slog.InfoContext(ctx, "light sweep removed expired sessions", "count", n)
		}
	}
	if n, err := j.tokens.DeleteExpired(j.lightBatch); err != nil {
		slog.ErrorContext(ctx, "light sweep: refresh tokens", "error", err)
		errs = append(errs, err)
	} else {
		observability.RecordSweep(ctx, "light", "refresh_token", n)
		if n > 0 {
			slog.InfoContext(ctx, "light sweep removed expired refresh tokens", "count", n)
		}
	}
	return errors.Join(errs...)
}

// FullSweep deletes up to the full batch of expired sessions and of
// refresh records that are expired or revoked.
func (j *Janitor) FullSweep(ctx context.Context) error {
	var errs []error
	if n, err := j.sessions.DeleteExpired(j.fullBatch); err != nil {
		slog.ErrorContext(ctx, "full sweep: sessions", "error", err)
		errs = append(errs, err)
	} else {
		observability.RecordSweep(ctx, "full", "session", n)
		if n > 0 {
			slog.InfoContext(ctx, "full sweep removed expired sessions", "count", n)
		}
	}
	if n, err := j.tokens.DeleteExpiredOrRevoked(j.fullBatch); err != nil {
		slog.ErrorContext(ctx, "full sweep: refresh tokens", "error", err)
		errs = append(errs, err)
	} else {
		observability.RecordSweep(ctx, "full", "refresh_token", n)
		if n > 0 {
			slog.InfoContext(ctx, "full sweep removed dead refresh tokens", "count", n)
		}
	}
	return errors.Join(errs...)
}
