// Package autoplay advances sessions whose playing track has run past its
// known duration, approximating the "song finished" signal the playback UI
// would otherwise have to deliver.
package autoplay

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/utabox/utabox/internal/app/session"
)

// Runner periodically sweeps for expired playing tracks and advances their
// sessions. The queue engine itself stays synchronous; the runner is just a
// caller on a timer.
type Runner struct {
	mgr      *session.Manager
	interval time.Duration
}

// NewRunner creates a runner sweeping at the given interval.
func NewRunner(mgr *session.Manager, interval time.Duration) *Runner {
	return &Runner{mgr: mgr, interval: interval}
}

// Run sweeps until the context is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	zlog.Info().Msgf("autoplay runner started: interval=%v", r.interval)
	for {
		select {
		case <-ctx.Done():
			zlog.Info().Msg("autoplay runner stopped")
			return
		case <-ticker.C:
			n, err := r.mgr.AdvanceExpired(ctx, time.Now().UTC())
			if err != nil {
				zlog.Error().Msgf("autoplay sweep failed: %v", err)
				continue
			}
			if n > 0 {
				zlog.Debug().Msgf("autoplay advanced %d sessions", n)
			}
		}
	}
}
