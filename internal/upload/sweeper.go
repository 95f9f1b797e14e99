package upload

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/veridex/veridex-backend/pkg/logger"
	"github.com/veridex/veridex-backend/pkg/metrics"
)

const sweeperJobName = "upload_spool_sweeper"

// Sweeper reclaims spool directories whose Redis session has expired. Session
// documents carry their own TTL, so disk is the only state that can leak.
type Sweeper struct {
	sessions *SessionStore
	chunks   *ChunkStore
	interval time.Duration
	metrics  *metrics.JobMetrics
	logg     *logger.Logger
}

// NewSweeper wires a background spool sweeper.
func NewSweeper(sessions *SessionStore, chunks *ChunkStore, interval time.Duration, jobMetrics *metrics.JobMetrics, logg *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		sessions: sessions,
		chunks:   chunks,
		interval: interval,
		metrics:  jobMetrics,
		logg:     logg,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	started := time.Now()
	removed, err := s.SweepOnce(ctx)
	if s.metrics != nil {
		s.metrics.ObserveDuration(sweeperJobName, time.Since(started))
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncFailure(sweeperJobName)
		}
		s.logg.Error(ctx, "sweeping upload spool", err)
		return
	}
	if s.metrics != nil {
		s.metrics.IncSuccess(sweeperJobName)
	}
	if removed > 0 {
		s.logg.Info(s.logg.WithField(ctx, "removed", removed), "swept orphaned upload spools")
	}
}

// SweepOnce removes spool directories with no live session and returns how
// many were reclaimed. Per-directory failures do not stop the sweep; they are
// combined into the returned error.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	ids, err := s.chunks.SessionDirs()
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, raw := range ids {
		sessionID, err := uuid.Parse(raw)
		if err != nil {
			// Not one of ours; leave foreign directories alone.
			continue
		}
		session, err := s.sessions.Get(ctx, sessionID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if session != nil && !session.Status.IsTerminal() && !session.Expired(time.Now().UTC()) {
			continue
		}
		if err := s.chunks.RemoveSession(raw); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, multierr.Combine(errs...)
}
