package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jude-scai/processor/pkg/broker"
)

// StaleUnderwritingFinder locates underwritings that have sat in
// "processing" status longer than olderThan permits.
type StaleUnderwritingFinder interface {
	GetStaleProcessingUnderwritings(ctx context.Context, olderThan time.Time) ([]uuid.UUID, error)
}

// Scheduler periodically re-triages underwritings stuck in "processing"
// by re-publishing underwriting.updated, in case the message that would
// have advanced them was lost upstream of the broker (SPEC_FULL.md §7
// "scheduler.py", reinterpreted from the original's per-underwriting work
// queue: here the real-time serialization guarantee is carried by
// keyedLock, and this component is purely a staleness safety net). It is
// supplemental and off by default; it never blocks the five core
// workflows.
type Scheduler struct {
	finder          StaleUnderwritingFinder
	publisher       broker.Publisher
	logger          *zap.Logger
	interval        time.Duration
	stalenessWindow time.Duration
}

// NewScheduler builds a Scheduler. interval controls how often the sweep
// runs; stalenessWindow is how long an underwriting may sit in
// "processing" before it's considered stuck.
func NewScheduler(finder StaleUnderwritingFinder, publisher broker.Publisher, logger *zap.Logger, interval, stalenessWindow time.Duration) *Scheduler {
	return &Scheduler{
		finder:          finder,
		publisher:       publisher,
		logger:          logger,
		interval:        interval,
		stalenessWindow: stalenessWindow,
	}
}

// Run ticks every s.interval until ctx is cancelled, re-publishing
// underwriting.updated for every stale underwriting found each round.
func (s *Scheduler) Run(ctx context.Context) {
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

func (s *Scheduler) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.stalenessWindow)
	ids, err := s.finder.GetStaleProcessingUnderwritings(ctx, cutoff)
	if err != nil {
		s.logger.Error("staleness sweep failed to query stuck underwritings", zap.Error(err))
		return
	}
	if len(ids) == 0 {
		return
	}

	s.logger.Info("staleness sweep re-publishing stuck underwritings", zap.Int("count", len(ids)))
	for _, id := range ids {
		payload := map[string]any{"underwriting_id": id}
		if err := s.publisher.Publish(ctx, broker.TopicUnderwritingUpdated, payload); err != nil {
			s.logger.Error("staleness sweep failed to re-publish underwriting",
				zap.String("underwriting_id", id.String()), zap.Error(err))
		}
	}
}
