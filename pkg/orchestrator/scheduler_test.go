package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jude-scai/processor/pkg/broker"
)

type fakeStaleFinder struct {
	stale []uuid.UUID
	calls int
}

func (f *fakeStaleFinder) GetStaleProcessingUnderwritings(context.Context, time.Time) ([]uuid.UUID, error) {
	f.calls++
	return f.stale, nil
}

type fakeSchedulerPublisher struct {
	mu        sync.Mutex
	published []uuid.UUID
}

func (f *fakeSchedulerPublisher) Publish(_ context.Context, topic broker.Topic, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	body := payload.(map[string]any)
	f.published = append(f.published, body["underwriting_id"].(uuid.UUID))
	return nil
}

var _ = Describe("Scheduler", func() {
	It("re-publishes underwriting.updated for every stale underwriting it finds", func() {
		staleID := uuid.New()
		finder := &fakeStaleFinder{stale: []uuid.UUID{staleID}}
		pub := &fakeSchedulerPublisher{}

		s := NewScheduler(finder, pub, zap.NewNop(), 10*time.Millisecond, 30*time.Minute)
		ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
		defer cancel()

		s.Run(ctx)

		Expect(finder.calls).To(BeNumerically(">=", 1))
		Expect(pub.published).To(ContainElement(staleID))
	})

	It("does nothing when no underwriting is stale", func() {
		finder := &fakeStaleFinder{}
		pub := &fakeSchedulerPublisher{}

		s := NewScheduler(finder, pub, zap.NewNop(), 10*time.Millisecond, 30*time.Minute)
		ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
		defer cancel()

		s.Run(ctx)

		Expect(pub.published).To(BeEmpty())
	})
})
