package consolidation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jude-scai/processor/pkg/payload"
	execProcessor "github.com/jude-scai/processor/pkg/processor"
	"github.com/jude-scai/processor/pkg/repository"
	"github.com/jude-scai/processor/pkg/types"
)

func TestConsolidation(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Consolidation Suite")
}

type keepFirstProcessor struct{ execProcessor.Base }

func (keepFirstProcessor) Name() string                { return "consolidation_test_processor" }
func (keepFirstProcessor) Kind() payload.ProcessorKind  { return payload.KindDocument }
func (keepFirstProcessor) Triggers() payload.Triggers   { return payload.Triggers{} }
func (keepFirstProcessor) DefaultConfig() types.JSONMap { return types.JSONMap{} }
func (keepFirstProcessor) TransformInput(context.Context, *execProcessor.ExecContext, map[string]any) (any, error) {
	return nil, nil
}
func (keepFirstProcessor) ValidateInput(context.Context, *execProcessor.ExecContext, any) (execProcessor.ValidationResult, error) {
	return execProcessor.Valid(), nil
}
func (keepFirstProcessor) Extract(context.Context, *execProcessor.ExecContext, any) (map[string]any, error) {
	return map[string]any{}, nil
}
func (keepFirstProcessor) ValidateOutput(context.Context, *execProcessor.ExecContext, map[string]any) (execProcessor.ValidationResult, error) {
	return execProcessor.Valid(), nil
}

func init() {
	execProcessor.Register("consolidation_test_processor", func() execProcessor.Processor { return keepFirstProcessor{} })
}

type fakeProcessorStore struct{ up *types.UnderwritingProcessor }

func (f *fakeProcessorStore) GetUnderwritingProcessorByID(context.Context, uuid.UUID) (*types.UnderwritingProcessor, error) {
	return f.up, nil
}

type fakeExecutionStore struct{ active []types.Execution }

func (f *fakeExecutionStore) GetActiveExecutions(context.Context, uuid.UUID) ([]types.Execution, error) {
	return f.active, nil
}

type fakeFactorStore struct{ saved *repository.SaveFactorsParams }

func (f *fakeFactorStore) SaveFactors(_ context.Context, p repository.SaveFactorsParams) error {
	f.saved = &p
	return nil
}

func factorsDelta(factors map[string]any) []byte {
	b, _ := json.Marshal(map[string]any{"factors": factors})
	return b
}

var _ = Describe("Service.Consolidate", func() {
	It("attributes the merged factors to the first active execution", func() {
		up := &types.UnderwritingProcessor{
			ID:             uuid.New(),
			OrganizationID: uuid.New(),
			UnderwritingID: uuid.New(),
			Processor:      "consolidation_test_processor",
		}
		firstExec := types.Execution{ID: uuid.New(), FactorsDelta: factorsDelta(map[string]any{"score": 10.0})}
		secondExec := types.Execution{ID: uuid.New(), FactorsDelta: factorsDelta(map[string]any{"score": 99.0})}

		procStore := &fakeProcessorStore{up: up}
		execStore := &fakeExecutionStore{active: []types.Execution{firstExec, secondExec}}
		factorStore := &fakeFactorStore{}

		svc := NewService(procStore, execStore, factorStore, zap.NewNop())
		outcome := svc.Consolidate(context.Background(), up.ID)

		Expect(outcome.Success).To(BeTrue())
		Expect(outcome.Factors).To(Equal(map[string]any{"score": 10.0}))
		Expect(factorStore.saved).ToNot(BeNil())
		Expect(factorStore.saved.ExecutionID).To(Equal(firstExec.ID))
	})

	It("reports failure when the processor config cannot be found", func() {
		procStore := &fakeProcessorStore{up: nil}
		svc := NewService(procStore, &fakeExecutionStore{}, &fakeFactorStore{}, zap.NewNop())

		outcome := svc.Consolidate(context.Background(), uuid.New())
		Expect(outcome.Success).To(BeFalse())
		Expect(outcome.Error).To(ContainSubstring("not found"))
	})

	It("skips saving when consolidation produces no factors", func() {
		up := &types.UnderwritingProcessor{ID: uuid.New(), Processor: "consolidation_test_processor"}
		factorStore := &fakeFactorStore{}

		svc := NewService(&fakeProcessorStore{up: up}, &fakeExecutionStore{}, factorStore, zap.NewNop())
		outcome := svc.Consolidate(context.Background(), up.ID)

		Expect(outcome.Success).To(BeTrue())
		Expect(factorStore.saved).To(BeNil())
	})

	It("handles a missing factors_delta by treating it as empty", func() {
		up := &types.UnderwritingProcessor{ID: uuid.New(), Processor: "consolidation_test_processor"}
		execStore := &fakeExecutionStore{active: []types.Execution{{ID: uuid.New()}}}

		svc := NewService(&fakeProcessorStore{up: up}, execStore, &fakeFactorStore{}, zap.NewNop())
		outcome := svc.Consolidate(context.Background(), up.ID)

		Expect(outcome.Success).To(BeTrue())
		Expect(outcome.Factors).To(BeEmpty())
	})
})

var _ = Describe("Service.ConsolidateAll", func() {
	It("continues past a single failing processor instance", func() {
		goodUP := &types.UnderwritingProcessor{ID: uuid.New(), Processor: "consolidation_test_processor"}

		procStore := &multiProcessorStore{byID: map[uuid.UUID]*types.UnderwritingProcessor{goodUP.ID: goodUP}}
		svc := NewService(procStore, &fakeExecutionStore{}, &fakeFactorStore{}, zap.NewNop())

		missingID := uuid.New()
		summary := svc.ConsolidateAll(context.Background(), []uuid.UUID{goodUP.ID, missingID})

		Expect(summary.Consolidated).To(Equal(1))
		Expect(summary.Results).To(HaveLen(2))
	})
})

type multiProcessorStore struct{ byID map[uuid.UUID]*types.UnderwritingProcessor }

func (m *multiProcessorStore) GetUnderwritingProcessorByID(_ context.Context, id uuid.UUID) (*types.UnderwritingProcessor, error) {
	return m.byID[id], nil
}
