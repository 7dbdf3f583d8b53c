package execution

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	appErrors "github.com/jude-scai/processor/internal/errors"
	"github.com/jude-scai/processor/pkg/payload"
	execProcessor "github.com/jude-scai/processor/pkg/processor"
	"github.com/jude-scai/processor/pkg/types"
)

func TestExecution(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Execution Pool Suite")
}

type scriptedProcessor struct {
	execProcessor.Base
	shouldFail      bool
	failPrevalidate bool
}

func (scriptedProcessor) Name() string                { return "execution_test_processor" }
func (scriptedProcessor) Kind() payload.ProcessorKind  { return payload.KindApplication }
func (scriptedProcessor) Triggers() payload.Triggers   { return payload.Triggers{} }
func (scriptedProcessor) DefaultConfig() types.JSONMap { return types.JSONMap{"threshold": 1} }

func (p scriptedProcessor) PrevalidateInput(context.Context, *execProcessor.ExecContext, map[string]any) error {
	if p.failPrevalidate {
		return errors.New("missing required document")
	}
	return nil
}
func (p scriptedProcessor) TransformInput(context.Context, *execProcessor.ExecContext, map[string]any) (any, error) {
	return nil, nil
}
func (p scriptedProcessor) ValidateInput(context.Context, *execProcessor.ExecContext, any) (execProcessor.ValidationResult, error) {
	return execProcessor.Valid(), nil
}
func (p scriptedProcessor) Extract(_ context.Context, ectx *execProcessor.ExecContext, _ any) (map[string]any, error) {
	if p.shouldFail {
		return nil, appErrors.NewFactorExtractionError("boom")
	}
	ectx.AddCost(200, "api_call")
	return map[string]any{"factor": 1}, nil
}
func (scriptedProcessor) ValidateOutput(context.Context, *execProcessor.ExecContext, map[string]any) (execProcessor.ValidationResult, error) {
	return execProcessor.Valid(), nil
}

func init() {
	execProcessor.Register("execution_test_processor", func() execProcessor.Processor { return scriptedProcessor{} })
	execProcessor.Register("execution_test_processor_fail", func() execProcessor.Processor { return scriptedProcessor{shouldFail: true} })
	execProcessor.Register("execution_test_processor_fail_prevalidate", func() execProcessor.Processor {
		return scriptedProcessor{failPrevalidate: true}
	})
}

type fakeStore struct {
	executions   map[uuid.UUID]*types.Execution
	saved        map[uuid.UUID]map[string]any
	statuses     map[uuid.UUID]types.ExecutionStatus
	failedCodes  map[uuid.UUID]string
	failedReason map[uuid.UUID]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		executions:   map[uuid.UUID]*types.Execution{},
		saved:        map[uuid.UUID]map[string]any{},
		statuses:     map[uuid.UUID]types.ExecutionStatus{},
		failedCodes:  map[uuid.UUID]string{},
		failedReason: map[uuid.UUID]string{},
	}
}

func (f *fakeStore) GetExecutionByID(_ context.Context, id uuid.UUID) (*types.Execution, error) {
	return f.executions[id], nil
}

func (f *fakeStore) UpdateExecutionStatus(_ context.Context, id uuid.UUID, status types.ExecutionStatus, _, _ *time.Time, failedCode, failedReason *string) error {
	f.statuses[id] = status
	if failedCode != nil {
		f.failedCodes[id] = *failedCode
	}
	if failedReason != nil {
		f.failedReason[id] = *failedReason
	}
	return nil
}

func (f *fakeStore) SaveExecutionResult(_ context.Context, id uuid.UUID, output map[string]any, _ int64, _ []uuid.UUID, _ *string, _ time.Time) error {
	f.saved[id] = output
	f.statuses[id] = types.ExecutionStatusCompleted
	return nil
}

type fakeConfigResolver struct{}

func (fakeConfigResolver) GetEffectiveConfig(context.Context, uuid.UUID) (types.JSONMap, error) {
	return types.JSONMap{}, nil
}

func newRunnableExecution(processorName string) *types.Execution {
	pld, _ := json.Marshal(map[string]any{})
	return &types.Execution{
		ID:                      uuid.New(),
		UnderwritingProcessorID: uuid.New(),
		Processor:               processorName,
		Status:                  types.ExecutionStatusPending,
		Payload:                 pld,
	}
}

var _ = Describe("Service.Run", func() {
	It("returns an empty summary for an empty execution list", func() {
		svc := NewService(newFakeStore(), fakeConfigResolver{}, zap.NewNop(), 0)
		summary, err := svc.Run(context.Background(), nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Completed).To(Equal(0))
		Expect(summary.Failed).To(Equal(0))
	})

	It("completes a runnable execution and saves its output", func() {
		store := newFakeStore()
		exec := newRunnableExecution("execution_test_processor")
		store.executions[exec.ID] = exec

		svc := NewService(store, fakeConfigResolver{}, zap.NewNop(), 2)
		summary, err := svc.Run(context.Background(), []uuid.UUID{exec.ID})

		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Completed).To(Equal(1))
		Expect(summary.Failed).To(Equal(0))
		Expect(store.saved[exec.ID]).To(Equal(map[string]any{"factor": 1}))
		Expect(store.statuses[exec.ID]).To(Equal(types.ExecutionStatusCompleted))
	})

	It("marks a failing execution as failed without saving output", func() {
		store := newFakeStore()
		exec := newRunnableExecution("execution_test_processor_fail")
		store.executions[exec.ID] = exec

		svc := NewService(store, fakeConfigResolver{}, zap.NewNop(), 2)
		summary, err := svc.Run(context.Background(), []uuid.UUID{exec.ID})

		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Failed).To(Equal(1))
		Expect(store.statuses[exec.ID]).To(Equal(types.ExecutionStatusFailed))
		Expect(store.saved[exec.ID]).To(BeNil())
		Expect(store.failedCodes[exec.ID]).To(Equal(string(appErrors.ErrorTypeFactorExtraction)))
	})

	It("persists the failed_code matching the actual failure phase, not a hardcoded one", func() {
		store := newFakeStore()
		exec := newRunnableExecution("execution_test_processor_fail_prevalidate")
		store.executions[exec.ID] = exec

		svc := NewService(store, fakeConfigResolver{}, zap.NewNop(), 2)
		summary, err := svc.Run(context.Background(), []uuid.UUID{exec.ID})

		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Failed).To(Equal(1))
		Expect(store.failedCodes[exec.ID]).To(Equal(string(appErrors.ErrorTypePrevalidation)))
		Expect(store.failedCodes[exec.ID]).ToNot(Equal(string(appErrors.ErrorTypeFactorExtraction)))
	})

	It("skips an execution that is not in a runnable status", func() {
		store := newFakeStore()
		exec := newRunnableExecution("execution_test_processor")
		exec.Status = types.ExecutionStatusCompleted
		store.executions[exec.ID] = exec

		svc := NewService(store, fakeConfigResolver{}, zap.NewNop(), 2)
		summary, err := svc.Run(context.Background(), []uuid.UUID{exec.ID})

		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Completed).To(Equal(1))
		Expect(store.saved[exec.ID]).To(BeNil())
	})

	It("runs many executions concurrently without exceeding correctness", func() {
		store := newFakeStore()
		ids := make([]uuid.UUID, 0, 12)
		for i := 0; i < 12; i++ {
			exec := newRunnableExecution("execution_test_processor")
			store.executions[exec.ID] = exec
			ids = append(ids, exec.ID)
		}

		svc := NewService(store, fakeConfigResolver{}, zap.NewNop(), DefaultPoolSize)
		summary, err := svc.Run(context.Background(), ids)

		Expect(err).ToNot(HaveOccurred())
		Expect(summary.Completed).To(Equal(12))
		Expect(summary.Results).To(HaveLen(12))
	})
})
