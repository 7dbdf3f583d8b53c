package processor

import (
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	appErrors "github.com/jude-scai/processor/internal/errors"
	"github.com/jude-scai/processor/pkg/payload"
	"github.com/jude-scai/processor/pkg/types"
)

func TestProcessor(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Processor Pipeline Suite")
}

// fakeProcessor is a fully scriptable Processor used to exercise every
// branch of the pipeline without depending on a concrete processor.
type fakeProcessor struct {
	Base

	prevalidateErr   error
	transformOut     any
	transformErr     error
	validateInputRes ValidationResult
	validateInputErr error
	extractOut       map[string]any
	extractErr       error
	validateOutRes   ValidationResult
	validateOutErr   error
}

func (f *fakeProcessor) Name() string                        { return "fake_processor" }
func (f *fakeProcessor) Kind() payload.ProcessorKind          { return payload.KindApplication }
func (f *fakeProcessor) Triggers() payload.Triggers           { return payload.Triggers{} }
func (f *fakeProcessor) DefaultConfig() types.JSONMap         { return types.JSONMap{} }

func (f *fakeProcessor) PrevalidateInput(context.Context, *ExecContext, map[string]any) error {
	return f.prevalidateErr
}

func (f *fakeProcessor) TransformInput(context.Context, *ExecContext, map[string]any) (any, error) {
	return f.transformOut, f.transformErr
}

func (f *fakeProcessor) ValidateInput(context.Context, *ExecContext, any) (ValidationResult, error) {
	return f.validateInputRes, f.validateInputErr
}

func (f *fakeProcessor) Extract(_ context.Context, ectx *ExecContext, _ any) (map[string]any, error) {
	ectx.AddCost(150, "api_call")
	ectx.AddDocumentRevisionID("rev-1")
	return f.extractOut, f.extractErr
}

func (f *fakeProcessor) ValidateOutput(context.Context, *ExecContext, map[string]any) (ValidationResult, error) {
	return f.validateOutRes, f.validateOutErr
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		transformOut:     map[string]any{"ok": true},
		validateInputRes: Valid(),
		extractOut:       map[string]any{"factor_a": 1},
		validateOutRes:   Valid(),
	}
}

var _ = Describe("Execute", func() {
	var ectx *ExecContext

	BeforeEach(func() {
		ectx = NewExecContext("exec-1", "up-1", types.JSONMap{})
	})

	It("completes successfully when every phase passes", func() {
		p := newFakeProcessor()
		result := Execute(context.Background(), p, ectx, map[string]any{})

		Expect(result.Status).To(Equal(types.ExecutionStatusCompleted))
		Expect(result.Output).To(Equal(map[string]any{"factor_a": 1}))
		Expect(result.ErrorMessage).To(BeEmpty())
		Expect(result.TotalCostCents).To(Equal(int64(150)))
		Expect(result.CostBreakdown).To(HaveKeyWithValue("api_call", int64(150)))
		Expect(result.DocumentRevisionIDs).To(ConsistOf("rev-1"))
	})

	It("fails in pre-extraction when prevalidation errors", func() {
		p := newFakeProcessor()
		p.prevalidateErr = errors.New("missing document")

		result := Execute(context.Background(), p, ectx, map[string]any{})

		Expect(result.Status).To(Equal(types.ExecutionStatusFailed))
		Expect(result.ErrorPhase).To(Equal(PhasePreExtraction))
		Expect(result.ErrorMessage).To(ContainSubstring("missing document"))
	})

	It("fails in pre-extraction when transform_input errors", func() {
		p := newFakeProcessor()
		p.transformErr = errors.New("malformed payload")

		result := Execute(context.Background(), p, ectx, map[string]any{})

		Expect(result.ErrorPhase).To(Equal(PhasePreExtraction))
		Expect(result.ErrorMessage).To(ContainSubstring("malformed payload"))
	})

	It("fails in pre-extraction when validate_input reports invalid", func() {
		p := newFakeProcessor()
		p.validateInputRes = Invalid("field required")

		result := Execute(context.Background(), p, ectx, map[string]any{})

		Expect(result.ErrorPhase).To(Equal(PhasePreExtraction))
		Expect(result.ErrorMessage).To(ContainSubstring("field required"))
	})

	It("fails in extraction when extract errors, preserving atomic failure", func() {
		p := newFakeProcessor()
		p.extractErr = appErrors.NewFactorExtractionError("ocr call failed")

		result := Execute(context.Background(), p, ectx, map[string]any{})

		Expect(result.ErrorPhase).To(Equal(PhaseExtraction))
		Expect(result.Output).To(BeNil())
	})

	It("fails in post-extraction when validate_output reports invalid", func() {
		p := newFakeProcessor()
		p.validateOutRes = Invalid("missing required factor")

		result := Execute(context.Background(), p, ectx, map[string]any{})

		Expect(result.ErrorPhase).To(Equal(PhasePostExtraction))
		Expect(result.ErrorMessage).To(ContainSubstring("missing required factor"))
	})

	It("still reports accumulated cost and documents on a failed execution", func() {
		p := newFakeProcessor()
		p.validateOutRes = Invalid("bad output")

		result := Execute(context.Background(), p, ectx, map[string]any{})

		Expect(result.Status).To(Equal(types.ExecutionStatusFailed))
		Expect(result.TotalCostCents).To(Equal(int64(150)))
		Expect(result.DocumentRevisionIDs).To(ConsistOf("rev-1"))
	})
})

var _ = Describe("Base defaults", func() {
	It("ShouldExecute always allows by default", func() {
		b := Base{}
		ok, reason := b.ShouldExecute(map[string]any{})
		Expect(ok).To(BeTrue())
		Expect(reason).To(BeEmpty())
	})

	It("Consolidate keeps the first factors map and handles empty input", func() {
		b := Base{}
		Expect(b.Consolidate(nil)).To(Equal(map[string]any{}))

		first := map[string]any{"a": 1}
		second := map[string]any{"a": 2}
		Expect(b.Consolidate([]map[string]any{first, second})).To(Equal(first))
	})
})
