// Package processor defines the Processor abstraction and the
// non-overridable 3-phase pipeline that runs it (spec.md §4.1).
package processor

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/jude-scai/processor/internal/errors"
	"github.com/jude-scai/processor/pkg/payload"
	"github.com/jude-scai/processor/pkg/types"
)

var tracer = otel.Tracer("github.com/jude-scai/processor/pkg/processor")

// ValidationResult is returned by ValidateInput and ValidateOutput.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Valid constructs a passing ValidationResult.
func Valid() ValidationResult { return ValidationResult{Valid: true} }

// Invalid constructs a failing ValidationResult carrying the given reasons.
func Invalid(errs ...string) ValidationResult {
	return ValidationResult{Valid: false, Errors: errs}
}

// ExecContext is the per-execution scratch state a Processor accumulates
// while running: cost tracking and document provenance. It is passed
// explicitly through the pipeline rather than held as processor instance
// state, so a single Processor value is safe to reuse across concurrent
// executions (Design Notes: processors must not hold execution-scoped
// mutable state).
type ExecContext struct {
	ExecutionID             string
	UnderwritingProcessorID string
	Config                  types.JSONMap

	totalCostCents      int64
	costBreakdown       map[string]int64
	documentRevisionIDs []string
	baseDocumentIDs     []string
}

// NewExecContext builds the scratch state for one execution.
func NewExecContext(executionID, underwritingProcessorID string, config types.JSONMap) *ExecContext {
	return &ExecContext{
		ExecutionID:             executionID,
		UnderwritingProcessorID: underwritingProcessorID,
		Config:                  config,
		costBreakdown:           map[string]int64{},
	}
}

// AddCost records a cost in cents against operationType, defaulting to
// "general" when empty.
func (c *ExecContext) AddCost(costCents int64, operationType string) {
	if operationType == "" {
		operationType = "general"
	}
	c.totalCostCents += costCents
	c.costBreakdown[operationType] += costCents
}

// AddDocumentRevisionID records a document revision consumed during
// extraction, deduplicating repeats.
func (c *ExecContext) AddDocumentRevisionID(revisionID string) {
	for _, existing := range c.documentRevisionIDs {
		if existing == revisionID {
			return
		}
	}
	c.documentRevisionIDs = append(c.documentRevisionIDs, revisionID)
}

// SetBaseDocumentIDs records the base document ids (not revision ids) this
// execution's output depends on, used to derive DocumentIDsHash.
func (c *ExecContext) SetBaseDocumentIDs(ids []string) {
	c.baseDocumentIDs = ids
}

func (c *ExecContext) documentIDsHash() *string {
	if len(c.baseDocumentIDs) == 0 {
		return nil
	}
	unique := map[string]struct{}{}
	for _, id := range c.baseDocumentIDs {
		unique[id] = struct{}{}
	}
	sorted := make([]string, 0, len(unique))
	for id := range unique {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	h := payload.DocumentIDsHash(sorted)
	return &h
}

// Processor is one extraction unit (spec.md §4.1). Implementations must be
// safe for concurrent use: all execution-scoped state lives in ExecContext,
// never on the receiver.
type Processor interface {
	Name() string
	Kind() payload.ProcessorKind
	Triggers() payload.Triggers
	DefaultConfig() types.JSONMap

	// PrevalidateInput checks preconditions (document existence/type)
	// before transformation. The default no-op is provided by Base.
	PrevalidateInput(ctx context.Context, ectx *ExecContext, raw map[string]any) error

	TransformInput(ctx context.Context, ectx *ExecContext, raw map[string]any) (any, error)
	ValidateInput(ctx context.Context, ectx *ExecContext, transformed any) (ValidationResult, error)
	Extract(ctx context.Context, ectx *ExecContext, validated any) (map[string]any, error)
	ValidateOutput(ctx context.Context, ectx *ExecContext, output map[string]any) (ValidationResult, error)

	// ShouldExecute applies custom eligibility rules beyond trigger
	// matching (e.g. a minimum document count). The default always
	// returns true.
	ShouldExecute(raw map[string]any) (bool, string)

	// Consolidate merges the factor maps of every active execution of
	// this processor into one. The default keeps the first.
	Consolidate(factorsList []map[string]any) map[string]any
}

// Base provides the default ShouldExecute, Consolidate, and
// PrevalidateInput implementations described in spec.md §4.1, so concrete
// processors only need to embed it and override what they customize.
type Base struct{}

func (Base) PrevalidateInput(context.Context, *ExecContext, map[string]any) error { return nil }

func (Base) ShouldExecute(map[string]any) (bool, string) { return true, "" }

func (Base) Consolidate(factorsList []map[string]any) map[string]any {
	if len(factorsList) == 0 {
		return map[string]any{}
	}
	return factorsList[0]
}

// Phase names the 3 pipeline phases, used to tag which stage an execution
// failed in (spec.md §7).
type Phase string

const (
	PhasePreExtraction  Phase = "pre-extraction"
	PhaseExtraction     Phase = "extraction"
	PhasePostExtraction Phase = "post-extraction"
)

// Result is the outcome of running a Processor's pipeline once.
type Result struct {
	ExecutionID             string
	ProcessorName           string
	UnderwritingProcessorID string
	Status                  types.ExecutionStatus
	StartedAt               time.Time
	CompletedAt             time.Time
	DurationSeconds         float64
	Output                  map[string]any
	TotalCostCents          int64
	CostBreakdown           map[string]int64
	ErrorMessage            string
	ErrorPhase              Phase
	ErrorType               errors.ErrorType
	DocumentRevisionIDs     []string
	DocumentIDsHash         *string
}

// Execute runs the complete, non-overridable 3-phase pipeline for p against
// raw, enforcing atomic success/failure semantics: any phase failing fails
// the whole execution (spec.md §4.1).
func Execute(ctx context.Context, p Processor, ectx *ExecContext, raw map[string]any) Result {
	ctx, span := tracer.Start(ctx, "processor.execute", oteltrace.WithAttributes(
		attribute.String("processor.name", p.Name()),
		attribute.String("execution.id", ectx.ExecutionID),
	))
	defer span.End()

	startedAt := time.Now().UTC()

	result := Result{
		ExecutionID:             ectx.ExecutionID,
		ProcessorName:           p.Name(),
		UnderwritingProcessorID: ectx.UnderwritingProcessorID,
		Status:                  types.ExecutionStatusFailed,
		StartedAt:               startedAt,
	}

	output, phase, err := runPipeline(ctx, p, ectx, raw)

	completedAt := time.Now().UTC()
	result.CompletedAt = completedAt
	result.DurationSeconds = completedAt.Sub(startedAt).Seconds()
	result.TotalCostCents = ectx.totalCostCents
	result.CostBreakdown = ectx.costBreakdown
	result.DocumentRevisionIDs = ectx.documentRevisionIDs
	result.DocumentIDsHash = ectx.documentIDsHash()

	if err != nil {
		result.ErrorPhase = phase
		result.ErrorMessage = err.Error()
		result.ErrorType = errors.GetType(err)
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return result
	}

	result.Status = types.ExecutionStatusCompleted
	result.Output = output
	return result
}

func runPipeline(ctx context.Context, p Processor, ectx *ExecContext, raw map[string]any) (map[string]any, Phase, error) {
	transformed, err := phasePreExtraction(ctx, p, ectx, raw)
	if err != nil {
		return nil, PhasePreExtraction, err
	}

	output, err := withPhaseSpan(ctx, PhaseExtraction, func(ctx context.Context) (map[string]any, error) {
		return p.Extract(ctx, ectx, transformed)
	})
	if err != nil {
		return nil, PhaseExtraction, err
	}

	validated, err := phasePostExtraction(ctx, p, ectx, output)
	if err != nil {
		return nil, PhasePostExtraction, err
	}

	return validated, "", nil
}

// withPhaseSpan wraps a pipeline phase in its own span, named after the
// phase, so each stage shows up independently in a trace (spec.md §4.1
// "3-phase pipeline").
func withPhaseSpan(ctx context.Context, phase Phase, fn func(context.Context) (map[string]any, error)) (map[string]any, error) {
	ctx, span := tracer.Start(ctx, string(phase))
	defer span.End()

	output, err := fn(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	return output, err
}

func phasePreExtraction(ctx context.Context, p Processor, ectx *ExecContext, raw map[string]any) (any, error) {
	ctx, span := tracer.Start(ctx, string(PhasePreExtraction))
	defer span.End()

	transformed, err := func() (any, error) {
		if err := p.PrevalidateInput(ctx, ectx, raw); err != nil {
			return nil, errors.WrapPrevalidation(err, p.Name())
		}

		transformed, err := p.TransformInput(ctx, ectx, raw)
		if err != nil {
			return nil, errors.WrapTransformation(err, p.Name())
		}

		validation, err := p.ValidateInput(ctx, ectx, transformed)
		if err != nil {
			return nil, errors.WrapInputValidation(err, p.Name())
		}
		if !validation.Valid {
			return nil, errors.NewInputValidationError(joinErrors(validation.Errors), p.Name())
		}

		return transformed, nil
	}()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	return transformed, err
}

func phasePostExtraction(ctx context.Context, p Processor, ectx *ExecContext, output map[string]any) (map[string]any, error) {
	ctx, span := tracer.Start(ctx, string(PhasePostExtraction))
	defer span.End()

	validation, err := p.ValidateOutput(ctx, ectx, output)
	if err != nil {
		wrapped := errors.WrapResultValidation(err, p.Name())
		span.SetStatus(codes.Error, wrapped.Error())
		span.RecordError(wrapped)
		return nil, wrapped
	}
	if !validation.Valid {
		invalid := errors.NewResultValidationError(joinErrors(validation.Errors), p.Name())
		span.SetStatus(codes.Error, invalid.Error())
		span.RecordError(invalid)
		return nil, invalid
	}
	return output, nil
}

func joinErrors(errs []string) string {
	out := ""
	for i, e := range errs {
		if i > 0 {
			out += ", "
		}
		out += e
	}
	return out
}

// MarshalOutput renders a Processor's extraction output as the
// factors_delta payload stored on the execution row.
func MarshalOutput(output map[string]any) (json.RawMessage, error) {
	return json.Marshal(output)
}
