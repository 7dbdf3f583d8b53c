// Package orchestrator wires Filtration, Execution, and Consolidation into
// the five message-driven workflows (spec.md §4.8), serialized per
// underwriting.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jude-scai/processor/pkg/consolidation"
	"github.com/jude-scai/processor/pkg/execution"
	"github.com/jude-scai/processor/pkg/filtration"
	execProcessor "github.com/jude-scai/processor/pkg/processor"
	"github.com/jude-scai/processor/pkg/repository"
	"github.com/jude-scai/processor/pkg/types"
)

var tracer = otel.Tracer("github.com/jude-scai/processor/pkg/orchestrator")

// ExecutionAccess is the execution-row surface the orchestrator needs
// beyond what the filtration/execution/consolidation services already
// expose, for the single-execution targeting workflows (W2/W4/W5).
type ExecutionAccess interface {
	GetExecutionByID(ctx context.Context, id uuid.UUID) (*types.Execution, error)
	CreateExecution(ctx context.Context, p repository.CreateExecutionParams) (uuid.UUID, error)
	SupersedeExecution(ctx context.Context, oldID, newID uuid.UUID) error
	UpdateExecutionStatus(ctx context.Context, id uuid.UUID, status types.ExecutionStatus, startedAt, completedAt *time.Time, failedCode, failedReason *string) error
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

// ProcessorAccess is the underwriting-processor-instance surface the
// orchestrator needs directly, outside of filtration's own narrower view.
type ProcessorAccess interface {
	GetUnderwritingProcessorByID(ctx context.Context, id uuid.UUID) (*types.UnderwritingProcessor, error)
	UpdateCurrentExecutionsList(ctx context.Context, underwritingProcessorID uuid.UUID, executionIDs []uuid.UUID) error
}

// FactorAccess is the factor-row surface W5 needs to tear down a disabled
// execution's contributions.
type FactorAccess interface {
	DeleteFactorsByExecutionID(ctx context.Context, executionID uuid.UUID) error
}

// WorkflowLogger appends the audit trail every workflow stage writes.
type WorkflowLogger interface {
	LogStage(ctx context.Context, p repository.LogStageParams) error
}

// Orchestrator dispatches the five workflows, serializing everything for a
// given underwriting id (spec.md §4.8 "Serialization").
type Orchestrator struct {
	underwritings filtration.UnderwritingReader
	filtrationSvc *filtration.Service
	executionSvc  *execution.Service
	consolidation *consolidation.Service

	exec ExecutionAccess
	proc ProcessorAccess
	fact FactorAccess
	logs WorkflowLogger

	logger *zap.Logger
	locks  *keyedLock
}

func New(
	underwritings filtration.UnderwritingReader,
	filtrationSvc *filtration.Service,
	executionSvc *execution.Service,
	consolidationSvc *consolidation.Service,
	exec ExecutionAccess,
	proc ProcessorAccess,
	fact FactorAccess,
	logs WorkflowLogger,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		underwritings: underwritings,
		filtrationSvc: filtrationSvc,
		executionSvc:  executionSvc,
		consolidation: consolidationSvc,
		exec:          exec,
		proc:          proc,
		fact:          fact,
		logs:          logs,
		logger:        logger,
		locks:         newKeyedLock(),
	}
}

// Summary is the structured `{success, counts, details}` result every
// workflow returns (spec.md §4.8).
type Summary struct {
	Success                bool
	Message                string
	ProcessorsSelected     int
	ExecutionsRun          int
	ExecutionsFailed       int
	ProcessorsConsolidated int
	ProcessorList          []uuid.UUID
	ExecutionResults       []execution.RunResult
	ConsolidationResults   []consolidation.Outcome
}

func (o *Orchestrator) logStage(ctx context.Context, underwritingID uuid.UUID, workflowName string, stage types.WorkflowStage, input, output any, start time.Time, errMsg *string) {
	if o.logs == nil {
		return
	}
	status := "completed"
	if errMsg != nil {
		status = "failed"
	}
	if err := o.logs.LogStage(ctx, repository.LogStageParams{
		UnderwritingID:  underwritingID,
		WorkflowName:    workflowName,
		Stage:           stage,
		Input:           input,
		Output:          output,
		Status:          status,
		ErrorMessage:    errMsg,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}); err != nil {
		o.logger.Error("failed to write workflow log", zap.Error(err), zap.String("stage", string(stage)))
	}
}

// HandleWorkflow1 runs filtration → execution → consolidation for an
// underwriting (topics underwriting.updated, document.analyzed).
func (o *Orchestrator) HandleWorkflow1(ctx context.Context, underwritingID uuid.UUID) (Summary, error) {
	ctx, span := tracer.Start(ctx, "workflow1.automatic_execute", trace.WithAttributes(
		attribute.String("underwriting.id", underwritingID.String()),
	))
	defer span.End()

	unlock := o.locks.Lock(underwritingID.String())
	defer unlock()

	start := time.Now()
	result, err := o.filtrationSvc.Filter(ctx, underwritingID)
	if err != nil {
		msg := err.Error()
		o.logStage(ctx, underwritingID, "Workflow 1", types.StageFiltration, nil, nil, start, &msg)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, err
	}
	o.logStage(ctx, underwritingID, "Workflow 1", types.StageFiltration, result.EligibleProcessors, result, start, nil)

	if len(result.ProcessorList) == 0 {
		return Summary{Success: true, Message: "No processors matched triggers", ProcessorList: []uuid.UUID{}}, nil
	}

	execStart := time.Now()
	execSummary, err := o.executionSvc.Run(ctx, result.ExecutionList)
	if err != nil {
		msg := err.Error()
		o.logStage(ctx, underwritingID, "Workflow 1", types.StageExecution, result.ExecutionList, nil, execStart, &msg)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, err
	}
	o.logStage(ctx, underwritingID, "Workflow 1", types.StageExecution, result.ExecutionList, execSummary, execStart, nil)

	consolidationStart := time.Now()
	consolidationSummary := o.consolidation.ConsolidateAll(ctx, result.ProcessorList)
	o.logStage(ctx, underwritingID, "Workflow 1", types.StageConsolidation, result.ProcessorList, consolidationSummary, consolidationStart, nil)

	return Summary{
		Success:                true,
		ProcessorsSelected:     len(result.ProcessorList),
		ExecutionsRun:          execSummary.Completed,
		ExecutionsFailed:       execSummary.Failed,
		ProcessorsConsolidated: consolidationSummary.Consolidated,
		ProcessorList:          result.ProcessorList,
		ExecutionResults:       execSummary.Results,
		ConsolidationResults:   consolidationSummary.Results,
	}, nil
}

// Workflow2Input is the manual-execute message payload (spec.md §6,
// topic underwriting.processor.execute).
type Workflow2Input struct {
	ExecutionID     *uuid.UUID
	Duplicate       bool
	ApplicationForm map[string]any
	DocumentList    []string
}

// HandleWorkflow2 covers the three manual-execute scenarios in spec.md
// §4.8, then runs execution and single-processor consolidation.
func (o *Orchestrator) HandleWorkflow2(ctx context.Context, underwritingProcessorID uuid.UUID, input Workflow2Input) (Summary, error) {
	ctx, span := tracer.Start(ctx, "workflow2.manual_execute", trace.WithAttributes(
		attribute.String("underwriting_processor.id", underwritingProcessorID.String()),
	))
	defer span.End()

	up, err := o.proc.GetUnderwritingProcessorByID(ctx, underwritingProcessorID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, err
	}
	if up == nil {
		return Summary{Success: true, Message: "underwriting processor not found", ProcessorList: []uuid.UUID{}}, nil
	}

	unlock := o.locks.Lock(up.UnderwritingID.String())
	defer unlock()

	start := time.Now()
	executionIDs, err := o.prepareWorkflow2(ctx, up, input)
	if err != nil {
		msg := err.Error()
		o.logStage(ctx, up.UnderwritingID, "Workflow 2", types.StagePrepareProcessor, input, nil, start, &msg)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, err
	}
	o.logStage(ctx, up.UnderwritingID, "Workflow 2", types.StagePrepareProcessor, input, executionIDs, start, nil)

	execStart := time.Now()
	execSummary, err := o.executionSvc.Run(ctx, executionIDs)
	if err != nil {
		msg := err.Error()
		o.logStage(ctx, up.UnderwritingID, "Workflow 2", types.StageExecution, executionIDs, nil, execStart, &msg)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, err
	}
	o.logStage(ctx, up.UnderwritingID, "Workflow 2", types.StageExecution, executionIDs, execSummary, execStart, nil)

	consolidationStart := time.Now()
	outcome := o.consolidation.Consolidate(ctx, up.ID)
	o.logStage(ctx, up.UnderwritingID, "Workflow 2", types.StageConsolidation, up.ID, outcome, consolidationStart, nil)

	return Summary{
		Success:                true,
		ProcessorsSelected:     1,
		ExecutionsRun:          execSummary.Completed,
		ExecutionsFailed:       execSummary.Failed,
		ProcessorsConsolidated: boolToInt(outcome.Success),
		ProcessorList:          []uuid.UUID{up.ID},
		ExecutionResults:       execSummary.Results,
		ConsolidationResults:   []consolidation.Outcome{outcome},
	}, nil
}

func (o *Orchestrator) prepareWorkflow2(ctx context.Context, up *types.UnderwritingProcessor, input Workflow2Input) ([]uuid.UUID, error) {
	switch {
	case input.ExecutionID != nil:
		return o.workflow2TargetExecution(ctx, up, *input.ExecutionID, input.Duplicate)

	case input.ApplicationForm != nil || input.DocumentList != nil:
		return o.workflow2OneOffPayload(ctx, up, input)

	default:
		uw, err := o.underwritings.GetUnderwritingWithDetails(ctx, up.UnderwritingID)
		if err != nil {
			return nil, err
		}
		if uw == nil {
			return []uuid.UUID{}, nil
		}
		newExecutions, _, err := o.filtrationSvc.PrepareProcessor(ctx, *up, uw, input.Duplicate)
		if err != nil {
			return nil, err
		}
		return newExecutions, nil
	}
}

// workflow2TargetExecution implements the "execution_id is set" branch: a
// duplicate request clones the execution and supersedes the original
// forward to the clone; otherwise the same row is simply re-enqueued.
func (o *Orchestrator) workflow2TargetExecution(ctx context.Context, up *types.UnderwritingProcessor, executionID uuid.UUID, duplicate bool) ([]uuid.UUID, error) {
	exec, err := o.exec.GetExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return []uuid.UUID{}, nil
	}

	if !duplicate {
		if err := o.exec.UpdateExecutionStatus(ctx, executionID, types.ExecutionStatusPending, nil, nil, nil, nil); err != nil {
			return nil, err
		}
		return []uuid.UUID{executionID}, nil
	}

	var pld map[string]any
	if len(exec.Payload) > 0 {
		if err := json.Unmarshal(exec.Payload, &pld); err != nil {
			return nil, fmt.Errorf("decode execution payload for clone: %w", err)
		}
	}

	newID, err := o.exec.CreateExecution(ctx, repository.CreateExecutionParams{
		UnderwritingID:          exec.UnderwritingID,
		OrganizationID:          exec.OrganizationID,
		UnderwritingProcessorID: exec.UnderwritingProcessorID,
		Processor:               exec.Processor,
		Payload:                 pld,
		PayloadHash:             exec.PayloadHash,
	})
	if err != nil {
		return nil, err
	}
	if err := o.exec.SupersedeExecution(ctx, executionID, newID); err != nil {
		return nil, err
	}

	if err := o.replaceInCurrentExecutionsList(ctx, up, executionID, newID); err != nil {
		return nil, err
	}

	return []uuid.UUID{newID}, nil
}

func (o *Orchestrator) workflow2OneOffPayload(ctx context.Context, up *types.UnderwritingProcessor, input Workflow2Input) ([]uuid.UUID, error) {
	p, err := execProcessor.Get(up.Processor)
	if err != nil {
		return nil, fmt.Errorf("unregistered processor %q: %w", up.Processor, err)
	}

	pld := map[string]any{}
	if input.ApplicationForm != nil {
		pld["application_form"] = input.ApplicationForm
	}
	if input.DocumentList != nil {
		ids := make([]any, len(input.DocumentList))
		for i, id := range input.DocumentList {
			ids[i] = id
		}
		pld["revision_id"] = ids
	}

	newID, err := o.filtrationSvc.GenerateExecution(ctx, *up, pld, p.Triggers(), input.Duplicate)
	if err != nil {
		return nil, err
	}

	current := append(append([]uuid.UUID{}, up.CurrentExecutionsList...), newID)
	if err := o.proc.UpdateCurrentExecutionsList(ctx, up.ID, dedupe(current)); err != nil {
		return nil, err
	}

	return []uuid.UUID{newID}, nil
}

func (o *Orchestrator) replaceInCurrentExecutionsList(ctx context.Context, up *types.UnderwritingProcessor, oldID, newID uuid.UUID) error {
	list := make([]uuid.UUID, 0, len(up.CurrentExecutionsList))
	replaced := false
	for _, id := range up.CurrentExecutionsList {
		if id == oldID {
			list = append(list, newID)
			replaced = true
			continue
		}
		list = append(list, id)
	}
	if !replaced {
		list = append(list, newID)
	}
	return o.proc.UpdateCurrentExecutionsList(ctx, up.ID, list)
}

// HandleWorkflow3 re-consolidates a single processor instance without
// generating any new executions (topic underwriting.processor.consolidation).
func (o *Orchestrator) HandleWorkflow3(ctx context.Context, underwritingProcessorID uuid.UUID) (Summary, error) {
	ctx, span := tracer.Start(ctx, "workflow3.consolidate_only", trace.WithAttributes(
		attribute.String("underwriting_processor.id", underwritingProcessorID.String()),
	))
	defer span.End()

	up, err := o.proc.GetUnderwritingProcessorByID(ctx, underwritingProcessorID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, err
	}
	if up == nil {
		return Summary{Success: true, Message: "underwriting processor not found"}, nil
	}

	unlock := o.locks.Lock(up.UnderwritingID.String())
	defer unlock()

	start := time.Now()
	outcome := o.consolidation.Consolidate(ctx, up.ID)
	o.logStage(ctx, up.UnderwritingID, "Workflow 3", types.StageConsolidation, up.ID, outcome, start, nil)

	return Summary{
		Success:                true,
		ProcessorsConsolidated: boolToInt(outcome.Success),
		ProcessorList:          []uuid.UUID{up.ID},
		ConsolidationResults:   []consolidation.Outcome{outcome},
	}, nil
}

// HandleWorkflow4 activates an execution, makes it the sole entry in its
// processor's currentExecutionsList (the "rollback" semantics named in
// spec.md §4.8), and re-consolidates.
func (o *Orchestrator) HandleWorkflow4(ctx context.Context, executionID uuid.UUID) (Summary, error) {
	ctx, span := tracer.Start(ctx, "workflow4.activate", trace.WithAttributes(
		attribute.String("execution.id", executionID.String()),
	))
	defer span.End()

	exec, err := o.exec.GetExecutionByID(ctx, executionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, err
	}
	if exec == nil {
		return Summary{Success: true, Message: "execution not found"}, nil
	}

	unlock := o.locks.Lock(exec.UnderwritingID.String())
	defer unlock()

	start := time.Now()
	if err := o.exec.SetEnabled(ctx, executionID, true); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, err
	}
	if err := o.proc.UpdateCurrentExecutionsList(ctx, exec.UnderwritingProcessorID, []uuid.UUID{executionID}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, err
	}
	o.logStage(ctx, exec.UnderwritingID, "Workflow 4", types.StageExecution, executionID, nil, start, nil)

	consolidationStart := time.Now()
	outcome := o.consolidation.Consolidate(ctx, exec.UnderwritingProcessorID)
	o.logStage(ctx, exec.UnderwritingID, "Workflow 4", types.StageConsolidation, exec.UnderwritingProcessorID, outcome, consolidationStart, nil)

	return Summary{
		Success:                true,
		ProcessorsConsolidated: boolToInt(outcome.Success),
		ProcessorList:          []uuid.UUID{exec.UnderwritingProcessorID},
		ConsolidationResults:   []consolidation.Outcome{outcome},
	}, nil
}

// HandleWorkflow5 disables an execution, drops it from its processor's
// currentExecutionsList, deletes the factors it contributed, and
// re-consolidates from whatever remains active.
func (o *Orchestrator) HandleWorkflow5(ctx context.Context, executionID uuid.UUID) (Summary, error) {
	ctx, span := tracer.Start(ctx, "workflow5.disable", trace.WithAttributes(
		attribute.String("execution.id", executionID.String()),
	))
	defer span.End()

	exec, err := o.exec.GetExecutionByID(ctx, executionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, err
	}
	if exec == nil {
		return Summary{Success: true, Message: "execution not found"}, nil
	}

	unlock := o.locks.Lock(exec.UnderwritingID.String())
	defer unlock()

	start := time.Now()
	if err := o.exec.SetEnabled(ctx, executionID, false); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, err
	}

	up, err := o.proc.GetUnderwritingProcessorByID(ctx, exec.UnderwritingProcessorID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, err
	}
	if up != nil {
		remaining := make([]uuid.UUID, 0, len(up.CurrentExecutionsList))
		for _, id := range up.CurrentExecutionsList {
			if id != executionID {
				remaining = append(remaining, id)
			}
		}
		if err := o.proc.UpdateCurrentExecutionsList(ctx, up.ID, remaining); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Summary{}, err
		}
	}

	if err := o.fact.DeleteFactorsByExecutionID(ctx, executionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, err
	}
	o.logStage(ctx, exec.UnderwritingID, "Workflow 5", types.StageExecution, executionID, nil, start, nil)

	consolidationStart := time.Now()
	outcome := o.consolidation.Consolidate(ctx, exec.UnderwritingProcessorID)
	o.logStage(ctx, exec.UnderwritingID, "Workflow 5", types.StageConsolidation, exec.UnderwritingProcessorID, outcome, consolidationStart, nil)

	return Summary{
		Success:                true,
		ProcessorsConsolidated: boolToInt(outcome.Success),
		ProcessorList:          []uuid.UUID{exec.UnderwritingProcessorID},
		ConsolidationResults:   []consolidation.Outcome{outcome},
	}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
