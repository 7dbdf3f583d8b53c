// Package filtration selects which processors should run for an
// underwriting and generates the candidate executions for them
// (spec.md §4.4).
package filtration

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jude-scai/processor/internal/errors"
	"github.com/jude-scai/processor/pkg/payload"
	"github.com/jude-scai/processor/pkg/processor"
	"github.com/jude-scai/processor/pkg/repository"
	"github.com/jude-scai/processor/pkg/types"
)

// UnderwritingReader loads the full underwriting aggregate.
type UnderwritingReader interface {
	GetUnderwritingWithDetails(ctx context.Context, underwritingID uuid.UUID) (*types.Underwriting, error)
}

// ProcessorStore resolves processor instances and tracks which executions
// are currently considered "live" for each one.
type ProcessorStore interface {
	GetUnderwritingProcessors(ctx context.Context, underwritingID uuid.UUID, enabledOnly, autoOnly bool) ([]types.UnderwritingProcessor, error)
	UpdateCurrentExecutionsList(ctx context.Context, underwritingProcessorID uuid.UUID, executionIDs []uuid.UUID) error
}

// ExecutionStore resolves and creates execution rows during filtration.
type ExecutionStore interface {
	FindExecutionByHash(ctx context.Context, underwritingProcessorID uuid.UUID, payloadHash string) (*types.Execution, error)
	GetActiveExecutions(ctx context.Context, underwritingProcessorID uuid.UUID) ([]types.Execution, error)
	CreateExecution(ctx context.Context, p repository.CreateExecutionParams) (uuid.UUID, error)
	SupersedeExecution(ctx context.Context, oldID, newID uuid.UUID) error
}

// Service runs the Filtration stage of the processing pipeline.
type Service struct {
	underwritings UnderwritingReader
	processors    ProcessorStore
	executions    ExecutionStore
}

func NewService(underwritings UnderwritingReader, processors ProcessorStore, executions ExecutionStore) *Service {
	return &Service{underwritings: underwritings, processors: processors, executions: executions}
}

// Result is the output of Filtration (spec.md §4.4 step 4).
type Result struct {
	ProcessorList      []uuid.UUID
	ExecutionList      []uuid.UUID
	EligibleProcessors []types.UnderwritingProcessor
}

// Filter selects the enabled+auto processors for underwritingID, prepares
// each one, and aggregates the new executions it needs to run.
func (s *Service) Filter(ctx context.Context, underwritingID uuid.UUID) (Result, error) {
	uw, err := s.underwritings.GetUnderwritingWithDetails(ctx, underwritingID)
	if err != nil {
		return Result{}, err
	}
	if uw == nil {
		return Result{ProcessorList: []uuid.UUID{}, ExecutionList: []uuid.UUID{}, EligibleProcessors: []types.UnderwritingProcessor{}}, nil
	}

	eligible, err := s.processors.GetUnderwritingProcessors(ctx, underwritingID, true, true)
	if err != nil {
		return Result{}, err
	}

	result := Result{EligibleProcessors: eligible}

	for _, up := range eligible {
		newExecutions, matched, err := s.PrepareProcessor(ctx, up, uw, false)
		if err != nil {
			return Result{}, err
		}
		if !matched {
			continue
		}
		result.ProcessorList = append(result.ProcessorList, up.ID)
		result.ExecutionList = append(result.ExecutionList, newExecutions...)
	}

	if result.ProcessorList == nil {
		result.ProcessorList = []uuid.UUID{}
	}
	if result.ExecutionList == nil {
		result.ExecutionList = []uuid.UUID{}
	}

	return result, nil
}

// PrepareProcessor determines whether up should participate, and if so,
// returns the set of new executions it needs run (spec.md §4.4.1).
// matched is false only when the processor's triggers are unconfigured
// entirely (the payload formatter returned nil) — the zero-executions,
// triggers-matched case is reported as matched=true with an empty slice.
func (s *Service) PrepareProcessor(ctx context.Context, up types.UnderwritingProcessor, uw *types.Underwriting, duplicate bool) (newExecutions []uuid.UUID, matched bool, err error) {
	p, err := processor.Get(up.Processor)
	if err != nil {
		return nil, false, errors.NewConfigurationError(fmt.Sprintf("unregistered processor %q: %v", up.Processor, err))
	}

	payloadList, err := payload.FormatPayloadList(p.Kind(), p.Triggers(), uw)
	if err != nil {
		return nil, false, err
	}

	if payloadList == nil {
		return nil, false, nil
	}

	if len(payloadList) == 0 {
		current, err := s.executions.GetActiveExecutions(ctx, up.ID)
		if err != nil {
			return nil, true, err
		}
		if len(current) > 0 {
			if err := s.processors.UpdateCurrentExecutionsList(ctx, up.ID, nil); err != nil {
				return nil, true, err
			}
		}
		return []uuid.UUID{}, true, nil
	}

	executionList := make([]uuid.UUID, 0, len(payloadList))
	for _, pld := range payloadList {
		execID, err := s.GenerateExecution(ctx, up, pld, p.Triggers(), duplicate)
		if err != nil {
			return nil, true, err
		}
		executionList = append(executionList, execID)
	}

	current, err := s.executions.GetActiveExecutions(ctx, up.ID)
	if err != nil {
		return nil, true, err
	}
	currentIDs := make([]uuid.UUID, len(current))
	for i, exec := range current {
		currentIDs[i] = exec.ID
	}

	newExeList := diff(executionList, currentIDs)
	delExeList := diff(currentIDs, executionList)

	if len(newExeList) == 0 && len(delExeList) == 0 {
		return []uuid.UUID{}, true, nil
	}

	if err := s.processors.UpdateCurrentExecutionsList(ctx, up.ID, executionList); err != nil {
		return nil, true, err
	}

	return newExeList, true, nil
}

// GenerateExecution finds or creates the execution row for one payload
// (spec.md §4.4.2). When duplicate is true and a matching hash already
// exists, a new execution is created as the chain's new tip and the
// existing row is marked superseded, pointing forward at it (spec.md §8:
// every maximal supersession path ends at a tip whose updated_execution_id
// is null).
func (s *Service) GenerateExecution(ctx context.Context, up types.UnderwritingProcessor, pld map[string]any, triggers payload.Triggers, duplicate bool) (uuid.UUID, error) {
	payloadHash := payload.Hash(pld, triggers)

	existing, err := s.executions.FindExecutionByHash(ctx, up.ID, payloadHash)
	if err != nil {
		return uuid.Nil, err
	}

	if existing != nil && !duplicate {
		return existing.ID, nil
	}

	newID, err := s.executions.CreateExecution(ctx, repository.CreateExecutionParams{
		UnderwritingID:          up.UnderwritingID,
		OrganizationID:          up.OrganizationID,
		UnderwritingProcessorID: up.ID,
		Processor:               up.Processor,
		Payload:                 pld,
		PayloadHash:             payloadHash,
	})
	if err != nil {
		return uuid.Nil, err
	}

	if existing != nil && duplicate {
		if err := s.executions.SupersedeExecution(ctx, existing.ID, newID); err != nil {
			return uuid.Nil, err
		}
	}

	return newID, nil
}

func diff(a, b []uuid.UUID) []uuid.UUID {
	inB := make(map[uuid.UUID]struct{}, len(b))
	for _, id := range b {
		inB[id] = struct{}{}
	}
	out := make([]uuid.UUID, 0)
	for _, id := range a {
		if _, found := inB[id]; !found {
			out = append(out, id)
		}
	}
	return out
}
