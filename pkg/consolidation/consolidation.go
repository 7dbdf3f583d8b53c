// Package consolidation merges the active executions of a processor
// instance into its final factor set (spec.md §4.6).
package consolidation

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	execProcessor "github.com/jude-scai/processor/pkg/processor"
	"github.com/jude-scai/processor/pkg/repository"
	"github.com/jude-scai/processor/pkg/types"
)

// ProcessorStore resolves the processor instance being consolidated.
type ProcessorStore interface {
	GetUnderwritingProcessorByID(ctx context.Context, id uuid.UUID) (*types.UnderwritingProcessor, error)
}

// ExecutionStore reads the active executions feeding consolidation.
type ExecutionStore interface {
	GetActiveExecutions(ctx context.Context, underwritingProcessorID uuid.UUID) ([]types.Execution, error)
}

// FactorStore persists the consolidated factor set.
type FactorStore interface {
	SaveFactors(ctx context.Context, p repository.SaveFactorsParams) error
}

// Service runs the Consolidation stage.
type Service struct {
	processors ProcessorStore
	executions ExecutionStore
	factors    FactorStore
	logger     *zap.Logger
}

func NewService(processors ProcessorStore, executions ExecutionStore, factors FactorStore, logger *zap.Logger) *Service {
	return &Service{processors: processors, executions: executions, factors: factors, logger: logger}
}

// Outcome is the per-processor-instance result of one Consolidate call.
type Outcome struct {
	UnderwritingProcessorID uuid.UUID
	Success                 bool
	Processor               string
	Factors                 map[string]any
	ExecutionCount          int
	Error                   string
}

// Summary aggregates Consolidate across every processor instance in a
// batch (spec.md §4.6 step 1: "For each processor in list").
type Summary struct {
	Consolidated int
	Results      []Outcome
}

// ConsolidateAll runs Consolidate for every underwriting processor
// instance id in processorList, continuing past per-item failures so one
// bad processor doesn't block the rest of the batch.
func (s *Service) ConsolidateAll(ctx context.Context, processorList []uuid.UUID) Summary {
	summary := Summary{Results: make([]Outcome, 0, len(processorList))}
	for _, id := range processorList {
		outcome := s.Consolidate(ctx, id)
		summary.Results = append(summary.Results, outcome)
		if outcome.Success {
			summary.Consolidated++
		}
	}
	return summary
}

// Consolidate merges the active executions of one processor instance into
// its final Factor rows (spec.md §4.6 steps 2-4).
//
// The execution a merged factor is attributed to is the FIRST element of
// the active-executions list, not the most recently completed one — this
// matches the original Python implementation's `active_executions[0]`
// rather than re-deriving "most recent" lineage, since the active list is
// already the authoritative current-executions ordering Filtration wrote.
func (s *Service) Consolidate(ctx context.Context, underwritingProcessorID uuid.UUID) Outcome {
	up, err := s.processors.GetUnderwritingProcessorByID(ctx, underwritingProcessorID)
	if err != nil {
		return Outcome{UnderwritingProcessorID: underwritingProcessorID, Success: false, Error: err.Error()}
	}
	if up == nil {
		return Outcome{UnderwritingProcessorID: underwritingProcessorID, Success: false, Error: "processor config not found"}
	}

	activeExecutions, err := s.executions.GetActiveExecutions(ctx, underwritingProcessorID)
	if err != nil {
		return Outcome{UnderwritingProcessorID: underwritingProcessorID, Success: false, Processor: up.Processor, Error: err.Error()}
	}

	p, err := execProcessor.Get(up.Processor)
	if err != nil {
		s.logger.Warn("processor not registered, skipping consolidation",
			zap.String("processor", up.Processor), zap.String("underwriting_processor_id", underwritingProcessorID.String()))
		return Outcome{UnderwritingProcessorID: underwritingProcessorID, Success: false, Processor: up.Processor, Error: "processor not registered"}
	}

	factorsList := make([]map[string]any, 0, len(activeExecutions))
	for _, exec := range activeExecutions {
		factorsList = append(factorsList, extractFactors(exec))
	}

	consolidated := p.Consolidate(factorsList)

	if len(consolidated) == 0 {
		return Outcome{
			UnderwritingProcessorID: underwritingProcessorID,
			Success:                 true,
			Processor:               up.Processor,
			Factors:                 consolidated,
			ExecutionCount:          len(activeExecutions),
		}
	}

	var latestExecutionID uuid.UUID
	if len(activeExecutions) > 0 {
		latestExecutionID = activeExecutions[0].ID
	}

	if err := s.factors.SaveFactors(ctx, repository.SaveFactorsParams{
		OrganizationID:          up.OrganizationID,
		UnderwritingID:          up.UnderwritingID,
		UnderwritingProcessorID: underwritingProcessorID,
		ExecutionID:             latestExecutionID,
		Factors:                 consolidated,
		Source:                  types.FactorSourceProcessor,
	}); err != nil {
		return Outcome{UnderwritingProcessorID: underwritingProcessorID, Success: false, Processor: up.Processor, Error: err.Error()}
	}

	return Outcome{
		UnderwritingProcessorID: underwritingProcessorID,
		Success:                 true,
		Processor:               up.Processor,
		Factors:                 consolidated,
		ExecutionCount:          len(activeExecutions),
	}
}

// extractFactors pulls the "factors" object out of an execution's
// factors_delta JSON column, tolerating a missing or malformed column by
// treating it as empty (spec.md §4.6 step 3, mirroring the defensive
// None-handling of the original implementation).
func extractFactors(exec types.Execution) map[string]any {
	if len(exec.FactorsDelta) == 0 {
		return map[string]any{}
	}
	var delta struct {
		Factors map[string]any `json:"factors"`
	}
	if err := json.Unmarshal(exec.FactorsDelta, &delta); err != nil {
		return map[string]any{}
	}
	if delta.Factors == nil {
		return map[string]any{}
	}
	return delta.Factors
}
