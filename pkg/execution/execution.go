// Package execution runs a set of pending/failed executions through their
// processors' pipelines, bounded to a fixed worker pool (spec.md §4.5).
package execution

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	appErrors "github.com/jude-scai/processor/internal/errors"
	execProcessor "github.com/jude-scai/processor/pkg/processor"
	"github.com/jude-scai/processor/pkg/types"
)

// Store is the execution persistence surface this stage needs.
type Store interface {
	GetExecutionByID(ctx context.Context, id uuid.UUID) (*types.Execution, error)
	UpdateExecutionStatus(ctx context.Context, id uuid.UUID, status types.ExecutionStatus, startedAt, completedAt *time.Time, failedCode, failedReason *string) error
	SaveExecutionResult(ctx context.Context, id uuid.UUID, output map[string]any, costCents int64, documentRevisionIDs []uuid.UUID, documentIDsHash *string, completedAt time.Time) error
}

// ConfigResolver returns the effective merged config for an underwriting
// processor instance (spec.md §4.1 config resolution).
type ConfigResolver interface {
	GetEffectiveConfig(ctx context.Context, underwritingProcessorID uuid.UUID) (types.JSONMap, error)
}

// DefaultPoolSize is the worker pool width named in spec.md §5 ("N=5").
const DefaultPoolSize = 5

// Service runs executions concurrently, bounded by a semaphore sized to
// PoolSize (spec.md §4.5, grounded on the teacher's errgroup+semaphore
// worker pool pattern; the original Python implementation uses a fixed
// 5-worker ThreadPoolExecutor for the same bound).
type Service struct {
	store    Store
	config   ConfigResolver
	logger   *zap.Logger
	poolSize int64
}

// NewService constructs an execution runner. poolSize <= 0 uses
// DefaultPoolSize.
func NewService(store Store, config ConfigResolver, logger *zap.Logger, poolSize int) *Service {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	return &Service{store: store, config: config, logger: logger, poolSize: int64(poolSize)}
}

// RunResult summarizes one execution's outcome (spec.md §4.5 step 4).
type RunResult struct {
	ExecutionID uuid.UUID
	Processor   string
	Success     bool
	Output      map[string]any
	Error       string
	DurationSec float64
	CostCents   int64
}

// Summary aggregates the pool's outcome across the whole batch.
type Summary struct {
	Completed int
	Failed    int
	Results   []RunResult
}

// Run launches every runnable execution in executionIDs concurrently,
// bounded to s.poolSize in flight at once via a weighted semaphore, and
// waits for all of them to finish (spec.md §4.5 steps 1-3). A single
// execution's failure never cancels its siblings, so the run always
// uses errgroup purely for goroutine bookkeeping, not fail-fast.
func (s *Service) Run(ctx context.Context, executionIDs []uuid.UUID) (Summary, error) {
	if len(executionIDs) == 0 {
		return Summary{Results: []RunResult{}}, nil
	}

	sem := semaphore.NewWeighted(s.poolSize)
	results := make([]RunResult, len(executionIDs))

	g, gctx := errgroup.WithContext(ctx)

	for i, id := range executionIDs {
		i, id := i, id
		if err := sem.Acquire(gctx, 1); err != nil {
			results[i] = RunResult{ExecutionID: id, Success: false, Error: err.Error()}
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			results[i] = s.runOne(gctx, id)
			return nil
		})
	}

	_ = g.Wait()

	summary := Summary{Results: results}
	for _, r := range results {
		if r.Success {
			summary.Completed++
		} else {
			summary.Failed++
		}
	}
	return summary, nil
}

func (s *Service) runOne(ctx context.Context, executionID uuid.UUID) RunResult {
	exec, err := s.store.GetExecutionByID(ctx, executionID)
	if err != nil {
		return RunResult{ExecutionID: executionID, Success: false, Error: err.Error()}
	}
	if exec == nil {
		return RunResult{ExecutionID: executionID, Success: false, Error: "execution not found"}
	}
	if !exec.IsRunnable() {
		s.logger.Debug("skipping non-runnable execution",
			zap.String("execution_id", executionID.String()),
			zap.String("status", string(exec.Status)))
		return RunResult{ExecutionID: executionID, Processor: exec.Processor, Success: true}
	}

	return s.runExecution(ctx, exec)
}

func (s *Service) runExecution(ctx context.Context, exec *types.Execution) RunResult {
	startedAt := time.Now().UTC()
	if err := s.store.UpdateExecutionStatus(ctx, exec.ID, types.ExecutionStatusRunning, &startedAt, nil, nil, nil); err != nil {
		s.logger.Error("failed to mark execution running", zap.Error(err))
	}

	p, err := execProcessor.Get(exec.Processor)
	if err != nil {
		return s.fail(ctx, exec, startedAt, appErrors.NewConfigurationError("processor not registered: "+exec.Processor))
	}

	config, err := s.config.GetEffectiveConfig(ctx, exec.UnderwritingProcessorID)
	if err != nil {
		return s.fail(ctx, exec, startedAt, err)
	}
	mergedConfig := types.MergeConfig(p.DefaultConfig(), config)

	var rawPayload map[string]any
	if len(exec.Payload) > 0 {
		rawPayload, err = decodePayload(exec.Payload)
		if err != nil {
			return s.fail(ctx, exec, startedAt, appErrors.NewDataTransformationError("failed to decode execution payload: "+err.Error()))
		}
	}

	ectx := execProcessor.NewExecContext(exec.ID.String(), exec.UnderwritingProcessorID.String(), mergedConfig)
	result := execProcessor.Execute(ctx, p, ectx, rawPayload)

	completedAt := result.CompletedAt
	if result.Status != types.ExecutionStatusCompleted {
		reason := result.ErrorMessage
		code := string(result.ErrorType)
		if err := s.store.UpdateExecutionStatus(ctx, exec.ID, types.ExecutionStatusFailed, nil, &completedAt, &code, &reason); err != nil {
			s.logger.Error("failed to persist execution failure", zap.Error(err))
		}
		return RunResult{
			ExecutionID: exec.ID,
			Processor:   exec.Processor,
			Success:     false,
			Error:       reason,
			DurationSec: result.DurationSeconds,
		}
	}

	revisionIDs := make([]uuid.UUID, 0, len(result.DocumentRevisionIDs))
	for _, rid := range result.DocumentRevisionIDs {
		if id, err := uuid.Parse(rid); err == nil {
			revisionIDs = append(revisionIDs, id)
		}
	}

	if err := s.store.SaveExecutionResult(ctx, exec.ID, result.Output, result.TotalCostCents, revisionIDs, result.DocumentIDsHash, completedAt); err != nil {
		s.logger.Error("failed to persist execution result", zap.Error(err))
		return RunResult{ExecutionID: exec.ID, Processor: exec.Processor, Success: false, Error: err.Error()}
	}

	return RunResult{
		ExecutionID: exec.ID,
		Processor:   exec.Processor,
		Success:     true,
		Output:      result.Output,
		DurationSec: result.DurationSeconds,
		CostCents:   result.TotalCostCents,
	}
}

func (s *Service) fail(ctx context.Context, exec *types.Execution, startedAt time.Time, err error) RunResult {
	completedAt := time.Now().UTC()
	reason := err.Error()
	errType := string(appErrors.GetType(err))
	if updErr := s.store.UpdateExecutionStatus(ctx, exec.ID, types.ExecutionStatusFailed, nil, &completedAt, &errType, &reason); updErr != nil {
		s.logger.Error("failed to persist execution failure", zap.Error(updErr))
	}
	return RunResult{
		ExecutionID: exec.ID,
		Processor:   exec.Processor,
		Success:     false,
		Error:       reason,
		DurationSec: completedAt.Sub(startedAt).Seconds(),
	}
}
