package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jude-scai/processor/internal/errors"
	"github.com/jude-scai/processor/pkg/types"
)

// ExecutionRepository owns the executions table: creation, hash-based
// dedup lookup, status transitions, and the active-executions set that
// Consolidation reads from.
type ExecutionRepository struct {
	db *sqlx.DB
}

func NewExecutionRepository(db *sqlx.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// FindExecutionByHash returns the execution already recorded for this
// underwriting processor instance under the given payload hash, or
// (nil, nil) when none exists (spec.md §4.4.2 step 2).
func (r *ExecutionRepository) FindExecutionByHash(ctx context.Context, underwritingProcessorID uuid.UUID, payloadHash string) (*types.Execution, error) {
	exec, err := r.queryOne(ctx, `
		SELECT id, organization_id, underwriting_id, underwriting_processor_id, processor,
		       status, enabled, payload, payload_hash, factors_delta, run_cost_cents,
		       document_revision_ids, document_ids_hash, started_at, completed_at,
		       failed_code, failed_reason, updated_execution_id, created_at, updated_at
		FROM executions
		WHERE underwriting_processor_id = $1 AND payload_hash = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, underwritingProcessorID, payloadHash)
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// GetExecutionByID loads a single execution row by id.
func (r *ExecutionRepository) GetExecutionByID(ctx context.Context, id uuid.UUID) (*types.Execution, error) {
	return r.queryOne(ctx, `
		SELECT id, organization_id, underwriting_id, underwriting_processor_id, processor,
		       status, enabled, payload, payload_hash, factors_delta, run_cost_cents,
		       document_revision_ids, document_ids_hash, started_at, completed_at,
		       failed_code, failed_reason, updated_execution_id, created_at, updated_at
		FROM executions
		WHERE id = $1
	`, id)
}

// GetActiveExecutions returns the executions currently named in
// underwriting_processors.current_executions_list for the given processor
// instance, in list order, filtered to enabled=true and status=completed
// (spec.md §4.6 step 2, grounded on the original's get_active_executions
// query: "enabled = true AND status = 'completed' AND id = ANY(...)").
func (r *ExecutionRepository) GetActiveExecutions(ctx context.Context, underwritingProcessorID uuid.UUID) ([]types.Execution, error) {
	var row struct {
		CurrentExecutionsList pq.StringArray `db:"current_executions_list"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT current_executions_list FROM underwriting_processors WHERE id = $1
	`, underwritingProcessorID)
	if err != nil {
		if isNoRows(err) {
			return []types.Execution{}, nil
		}
		return nil, errors.NewDatabaseError("get_active_executions", err)
	}

	executions := make([]types.Execution, 0, len(row.CurrentExecutionsList))
	for _, raw := range row.CurrentExecutionsList {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		exec, err := r.GetExecutionByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if exec != nil && exec.Enabled && exec.Status == types.ExecutionStatusCompleted {
			executions = append(executions, *exec)
		}
	}
	return executions, nil
}

// CreateExecutionParams is everything Filtration supplies to create a new
// execution row. A freshly created row is always a chain tip: its
// updated_execution_id starts null and is only ever set later, on the row
// it supersedes, by SupersedeExecution.
type CreateExecutionParams struct {
	UnderwritingID          uuid.UUID
	OrganizationID          uuid.UUID
	UnderwritingProcessorID uuid.UUID
	Processor               string
	Payload                 map[string]any
	PayloadHash             string
}

// CreateExecution inserts a new pending execution row and returns its id
// (spec.md §4.4.2 step 5).
func (r *ExecutionRepository) CreateExecution(ctx context.Context, p CreateExecutionParams) (uuid.UUID, error) {
	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return uuid.Nil, errors.NewDataTransformationError("failed to encode payload: " + err.Error())
	}

	var id uuid.UUID
	err = r.db.QueryRowxContext(ctx, `
		INSERT INTO executions (
			id, organization_id, underwriting_id, underwriting_processor_id, processor,
			status, enabled, payload, payload_hash, created_at, updated_at
		) VALUES (
			gen_random_uuid(), $1, $2, $3, $4, 'pending', true, $5, $6, now(), now()
		) RETURNING id
	`, p.OrganizationID, p.UnderwritingID, p.UnderwritingProcessorID, p.Processor,
		payloadJSON, p.PayloadHash).Scan(&id)
	if err != nil {
		return uuid.Nil, errors.NewDatabaseError("create_execution", err)
	}
	return id, nil
}

// SupersedeExecution marks oldID as superseded by newID (spec.md §4.8 W2
// duplicate=true, grounded on the original's mark_execution_superseded).
// Supersession links point forward, old→new, so that the live tip of any
// chain always has a null updated_execution_id (spec.md §8).
func (r *ExecutionRepository) SupersedeExecution(ctx context.Context, oldID, newID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE executions SET updated_execution_id = $1, updated_at = now() WHERE id = $2
	`, newID, oldID)
	if err != nil {
		return errors.NewDatabaseError("supersede_execution", err)
	}
	return nil
}

// SetEnabled flips the per-execution enabled flag (workflows W4/W5).
func (r *ExecutionRepository) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE executions SET enabled = $1, updated_at = now() WHERE id = $2
	`, enabled, id)
	if err != nil {
		return errors.NewDatabaseError("set_execution_enabled", err)
	}
	return nil
}

// UpdateExecutionStatus transitions an execution's status, optionally
// stamping started_at/completed_at and a failure reason.
func (r *ExecutionRepository) UpdateExecutionStatus(ctx context.Context, id uuid.UUID, status types.ExecutionStatus, startedAt, completedAt *time.Time, failedCode, failedReason *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE executions
		SET status = $1,
		    started_at = COALESCE($2, started_at),
		    completed_at = COALESCE($3, completed_at),
		    failed_code = $4,
		    failed_reason = $5,
		    updated_at = now()
		WHERE id = $6
	`, status, startedAt, completedAt, failedCode, failedReason, id)
	if err != nil {
		return errors.NewDatabaseError("update_execution_status", err)
	}
	return nil
}

// SaveExecutionResult persists a successful run's output, cost, and
// document provenance, and marks the execution completed.
func (r *ExecutionRepository) SaveExecutionResult(ctx context.Context, id uuid.UUID, output map[string]any, costCents int64, documentRevisionIDs []uuid.UUID, documentIDsHash *string, completedAt time.Time) error {
	factorsDelta, err := json.Marshal(output)
	if err != nil {
		return errors.NewDataTransformationError("failed to encode factors_delta: " + err.Error())
	}

	revisionIDs := make(pq.StringArray, len(documentRevisionIDs))
	for i, rid := range documentRevisionIDs {
		revisionIDs[i] = rid.String()
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE executions
		SET status = 'completed',
		    factors_delta = $1,
		    run_cost_cents = $2,
		    document_revision_ids = $3,
		    document_ids_hash = $4,
		    completed_at = $5,
		    updated_at = now()
		WHERE id = $6
	`, factorsDelta, costCents, revisionIDs, documentIDsHash, completedAt, id)
	if err != nil {
		return errors.NewDatabaseError("save_execution_result", err)
	}
	return nil
}

func (r *ExecutionRepository) queryOne(ctx context.Context, query string, args ...any) (*types.Execution, error) {
	var row executionRow
	err := r.db.GetContext(ctx, &row, query, args...)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.NewDatabaseError("query_execution", err)
	}
	return row.toExecution(), nil
}

// executionRow mirrors the executions table for sqlx scanning; Execution
// itself uses pq.StringArray-incompatible uuid.UUID slices so we decode
// through this row type.
type executionRow struct {
	ID                      uuid.UUID       `db:"id"`
	OrganizationID          uuid.UUID       `db:"organization_id"`
	UnderwritingID          uuid.UUID       `db:"underwriting_id"`
	UnderwritingProcessorID uuid.UUID       `db:"underwriting_processor_id"`
	Processor               string          `db:"processor"`
	Status                  string          `db:"status"`
	Enabled                 bool            `db:"enabled"`
	Payload                 json.RawMessage `db:"payload"`
	PayloadHash             string          `db:"payload_hash"`
	FactorsDelta            json.RawMessage `db:"factors_delta"`
	RunCostCents            int64           `db:"run_cost_cents"`
	DocumentRevisionIDs     pq.StringArray  `db:"document_revision_ids"`
	DocumentIDsHash         *string         `db:"document_ids_hash"`
	StartedAt               *time.Time     `db:"started_at"`
	CompletedAt             *time.Time     `db:"completed_at"`
	FailedCode              *string        `db:"failed_code"`
	FailedReason            *string        `db:"failed_reason"`
	UpdatedExecutionID      *uuid.UUID     `db:"updated_execution_id"`
	CreatedAt               time.Time      `db:"created_at"`
	UpdatedAt               time.Time      `db:"updated_at"`
}

func (row executionRow) toExecution() *types.Execution {
	revisionIDs := make([]uuid.UUID, 0, len(row.DocumentRevisionIDs))
	for _, raw := range row.DocumentRevisionIDs {
		if id, err := uuid.Parse(raw); err == nil {
			revisionIDs = append(revisionIDs, id)
		}
	}
	return &types.Execution{
		ID:                      row.ID,
		OrganizationID:          row.OrganizationID,
		UnderwritingID:          row.UnderwritingID,
		UnderwritingProcessorID: row.UnderwritingProcessorID,
		Processor:               row.Processor,
		Status:                  types.ExecutionStatus(row.Status),
		Enabled:                 row.Enabled,
		Payload:                 row.Payload,
		PayloadHash:             row.PayloadHash,
		FactorsDelta:            row.FactorsDelta,
		RunCostCents:            row.RunCostCents,
		DocumentRevisionIDs:     revisionIDs,
		DocumentIDsHash:         row.DocumentIDsHash,
		StartedAt:               row.StartedAt,
		CompletedAt:             row.CompletedAt,
		FailedCode:              row.FailedCode,
		FailedReason:            row.FailedReason,
		UpdatedExecutionID:      row.UpdatedExecutionID,
		CreatedAt:               row.CreatedAt,
		UpdatedAt:               row.UpdatedAt,
	}
}
