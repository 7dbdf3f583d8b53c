package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jude-scai/processor/internal/errors"
	"github.com/jude-scai/processor/pkg/types"
)

// WorkflowLogRepository appends the audit trail every orchestrator
// workflow writes at each stage boundary (spec.md §4.8 "audit logging").
type WorkflowLogRepository struct {
	db *sqlx.DB
}

func NewWorkflowLogRepository(db *sqlx.DB) *WorkflowLogRepository {
	return &WorkflowLogRepository{db: db}
}

// LogStageParams is everything one audit row captures about a stage run.
type LogStageParams struct {
	UnderwritingID  uuid.UUID
	WorkflowName    string
	Stage           types.WorkflowStage
	Input           any
	Output          any
	Status          string
	ErrorMessage    *string
	ExecutionTimeMs int64
	Attempt         int
	BrokerMessageID string
}

// LogStage appends one row. Logging failures are reported as
// *errors.AppError (ErrorTypePersistence) so callers can decide whether a
// broken audit trail should fail the whole workflow or just be logged
// upstream and swallowed.
func (r *WorkflowLogRepository) LogStage(ctx context.Context, p LogStageParams) error {
	inputJSON, err := json.Marshal(p.Input)
	if err != nil {
		return errors.NewDataTransformationError("failed to encode workflow log input: " + err.Error())
	}
	outputJSON, err := json.Marshal(p.Output)
	if err != nil {
		return errors.NewDataTransformationError("failed to encode workflow log output: " + err.Error())
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_logs (
			id, underwriting_id, workflow_name, stage, input, output, status,
			error_message, execution_time_ms, attempt, broker_message_id, created_at, updated_at
		) VALUES (
			gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now()
		)
	`, p.UnderwritingID, p.WorkflowName, p.Stage, inputJSON, outputJSON, p.Status,
		p.ErrorMessage, p.ExecutionTimeMs, p.Attempt, p.BrokerMessageID)
	if err != nil {
		return errors.NewPersistenceError("log_stage", err)
	}
	return nil
}
