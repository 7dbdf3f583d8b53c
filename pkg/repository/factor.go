package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jude-scai/processor/internal/errors"
	"github.com/jude-scai/processor/pkg/types"
)

// FactorRepository persists consolidated factors (spec.md §4.6 step 4),
// deduping on factor_hash so an unchanged re-consolidation is a no-op.
type FactorRepository struct {
	db *sqlx.DB
}

func NewFactorRepository(db *sqlx.DB) *FactorRepository {
	return &FactorRepository{db: db}
}

// SaveFactorsParams bundles the lineage a consolidated factor set is
// attributed to.
type SaveFactorsParams struct {
	OrganizationID          uuid.UUID
	UnderwritingID          uuid.UUID
	UnderwritingProcessorID uuid.UUID
	ExecutionID             uuid.UUID
	Factors                 map[string]any
	Source                  types.FactorSource
}

// SaveFactors upserts one Factor row per key in p.Factors. Each row's
// factor_hash is the SHA-256 of its canonical JSON value; a row whose
// factor_hash is unchanged from the active row for that key is left alone
// (no spurious updated_at churn), otherwise the old active row is
// superseded.
func (r *FactorRepository) SaveFactors(ctx context.Context, p SaveFactorsParams) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.NewDatabaseError("save_factors_begin", err)
	}
	defer tx.Rollback()

	for key, value := range p.Factors {
		if err := r.upsertFactor(ctx, tx, p, key, value); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewDatabaseError("save_factors_commit", err)
	}
	return nil
}

func (r *FactorRepository) upsertFactor(ctx context.Context, tx *sqlx.Tx, p SaveFactorsParams, key string, value any) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return errors.NewDataTransformationError("failed to encode factor value for " + key + ": " + err.Error())
	}
	factorHash := factorValueHash(valueJSON)

	var existingHash string
	err = tx.GetContext(ctx, &existingHash, `
		SELECT factor_hash FROM factors
		WHERE underwriting_processor_id = $1 AND factor_key = $2 AND status = 'active'
	`, p.UnderwritingProcessorID, key)
	if err != nil && !isNoRows(err) {
		return errors.NewDatabaseError("lookup_factor", err)
	}
	if existingHash == factorHash {
		return nil
	}

	if existingHash != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE factors SET status = 'deleted', updated_at = now()
			WHERE underwriting_processor_id = $1 AND factor_key = $2 AND status = 'active'
		`, p.UnderwritingProcessorID, key)
		if err != nil {
			return errors.NewDatabaseError("supersede_factor", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO factors (
			id, organization_id, underwriting_id, underwriting_processor_id, execution_id,
			factor_key, value, source, status, factor_hash, created_at, updated_at
		) VALUES (
			gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, 'active', $8, now(), now()
		)
	`, p.OrganizationID, p.UnderwritingID, p.UnderwritingProcessorID, p.ExecutionID,
		key, valueJSON, p.Source, factorHash)
	if err != nil {
		return errors.NewDatabaseError("insert_factor", err)
	}
	return nil
}

func factorValueHash(valueJSON []byte) string {
	return sha256Hex(valueJSON)
}

// DeleteFactorsByExecutionID marks every active factor row attributed to
// executionID as deleted (spec.md §4.8 W5: "for every factor row whose
// execution_id equals this id, set status=deleted").
func (r *FactorRepository) DeleteFactorsByExecutionID(ctx context.Context, executionID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE factors SET status = 'deleted', updated_at = now()
		WHERE execution_id = $1 AND status = 'active'
	`, executionID)
	if err != nil {
		return errors.NewDatabaseError("delete_factors_by_execution", err)
	}
	return nil
}
