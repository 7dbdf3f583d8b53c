// Package repository owns every Postgres-backed data access path the
// orchestrator stages need: underwriting detail reads, processor
// subscription/config resolution, execution CRUD, factor persistence, and
// workflow audit logging.
package repository

import (
	"context"
	"database/sql"
	goerrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jude-scai/processor/internal/errors"
	"github.com/jude-scai/processor/pkg/types"
)

// UnderwritingRepository reads the full underwriting aggregate (merchant,
// owners, documents) that Filtration needs to build candidate payloads.
type UnderwritingRepository struct {
	db *sqlx.DB
}

// NewUnderwritingRepository constructs a repository bound to db.
func NewUnderwritingRepository(db *sqlx.DB) *UnderwritingRepository {
	return &UnderwritingRepository{db: db}
}

// GetUnderwritingWithDetails loads the underwriting row plus its owners
// and documents in three queries, or (nil, nil) when no such underwriting
// exists.
func (r *UnderwritingRepository) GetUnderwritingWithDetails(ctx context.Context, underwritingID uuid.UUID) (*types.Underwriting, error) {
	var uw types.Underwriting
	err := r.db.GetContext(ctx, &uw, `
		SELECT id, organization_id, serial_number, status,
		       merchant_name, merchant_ein, merchant_industry, merchant_email,
		       merchant_phone, merchant_website, merchant_entity_type,
		       merchant_incorporation_date, merchant_state_of_incorporation,
		       created_at, updated_at
		FROM underwritings
		WHERE id = $1
	`, underwritingID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.NewDatabaseError("get_underwriting_with_details", err)
	}

	owners, err := r.getOwners(ctx, underwritingID)
	if err != nil {
		return nil, err
	}
	uw.Owners = owners

	documents, err := r.getDocuments(ctx, underwritingID)
	if err != nil {
		return nil, err
	}
	uw.Documents = documents

	return &uw, nil
}

func (r *UnderwritingRepository) getOwners(ctx context.Context, underwritingID uuid.UUID) ([]types.Owner, error) {
	var owners []types.Owner
	err := r.db.SelectContext(ctx, &owners, `
		SELECT id, underwriting_id, first_name, last_name, email, phone, ssn,
		       ownership_percent, primary_owner, enabled
		FROM owners
		WHERE underwriting_id = $1
		ORDER BY primary_owner DESC, last_name ASC
	`, underwritingID)
	if err != nil {
		return nil, errors.NewDatabaseError("get_owners", err)
	}
	return owners, nil
}

func (r *UnderwritingRepository) getDocuments(ctx context.Context, underwritingID uuid.UUID) ([]types.Document, error) {
	var documents []types.Document
	err := r.db.SelectContext(ctx, &documents, `
		SELECT id, underwriting_id, status, stipulation_type, current_revision_id
		FROM documents
		WHERE underwriting_id = $1
	`, underwritingID)
	if err != nil {
		return nil, errors.NewDatabaseError("get_documents", err)
	}
	return documents, nil
}

// GetStaleProcessingUnderwritings returns the ids of underwritings stuck
// in status=processing whose updated_at is older than olderThan, for the
// supplemental staleness re-triage sweep (SPEC_FULL.md §7 "scheduler.py").
func (r *UnderwritingRepository) GetStaleProcessingUnderwritings(ctx context.Context, olderThan time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM underwritings
		WHERE status = 'processing' AND updated_at < $1
	`, olderThan)
	if err != nil {
		return nil, errors.NewDatabaseError("get_stale_processing_underwritings", err)
	}
	return ids, nil
}

func isNoRows(err error) bool {
	return goerrors.Is(err, sql.ErrNoRows)
}
