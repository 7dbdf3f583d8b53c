package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jude-scai/processor/internal/errors"
	"github.com/jude-scai/processor/pkg/types"
)

// ProcessorRepository resolves processor subscriptions, per-underwriting
// instances, and the 3-level config merge (spec.md §4.1 "Config
// resolution").
type ProcessorRepository struct {
	db *sqlx.DB
}

func NewProcessorRepository(db *sqlx.DB) *ProcessorRepository {
	return &ProcessorRepository{db: db}
}

// underwritingProcessorRow is the join of underwriting_processors with its
// parent organization_processors row, as Filtration needs it.
type underwritingProcessorRow struct {
	ID                      uuid.UUID       `db:"id"`
	OrganizationID          uuid.UUID       `db:"organization_id"`
	UnderwritingID          uuid.UUID       `db:"underwriting_id"`
	OrganizationProcessorID uuid.UUID       `db:"organization_processor_id"`
	Processor               string          `db:"processor"`
	Name                    string          `db:"name"`
	Auto                    bool            `db:"auto"`
	Enabled                 bool            `db:"enabled"`
	ConfigOverride          json.RawMessage `db:"config_override"`
	CurrentExecutionsList   pq.StringArray  `db:"current_executions_list"`
}

// GetUnderwritingProcessors returns the underwriting_processors rows for
// underwritingID, optionally filtered to enabled-only and auto-only
// (spec.md §4.4 step 2: "enabled=true, auto=true").
func (r *ProcessorRepository) GetUnderwritingProcessors(ctx context.Context, underwritingID uuid.UUID, enabledOnly, autoOnly bool) ([]types.UnderwritingProcessor, error) {
	query := `
		SELECT id, organization_id, underwriting_id, organization_processor_id,
		       processor, name, auto, enabled, config_override, current_executions_list
		FROM underwriting_processors
		WHERE underwriting_id = $1`
	if enabledOnly {
		query += ` AND enabled = true`
	}
	if autoOnly {
		query += ` AND auto = true`
	}

	var rows []underwritingProcessorRow
	if err := r.db.SelectContext(ctx, &rows, query, underwritingID); err != nil {
		return nil, errors.NewDatabaseError("get_underwriting_processors", err)
	}

	out := make([]types.UnderwritingProcessor, 0, len(rows))
	for _, row := range rows {
		up, err := toUnderwritingProcessor(row)
		if err != nil {
			return nil, err
		}
		out = append(out, up)
	}
	return out, nil
}

// GetUnderwritingProcessorByID loads a single instance by id, used by
// Consolidation to recover the owning organization/underwriting ids.
func (r *ProcessorRepository) GetUnderwritingProcessorByID(ctx context.Context, id uuid.UUID) (*types.UnderwritingProcessor, error) {
	var row underwritingProcessorRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, organization_id, underwriting_id, organization_processor_id,
		       processor, name, auto, enabled, config_override, current_executions_list
		FROM underwriting_processors
		WHERE id = $1
	`, id)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.NewDatabaseError("get_underwriting_processor_by_id", err)
	}
	up, err := toUnderwritingProcessor(row)
	if err != nil {
		return nil, err
	}
	return &up, nil
}

func toUnderwritingProcessor(row underwritingProcessorRow) (types.UnderwritingProcessor, error) {
	override := types.JSONMap{}
	if len(row.ConfigOverride) > 0 {
		if err := json.Unmarshal(row.ConfigOverride, &override); err != nil {
			return types.UnderwritingProcessor{}, errors.NewDataTransformationError("failed to decode config_override: " + err.Error())
		}
	}

	ids := make([]uuid.UUID, 0, len(row.CurrentExecutionsList))
	for _, raw := range row.CurrentExecutionsList {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}

	return types.UnderwritingProcessor{
		ID:                      row.ID,
		OrganizationID:          row.OrganizationID,
		UnderwritingID:          row.UnderwritingID,
		OrganizationProcessorID: row.OrganizationProcessorID,
		Processor:               row.Processor,
		Name:                    row.Name,
		Auto:                    row.Auto,
		Enabled:                 row.Enabled,
		ConfigOverride:          override,
		CurrentExecutionsList:   ids,
	}, nil
}

// GetEffectiveConfig merges organization_processors.config beneath
// underwriting_processors.config_override (spec.md §4.1: the processor's
// own code defaults are merged in a layer below this by the caller).
func (r *ProcessorRepository) GetEffectiveConfig(ctx context.Context, underwritingProcessorID uuid.UUID) (types.JSONMap, error) {
	var row struct {
		OrgConfig      json.RawMessage `db:"config"`
		ConfigOverride json.RawMessage `db:"config_override"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT op.config AS config, up.config_override AS config_override
		FROM underwriting_processors up
		JOIN organization_processors op ON op.id = up.organization_processor_id
		WHERE up.id = $1
	`, underwritingProcessorID)
	if err != nil {
		if isNoRows(err) {
			return types.JSONMap{}, nil
		}
		return nil, errors.NewDatabaseError("get_effective_config", err)
	}

	orgConfig := types.JSONMap{}
	if len(row.OrgConfig) > 0 {
		if err := json.Unmarshal(row.OrgConfig, &orgConfig); err != nil {
			return nil, errors.NewDataTransformationError("failed to decode organization config: " + err.Error())
		}
	}
	override := types.JSONMap{}
	if len(row.ConfigOverride) > 0 {
		if err := json.Unmarshal(row.ConfigOverride, &override); err != nil {
			return nil, errors.NewDataTransformationError("failed to decode config override: " + err.Error())
		}
	}

	return types.MergeConfig(orgConfig, override), nil
}

// UpdateCurrentExecutionsList overwrites underwriting_processors'
// tracking column after Filtration recomputes which executions are
// current for this processor instance (spec.md §4.4 step 4).
func (r *ProcessorRepository) UpdateCurrentExecutionsList(ctx context.Context, underwritingProcessorID uuid.UUID, executionIDs []uuid.UUID) error {
	ids := make(pq.StringArray, len(executionIDs))
	for i, id := range executionIDs {
		ids[i] = id.String()
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE underwriting_processors
		SET current_executions_list = $1, updated_at = now()
		WHERE id = $2
	`, ids, underwritingProcessorID)
	if err != nil {
		return errors.NewDatabaseError("update_current_executions_list", err)
	}
	return nil
}

// GetOrganizationProcessor loads one subscription row, used when
// activating/disabling a processor (workflows W4/W5).
func (r *ProcessorRepository) GetOrganizationProcessor(ctx context.Context, id uuid.UUID) (*types.OrganizationProcessor, error) {
	var op types.OrganizationProcessor
	var config json.RawMessage
	err := r.db.QueryRowxContext(ctx, `
		SELECT id, organization_id, processor, name, auto, status, config, price_cents
		FROM organization_processors
		WHERE id = $1
	`, id).Scan(&op.ID, &op.OrganizationID, &op.Processor, &op.Name, &op.Auto, &op.Status, &config, &op.PriceCents)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, errors.NewDatabaseError("get_organization_processor", err)
	}
	op.Config = types.JSONMap{}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &op.Config); err != nil {
			return nil, errors.NewDataTransformationError("failed to decode organization processor config: " + err.Error())
		}
	}
	return &op, nil
}

// SetUnderwritingProcessorEnabled flips the enabled flag on a single
// instance (workflow W4/W5 target).
func (r *ProcessorRepository) SetUnderwritingProcessorEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE underwriting_processors SET enabled = $1, updated_at = now() WHERE id = $2
	`, enabled, id)
	if err != nil {
		return errors.NewDatabaseError("set_underwriting_processor_enabled", err)
	}
	return nil
}
