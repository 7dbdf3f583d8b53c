// Package types holds the domain entities of the underwriting processing
// engine (spec.md §3): Underwriting, its owners and documents, processor
// subscriptions and instances, executions, and factors.
package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// UnderwritingStatus is the lifecycle status of an Underwriting.
type UnderwritingStatus string

const (
	UnderwritingStatusCreated    UnderwritingStatus = "created"
	UnderwritingStatusProcessing UnderwritingStatus = "processing"
	UnderwritingStatusPassed     UnderwritingStatus = "passed"
	UnderwritingStatusRejected   UnderwritingStatus = "rejected"
)

// Merchant holds the flat merchant fields read by Application processors.
type Merchant struct {
	Name                 string  `json:"name" db:"merchant_name"`
	EIN                  string  `json:"ein" db:"merchant_ein"`
	Industry             string  `json:"industry" db:"merchant_industry"`
	Email                string  `json:"email" db:"merchant_email"`
	Phone                string  `json:"phone" db:"merchant_phone"`
	Website              string  `json:"website" db:"merchant_website"`
	EntityType           string  `json:"entity_type" db:"merchant_entity_type"`
	IncorporationDate    *string `json:"incorporation_date,omitempty" db:"merchant_incorporation_date"`
	StateOfIncorporation string  `json:"state_of_incorporation" db:"merchant_state_of_incorporation"`
}

// Address is a physical address attached to an Underwriting or an Owner.
type Address struct {
	ID      uuid.UUID `json:"id" db:"id"`
	Line1   string    `json:"addr_1" db:"addr_1"`
	Line2   string    `json:"addr_2" db:"addr_2"`
	City    string    `json:"city" db:"city"`
	State   string    `json:"state" db:"state"`
	Zip     string    `json:"zip" db:"zip"`
}

// Owner is one of the 1..N owners of an Underwriting's merchant.
type Owner struct {
	ID                uuid.UUID `json:"id" db:"id"`
	UnderwritingID    uuid.UUID `json:"underwriting_id" db:"underwriting_id"`
	FirstName         string    `json:"first_name" db:"first_name"`
	LastName          string    `json:"last_name" db:"last_name"`
	Email             string    `json:"email" db:"email"`
	Phone             string    `json:"phone" db:"phone"`
	SSN               string    `json:"ssn" db:"ssn"`
	OwnershipPercent  float64   `json:"ownership_percent" db:"ownership_percent"`
	PrimaryOwner      bool      `json:"primary_owner" db:"primary_owner"`
	Enabled           bool      `json:"enabled" db:"enabled"`
	Address           *Address  `json:"address,omitempty" db:"-"`
}

// DocumentStatus is the lifecycle status of a Document.
type DocumentStatus string

const (
	DocumentStatusPending  DocumentStatus = "pending"
	DocumentStatusAnalyzed DocumentStatus = "analyzed"
)

// Document is one stipulation document attached to an Underwriting, along
// with the revision id it currently resolves to.
type Document struct {
	ID                uuid.UUID      `json:"id" db:"id"`
	UnderwritingID    uuid.UUID      `json:"underwriting_id" db:"underwriting_id"`
	Status            DocumentStatus `json:"status" db:"status"`
	StipulationType   string         `json:"stipulation_type" db:"stipulation_type"`
	CurrentRevisionID uuid.UUID      `json:"current_revision_id" db:"current_revision_id"`
}

// DocumentRevision is one uploaded revision of a Document.
type DocumentRevision struct {
	ID         uuid.UUID `json:"id" db:"id"`
	DocumentID uuid.UUID `json:"document_id" db:"document_id"`
	Revision   int       `json:"revision" db:"revision"`
	GCSURI     string    `json:"gcs_uri" db:"gcs_uri"`
}

// Underwriting is one loan/merit application snapshot: merchant fields,
// owners, and documents, as read by the Filtration stage (spec.md §4.4).
type Underwriting struct {
	ID             uuid.UUID          `json:"id" db:"id"`
	OrganizationID uuid.UUID          `json:"organization_id" db:"organization_id"`
	SerialNumber   string             `json:"serial_number" db:"serial_number"`
	Status         UnderwritingStatus `json:"status" db:"status"`
	Merchant       `json:"merchant"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at" db:"updated_at"`

	Owners    []Owner    `json:"owners" db:"-"`
	Documents []Document `json:"documents" db:"-"`
}

// ProcessorStatus is the status of an OrganizationProcessor subscription.
type ProcessorStatus string

const (
	ProcessorStatusActive   ProcessorStatus = "active"
	ProcessorStatusDisabled ProcessorStatus = "disabled"
)

// JSONMap is a shallow string-keyed map stored as JSON, used for processor
// config and config overrides (spec.md §4.1 "Config resolution").
type JSONMap map[string]any

// MergeConfig returns a new JSONMap that is the shallow, right-wins merge of base
// then overrides in order. Used for the three-level config resolution
// (defaultConfig <- organization_processor.config <- config_override).
func MergeConfig(layers ...JSONMap) JSONMap {
	merged := JSONMap{}
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}

// OrganizationProcessor is a processor a tenant has subscribed to
// (spec.md §3 "OrganizationProcessor (subscription)").
type OrganizationProcessor struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	OrganizationID uuid.UUID       `json:"organization_id" db:"organization_id"`
	Processor      string          `json:"processor" db:"processor"`
	Name           string          `json:"name" db:"name"`
	Auto           bool            `json:"auto" db:"auto"`
	Status         ProcessorStatus `json:"status" db:"status"`
	Config         JSONMap         `json:"config" db:"config"`
	PriceCents     int64           `json:"price_cents" db:"price_cents"`
}

// UnderwritingProcessor binds an OrganizationProcessor subscription to a
// specific Underwriting (spec.md §3 "UnderwritingProcessor (instance)").
type UnderwritingProcessor struct {
	ID                     uuid.UUID   `json:"id" db:"id"`
	OrganizationID         uuid.UUID   `json:"organization_id" db:"organization_id"`
	UnderwritingID         uuid.UUID   `json:"underwriting_id" db:"underwriting_id"`
	OrganizationProcessorID uuid.UUID  `json:"organization_processor_id" db:"organization_processor_id"`
	Processor              string      `json:"processor" db:"processor"`
	Name                   string      `json:"name" db:"name"`
	Auto                   bool        `json:"auto" db:"auto"`
	Enabled                bool        `json:"enabled" db:"enabled"`
	ConfigOverride         JSONMap     `json:"config_override" db:"config_override"`
	CurrentExecutionsList  []uuid.UUID `json:"current_executions_list" db:"current_executions_list"`
}

// ExecutionStatus is the lifecycle status of an Execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Execution is one concrete run of one processor for one underwriting
// (spec.md §3 "Execution").
type Execution struct {
	ID                     uuid.UUID       `json:"id" db:"id"`
	OrganizationID         uuid.UUID       `json:"organization_id" db:"organization_id"`
	UnderwritingID         uuid.UUID       `json:"underwriting_id" db:"underwriting_id"`
	UnderwritingProcessorID uuid.UUID      `json:"underwriting_processor_id" db:"underwriting_processor_id"`
	Processor              string          `json:"processor" db:"processor"`
	Status                 ExecutionStatus `json:"status" db:"status"`
	Enabled                bool            `json:"enabled" db:"enabled"`
	Payload                json.RawMessage `json:"payload" db:"payload"`
	PayloadHash            string          `json:"payload_hash" db:"payload_hash"`
	FactorsDelta           json.RawMessage `json:"factors_delta" db:"factors_delta"`
	RunCostCents           int64           `json:"run_cost_cents" db:"run_cost_cents"`
	DocumentRevisionIDs    []uuid.UUID     `json:"document_revision_ids" db:"document_revision_ids"`
	DocumentIDsHash        *string         `json:"document_ids_hash,omitempty" db:"document_ids_hash"`
	StartedAt              *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt            *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	FailedCode             *string         `json:"failed_code,omitempty" db:"failed_code"`
	FailedReason           *string         `json:"failed_reason,omitempty" db:"failed_reason"`
	UpdatedExecutionID     *uuid.UUID      `json:"updated_execution_id,omitempty" db:"updated_execution_id"`
	CreatedAt              time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at" db:"updated_at"`
}

// IsRunnable reports whether the execution is eligible to be launched by
// the Execution stage (spec.md §4.5 step 2: "status ∈ {pending, failed}").
func (e *Execution) IsRunnable() bool {
	return e.Status == ExecutionStatusPending || e.Status == ExecutionStatusFailed
}

// FactorStatus is the status of a Factor row.
type FactorStatus string

const (
	FactorStatusActive  FactorStatus = "active"
	FactorStatusDeleted FactorStatus = "deleted"
)

// FactorSource identifies who produced a Factor.
type FactorSource string

const (
	FactorSourceProcessor FactorSource = "processor"
	FactorSourceManual    FactorSource = "manual"
)

// Factor is a named, typed output value attached to an Underwriting,
// attributed to the producing Execution (spec.md §3 "Factor").
type Factor struct {
	ID                     uuid.UUID       `json:"id" db:"id"`
	OrganizationID         uuid.UUID       `json:"organization_id" db:"organization_id"`
	UnderwritingID         uuid.UUID       `json:"underwriting_id" db:"underwriting_id"`
	UnderwritingProcessorID uuid.UUID      `json:"underwriting_processor_id" db:"underwriting_processor_id"`
	ExecutionID            uuid.UUID       `json:"execution_id" db:"execution_id"`
	FactorKey              string          `json:"factor_key" db:"factor_key"`
	Value                  json.RawMessage `json:"value" db:"value"`
	Unit                   string          `json:"unit" db:"unit"`
	Source                 FactorSource    `json:"source" db:"source"`
	Status                 FactorStatus    `json:"status" db:"status"`
	FactorHash             string          `json:"factor_hash" db:"factor_hash"`
	CreatedAt              time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at" db:"updated_at"`
}

// WorkflowStage names one audited step of an orchestrator workflow
// (spec.md §3 "WorkflowLog").
type WorkflowStage string

const (
	StageFiltration       WorkflowStage = "filtration"
	StageGenerateExecution WorkflowStage = "generate_execution"
	StagePrepareProcessor WorkflowStage = "prepare_processor"
	StageExecution        WorkflowStage = "execution"
	StageConsolidation    WorkflowStage = "consolidation"
)

// WorkflowLogEntry is one append-only audit record of a workflow stage.
type WorkflowLogEntry struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	UnderwritingID  uuid.UUID       `json:"underwriting_id" db:"underwriting_id"`
	WorkflowName    string          `json:"workflow_name" db:"workflow_name"`
	Stage           WorkflowStage   `json:"stage" db:"stage"`
	Payload         json.RawMessage `json:"payload" db:"payload"`
	Input           json.RawMessage `json:"input" db:"input"`
	Output          json.RawMessage `json:"output" db:"output"`
	Status          string          `json:"status" db:"status"`
	ErrorMessage    *string         `json:"error_message,omitempty" db:"error_message"`
	ExecutionTimeMs int64           `json:"execution_time_ms" db:"execution_time_ms"`
	Metadata        json.RawMessage `json:"metadata" db:"metadata"`
	Attempt         int             `json:"attempt" db:"attempt"`
	BrokerMessageID string          `json:"broker_message_id" db:"broker_message_id"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}
