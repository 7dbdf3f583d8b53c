package processors

import (
	"context"
	"time"

	"github.com/jude-scai/processor/pkg/payload"
	execProcessor "github.com/jude-scai/processor/pkg/processor"
	"github.com/jude-scai/processor/pkg/types"
)

// DriversLicenseProcessor extracts identity factors from a single drivers
// license document (grounded on test_drivers_license_processor.py). Unlike
// the other two fixtures it overrides Consolidate: since it runs once per
// document rather than per stipulation batch, merging keeps the most
// recently generated execution's factors instead of the first.
type DriversLicenseProcessor struct {
	execProcessor.Base
}

func (DriversLicenseProcessor) Name() string { return "test_drivers_license_processor" }

func (DriversLicenseProcessor) Kind() payload.ProcessorKind { return payload.KindDocument }

func (DriversLicenseProcessor) Triggers() payload.Triggers {
	return payload.Triggers{"documents_list": {"s_drivers_license"}}
}

func (DriversLicenseProcessor) DefaultConfig() types.JSONMap {
	return types.JSONMap{
		"test_mode":         true,
		"debug_output":      true,
		"stipulation_types": []any{"s_drivers_license"},
	}
}

type driversLicenseTransformed struct {
	StipulationType string
	RevisionID      string
}

func (DriversLicenseProcessor) TransformInput(_ context.Context, _ *execProcessor.ExecContext, raw map[string]any) (any, error) {
	revisionID, _ := raw["revision_id"].(string)
	return driversLicenseTransformed{
		StipulationType: "s_drivers_license",
		RevisionID:      revisionID,
	}, nil
}

func (DriversLicenseProcessor) ValidateInput(_ context.Context, _ *execProcessor.ExecContext, transformed any) (execProcessor.ValidationResult, error) {
	t := transformed.(driversLicenseTransformed)
	var errs []string
	if t.RevisionID == "" {
		errs = append(errs, "Document revision ID is required")
	}
	if t.StipulationType == "" {
		errs = append(errs, "Stipulation type is required")
	} else if t.StipulationType != "s_drivers_license" {
		errs = append(errs, "Unsupported stipulation type: "+t.StipulationType)
	}
	if len(errs) > 0 {
		return execProcessor.Invalid(errs...), nil
	}
	return execProcessor.Valid(), nil
}

func (DriversLicenseProcessor) Extract(_ context.Context, ectx *execProcessor.ExecContext, validated any) (map[string]any, error) {
	t := validated.(driversLicenseTransformed)
	ectx.AddCost(100, "extraction")
	ectx.AddDocumentRevisionID(t.RevisionID)
	ectx.SetBaseDocumentIDs([]string{t.RevisionID})

	factors := map[string]any{
		"f_stipulation_type":          "s_drivers_license",
		"f_revision_id":               t.RevisionID,
		"f_drivers_license_processed": true,
		"f_identity_verified":         true,
		"f_license_valid":             true,
		"f_license_number":            "DL123456789",
		"f_license_state":             "CA",
		"f_license_expiry":            "2025-12-31",

		"f_test_processor_type":  "DOCUMENT",
		"f_test_mode":             true,
		"f_extraction_timestamp":  time.Now().UTC().Format(time.RFC3339),
	}

	return map[string]any{
		"factors": factors,
		"metadata": map[string]any{
			"processor_name":    "test_drivers_license_processor",
			"processor_type":    "DOCUMENT",
			"stipulation_type":  "s_drivers_license",
			"revision_id":       t.RevisionID,
			"extraction_method": "test_drivers_license_extraction",
		},
	}, nil
}

func (DriversLicenseProcessor) ValidateOutput(_ context.Context, _ *execProcessor.ExecContext, output map[string]any) (execProcessor.ValidationResult, error) {
	var errs []string
	factors, _ := output["factors"].(map[string]any)
	if factors == nil {
		errs = append(errs, "Missing factors in extraction result")
	}
	if _, ok := output["metadata"]; !ok {
		errs = append(errs, "Missing metadata in extraction result")
	}
	if isEmpty(factors["f_revision_id"]) {
		errs = append(errs, "Missing revision ID factor")
	}
	if isEmpty(factors["f_identity_verified"]) {
		errs = append(errs, "Missing identity verification factor")
	}
	if len(errs) > 0 {
		return execProcessor.Invalid(errs...), nil
	}
	return execProcessor.Valid(), nil
}

func (DriversLicenseProcessor) ShouldExecute(raw map[string]any) (bool, string) {
	revisionID, _ := raw["revision_id"].(string)
	if revisionID == "" {
		return false, "No drivers license document available"
	}
	return true, ""
}

// Consolidate keeps the last execution's factors rather than the first,
// since document processors run once per document and the most recently
// generated execution reflects the current document set.
func (DriversLicenseProcessor) Consolidate(factorsList []map[string]any) map[string]any {
	if len(factorsList) == 0 {
		return map[string]any{}
	}
	return factorsList[len(factorsList)-1]
}

func init() {
	execProcessor.Register("test_drivers_license_processor", func() execProcessor.Processor { return DriversLicenseProcessor{} })
}
