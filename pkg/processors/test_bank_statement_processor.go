package processors

import (
	"context"
	"fmt"
	"time"

	"github.com/jude-scai/processor/pkg/payload"
	execProcessor "github.com/jude-scai/processor/pkg/processor"
	"github.com/jude-scai/processor/pkg/types"
)

// BankStatementProcessor groups bank statement documents into one
// stipulation-level execution (grounded on test_bank_statement_processor.py).
// Its minimum_document check lives in ValidateInput, so an underfilled
// execution fails at pre-extraction rather than being silently skipped
// (spec.md end-to-end scenario: "Stipulation processor with
// minimum_document=3 and 2 matching documents: execution fails at
// pre-extraction; consolidation still runs and produces no new factors.").
type BankStatementProcessor struct {
	execProcessor.Base
}

func (BankStatementProcessor) Name() string { return "test_bank_statement_processor" }

func (BankStatementProcessor) Kind() payload.ProcessorKind { return payload.KindStipulation }

func (BankStatementProcessor) Triggers() payload.Triggers {
	return payload.Triggers{"documents_list": {"s_bank_statement"}}
}

func (BankStatementProcessor) DefaultConfig() types.JSONMap {
	return types.JSONMap{
		"test_mode":          true,
		"debug_output":       true,
		"stipulation_types":  []any{"s_bank_statement"},
		"minimum_document":   3,
	}
}

type bankStatementTransformed struct {
	StipulationType string
	RevisionIDs     []string
	DocumentCount   int
}

func (BankStatementProcessor) TransformInput(_ context.Context, _ *execProcessor.ExecContext, raw map[string]any) (any, error) {
	revisionIDs := toStringSlice(raw["revision_id"])
	return bankStatementTransformed{
		StipulationType: "s_bank_statement",
		RevisionIDs:     revisionIDs,
		DocumentCount:   len(revisionIDs),
	}, nil
}

func (BankStatementProcessor) ValidateInput(_ context.Context, ectx *execProcessor.ExecContext, transformed any) (execProcessor.ValidationResult, error) {
	t := transformed.(bankStatementTransformed)
	var errs []string

	if t.StipulationType == "" {
		errs = append(errs, "Stipulation type is required")
	}
	if len(t.RevisionIDs) == 0 {
		errs = append(errs, "At least one document revision is required")
	}

	minimumDocument := 3
	if v, ok := ectx.Config["minimum_document"]; ok {
		if n, ok := toInt(v); ok {
			minimumDocument = n
		}
	}
	if t.DocumentCount < minimumDocument {
		errs = append(errs, fmt.Sprintf("Minimum %d bank statements required, got %d", minimumDocument, t.DocumentCount))
	}

	if len(errs) > 0 {
		return execProcessor.Invalid(errs...), nil
	}
	return execProcessor.Valid(), nil
}

func (BankStatementProcessor) Extract(_ context.Context, ectx *execProcessor.ExecContext, validated any) (map[string]any, error) {
	t := validated.(bankStatementTransformed)
	ectx.AddCost(150, "extraction")
	for _, rid := range t.RevisionIDs {
		ectx.AddDocumentRevisionID(rid)
	}
	ectx.SetBaseDocumentIDs(t.RevisionIDs)

	factors := map[string]any{
		"f_stipulation_type":         "s_bank_statement",
		"f_document_count":           t.DocumentCount,
		"f_revision_ids":             t.RevisionIDs,
		"f_bank_statement_count":     t.DocumentCount,
		"f_bank_statement_processed": true,
		"f_avg_monthly_revenue":      50000.0,
		"f_nsf_count":                2,
		"f_cash_flow_positive":       true,
		"f_minimum_balance":          10000.0,

		"f_test_processor_type":  "STIPULATION",
		"f_test_mode":             true,
		"f_extraction_timestamp":  time.Now().UTC().Format(time.RFC3339),
	}

	return map[string]any{
		"factors": factors,
		"metadata": map[string]any{
			"processor_name":    "test_bank_statement_processor",
			"processor_type":    "STIPULATION",
			"stipulation_type":  "s_bank_statement",
			"document_count":    t.DocumentCount,
			"extraction_method": "test_bank_statement_extraction",
		},
	}, nil
}

func (BankStatementProcessor) ValidateOutput(_ context.Context, _ *execProcessor.ExecContext, output map[string]any) (execProcessor.ValidationResult, error) {
	var errs []string
	factors, _ := output["factors"].(map[string]any)
	if factors == nil {
		errs = append(errs, "Missing factors in extraction result")
	}
	if _, ok := output["metadata"]; !ok {
		errs = append(errs, "Missing metadata in extraction result")
	}
	if isEmpty(factors["f_stipulation_type"]) {
		errs = append(errs, "Missing stipulation type factor")
	}
	if isEmpty(factors["f_document_count"]) {
		errs = append(errs, "Missing document count factor")
	}
	if len(errs) > 0 {
		return execProcessor.Invalid(errs...), nil
	}
	return execProcessor.Valid(), nil
}

func (BankStatementProcessor) ShouldExecute(raw map[string]any) (bool, string) {
	revisionIDs := toStringSlice(raw["revision_id"])
	if len(revisionIDs) == 0 {
		return false, "No bank statement documents available"
	}
	return true, ""
}

func init() {
	execProcessor.Register("test_bank_statement_processor", func() execProcessor.Processor { return BankStatementProcessor{} })
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
