// Package processors holds the reference test fixture processors used by
// the TEST-WF-001 end-to-end scenario in spec.md §8. Each one is grounded
// directly on one of the original test_*_processor.py fixtures.
package processors

import (
	"context"
	"fmt"
	"time"

	"github.com/jude-scai/processor/pkg/payload"
	execProcessor "github.com/jude-scai/processor/pkg/processor"
	"github.com/jude-scai/processor/pkg/types"
)

// ApplicationProcessor extracts merchant factors from application form
// data (grounded on test_application_processor.py).
type ApplicationProcessor struct {
	execProcessor.Base
}

func (ApplicationProcessor) Name() string { return "test_application_processor" }

func (ApplicationProcessor) Kind() payload.ProcessorKind { return payload.KindApplication }

func (ApplicationProcessor) Triggers() payload.Triggers {
	return payload.Triggers{"application_form": {"merchant.name", "merchant.ein", "merchant.industry"}}
}

func (ApplicationProcessor) DefaultConfig() types.JSONMap {
	return types.JSONMap{"test_mode": true, "debug_output": true}
}

type applicationTransformed struct {
	MerchantName     any
	MerchantEIN      any
	MerchantIndustry any
	RequestAmount    any
	Purpose          any
}

func (ApplicationProcessor) TransformInput(_ context.Context, _ *execProcessor.ExecContext, raw map[string]any) (any, error) {
	form, _ := raw["application_form"].(map[string]any)
	return applicationTransformed{
		MerchantName:     form["merchant.name"],
		MerchantEIN:      form["merchant.ein"],
		MerchantIndustry: form["merchant.industry"],
		RequestAmount:    form["request_amount"],
		Purpose:          form["purpose"],
	}, nil
}

func (ApplicationProcessor) ValidateInput(_ context.Context, _ *execProcessor.ExecContext, transformed any) (execProcessor.ValidationResult, error) {
	t := transformed.(applicationTransformed)
	var errs []string
	if isEmpty(t.MerchantName) {
		errs = append(errs, "Merchant name is required")
	}
	if isEmpty(t.MerchantEIN) {
		errs = append(errs, "Merchant EIN is required")
	}
	if isEmpty(t.MerchantIndustry) {
		errs = append(errs, "Merchant industry is required")
	}
	if len(errs) > 0 {
		return execProcessor.Invalid(errs...), nil
	}
	return execProcessor.Valid(), nil
}

func (ApplicationProcessor) Extract(_ context.Context, ectx *execProcessor.ExecContext, validated any) (map[string]any, error) {
	t := validated.(applicationTransformed)
	ectx.AddCost(50, "extraction")

	factors := map[string]any{
		"f_merchant_name":     t.MerchantName,
		"f_merchant_ein":      t.MerchantEIN,
		"f_merchant_industry": t.MerchantIndustry,
		"f_request_amount":    orZero(t.RequestAmount),
		"f_purpose":           orEmptyString(t.Purpose),

		"f_test_processor_type":   "APPLICATION",
		"f_test_mode":             true,
		"f_extraction_timestamp":  time.Now().UTC().Format(time.RFC3339),
	}

	return map[string]any{
		"factors": factors,
		"metadata": map[string]any{
			"processor_name":    "test_application_processor",
			"processor_type":    "APPLICATION",
			"extraction_method": "test_application_extraction",
		},
	}, nil
}

func (ApplicationProcessor) ValidateOutput(_ context.Context, _ *execProcessor.ExecContext, output map[string]any) (execProcessor.ValidationResult, error) {
	var errs []string
	factors, _ := output["factors"].(map[string]any)
	if factors == nil {
		errs = append(errs, "Missing factors in extraction result")
	}
	if _, ok := output["metadata"]; !ok {
		errs = append(errs, "Missing metadata in extraction result")
	}
	if isEmpty(factors["f_merchant_name"]) {
		errs = append(errs, "Missing merchant name factor")
	}
	if isEmpty(factors["f_merchant_ein"]) {
		errs = append(errs, "Missing merchant EIN factor")
	}
	if len(errs) > 0 {
		return execProcessor.Invalid(errs...), nil
	}
	return execProcessor.Valid(), nil
}

func (ApplicationProcessor) ShouldExecute(raw map[string]any) (bool, string) {
	form, _ := raw["application_form"].(map[string]any)
	var missing []string
	for _, field := range []string{"merchant.name", "merchant.ein", "merchant.industry"} {
		if isEmpty(form[field]) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return false, fmt.Sprintf("Missing required fields: %v", missing)
	}
	return true, ""
}

func init() {
	execProcessor.Register("test_application_processor", func() execProcessor.Processor { return ApplicationProcessor{} })
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

func orZero(v any) any {
	if v == nil {
		return 0
	}
	return v
}

func orEmptyString(v any) any {
	if v == nil {
		return ""
	}
	return v
}
