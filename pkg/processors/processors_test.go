package processors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	execProcessor "github.com/jude-scai/processor/pkg/processor"
)

func runPipeline(t *testing.T, p execProcessor.Processor, raw map[string]any, config map[string]any) execProcessor.Result {
	t.Helper()
	ectx := execProcessor.NewExecContext("exec-1", "up-1", config)
	return execProcessor.Execute(context.Background(), p, ectx, raw)
}

func TestApplicationProcessor_CompletesWithMerchantFactors(t *testing.T) {
	raw := map[string]any{
		"application_form": map[string]any{
			"merchant.name":     "Acme Corp",
			"merchant.ein":      "12-3456789",
			"merchant.industry": "retail",
		},
	}

	result := runPipeline(t, ApplicationProcessor{}, raw, nil)

	require.Equal(t, "", result.ErrorMessage)
	assert.Equal(t, "Acme Corp", result.Output["factors"].(map[string]any)["f_merchant_name"])
}

func TestApplicationProcessor_FailsPreExtractionWhenEINMissing(t *testing.T) {
	raw := map[string]any{
		"application_form": map[string]any{
			"merchant.name":     "Acme Corp",
			"merchant.industry": "retail",
		},
	}

	result := runPipeline(t, ApplicationProcessor{}, raw, nil)

	assert.NotEqual(t, "", result.ErrorMessage)
	assert.Equal(t, execProcessor.PhasePreExtraction, result.ErrorPhase)
}

func TestBankStatementProcessor_CompletesWithThreeDocuments(t *testing.T) {
	raw := map[string]any{
		"revision_id": []string{"r1", "r2", "r3"},
	}

	result := runPipeline(t, BankStatementProcessor{}, raw, nil)

	require.Equal(t, "", result.ErrorMessage)
	factors := result.Output["factors"].(map[string]any)
	assert.Equal(t, 3, factors["f_document_count"])
	assert.Len(t, result.DocumentRevisionIDs, 3)
}

func TestBankStatementProcessor_FailsPreExtractionWhenUnderMinimum(t *testing.T) {
	raw := map[string]any{
		"revision_id": []string{"r1", "r2"},
	}

	result := runPipeline(t, BankStatementProcessor{}, raw, nil)

	assert.NotEqual(t, "", result.ErrorMessage)
	assert.Equal(t, execProcessor.PhasePreExtraction, result.ErrorPhase)
	assert.Contains(t, result.ErrorMessage, "Minimum 3 bank statements required, got 2")
}

func TestBankStatementProcessor_HonorsConfigOverrideOfMinimumDocument(t *testing.T) {
	raw := map[string]any{
		"revision_id": []string{"r1", "r2"},
	}

	result := runPipeline(t, BankStatementProcessor{}, raw, map[string]any{"minimum_document": 2})

	assert.Equal(t, "", result.ErrorMessage)
}

func TestDriversLicenseProcessor_CompletesWithOneDocument(t *testing.T) {
	raw := map[string]any{"revision_id": "dl-rev-1"}

	result := runPipeline(t, DriversLicenseProcessor{}, raw, nil)

	require.Equal(t, "", result.ErrorMessage)
	factors := result.Output["factors"].(map[string]any)
	assert.Equal(t, "dl-rev-1", factors["f_revision_id"])
	assert.Equal(t, []string{"dl-rev-1"}, result.DocumentRevisionIDs)
}

func TestDriversLicenseProcessor_FailsPreExtractionWithoutRevisionID(t *testing.T) {
	raw := map[string]any{"revision_id": ""}

	result := runPipeline(t, DriversLicenseProcessor{}, raw, nil)

	assert.NotEqual(t, "", result.ErrorMessage)
	assert.Equal(t, execProcessor.PhasePreExtraction, result.ErrorPhase)
}

func TestDriversLicenseProcessor_ConsolidateKeepsLastExecution(t *testing.T) {
	p := DriversLicenseProcessor{}
	merged := p.Consolidate([]map[string]any{
		{"f_revision_id": "dl-1"},
		{"f_revision_id": "dl-2"},
	})

	assert.Equal(t, "dl-2", merged["f_revision_id"])
}

func TestRegistry_AllThreeFixtureProcessorsRegistered(t *testing.T) {
	for _, name := range []string{
		"test_application_processor",
		"test_bank_statement_processor",
		"test_drivers_license_processor",
	} {
		_, err := execProcessor.Get(name)
		assert.NoError(t, err, "expected %s to be registered", name)
	}
}
