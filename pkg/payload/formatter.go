package payload

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/itchyny/gojq"

	"github.com/jude-scai/processor/pkg/types"
)

// ProcessorKind is the shape of processor a payload is being formatted for
// (spec.md §3 "Processor.kind").
type ProcessorKind string

const (
	KindApplication ProcessorKind = "application"
	KindStipulation ProcessorKind = "stipulation"
	KindDocument    ProcessorKind = "document"
)

// applicationFieldPaths maps the merchant fields a processor may declare in
// its application_form trigger list to the dot-path used to read them off
// the underwriting record.
var applicationFieldPaths = map[string]string{
	"merchant.name":                     ".merchant.name",
	"merchant.ein":                      ".merchant.ein",
	"merchant.industry":                 ".merchant.industry",
	"merchant.email":                    ".merchant.email",
	"merchant.phone":                    ".merchant.phone",
	"merchant.website":                  ".merchant.website",
	"merchant.entity_type":              ".merchant.entity_type",
	"merchant.incorporation_date":       ".merchant.incorporation_date",
	"merchant.state_of_incorporation":   ".merchant.state_of_incorporation",
}

// FormatPayloadList builds the list of candidate execution payloads for one
// (processor kind, triggers, underwriting) combination (spec.md §4.3).
// A nil result is returned only for an Application processor with no
// application_form triggers, and means the processor is skipped entirely.
// An empty, non-nil slice means no matching data exists yet; Stipulation
// and Document processors with no documents_list trigger also get one.
func FormatPayloadList(kind ProcessorKind, triggers Triggers, uw *types.Underwriting) ([]map[string]any, error) {
	switch kind {
	case KindApplication:
		return formatApplicationPayload(triggers, uw)
	case KindStipulation:
		return formatStipulationPayload(triggers, uw)
	case KindDocument:
		return formatDocumentPayload(triggers, uw)
	default:
		return []map[string]any{}, nil
	}
}

func formatApplicationPayload(triggers Triggers, uw *types.Underwriting) ([]map[string]any, error) {
	triggerFields := triggers["application_form"]
	if len(triggerFields) == 0 {
		return nil, nil
	}

	underwritingDoc, err := underwritingToMap(uw)
	if err != nil {
		return nil, fmt.Errorf("failed to build underwriting document: %w", err)
	}

	applicationForm := map[string]any{}
	for _, dotKey := range triggerFields {
		path, known := applicationFieldPaths[dotKey]
		if !known {
			continue
		}
		value, err := queryOne(underwritingDoc, path)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate trigger field %q: %w", dotKey, err)
		}
		if value != nil && value != "" {
			applicationForm[dotKey] = value
		}
	}

	hasData := false
	for _, field := range triggerFields {
		if applicationForm[field] != nil {
			hasData = true
			break
		}
	}
	if !hasData {
		return []map[string]any{}, nil
	}

	owners := make([]any, 0, len(uw.Owners))
	for _, o := range uw.Owners {
		owners = append(owners, ownerToMap(o))
	}

	return []map[string]any{
		{
			"application_form": applicationForm,
			"owners_list":       owners,
		},
	}, nil
}

func formatStipulationPayload(triggers Triggers, uw *types.Underwriting) ([]map[string]any, error) {
	triggerDocs := triggers["documents_list"]
	if len(triggerDocs) == 0 {
		return []map[string]any{}, nil
	}
	stipulationType := triggerDocs[0]

	revisionIDs := make([]any, 0)
	for _, doc := range uw.Documents {
		if doc.StipulationType != stipulationType {
			continue
		}
		if doc.CurrentRevisionID != uuid.Nil {
			revisionIDs = append(revisionIDs, doc.CurrentRevisionID.String())
		}
	}
	if len(revisionIDs) == 0 {
		return []map[string]any{}, nil
	}

	return []map[string]any{
		{"revision_id": revisionIDs},
	}, nil
}

func formatDocumentPayload(triggers Triggers, uw *types.Underwriting) ([]map[string]any, error) {
	triggerDocs := triggers["documents_list"]
	if len(triggerDocs) == 0 {
		return []map[string]any{}, nil
	}
	stipulationType := triggerDocs[0]

	payloads := make([]map[string]any, 0)
	for _, doc := range uw.Documents {
		if doc.StipulationType != stipulationType {
			continue
		}
		if doc.CurrentRevisionID == uuid.Nil {
			continue
		}
		payloads = append(payloads, map[string]any{
			"revision_id": doc.CurrentRevisionID.String(),
		})
	}
	return payloads, nil
}

func ownerToMap(o types.Owner) map[string]any {
	m := map[string]any{
		"id":                o.ID.String(),
		"first_name":        o.FirstName,
		"last_name":         o.LastName,
		"email":             o.Email,
		"phone":             o.Phone,
		"ssn":               o.SSN,
		"ownership_percent": o.OwnershipPercent,
		"primary_owner":     o.PrimaryOwner,
		"enabled":           o.Enabled,
	}
	return m
}

func underwritingToMap(uw *types.Underwriting) (map[string]any, error) {
	var incorporationDate any
	if uw.Merchant.IncorporationDate != nil {
		incorporationDate = *uw.Merchant.IncorporationDate
	}

	return map[string]any{
		"merchant": map[string]any{
			"name":                   uw.Merchant.Name,
			"ein":                    uw.Merchant.EIN,
			"industry":               uw.Merchant.Industry,
			"email":                  uw.Merchant.Email,
			"phone":                  uw.Merchant.Phone,
			"website":                uw.Merchant.Website,
			"entity_type":            uw.Merchant.EntityType,
			"incorporation_date":     incorporationDate,
			"state_of_incorporation": uw.Merchant.StateOfIncorporation,
		},
	}, nil
}

// queryOne evaluates a single-result gojq dot-path against doc, used to
// pull nested merchant.* fields out of the underwriting document the same
// way the processor triggers name them.
func queryOne(doc map[string]any, path string) (any, error) {
	query, err := gojq.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger path %q: %w", path, err)
	}

	iter := query.Run(doc)
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, ok := v.(error); ok {
		return nil, err
	}
	return v, nil
}
