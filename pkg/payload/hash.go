// Package payload builds processor execution payloads from underwriting
// data (spec.md §4.3) and hashes them for deduplication (spec.md §4.2).
package payload

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Triggers maps a trigger kind ("application_form" | "documents_list") to
// the field names (application_form) or stipulation type (documents_list)
// that activate a processor, mirroring organization_processors.triggers.
type Triggers map[string][]string

// Hash computes the SHA-256 deduplication hash of payload, restricted to
// the fields named by triggers (spec.md §4.2). This is a deliberately
// stdlib-only component: canonical JSON with recursively sorted map keys
// and SHA-256 digesting is exact, low-level byte shaping that no library
// in the pack provides out of the box without reimplementing the same
// normalization logic it would wrap.
func Hash(pld map[string]any, triggers Triggers) string {
	filtered := extractTriggerFields(pld, triggers)
	normalized := normalize(filtered)

	canonical, err := marshalSorted(normalized)
	if err != nil {
		// normalize() only ever produces map[string]any, []any, and JSON
		// primitives, all of which always marshal.
		panic(err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func extractTriggerFields(pld map[string]any, triggers Triggers) map[string]any {
	filtered := map[string]any{}

	if fields, ok := triggers["application_form"]; ok {
		if appForm, ok := pld["application_form"].(map[string]any); ok {
			filteredForm := map[string]any{}
			for _, field := range fields {
				if v, present := appForm[field]; present {
					filteredForm[field] = v
				}
			}
			if len(filteredForm) > 0 {
				filtered["application_form"] = filteredForm
			}
		}
	}

	if _, ok := triggers["documents_list"]; ok {
		if revisionID, present := pld["revision_id"]; present {
			filtered["revision_id"] = revisionID
		}
	}

	return filtered
}

// normalize recursively converts a decoded JSON-ish value into the
// canonical shape used for hashing: maps and slices are walked, keys will
// be sorted at marshal time, slice order is preserved.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return val
	}
}

// marshalSorted renders v as JSON with lexicographically sorted object
// keys at every nesting level, matching Python's json.dumps(sort_keys=True).
func marshalSorted(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, keyJSON...)
			buf = append(buf, ':')

			valJSON, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, valJSON...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []any:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			itemJSON, err := marshalSorted(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, itemJSON...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(val)
	}
}

// DocumentIDsHash is the secondary fingerprint over the sorted set of
// document revision ids an execution consumed, used only for observability
// (distinct from the dedup key PayloadHash; spec.md §4.2 supplement).
func DocumentIDsHash(revisionIDs []string) string {
	sorted := append([]string(nil), revisionIDs...)
	sort.Strings(sorted)

	ids := make([]any, len(sorted))
	for i, id := range sorted {
		ids[i] = id
	}

	canonical, err := marshalSorted(ids)
	if err != nil {
		panic(err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
