// Package caption extracts spoken text from provider webhook payloads.
//
// Call providers deliver closed-caption events in several payload shapes
// depending on SDK version and transport. Extract probes the documented
// locations first and falls back to a bounded scan of the whole payload.
package caption

import (
	"sort"
	"strings"
)

// maxScanDepth bounds the fallback traversal so malformed or
// self-referential payloads cannot recurse without limit.
const maxScanDepth = 6

var textKeys = [...]string{"text", "caption", "content"}

var captionHolders = [...]string{"closed_caption", "caption"}

var nestedHolders = [...]string{"payload", "data"}

// Extract returns the spoken text carried by an event payload, or the empty
// string when no text-like field is present. It never panics on missing
// fields, wrong types, or malformed structures.
func Extract(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	for _, holder := range captionHolders {
		if sub, ok := payload[holder].(map[string]any); ok {
			if text := textField(sub); text != "" {
				return text
			}
		}
	}
	for _, holder := range nestedHolders {
		sub, ok := payload[holder].(map[string]any)
		if !ok {
			continue
		}
		if text := textField(sub); text != "" {
			return text
		}
		for _, inner := range captionHolders {
			if m, ok := sub[inner].(map[string]any); ok {
				if text := textField(m); text != "" {
					return text
				}
			}
		}
	}
	return scan(payload, 0)
}

// textField reads the first non-empty text-like string field of m.
func textField(m map[string]any) string {
	for _, key := range textKeys {
		if s, ok := m[key].(string); ok {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

// scan walks nested objects in deterministic key order looking for a
// text-like string field.
func scan(m map[string]any, depth int) string {
	if depth >= maxScanDepth {
		return ""
	}
	if text := textField(m); text != "" {
		return text
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := m[k].(type) {
		case map[string]any:
			if text := scan(v, depth+1); text != "" {
				return text
			}
		case []any:
			for _, item := range v {
				if nested, ok := item.(map[string]any); ok {
					if text := scan(nested, depth+1); text != "" {
						return text
					}
				}
			}
		}
	}
	return ""
}
