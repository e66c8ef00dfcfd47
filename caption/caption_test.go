package caption

import "testing"

func TestExtractKnownLocations(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{
			name:    "direct closed_caption text",
			payload: map[string]any{"closed_caption": map[string]any{"text": "hello there"}},
			want:    "hello there",
		},
		{
			name:    "caption holder content field",
			payload: map[string]any{"caption": map[string]any{"content": "good morning"}},
			want:    "good morning",
		},
		{
			name: "nested under payload",
			payload: map[string]any{
				"payload": map[string]any{"closed_caption": map[string]any{"text": "nested text"}},
			},
			want: "nested text",
		},
		{
			name: "nested under data",
			payload: map[string]any{
				"data": map[string]any{"caption": "level one"},
			},
			want: "level one",
		},
		{
			name: "fallback scan finds deep text",
			payload: map[string]any{
				"event": map[string]any{
					"body": map[string]any{"fragment": map[string]any{"text": "found me"}},
				},
			},
			want: "found me",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Extract(tc.payload); got != tc.want {
				t.Fatalf("Extract() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractNoText(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]any
	}{
		{name: "nil payload", payload: nil},
		{name: "empty payload", payload: map[string]any{}},
		{name: "empty caption holder", payload: map[string]any{"closed_caption": map[string]any{}}},
		{
			name: "deeply nested without text keys",
			payload: map[string]any{
				"a": map[string]any{"b": map[string]any{"c": map[string]any{"d": 42}}},
			},
		},
		{
			name:    "wrong types",
			payload: map[string]any{"closed_caption": "not an object", "text": 7},
		},
		{
			name:    "whitespace only",
			payload: map[string]any{"closed_caption": map[string]any{"text": "   "}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Extract(tc.payload); got != "" {
				t.Fatalf("Extract() = %q, want empty", got)
			}
		})
	}
}

func TestExtractDepthBound(t *testing.T) {
	// Build a chain deeper than the scan bound with text at the bottom.
	leaf := map[string]any{"text": "too deep"}
	payload := map[string]any{}
	current := payload
	for i := 0; i < maxScanDepth+2; i++ {
		next := map[string]any{}
		current["level"] = next
		current = next
	}
	current["leaf"] = leaf

	if got := Extract(payload); got != "" {
		t.Fatalf("Extract() = %q, want empty beyond depth bound", got)
	}
}

func TestExtractCyclicPayload(t *testing.T) {
	payload := map[string]any{}
	payload["self"] = payload

	// Must terminate via the depth bound rather than recurse forever.
	if got := Extract(payload); got != "" {
		t.Fatalf("Extract() = %q, want empty for cyclic payload", got)
	}
}
