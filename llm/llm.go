// Package llm defines the language-model boundary used by the turn
// pipeline: a single-shot completion over a rendered prompt.
package llm

import "context"

// Provider generates a reply for a fully rendered prompt.
type Provider interface {
	// Complete returns the model's reply text. An empty reply is not an
	// error; callers substitute their own fallback.
	Complete(ctx context.Context, prompt string) (string, error)
}
