// Package model defines the boundary to the language-model collaborator.
// The core consumes it through a single narrow operation: generate text
// from a prompt. Synthesis falls back to a deterministic path whenever
// a Generator fails, so implementations are free to be unreliable.
package model

import "context"

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
