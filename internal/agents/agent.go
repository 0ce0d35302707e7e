// Package agents implements the three-stage reply pipeline:
// Generator drafts, Verifier checks, Humanizer rewrites for tone.
// Stages are pure transforms over the passed context; every model call
// goes through the shared rate-limited client.
package agents

import (
	"context"

	"github.com/atenlabs/atenbot/internal/providers"
)

// TextGenerator is the generation capability as the agents consume it —
// in practice the rate-limited, credential-rotating client.
type TextGenerator interface {
	Generate(ctx context.Context, req providers.GenerateRequest) (string, error)
}

// Input carries the texts a stage operates on.
type Input struct {
	Message string // original inbound message
	Draft   string // draft produced by an earlier stage
}

// RunContext is the read-only context threaded through a stage run.
type RunContext struct {
	History []providers.Turn

	// SystemInstruction is the externally configured persona. Only the
	// Generator honours it; empty means the agent's own instruction.
	SystemInstruction string
}

// Agent is one pipeline stage.
type Agent interface {
	Name() string

	// Instruction builds the stage's own system instruction for the input.
	Instruction(in Input) string

	// Run executes the stage and returns its output text.
	Run(ctx context.Context, in Input, rc RunContext) (string, error)
}
