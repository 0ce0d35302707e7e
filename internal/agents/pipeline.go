package agents

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/atenlabs/atenbot/internal/providers"
	"github.com/atenlabs/atenbot/internal/store"
)

// ReplyRequest is one pipeline invocation.
type ReplyRequest struct {
	Conversation string // sender JID, the history key
	SenderName   string
	Message      string
	History      []providers.Turn
	Persona      string // per-instance system instruction, empty = default
}

// Pipeline runs Generator → Verifier → Humanizer over one inbound
// message. It persists the inbound text before stage 1 and the final
// text after stage 3; stage errors propagate uncaught — the worker owns
// any user-visible fallback.
type Pipeline struct {
	generator Agent
	verifier  Agent
	humanizer Agent
	messages  store.MessageStore
	tracer    trace.Tracer
}

// NewPipeline wires the three stages over one shared generation client.
func NewPipeline(gen TextGenerator, messages store.MessageStore) *Pipeline {
	return &Pipeline{
		generator: NewGenerator(gen),
		verifier:  NewVerifier(gen),
		humanizer: NewHumanizer(gen),
		messages:  messages,
		tracer:    otel.Tracer("atenbot/agents"),
	}
}

// Reply produces the final reply text for one inbound message.
func (p *Pipeline) Reply(ctx context.Context, req ReplyRequest) (string, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.reply",
		trace.WithAttributes(attribute.String("conversation", req.Conversation)))
	defer span.End()

	start := time.Now()

	// History failures never abort a reply.
	if err := p.messages.Append(ctx, req.Conversation, req.Message, store.DirectionIncoming); err != nil {
		slog.Warn("pipeline.history_append_failed", "direction", "incoming", "error", err)
	}

	draft, err := p.runStage(ctx, p.generator,
		Input{Message: req.Message},
		RunContext{History: req.History, SystemInstruction: req.Persona})
	if err != nil {
		return "", err
	}

	verified, err := p.runStage(ctx, p.verifier,
		Input{Message: req.Message, Draft: draft}, RunContext{})
	if err != nil {
		return "", err
	}

	final, err := p.runStage(ctx, p.humanizer,
		Input{Draft: verified}, RunContext{})
	if err != nil {
		return "", err
	}

	if err := p.messages.Append(ctx, req.Conversation, final, store.DirectionOutgoing); err != nil {
		slog.Warn("pipeline.history_append_failed", "direction", "outgoing", "error", err)
	}

	slog.Info("pipeline.completed",
		"conversation", req.Conversation,
		"duration", time.Since(start).Round(time.Millisecond))
	return final, nil
}

func (p *Pipeline) runStage(ctx context.Context, stage Agent, in Input, rc RunContext) (string, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.stage."+stage.Name())
	defer span.End()

	out, err := stage.Run(ctx, in, rc)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return out, nil
}
