// Package worker consumes queued message jobs and produces replies: the
// text pipeline for text messages, a direct multimodal call for voice
// notes, and delivery back through the Evolution API.
package worker

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atenlabs/atenbot/internal/agents"
	"github.com/atenlabs/atenbot/internal/config"
	"github.com/atenlabs/atenbot/internal/evolution"
	"github.com/atenlabs/atenbot/internal/providers"
	"github.com/atenlabs/atenbot/internal/queue"
	"github.com/atenlabs/atenbot/internal/store"
)

// audioApology is sent when a voice note's payload cannot be obtained
// at all. This is a terminal outcome, not a retry.
const audioApology = "recebi seu áudio, mas por uma falha técnica não consegui escutar. Pode escrever ou tentar mandar de novo?"

// Messenger is the outbound delivery surface the pool needs.
// *evolution.Client satisfies it.
type Messenger interface {
	SendText(ctx context.Context, instance, number, text string) error
	SendPresence(ctx context.Context, instance, number, state string) error
	DownloadMedia(ctx context.Context, url string) ([]byte, error)
}

// Replier produces the final text reply for an inbound text message.
// *agents.Pipeline satisfies it.
type Replier interface {
	Reply(ctx context.Context, req agents.ReplyRequest) (string, error)
}

// Pool runs a fixed number of concurrent job consumers over the queue.
type Pool struct {
	cfg       *config.Config
	queue     queue.Queue
	stores    *store.Stores
	pipeline  Replier
	generator agents.TextGenerator // direct audio calls bypass the pipeline
	messenger Messenger

	// Reply defaults are swappable at runtime (config hot reload).
	botMu sync.RWMutex
	bot   config.BotConfig
}

// NewPool wires a consumer pool. Concurrency comes from
// cfg.Workers.Concurrency.
func NewPool(cfg *config.Config, q queue.Queue, stores *store.Stores, pipeline Replier, gen agents.TextGenerator, m Messenger) *Pool {
	return &Pool{
		cfg:       cfg,
		queue:     q,
		stores:    stores,
		pipeline:  pipeline,
		generator: gen,
		messenger: m,
		bot:       cfg.Bot,
	}
}

// UpdateBotDefaults swaps the config-level reply defaults. Jobs picked
// up after the call see the new values; listener and pool sizing still
// need a restart.
func (p *Pool) UpdateBotDefaults(bot config.BotConfig) {
	p.botMu.Lock()
	p.bot = bot
	p.botMu.Unlock()
	slog.Info("worker.bot_defaults_updated", "auto_reply", bot.AutoReplyDefault)
}

func (p *Pool) botDefaults() config.BotConfig {
	p.botMu.RLock()
	defer p.botMu.RUnlock()
	return p.bot
}

// Run blocks until ctx is cancelled or the queue closes. Every consumer
// drains independently; a job failure never stops the pool.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.cfg.Workers.Concurrency; i++ {
		g.Go(func() error {
			return p.consume(ctx)
		})
	}

	slog.Info("worker.pool_started", "concurrency", p.cfg.Workers.Concurrency)
	return g.Wait()
}

func (p *Pool) consume(ctx context.Context) error {
	for {
		d, ok := p.queue.Consume(ctx)
		if !ok {
			return nil
		}

		start := time.Now()
		err := p.process(ctx, d.Job)
		if err != nil {
			slog.Error("worker.job_failed",
				"job", d.Job.ID,
				"message_id", d.Job.MessageID,
				"attempt", d.Job.Attempt,
				"error", err)
			if nerr := d.Nack(ctx, err); nerr != nil {
				slog.Error("worker.nack_failed", "job", d.Job.ID, "error", nerr)
			}
			continue
		}

		if aerr := d.Ack(ctx); aerr != nil {
			slog.Error("worker.ack_failed", "job", d.Job.ID, "error", aerr)
			continue
		}
		slog.Info("worker.job_completed",
			"job", d.Job.ID,
			"kind", d.Job.Kind,
			"duration", time.Since(start).Round(time.Millisecond))
	}
}

// process handles one delivery. A nil return acknowledges the job —
// including deliberate drops (auto-reply off, empty content); an error
// triggers redelivery with backoff.
func (p *Pool) process(ctx context.Context, job *queue.Job) error {
	// Presence is cosmetic; failures never affect the job.
	presence := evolution.PresenceComposing
	if job.Kind == queue.KindAudio {
		presence = evolution.PresenceRecording
	}
	if err := p.messenger.SendPresence(ctx, job.Instance, job.Sender, presence); err != nil {
		slog.Debug("worker.presence_failed", "error", err)
	}

	var reply string
	var err error
	switch job.Kind {
	case queue.KindAudio:
		reply, err = p.processAudio(ctx, job)
	default:
		reply, err = p.processText(ctx, job)
	}
	if err != nil {
		return err
	}

	if reply == "" {
		return nil
	}
	if err := p.messenger.SendText(ctx, job.Instance, job.Sender, reply); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// processText runs the three-stage reply pipeline over the message.
// The auto-reply gate applies to text only; voice notes are always
// answered.
func (p *Pool) processText(ctx context.Context, job *queue.Job) (string, error) {
	if job.Text == "" {
		return "", nil
	}

	autoReply, persona := p.replySettings(ctx, job.Instance)
	if !autoReply {
		slog.Debug("worker.auto_reply_off", "instance", job.Instance, "message_id", job.MessageID)
		return "", nil
	}

	history := p.history(ctx, job.Sender, p.botDefaults().HistoryLimit)

	return p.pipeline.Reply(ctx, agents.ReplyRequest{
		Conversation: job.Sender,
		SenderName:   job.SenderName,
		Message:      job.Text,
		History:      history,
		Persona:      persona,
	})
}

// processAudio answers a voice note with a single direct multimodal
// call. When the payload is inline it is used as-is; otherwise the
// media URL is fetched as a fallback. A payload that cannot be obtained
// either way yields the fixed apology instead of an error — retrying
// will not make the audio appear.
func (p *Pool) processAudio(ctx context.Context, job *queue.Job) (string, error) {
	b64 := job.AudioBase64
	if b64 == "" && job.AudioURL != "" {
		data, err := p.messenger.DownloadMedia(ctx, job.AudioURL)
		if err != nil {
			slog.Warn("worker.audio_download_failed", "message_id", job.MessageID, "error", err)
		} else {
			b64 = base64.StdEncoding.EncodeToString(data)
		}
	}

	if b64 == "" {
		slog.Warn("worker.audio_unavailable", "message_id", job.MessageID)
		return audioApology, nil
	}

	history := p.history(ctx, job.Sender, p.botDefaults().AudioHistoryLimit)

	prompt := fmt.Sprintf("O usuário %s enviou este áudio. Ouça com atenção, transcreva mentalmente e responda à pergunta ou comentário. Se for apenas ruído ou silêncio, diga que não entendeu.", job.SenderName)
	system := fmt.Sprintf("Você é o AtenBot, assistente jurídico. O usuário se chama %s. Responda ao áudio de forma direta, curta e natural (estilo WhatsApp). Se o áudio referir a mensagens anteriores, use o histórico.", job.SenderName)

	return p.generator.Generate(ctx, providers.GenerateRequest{
		Parts: []providers.Part{
			{Text: prompt},
			{InlineData: &providers.Blob{MIMEType: "audio/ogg", Data: b64}},
		},
		History:           history,
		SystemInstruction: system,
	})
}

// replySettings resolves per-instance settings with config defaults.
func (p *Pool) replySettings(ctx context.Context, instance string) (autoReply bool, persona string) {
	bot := p.botDefaults()
	autoReply = bot.AutoReplyDefault
	persona = bot.DefaultPersona

	s, found, err := p.stores.Settings.Get(ctx, instance)
	if err != nil {
		slog.Warn("worker.settings_load_failed", "instance", instance, "error", err)
		return autoReply, persona
	}
	if !found {
		return autoReply, persona
	}

	autoReply = s.AutoReply
	if s.Persona != "" {
		persona = s.Persona
	}
	return autoReply, persona
}

// history loads recent turns as provider context. History is
// best-effort: a store failure degrades to an empty context.
func (p *Pool) history(ctx context.Context, conversation string, limit int) []providers.Turn {
	turns, err := p.stores.Messages.Recent(ctx, conversation, limit)
	if err != nil {
		slog.Warn("worker.history_load_failed", "conversation", conversation, "error", err)
		return nil
	}

	out := make([]providers.Turn, 0, len(turns))
	for _, t := range turns {
		out = append(out, providers.Turn{Role: t.Role(), Content: t.Content})
	}
	return out
}
