package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atenlabs/atenbot/internal/agents"
	"github.com/atenlabs/atenbot/internal/config"
	"github.com/atenlabs/atenbot/internal/providers"
	"github.com/atenlabs/atenbot/internal/queue"
	"github.com/atenlabs/atenbot/internal/store"
)

type sentText struct {
	instance, number, text string
}

type fakeMessenger struct {
	mu        sync.Mutex
	sent      []sentText
	presences []string
	media     []byte
	mediaErr  error
	sendErr   error
}

func (f *fakeMessenger) SendText(_ context.Context, instance, number, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentText{instance, number, text})
	return nil
}

func (f *fakeMessenger) SendPresence(_ context.Context, _, _, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presences = append(f.presences, state)
	return nil
}

func (f *fakeMessenger) DownloadMedia(_ context.Context, _ string) ([]byte, error) {
	if f.mediaErr != nil {
		return nil, f.mediaErr
	}
	return f.media, nil
}

func (f *fakeMessenger) sentCopy() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.sent...)
}

type fakeReplier struct {
	mu    sync.Mutex
	reqs  []agents.ReplyRequest
	reply string
	err   error
}

func (f *fakeReplier) Reply(_ context.Context, req agents.ReplyRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.reply, f.err
}

type fakeGen struct {
	mu    sync.Mutex
	reqs  []providers.GenerateRequest
	reply string
	err   error
}

func (f *fakeGen) Generate(_ context.Context, req providers.GenerateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.reply, f.err
}

type fixture struct {
	pool      *Pool
	queue     *queue.Memory
	stores    *store.Stores
	replier   *fakeReplier
	gen       *fakeGen
	messenger *fakeMessenger
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Workers.Concurrency = 2
	if mutate != nil {
		mutate(cfg)
	}

	f := &fixture{
		queue:     queue.NewMemory(16),
		stores:    store.NewMemoryStores(),
		replier:   &fakeReplier{reply: "resposta pronta"},
		gen:       &fakeGen{reply: "resposta de áudio"},
		messenger: &fakeMessenger{},
	}
	t.Cleanup(func() { f.queue.Close() })
	f.pool = NewPool(cfg, f.queue, f.stores, f.replier, f.gen, f.messenger)
	return f
}

// runUntil runs the pool until cond holds or the deadline passes.
func (f *fixture) runUntil(t *testing.T, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.pool.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatal("condition not reached before deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestPool_TextJobRepliesThroughPipeline(t *testing.T) {
	f := newFixture(t, nil)

	f.queue.Enqueue(context.Background(), &queue.Job{
		MessageID:  "M1",
		Sender:     "5511999@s.whatsapp.net",
		SenderName: "Maria",
		Text:       "Qual o prazo para recurso?",
		Kind:       queue.KindText,
		Instance:   "inst-1",
	})

	f.runUntil(t, func() bool { return len(f.messenger.sentCopy()) == 1 })

	sent := f.messenger.sentCopy()[0]
	if sent.instance != "inst-1" || sent.number != "5511999@s.whatsapp.net" {
		t.Errorf("sent to %q/%q", sent.instance, sent.number)
	}
	if sent.text != "resposta pronta" {
		t.Errorf("sent text = %q", sent.text)
	}

	req := f.replier.reqs[0]
	if req.Message != "Qual o prazo para recurso?" || req.Conversation != "5511999@s.whatsapp.net" {
		t.Errorf("pipeline request = %+v", req)
	}

	if got := f.messenger.presences; len(got) != 1 || got[0] != "composing" {
		t.Errorf("presences = %v, want one composing", got)
	}
}

func TestPool_AudioJobUsesDirectGeneration(t *testing.T) {
	f := newFixture(t, nil)

	raw := base64.StdEncoding.EncodeToString([]byte("ogg-bytes"))
	f.queue.Enqueue(context.Background(), &queue.Job{
		MessageID:   "A1",
		Sender:      "jid",
		SenderName:  "João",
		AudioBase64: raw,
		Kind:        queue.KindAudio,
		Instance:    "inst-1",
	})

	f.runUntil(t, func() bool { return len(f.messenger.sentCopy()) == 1 })

	if f.messenger.sentCopy()[0].text != "resposta de áudio" {
		t.Errorf("sent = %q", f.messenger.sentCopy()[0].text)
	}
	if len(f.replier.reqs) != 0 {
		t.Error("audio jobs must not go through the text pipeline")
	}

	req := f.gen.reqs[0]
	if len(req.Parts) != 2 || req.Parts[1].InlineData == nil || req.Parts[1].InlineData.Data != raw {
		t.Errorf("generate parts = %+v", req.Parts)
	}
	if !strings.Contains(req.SystemInstruction, "João") {
		t.Errorf("system instruction lacks sender name: %q", req.SystemInstruction)
	}
	if got := f.messenger.presences; len(got) != 1 || got[0] != "recording" {
		t.Errorf("presences = %v, want one recording", got)
	}
}

func TestPool_AudioURLFallbackDownload(t *testing.T) {
	f := newFixture(t, nil)
	f.messenger.media = []byte("downloaded-ogg")

	f.queue.Enqueue(context.Background(), &queue.Job{
		MessageID: "A2",
		Sender:    "jid",
		AudioURL:  "https://media/abc.ogg",
		Kind:      queue.KindAudio,
		Instance:  "inst-1",
	})

	f.runUntil(t, func() bool { return len(f.messenger.sentCopy()) == 1 })

	want := base64.StdEncoding.EncodeToString([]byte("downloaded-ogg"))
	if f.gen.reqs[0].Parts[1].InlineData.Data != want {
		t.Error("generation did not use the downloaded payload")
	}
}

func TestPool_AudioUnavailableSendsApology(t *testing.T) {
	f := newFixture(t, nil)
	f.messenger.mediaErr = errors.New("404")

	f.queue.Enqueue(context.Background(), &queue.Job{
		MessageID: "A3",
		Sender:    "jid",
		AudioURL:  "https://media/gone.ogg",
		Kind:      queue.KindAudio,
		Instance:  "inst-1",
	})

	f.runUntil(t, func() bool { return len(f.messenger.sentCopy()) == 1 })

	if got := f.messenger.sentCopy()[0].text; got != audioApology {
		t.Errorf("sent = %q, want the fixed apology", got)
	}
	if len(f.gen.reqs) != 0 {
		t.Error("no generation call should happen without a payload")
	}
}

func TestPool_AutoReplyOffDropsSilently(t *testing.T) {
	f := newFixture(t, nil)
	f.stores.Settings.Set(context.Background(), "inst-1", store.Settings{AutoReply: false})

	f.queue.Enqueue(context.Background(), &queue.Job{
		MessageID: "M1",
		Sender:    "jid",
		Text:      "oi",
		Kind:      queue.KindText,
		Instance:  "inst-1",
	})

	f.runUntil(t, func() bool { return f.queue.Len() == 0 })
	time.Sleep(50 * time.Millisecond)

	if len(f.messenger.sentCopy()) != 0 {
		t.Error("auto-reply off must not send")
	}
	if len(f.replier.reqs) != 0 {
		t.Error("auto-reply off must not invoke the pipeline")
	}
}

func TestPool_AudioJobIgnoresAutoReplyGate(t *testing.T) {
	f := newFixture(t, nil)
	f.stores.Settings.Set(context.Background(), "inst-1", store.Settings{AutoReply: false})

	raw := base64.StdEncoding.EncodeToString([]byte("ogg-bytes"))
	f.queue.Enqueue(context.Background(), &queue.Job{
		MessageID:   "A1",
		Sender:      "jid",
		SenderName:  "João",
		AudioBase64: raw,
		Kind:        queue.KindAudio,
		Instance:    "inst-1",
	})

	f.runUntil(t, func() bool { return len(f.messenger.sentCopy()) == 1 })

	// Auto-reply off silences the text branch only; voice notes still
	// get answered.
	if got := f.messenger.sentCopy()[0].text; got != "resposta de áudio" {
		t.Errorf("sent = %q", got)
	}
	if len(f.gen.reqs) != 1 {
		t.Errorf("generate calls = %d, want 1", len(f.gen.reqs))
	}
	if len(f.replier.reqs) != 0 {
		t.Error("audio jobs must not go through the text pipeline")
	}
}

func TestPool_UpdatedBotDefaultsApplyToNewJobs(t *testing.T) {
	f := newFixture(t, nil)

	muted := config.Default().Bot
	muted.AutoReplyDefault = false
	f.pool.UpdateBotDefaults(muted)

	f.queue.Enqueue(context.Background(), &queue.Job{
		MessageID: "M1",
		Sender:    "jid",
		Text:      "oi",
		Kind:      queue.KindText,
		Instance:  "inst-1",
	})
	f.runUntil(t, func() bool { return f.queue.Len() == 0 })
	time.Sleep(50 * time.Millisecond)
	if len(f.messenger.sentCopy()) != 0 {
		t.Fatal("muted defaults must drop text jobs")
	}

	unmuted := muted
	unmuted.AutoReplyDefault = true
	f.pool.UpdateBotDefaults(unmuted)

	f.queue.Enqueue(context.Background(), &queue.Job{
		MessageID: "M2",
		Sender:    "jid",
		Text:      "e agora?",
		Kind:      queue.KindText,
		Instance:  "inst-1",
	})
	f.runUntil(t, func() bool { return len(f.messenger.sentCopy()) == 1 })
}

func TestPool_PipelineErrorDeadLettersWithoutSending(t *testing.T) {
	f := newFixture(t, nil)
	f.replier.err = errors.New("provider down")
	f.replier.reply = ""

	f.queue.Enqueue(context.Background(), &queue.Job{
		MessageID: "M1",
		Sender:    "jid",
		Text:      "oi",
		Kind:      queue.KindText,
		Instance:  "inst-1",
	})

	f.runUntil(t, func() bool {
		dead, _ := f.queue.DeadLetters(context.Background())
		return len(dead) == 1
	})

	dead, _ := f.queue.DeadLetters(context.Background())
	if dead[0].Job.MessageID != "M1" {
		t.Errorf("dead letter = %+v", dead[0])
	}
	if !strings.Contains(dead[0].Error, "provider down") {
		t.Errorf("dead letter error = %q", dead[0].Error)
	}
	// Exhausted jobs never produce a user-visible message.
	if len(f.messenger.sentCopy()) != 0 {
		t.Error("dead-lettered job must not send")
	}
	if len(f.replier.reqs) != queue.MaxAttempts {
		t.Errorf("pipeline invoked %d times, want %d attempts", len(f.replier.reqs), queue.MaxAttempts)
	}
}

func TestPool_PersonaFromSettingsReachesPipeline(t *testing.T) {
	f := newFixture(t, nil)
	f.stores.Settings.Set(context.Background(), "inst-1", store.Settings{
		AutoReply: true,
		Persona:   "Você é o assistente da Clínica Sorriso.",
	})

	f.queue.Enqueue(context.Background(), &queue.Job{
		MessageID: "M1",
		Sender:    "jid",
		Text:      "oi",
		Kind:      queue.KindText,
		Instance:  "inst-1",
	})

	f.runUntil(t, func() bool { return len(f.messenger.sentCopy()) == 1 })

	if got := f.replier.reqs[0].Persona; got != "Você é o assistente da Clínica Sorriso." {
		t.Errorf("persona = %q", got)
	}
}

func TestPool_HistoryPassedToPipeline(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.stores.Messages.Append(ctx, "jid", "pergunta antiga", store.DirectionIncoming)
	f.stores.Messages.Append(ctx, "jid", "resposta antiga", store.DirectionOutgoing)

	f.queue.Enqueue(ctx, &queue.Job{
		MessageID: "M1",
		Sender:    "jid",
		Text:      "e agora?",
		Kind:      queue.KindText,
		Instance:  "inst-1",
	})

	f.runUntil(t, func() bool { return len(f.messenger.sentCopy()) == 1 })

	hist := f.replier.reqs[0].History
	if len(hist) != 2 {
		t.Fatalf("history length = %d", len(hist))
	}
	if hist[0].Role != "user" || hist[0].Content != "pergunta antiga" {
		t.Errorf("hist[0] = %+v", hist[0])
	}
	if hist[1].Role != "model" || hist[1].Content != "resposta antiga" {
		t.Errorf("hist[1] = %+v", hist[1])
	}
}
