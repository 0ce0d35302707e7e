package gateway

import (
	"strings"
	"time"

	"github.com/atenlabs/atenbot/internal/queue"
)

// Status is the classification returned in every webhook response. The
// endpoint answers 200 for all of these — a webhook delivery is
// acknowledged even when the message is discarded, so the sending
// gateway never retries.
type Status string

const (
	StatusQueued           Status = "queued"
	StatusIgnoredInvalid   Status = "ignored_invalid"
	StatusIgnoredType      Status = "ignored_type"
	StatusIgnoredFromMe    Status = "ignored_from_me"
	StatusIgnoredDuplicate Status = "ignored_duplicate"
	StatusErrorHandled     Status = "error_handled"
)

const messagesUpsertEvent = "messages.upsert"

// fallbackSenderName stands in when the payload carries no push name.
const fallbackSenderName = "Usuário"

// Event is an Evolution API event envelope. Webhook deliveries carry
// the event name in "event"; some deployments use "type". Websocket
// frames use the same shape.
type Event struct {
	Type     string    `json:"type,omitempty"`
	Event    string    `json:"event,omitempty"`
	Instance string    `json:"instance,omitempty"`
	Sender   string    `json:"sender,omitempty"`
	Data     EventData `json:"data"`
}

// EventName returns the event name regardless of which field carried it.
func (e *Event) EventName() string {
	if e.Event != "" {
		return e.Event
	}
	return e.Type
}

// isMessagesUpsert accepts both spellings Evolution deployments emit:
// "messages.upsert" (webhook) and "MESSAGES_UPSERT" (websocket).
func isMessagesUpsert(name string) bool {
	return strings.EqualFold(strings.ReplaceAll(name, "_", "."), messagesUpsertEvent)
}

// EventData is the message body of a messages.upsert event.
type EventData struct {
	Key      MessageKey `json:"key"`
	PushName string     `json:"pushName,omitempty"`
	Message  *Message   `json:"message,omitempty"`
}

// MessageKey identifies one WhatsApp message.
type MessageKey struct {
	RemoteJid string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// Message holds the content variants AtenBot understands. Anything else
// (stickers, reactions, documents) is ignored by type.
type Message struct {
	Conversation        string               `json:"conversation,omitempty"`
	ExtendedTextMessage *ExtendedTextMessage `json:"extendedTextMessage,omitempty"`
	AudioMessage        *AudioMessage        `json:"audioMessage,omitempty"`
}

// ExtendedTextMessage is the quoted/link-preview text variant.
type ExtendedTextMessage struct {
	Text string `json:"text,omitempty"`
}

// AudioMessage is a voice note. Payloads carry a media URL, an inline
// base64 body, or both.
type AudioMessage struct {
	URL    string `json:"url,omitempty"`
	Base64 string `json:"base64,omitempty"`
}

// Text returns the message's text content from whichever variant holds
// it.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	if m.Conversation != "" {
		return m.Conversation
	}
	if m.ExtendedTextMessage != nil {
		return m.ExtendedTextMessage.Text
	}
	return ""
}

// Normalize classifies an event and, for processable messages, builds
// the queue job. The job is nil unless status is StatusQueued.
func Normalize(ev *Event, defaultInstance string) (*queue.Job, Status) {
	if !isMessagesUpsert(ev.EventName()) {
		return nil, StatusIgnoredType
	}
	if ev.Data.Key.RemoteJid == "" || ev.Data.Key.ID == "" {
		return nil, StatusIgnoredInvalid
	}
	if ev.Data.Key.FromMe {
		return nil, StatusIgnoredFromMe
	}

	instance := ev.Instance
	if instance == "" {
		instance = defaultInstance
	}

	name := strings.TrimSpace(ev.Data.PushName)
	if name == "" {
		name = strings.TrimSpace(ev.Sender)
	}
	if name == "" {
		name = fallbackSenderName
	}

	job := &queue.Job{
		MessageID:  ev.Data.Key.ID,
		Sender:     ev.Data.Key.RemoteJid,
		SenderName: name,
		Instance:   instance,
		EnqueuedAt: time.Now(),
	}

	// A voice note with no payload at all still queues: the worker owns
	// the download fallback and the apology for unobtainable audio.
	if ev.Data.Message != nil && ev.Data.Message.AudioMessage != nil {
		audio := ev.Data.Message.AudioMessage
		job.Kind = queue.KindAudio
		job.AudioURL = audio.URL
		job.AudioBase64 = audio.Base64
		return job, StatusQueued
	}

	if text := strings.TrimSpace(ev.Data.Message.Text()); text != "" {
		job.Kind = queue.KindText
		job.Text = text
		return job, StatusQueued
	}

	// Present but unsupported content (sticker, image, reaction, ...).
	return nil, StatusIgnoredType
}
