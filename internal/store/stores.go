// Package store defines the narrow persistence contract the reply engine
// consumes: conversation history (ordered turns) and per-instance reply
// settings. Schema design and the account CRUD surface live elsewhere.
package store

import (
	"context"
	"time"
)

// Direction tags a turn as user-sent or bot-sent.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Turn is one persisted conversation exchange. Turns are immutable once
// written.
type Turn struct {
	Direction Direction
	Content   string
	At        time.Time
}

// Role maps the turn direction to the provider-side role name.
func (t Turn) Role() string {
	if t.Direction == DirectionIncoming {
		return "user"
	}
	return "model"
}

// MessageStore is the history adapter: append-only turns per conversation
// key (the sender JID).
type MessageStore interface {
	// Append records one turn. Callers treat failures as non-fatal.
	Append(ctx context.Context, conversation, content string, dir Direction) error

	// Recent returns up to limit of the newest turns, oldest first.
	Recent(ctx context.Context, conversation string, limit int) ([]Turn, error)
}

// Settings are the per-instance reply controls.
type Settings struct {
	AutoReply bool
	Persona   string
}

// SettingsStore reads and writes per-instance settings. found is false
// when the instance has never been configured; callers fall back to
// config defaults.
type SettingsStore interface {
	Get(ctx context.Context, instance string) (s Settings, found bool, err error)
	Set(ctx context.Context, instance string, s Settings) error
}

// Stores bundles every store implementation for one backend.
type Stores struct {
	Messages MessageStore
	Settings SettingsStore
}
