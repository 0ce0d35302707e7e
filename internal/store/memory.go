package store

import (
	"context"
	"sync"
	"time"
)

// MemoryMessageStore is an in-process MessageStore for tests and ad-hoc
// runs.
type MemoryMessageStore struct {
	mu    sync.Mutex
	turns map[string][]Turn
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{turns: make(map[string][]Turn)}
}

func (m *MemoryMessageStore) Append(_ context.Context, conversation, content string, dir Direction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[conversation] = append(m.turns[conversation], Turn{
		Direction: dir,
		Content:   content,
		At:        time.Now(),
	})
	return nil
}

func (m *MemoryMessageStore) Recent(_ context.Context, conversation string, limit int) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := m.turns[conversation]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// MemorySettingsStore is an in-process SettingsStore.
type MemorySettingsStore struct {
	mu       sync.Mutex
	settings map[string]Settings
}

func NewMemorySettingsStore() *MemorySettingsStore {
	return &MemorySettingsStore{settings: make(map[string]Settings)}
}

func (m *MemorySettingsStore) Get(_ context.Context, instance string) (Settings, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[instance]
	return s, ok, nil
}

func (m *MemorySettingsStore) Set(_ context.Context, instance string, s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[instance] = s
	return nil
}

// NewMemoryStores bundles the in-process implementations.
func NewMemoryStores() *Stores {
	return &Stores{
		Messages: NewMemoryMessageStore(),
		Settings: NewMemorySettingsStore(),
	}
}
