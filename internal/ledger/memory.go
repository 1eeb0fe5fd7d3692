package ledger

import (
	"context"
	"sync"

	"github.com/ChrisB0-2/apguard/internal/core"
)

// MemoryBackend keeps the ledger in process memory. Nothing survives a
// restart; used by tests and by `ledger.backend: memory`.
type MemoryBackend struct {
	mu     sync.Mutex
	data   map[core.NetworkName]core.TrustEntry
	fail   error
	writes int
}

// NewMemoryBackend creates an empty backend, optionally seeded.
func NewMemoryBackend(seed map[core.NetworkName]core.TrustEntry) *MemoryBackend {
	data := make(map[core.NetworkName]core.TrustEntry, len(seed))
	for k, v := range seed {
		data[k] = v
	}
	return &MemoryBackend{data: data}
}

// FailWith makes every later write return err. Pass nil to recover.
func (m *MemoryBackend) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Writes returns the number of successful Replace/DeleteAll calls.
func (m *MemoryBackend) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MemoryBackend) Load(_ context.Context) (map[core.NetworkName]core.TrustEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[core.NetworkName]core.TrustEntry, len(m.data))
	for k, v := range m.data {
		out[k] = core.TrustEntry{Allowed: clone(v.Allowed), Blocked: clone(v.Blocked)}
	}
	return out, nil
}

func (m *MemoryBackend) Replace(_ context.Context, name core.NetworkName, entry core.TrustEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail != nil {
		return m.fail
	}
	if entry.Empty() {
		delete(m.data, name)
	} else {
		m.data[name] = core.TrustEntry{Allowed: clone(entry.Allowed), Blocked: clone(entry.Blocked)}
	}
	m.writes++
	return nil
}

func (m *MemoryBackend) DeleteAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail != nil {
		return m.fail
	}
	m.data = make(map[core.NetworkName]core.TrustEntry)
	m.writes++
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

var _ Backend = (*MemoryBackend)(nil)
