package prompt

import (
	"context"
	"errors"
	"sync"

	"github.com/ChrisB0-2/apguard/internal/core"
)

// Multi fans prompts out to several prompters, collecting errors.
type Multi struct {
	mu        sync.RWMutex
	prompters []core.Prompter
}

func NewMulti(prompters ...core.Prompter) *Multi {
	return &Multi{prompters: prompters}
}

// Add adds a prompter.
func (m *Multi) Add(p core.Prompter) {
	m.mu.Lock()
	m.prompters = append(m.prompters, p)
	m.mu.Unlock()
}

func (m *Multi) ShowPendingDecision(ctx context.Context, name core.NetworkName, ap core.AccessPointID) error {
	var errs []error
	for _, p := range m.snapshot() {
		if err := p.ShowPendingDecision(ctx, name, ap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) WithdrawPendingDecision(ctx context.Context) error {
	var errs []error
	for _, p := range m.snapshot() {
		if err := p.WithdrawPendingDecision(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) snapshot() []core.Prompter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.Prompter, len(m.prompters))
	copy(out, m.prompters)
	return out
}

var _ core.Prompter = (*Multi)(nil)
