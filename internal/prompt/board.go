// Package prompt delivers pending trust decisions to the user.
package prompt

import (
	"context"
	"sync"
	"time"

	"github.com/ChrisB0-2/apguard/internal/core"
)

// Pending is the decision currently waiting for the user.
type Pending struct {
	Network     core.NetworkName   `json:"network"`
	AccessPoint core.AccessPointID `json:"access_point"`
	Since       time.Time          `json:"since"`
}

// Board holds at most one pending decision; a new prompt replaces the old one.
// The HTTP API and CLI read it to answer the prompt.
type Board struct {
	mu      sync.RWMutex
	pending *Pending
	now     func() time.Time
}

func NewBoard() *Board {
	return &Board{now: time.Now}
}

func (b *Board) ShowPendingDecision(_ context.Context, name core.NetworkName, ap core.AccessPointID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Same prompt again keeps its original timestamp.
	if b.pending != nil && b.pending.Network == name && b.pending.AccessPoint == ap {
		return nil
	}
	b.pending = &Pending{Network: name, AccessPoint: ap, Since: b.now()}
	return nil
}

func (b *Board) WithdrawPendingDecision(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = nil
	return nil
}

// Current returns the pending decision, if any.
func (b *Board) Current() (Pending, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.pending == nil {
		return Pending{}, false
	}
	return *b.pending, true
}

var _ core.Prompter = (*Board)(nil)
