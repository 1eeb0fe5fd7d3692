package metrics

import (
	"time"

	"github.com/ChrisB0-2/apguard/internal/core"
)

// Noop is a no-op implementation of core.Metrics.
// Use this when metrics collection is disabled.
type Noop struct{}

// NewNoop creates a new no-op metrics collector.
func NewNoop() *Noop {
	return &Noop{}
}

// Cycle metrics
func (Noop) IncTrigger(string)                  {}
func (Noop) ObserveCycle(string, time.Duration) {}

// Engine metrics
func (Noop) IncVerdict(core.Safety, string) {}

// Controller metrics
func (Noop) IncActionError(string) {}

// Ledger metrics
func (Noop) IncUserDecision(bool) {}
func (Noop) SetKnownNetworks(int) {}

// Daemon metrics
func (Noop) SetLastCycleTimestamp(time.Time) {}

// Ensure Noop implements core.Metrics
var _ core.Metrics = (*Noop)(nil)
