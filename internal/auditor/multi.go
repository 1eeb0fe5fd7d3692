package auditor

import (
	"context"

	"github.com/ChrisB0-2/apguard/internal/core"
)

// Multi writes audit events to multiple auditors.
type Multi struct {
	auditors []core.Auditor
}

// NewMulti creates an auditor that writes to every non-nil backend.
func NewMulti(auditors ...core.Auditor) *Multi {
	m := &Multi{}
	for _, a := range auditors {
		if a != nil {
			m.auditors = append(m.auditors, a)
		}
	}
	return m
}

// Len reports how many backends are attached.
func (m *Multi) Len() int { return len(m.auditors) }

// Record writes the event to all configured auditors.
func (m *Multi) Record(ctx context.Context, evt core.AuditEvent) {
	for _, a := range m.auditors {
		a.Record(ctx, evt)
	}
}

var _ core.Auditor = (*Multi)(nil)
