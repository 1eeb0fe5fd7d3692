package core

import "time"

// Canonical audit actions
const (
	AuditActionVerdict  = "verdict"
	AuditActionCycle    = "cycle"
	AuditActionDecision = "decision"
	AuditActionLedger   = "ledger"
)

// NewVerdictAuditEvent standardizes the per-network evaluation shape.
func NewVerdictAuditEvent(cycleID string, n ConfiguredNetwork, v Verdict, action string) AuditEvent {
	level := "info"
	if v.Reason == ReasonBlockedAP {
		level = "warn"
	}
	return AuditEvent{
		Time:        time.Now(),
		Level:       level,
		Action:      AuditActionVerdict,
		Network:     n.Network,
		AccessPoint: v.AccessPoint,
		Fields: map[string]any{
			"cycle_id": cycleID,
			"handle":   n.Handle,
			"hidden":   n.Hidden,
			"safety":   v.Safety.String(),
			"reason":   v.Reason,
			"action":   action,
		},
	}
}

// NewCycleAuditEvent standardizes the end-of-cycle summary shape.
func NewCycleAuditEvent(cycleID, outcome string, evaluated, prompted, errs int, took time.Duration, err error) AuditEvent {
	level := "info"
	if err != nil {
		level = "error"
	}
	return AuditEvent{
		Time:   time.Now(),
		Level:  level,
		Action: AuditActionCycle,
		Fields: map[string]any{
			"cycle_id":    cycleID,
			"reason":      reasonKey(outcome),
			"evaluated":   evaluated,
			"prompted":    prompted,
			"errors":      errs,
			"duration_ms": took.Milliseconds(),
		},
		Err: err,
	}
}

// NewDecisionAuditEvent records a user trust decision applied to the ledger.
func NewDecisionAuditEvent(name NetworkName, ap AccessPointID, trust bool, changed int, err error) AuditEvent {
	reason := ReasonDecisionBlock
	if trust {
		reason = ReasonDecisionTrust
	}
	level := "info"
	if err != nil {
		level = "error"
	}
	return AuditEvent{
		Time:        time.Now(),
		Level:       level,
		Action:      AuditActionDecision,
		Network:     name,
		AccessPoint: ap,
		Fields: map[string]any{
			"trust":   trust,
			"reason":  reason,
			"changed": changed,
		},
		Err: err,
	}
}

// NewLedgerAuditEvent records an administrative ledger change (clear, forget).
func NewLedgerAuditEvent(op string, name NetworkName, ap AccessPointID, err error) AuditEvent {
	level := "info"
	if err != nil {
		level = "error"
	}
	return AuditEvent{
		Time:        time.Now(),
		Level:       level,
		Action:      AuditActionLedger,
		Network:     name,
		AccessPoint: ap,
		Fields:      map[string]any{"reason": op},
		Err:         err,
	}
}

// reasonKey collapses reasons like "wifi_unavailable:nmcli exit 8" -> "wifi_unavailable"
func reasonKey(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i]
		}
	}
	return s
}
