package core

import (
	"context"
	"errors"
	"strings"
	"time"
)

// NetworkName is a broadcast SSID. Distinct physical networks may share one.
type NetworkName string

// AccessPointID is the hardware identifier (BSSID) of a single radio.
type AccessPointID string

// Safety is the verdict for one configured network in one scan cycle.
type Safety int

const (
	SafetyUntrusted Safety = iota
	SafetyTrusted
	SafetyUnknown
)

func (s Safety) String() string {
	switch s {
	case SafetyTrusted:
		return "trusted"
	case SafetyUntrusted:
		return "untrusted"
	case SafetyUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Verdict reasons.
const (
	ReasonPermissive      = "permissive"
	ReasonHiddenNetwork   = "hidden_network"
	ReasonNotInRange      = "not_in_range"
	ReasonNameMatch       = "name_match"
	ReasonAllowedAP       = "allowed_access_point"
	ReasonBlockedAP       = "blocked_access_point"
	ReasonEnterpriseAP    = "enterprise_access_point"
	ReasonUnknownAP       = "unknown_access_point"
	ReasonInvalidVerdict  = "invalid_verdict"
	ReasonUnavailable     = "wifi_unavailable"
	ReasonCycleTimeout    = "cycle_timeout"
	ReasonCycleOK         = "ok"
	ReasonDecisionTrust   = "user_trust"
	ReasonDecisionBlock   = "user_block"
	ReasonDecisionInvalid = "invalid_decision"
)

// Verdict carries the Safety value plus the rule that produced it.
type Verdict struct {
	Safety      Safety
	Reason      string
	AccessPoint AccessPointID // observed AP that decided the verdict, if any
}

// ObservedAccessPoint is one scan result. Rebuilt every scan, never persisted.
type ObservedAccessPoint struct {
	Network     NetworkName
	AccessPoint AccessPointID
	SignalDBm   int
	Enterprise  bool // advertises 802.1X authentication
}

// ConfiguredNetwork is a saved network profile owned by the OS.
type ConfiguredNetwork struct {
	Network    NetworkName
	Hidden     bool
	Enterprise bool   // profile itself is configured for 802.1X
	Handle     string // OS identifier used for enable/disable
}

// PolicyConfig is read once per scan cycle.
type PolicyConfig struct {
	RestrictToAvailableNetworks bool
	RestrictToKnownAccessPoints bool
	TrustEnterpriseAccessPoints bool
}

// Permissive reports whether every restriction is switched off.
func (p PolicyConfig) Permissive() bool {
	return !p.RestrictToAvailableNetworks && !p.RestrictToKnownAccessPoints
}

// TrustEntry is the persisted pair of disjoint sets for one network name.
type TrustEntry struct {
	Allowed []AccessPointID `json:"allowed,omitempty" yaml:"allowed,omitempty"`
	Blocked []AccessPointID `json:"blocked,omitempty" yaml:"blocked,omitempty"`
}

// Empty reports whether both sets are empty.
func (e TrustEntry) Empty() bool {
	return len(e.Allowed) == 0 && len(e.Blocked) == 0
}

var (
	ErrUnavailable     = errors.New("wifi data unavailable")
	ErrPersistence     = errors.New("ledger persistence failed")
	ErrInvalidDecision = errors.New("invalid trust decision")
)

// TrustReader is the read side of the trust ledger consumed by the engine.
type TrustReader interface {
	AllowedFor(name NetworkName) []AccessPointID
	BlockedFor(name NetworkName) []AccessPointID
}

// TrustStore is the full ledger contract.
type TrustStore interface {
	TrustReader
	Entry(name NetworkName) TrustEntry
	KnownNetworkNames() []NetworkName
	MarkAllowed(ctx context.Context, name NetworkName, ap AccessPointID) error
	MarkBlocked(ctx context.Context, name NetworkName, ap AccessPointID) error
	RemoveAllowed(ctx context.Context, name NetworkName, ap AccessPointID) error
	RemoveBlocked(ctx context.Context, name NetworkName, ap AccessPointID) error
	ClearAll(ctx context.Context) error
	ClearFor(ctx context.Context, name NetworkName) error
}

// WifiController is the OS Wi-Fi subsystem.
// ConfiguredNetworks returns ErrUnavailable when the OS cannot supply data.
type WifiController interface {
	ConfiguredNetworks(ctx context.Context) ([]ConfiguredNetwork, error)
	ObservedAccessPoints(ctx context.Context) ([]ObservedAccessPoint, error)
	Enable(ctx context.Context, handle string, exclusive bool) error
	Disable(ctx context.Context, handle string) error
	RequestReconnect(ctx context.Context) error
	RequestScan(ctx context.Context) error
}

// Prompter surfaces pending trust decisions to the user.
type Prompter interface {
	ShowPendingDecision(ctx context.Context, name NetworkName, ap AccessPointID) error
	WithdrawPendingDecision(ctx context.Context) error
}

type Auditor interface {
	Record(ctx context.Context, evt AuditEvent)
}

type AuditEvent struct {
	Time        time.Time
	Level       string
	Action      string
	Network     NetworkName
	AccessPoint AccessPointID
	Fields      map[string]any
	Err         error
}

// Metrics defines the interface for collecting operational metrics.
type Metrics interface {
	// Cycle metrics
	IncTrigger(outcome string)
	ObserveCycle(outcome string, duration time.Duration)

	// Engine metrics
	IncVerdict(safety Safety, reason string)

	// Controller metrics
	IncActionError(action string)

	// Ledger metrics
	IncUserDecision(trust bool)
	SetKnownNetworks(count int)

	// Daemon metrics
	SetLastCycleTimestamp(t time.Time)
}

// NormalizeAccessPointID upper-cases and trims a BSSID so ledger lookups
// are insensitive to how the OS formats it.
func NormalizeAccessPointID(ap string) AccessPointID {
	return AccessPointID(strings.ToUpper(strings.TrimSpace(ap)))
}
