package coordinator

import (
	"context"
	"fmt"
	"sort"

	"github.com/ChrisB0-2/apguard/internal/core"
)

// Signal level scale used for display, five buckets 0..4.
const (
	minSignalDBm = -100
	maxSignalDBm = -55
	signalLevels = 5
)

// SignalLevel buckets an RSSI into 0..4.
func SignalLevel(dbm int) int {
	switch {
	case dbm <= minSignalDBm:
		return 0
	case dbm >= maxSignalDBm:
		return signalLevels - 1
	default:
		return (dbm - minSignalDBm) * (signalLevels - 1) / (maxSignalDBm - minSignalDBm)
	}
}

// AccessPointStatus is one ledger access point annotated with the current scan.
type AccessPointStatus struct {
	ID          core.AccessPointID `json:"id"`
	Trusted     bool               `json:"trusted"`
	Visible     bool               `json:"visible"`
	SignalLevel int                `json:"signal_level"`
}

// NetworkStatus is one known network annotated with the current scan.
// SignalLevel is -1 when the network is out of range.
type NetworkStatus struct {
	Network      core.NetworkName    `json:"network"`
	Configured   bool                `json:"configured"`
	Available    bool                `json:"available"`
	SignalLevel  int                 `json:"signal_level"`
	Safety       string              `json:"safety,omitempty"`
	Reason       string              `json:"reason,omitempty"`
	AccessPoints []AccessPointStatus `json:"access_points"`
}

// Inventory lists every network in the ledger with availability, signal
// level and the verdict it would get now. No prompt is raised. Available
// networks come first, then by name.
func (c *Coordinator) Inventory(ctx context.Context) ([]NetworkStatus, error) {
	observed, err := c.wifi.ObservedAccessPoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}
	configured, err := c.wifi.ConfiguredNetworks(ctx)
	if err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}

	byName := make(map[core.NetworkName]core.ConfiguredNetwork, len(configured))
	for _, n := range configured {
		byName[n.Network] = n
	}
	policy := c.policy.Policy()

	names := c.ledger.KnownNetworkNames()
	out := make([]NetworkStatus, 0, len(names))
	for _, name := range names {
		st := NetworkStatus{Network: name, SignalLevel: -1}

		best := minSignalDBm - 1
		for _, o := range observed {
			if o.Network != name {
				continue
			}
			st.Available = true
			if o.SignalDBm > best {
				best = o.SignalDBm
			}
		}
		if st.Available {
			st.SignalLevel = SignalLevel(best)
		}

		if n, ok := byName[name]; ok {
			st.Configured = true
			v := c.engine.Assess(n, observed, policy, c.ledger)
			st.Safety = v.Safety.String()
			st.Reason = v.Reason
		}

		entry := c.ledger.Entry(name)
		st.AccessPoints = append(accessPointStatuses(name, entry.Allowed, true, observed),
			accessPointStatuses(name, entry.Blocked, false, observed)...)
		out = append(out, st)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Available != out[j].Available {
			return out[i].Available
		}
		return out[i].Network < out[j].Network
	})
	return out, nil
}

func accessPointStatuses(name core.NetworkName, ids []core.AccessPointID, trusted bool, observed []core.ObservedAccessPoint) []AccessPointStatus {
	out := make([]AccessPointStatus, 0, len(ids))
	for _, id := range ids {
		st := AccessPointStatus{ID: id, Trusted: trusted, SignalLevel: -1}
		for _, o := range observed {
			if o.Network == name && core.NormalizeAccessPointID(string(o.AccessPoint)) == id {
				st.Visible = true
				st.SignalLevel = SignalLevel(o.SignalDBm)
				break
			}
		}
		out = append(out, st)
	}
	return out
}
