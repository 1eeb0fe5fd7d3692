// Package bridge turns a user's answer to a pending trust prompt into a
// ledger mutation.
package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChrisB0-2/apguard/internal/core"
	"github.com/ChrisB0-2/apguard/internal/logger"
	"github.com/ChrisB0-2/apguard/internal/metrics"
)

// Deps are the collaborators injected into a Bridge.
type Deps struct {
	Ledger   core.TrustStore
	Wifi     core.WifiController
	Prompter core.Prompter
	Log      logger.Logger
	Metrics  core.Metrics
	Auditor  core.Auditor
}

// Options tune decision handling.
type Options struct {
	// TrustVisibleSiblings also allows every access point currently
	// broadcasting the same name when the user trusts one of them.
	TrustVisibleSiblings bool
}

type Bridge struct {
	ledger   core.TrustStore
	wifi     core.WifiController
	prompter core.Prompter
	log      logger.Logger
	metrics  core.Metrics
	auditor  core.Auditor
	opts     Options
}

func New(deps Deps, opts Options) *Bridge {
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	return &Bridge{
		ledger:   deps.Ledger,
		wifi:     deps.Wifi,
		prompter: deps.Prompter,
		log:      deps.Log,
		metrics:  deps.Metrics,
		auditor:  deps.Auditor,
		opts:     opts,
	}
}

// ApplyUserDecision records trust (allow) or distrust (block) of ap for
// name. A rescan is requested only when trusting actually changed the
// ledger, so replaying a decision never triggers a second cycle. The
// pending prompt is withdrawn whatever the outcome.
func (b *Bridge) ApplyUserDecision(ctx context.Context, name core.NetworkName, ap core.AccessPointID, trust bool) (err error) {
	changed := 0
	defer func() {
		if b.prompter != nil {
			if werr := b.prompter.WithdrawPendingDecision(ctx); werr != nil {
				b.log.Warn("withdraw pending decision failed", logger.F("error", werr.Error()))
			}
		}
		b.record(ctx, core.NewDecisionAuditEvent(name, ap, trust, changed, err))
	}()

	if strings.TrimSpace(string(name)) == "" || strings.TrimSpace(string(ap)) == "" {
		return fmt.Errorf("%w: network and access point are required", core.ErrInvalidDecision)
	}
	ap = core.NormalizeAccessPointID(string(ap))

	if !trust {
		if contains(b.ledger.BlockedFor(name), ap) {
			return nil
		}
		if err := b.ledger.MarkBlocked(ctx, name, ap); err != nil {
			return fmt.Errorf("block %s/%s: %w", name, ap, err)
		}
		changed = 1
		b.afterChange(name, ap, trust)
		return nil
	}

	targets := []core.AccessPointID{ap}
	if b.opts.TrustVisibleSiblings {
		targets = append(targets, b.visibleSiblings(ctx, name, ap)...)
	}

	for _, t := range targets {
		if contains(b.ledger.AllowedFor(name), t) {
			continue
		}
		if err := b.ledger.MarkAllowed(ctx, name, t); err != nil {
			return fmt.Errorf("allow %s/%s: %w", name, t, err)
		}
		changed++
	}
	if changed == 0 {
		b.log.Debug("trust decision already recorded", logger.F("network", string(name)), logger.F("access_point", string(ap)))
		return nil
	}
	b.afterChange(name, ap, trust)

	if b.wifi != nil {
		if err := b.wifi.RequestScan(ctx); err != nil {
			b.metrics.IncActionError("scan")
			b.log.Warn("rescan request failed", logger.F("error", err.Error()))
		}
	}
	return nil
}

func (b *Bridge) afterChange(name core.NetworkName, ap core.AccessPointID, trust bool) {
	b.metrics.IncUserDecision(trust)
	b.metrics.SetKnownNetworks(len(b.ledger.KnownNetworkNames()))
	b.log.Info("trust decision applied",
		logger.F("network", string(name)),
		logger.F("access_point", string(ap)),
		logger.F("trust", trust))
}

// Forget removes ap from one list of name. The other list is untouched.
func (b *Bridge) Forget(ctx context.Context, name core.NetworkName, ap core.AccessPointID, blocked bool) error {
	op, remove := "forget_allowed", b.ledger.RemoveAllowed
	if blocked {
		op, remove = "forget_blocked", b.ledger.RemoveBlocked
	}
	ap = core.NormalizeAccessPointID(string(ap))
	return b.administer(ctx, op, name, ap, func() error {
		return remove(ctx, name, ap)
	})
}

// ClearNetwork drops every remembered access point of name.
func (b *Bridge) ClearNetwork(ctx context.Context, name core.NetworkName) error {
	return b.administer(ctx, "clear_network", name, "", func() error {
		return b.ledger.ClearFor(ctx, name)
	})
}

// ClearAll erases the ledger.
func (b *Bridge) ClearAll(ctx context.Context) error {
	return b.administer(ctx, "clear_all", "", "", func() error {
		return b.ledger.ClearAll(ctx)
	})
}

func (b *Bridge) administer(ctx context.Context, op string, name core.NetworkName, ap core.AccessPointID, fn func() error) error {
	if op != "clear_all" && strings.TrimSpace(string(name)) == "" {
		return fmt.Errorf("%w: network is required", core.ErrInvalidDecision)
	}
	err := fn()
	b.record(ctx, core.NewLedgerAuditEvent(op, name, ap, err))
	if err != nil {
		return err
	}
	b.metrics.SetKnownNetworks(len(b.ledger.KnownNetworkNames()))
	b.log.Info("ledger updated",
		logger.F("op", op),
		logger.F("network", string(name)),
		logger.F("access_point", string(ap)))
	return nil
}

// visibleSiblings returns other access points currently broadcasting name.
// Blocked ones are skipped; an explicit block outranks a sibling allow.
func (b *Bridge) visibleSiblings(ctx context.Context, name core.NetworkName, ap core.AccessPointID) []core.AccessPointID {
	if b.wifi == nil {
		return nil
	}
	observed, err := b.wifi.ObservedAccessPoints(ctx)
	if err != nil {
		b.log.Debug("sibling lookup skipped", logger.F("error", err.Error()))
		return nil
	}
	blocked := b.ledger.BlockedFor(name)

	var out []core.AccessPointID
	for _, o := range observed {
		if o.Network != name {
			continue
		}
		id := core.NormalizeAccessPointID(string(o.AccessPoint))
		if id == ap || contains(out, id) || contains(blocked, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (b *Bridge) record(ctx context.Context, evt core.AuditEvent) {
	if b.auditor == nil {
		return
	}
	b.auditor.Record(ctx, evt)
}

func contains(list []core.AccessPointID, ap core.AccessPointID) bool {
	for _, v := range list {
		if v == ap {
			return true
		}
	}
	return false
}
