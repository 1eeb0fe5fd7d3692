// Package engine decides, for one configured network, whether it may
// auto-connect given the current scan and the trust ledger.
package engine

import (
	"context"

	"github.com/ChrisB0-2/apguard/internal/core"
	"github.com/ChrisB0-2/apguard/internal/logger"
)

type Engine struct {
	prompter core.Prompter
	log      logger.Logger
}

// New creates an engine that reports Unknown verdicts to prompter.
// A nil prompter disables prompting.
func New(prompter core.Prompter) *Engine {
	return NewWithLogger(prompter, nil)
}

// NewWithLogger creates an engine with the given logger.
func NewWithLogger(prompter core.Prompter, log logger.Logger) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{prompter: prompter, log: log}
}

// Evaluate returns the verdict for network. When the verdict is Unknown the
// prompter is asked to surface a decision for the deciding access point;
// a prompt failure is logged and does not change the verdict.
func (e *Engine) Evaluate(
	ctx context.Context,
	network core.ConfiguredNetwork,
	observed []core.ObservedAccessPoint,
	policy core.PolicyConfig,
	ledger core.TrustReader,
) core.Verdict {
	v := e.Classify(network, observed, policy, ledger)
	if v.Safety == core.SafetyUnknown {
		_ = e.Prompt(ctx, network.Network, v.AccessPoint)
	}
	return v
}

// Classify is Assess plus logging. It never calls the prompter.
func (e *Engine) Classify(
	network core.ConfiguredNetwork,
	observed []core.ObservedAccessPoint,
	policy core.PolicyConfig,
	ledger core.TrustReader,
) core.Verdict {
	v := e.Assess(network, observed, policy, ledger)

	if v.Safety == core.SafetyUntrusted && v.Reason == core.ReasonBlockedAP {
		e.log.Warn("blocked access point broadcasting trusted name",
			logger.F("network", string(network.Network)),
			logger.F("access_point", string(v.AccessPoint)))
	}

	e.log.Debug("verdict",
		logger.F("network", string(network.Network)),
		logger.F("safety", v.Safety.String()),
		logger.F("reason", v.Reason))
	return v
}

// Prompt asks the prompter to surface a decision for ap on network.
// Failures are logged and returned; a nil prompter is a no-op.
func (e *Engine) Prompt(ctx context.Context, network core.NetworkName, ap core.AccessPointID) error {
	if e.prompter == nil {
		return nil
	}
	err := e.prompter.ShowPendingDecision(ctx, network, ap)
	if err != nil {
		e.log.Warn("pending decision prompt failed",
			logger.F("network", string(network)),
			logger.F("access_point", string(ap)),
			logger.F("error", err.Error()))
	}
	return err
}

// Assess computes the verdict without any side effect. Rules are checked in
// order and the first match wins.
func (e *Engine) Assess(
	network core.ConfiguredNetwork,
	observed []core.ObservedAccessPoint,
	policy core.PolicyConfig,
	ledger core.TrustReader,
) core.Verdict {
	if policy.Permissive() {
		return core.Verdict{Safety: core.SafetyTrusted, Reason: core.ReasonPermissive}
	}

	// Hidden networks never show up by name in scan results.
	if network.Hidden {
		return core.Verdict{Safety: core.SafetyTrusted, Reason: core.ReasonHiddenNetwork}
	}

	// First matching entry in scan order decides; signal strength is ignored.
	seen, ok := firstMatch(network.Network, observed)
	if !ok {
		return core.Verdict{Safety: core.SafetyUntrusted, Reason: core.ReasonNotInRange}
	}
	ap := core.NormalizeAccessPointID(string(seen.AccessPoint))

	if !policy.RestrictToKnownAccessPoints {
		return core.Verdict{Safety: core.SafetyTrusted, Reason: core.ReasonNameMatch, AccessPoint: ap}
	}
	if ledger != nil {
		if contains(ledger.AllowedFor(network.Network), ap) {
			return core.Verdict{Safety: core.SafetyTrusted, Reason: core.ReasonAllowedAP, AccessPoint: ap}
		}
		if contains(ledger.BlockedFor(network.Network), ap) {
			return core.Verdict{Safety: core.SafetyUntrusted, Reason: core.ReasonBlockedAP, AccessPoint: ap}
		}
	}
	if policy.TrustEnterpriseAccessPoints && seen.Enterprise && network.Enterprise {
		return core.Verdict{Safety: core.SafetyTrusted, Reason: core.ReasonEnterpriseAP, AccessPoint: ap}
	}
	return core.Verdict{Safety: core.SafetyUnknown, Reason: core.ReasonUnknownAP, AccessPoint: ap}
}

func firstMatch(name core.NetworkName, observed []core.ObservedAccessPoint) (core.ObservedAccessPoint, bool) {
	for _, o := range observed {
		if o.Network == name {
			return o, true
		}
	}
	return core.ObservedAccessPoint{}, false
}

func contains(list []core.AccessPointID, ap core.AccessPointID) bool {
	for _, v := range list {
		if core.NormalizeAccessPointID(string(v)) == ap {
			return true
		}
	}
	return false
}
