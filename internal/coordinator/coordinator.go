// Package coordinator drives one evaluation pass over every configured
// network per scan event and applies the resulting enable/disable actions.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ChrisB0-2/apguard/internal/core"
	"github.com/ChrisB0-2/apguard/internal/engine"
	"github.com/ChrisB0-2/apguard/internal/logger"
	"github.com/ChrisB0-2/apguard/internal/metrics"
)

// State is the coordinator state.
type State int32

const (
	StateIdle State = iota
	StateEvaluating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEvaluating:
		return "evaluating"
	default:
		return "unknown"
	}
}

const (
	DefaultMinInterval   = 500 * time.Millisecond
	DefaultCycleTimeout  = 10 * time.Second
	DefaultPromptTimeout = 3 * time.Second
)

var (
	ErrDebounced       = errors.New("scan trigger debounced")
	ErrCycleInProgress = errors.New("scan cycle already in progress")
	ErrCycleAborted    = errors.New("scan cycle aborted")
)

// Actions applied to a network after its verdict.
const (
	ActionEnable  = "enable"
	ActionDisable = "disable"
	ActionPrompt  = "prompt"
)

// PolicySource supplies the policy; it is read once at the start of a cycle.
type PolicySource interface {
	Policy() core.PolicyConfig
}

// StaticPolicy is a PolicySource that never changes.
type StaticPolicy core.PolicyConfig

func (p StaticPolicy) Policy() core.PolicyConfig { return core.PolicyConfig(p) }

// Deps are the collaborators injected into a Coordinator.
type Deps struct {
	Wifi     core.WifiController
	Ledger   core.TrustStore
	Prompter core.Prompter
	Policy   PolicySource
	Log      logger.Logger
	Metrics  core.Metrics
	Auditor  core.Auditor
}

// Config tunes rate limiting. PromptTimeout bounds each prompt delivered
// after the cycle's actions.
type Config struct {
	MinInterval   time.Duration
	CycleTimeout  time.Duration
	PromptTimeout time.Duration
	Now           func() time.Time
}

// NetworkVerdict pairs a configured network with its verdict and the action taken.
type NetworkVerdict struct {
	Network core.ConfiguredNetwork `json:"-"`
	Name    core.NetworkName       `json:"network"`
	Safety  string                 `json:"safety"`
	Reason  string                 `json:"reason"`
	AP      core.AccessPointID     `json:"access_point,omitempty"`
	Action  string                 `json:"action"`
	Error   string                 `json:"error,omitempty"`
}

// CycleResult summarizes one completed or aborted cycle.
type CycleResult struct {
	ID        string           `json:"id"`
	Started   time.Time        `json:"started"`
	Duration  time.Duration    `json:"duration_ns"`
	Outcome   string           `json:"outcome"`
	Evaluated int              `json:"evaluated"`
	Enabled   int              `json:"enabled"`
	Disabled  int              `json:"disabled"`
	Prompted  int              `json:"prompted"`
	Errors    int              `json:"errors"`
	Verdicts  []NetworkVerdict `json:"verdicts,omitempty"`
}

// Coordinator owns the Idle/Evaluating state machine. At most one cycle
// runs at a time; triggers arriving while busy or too soon are dropped.
type Coordinator struct {
	wifi     core.WifiController
	ledger   core.TrustStore
	prompter core.Prompter
	policy   PolicySource
	engine   *engine.Engine
	log      logger.Logger
	metrics  core.Metrics
	auditor  core.Auditor

	minInterval   time.Duration
	cycleTimeout  time.Duration
	promptTimeout time.Duration
	now           func() time.Time

	state atomic.Int32

	mu           sync.RWMutex
	lastAccepted time.Time
	last         *CycleResult
	lastErr      error
	cycles       int64
}

// New creates a coordinator. Wifi, Ledger and Policy are required.
func New(deps Deps, cfg Config) *Coordinator {
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = DefaultCycleTimeout
	}
	if cfg.PromptTimeout <= 0 {
		cfg.PromptTimeout = DefaultPromptTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Coordinator{
		wifi:          deps.Wifi,
		ledger:        deps.Ledger,
		prompter:      deps.Prompter,
		policy:        deps.Policy,
		engine:        engine.NewWithLogger(deps.Prompter, deps.Log),
		log:           deps.Log,
		metrics:       deps.Metrics,
		auditor:       deps.Auditor,
		minInterval:   cfg.MinInterval,
		cycleTimeout:  cfg.CycleTimeout,
		promptTimeout: cfg.PromptTimeout,
		now:           cfg.Now,
	}
	c.state.Store(int32(StateIdle))
	return c
}

// State returns the current state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// MinInterval returns the debounce window between accepted triggers.
func (c *Coordinator) MinInterval() time.Duration {
	return c.minInterval
}

// LastCycle returns the most recent cycle result, the number of cycles run
// so far and the error the last one ended with.
func (c *Coordinator) LastCycle() (*CycleResult, int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last, c.cycles, c.lastErr
}

// OnScanEvent handles one "scan results changed" trigger.
func (c *Coordinator) OnScanEvent(ctx context.Context) (*CycleResult, error) {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateEvaluating)) {
		c.metrics.IncTrigger("in_progress")
		c.log.Debug("trigger dropped, cycle in progress")
		return nil, ErrCycleInProgress
	}
	defer c.state.Store(int32(StateIdle))

	now := c.now()
	c.mu.Lock()
	if !c.lastAccepted.IsZero() && now.Sub(c.lastAccepted) < c.minInterval {
		c.mu.Unlock()
		c.metrics.IncTrigger("debounced")
		c.log.Debug("trigger debounced", logger.F("since_last", now.Sub(c.lastAccepted).String()))
		return nil, ErrDebounced
	}
	c.lastAccepted = now
	c.mu.Unlock()
	c.metrics.IncTrigger("accepted")

	res, err := c.runCycle(ctx, now)

	c.mu.Lock()
	c.last = res
	c.lastErr = err
	c.cycles++
	c.mu.Unlock()

	return res, err
}

func (c *Coordinator) runCycle(parent context.Context, started time.Time) (*CycleResult, error) {
	ctx, cancel := context.WithTimeout(parent, c.cycleTimeout)
	defer cancel()

	res := &CycleResult{ID: uuid.NewString(), Started: started}
	log := c.log.WithFields(logger.F("cycle_id", res.ID))
	policy := c.policy.Policy()

	finish := func(outcome string, err error) (*CycleResult, error) {
		res.Outcome = outcome
		res.Duration = c.now().Sub(started)
		c.metrics.ObserveCycle(reasonOf(outcome), res.Duration)
		c.record(parent, core.NewCycleAuditEvent(res.ID, outcome, res.Evaluated, res.Prompted, res.Errors, res.Duration, err))
		if err != nil {
			log.Warn("scan cycle aborted", logger.F("outcome", outcome), logger.F("error", err.Error()))
		} else {
			c.metrics.SetLastCycleTimestamp(c.now())
			log.Info("scan cycle completed",
				logger.F("evaluated", res.Evaluated),
				logger.F("enabled", res.Enabled),
				logger.F("disabled", res.Disabled),
				logger.F("prompted", res.Prompted),
				logger.F("errors", res.Errors),
				logger.F("duration", res.Duration.String()))
		}
		return res, err
	}

	configured, err := c.wifi.ConfiguredNetworks(ctx)
	if err == nil && configured == nil {
		err = core.ErrUnavailable
	}
	if err != nil {
		return finish(abortOutcome(ctx, err), fmt.Errorf("%w: configured networks: %w", ErrCycleAborted, err))
	}

	observed, err := c.wifi.ObservedAccessPoints(ctx)
	if err != nil {
		return finish(abortOutcome(ctx, err), fmt.Errorf("%w: observed access points: %w", ErrCycleAborted, err))
	}

	// Prompts wait until every network has been acted on.
	var prompts []pendingPrompt
	for _, n := range configured {
		if err := ctx.Err(); err != nil {
			return finish(abortOutcome(ctx, err), fmt.Errorf("%w: %w", ErrCycleAborted, err))
		}

		v := c.engine.Classify(n, observed, policy, c.ledger)
		res.Evaluated++
		c.metrics.IncVerdict(v.Safety, v.Reason)

		nv := c.apply(ctx, log, n, v, res)
		res.Verdicts = append(res.Verdicts, nv)
		c.record(parent, core.NewVerdictAuditEvent(res.ID, n, v, nv.Action))
		if v.Safety == core.SafetyUnknown {
			prompts = append(prompts, pendingPrompt{network: n.Network, ap: v.AccessPoint})
		}
	}

	if res.Enabled > 0 {
		if err := c.wifi.RequestReconnect(ctx); err != nil {
			res.Errors++
			c.metrics.IncActionError("reconnect")
			log.Warn("reconnect request failed", logger.F("error", err.Error()))
		}
	}

	c.deliverPrompts(parent, log, prompts)

	return finish(core.ReasonCycleOK, nil)
}

type pendingPrompt struct {
	network core.NetworkName
	ap      core.AccessPointID
}

// deliverPrompts surfaces the cycle's pending decisions, or withdraws the
// current one when there are none. Each call gets its own deadline detached
// from the cycle's.
func (c *Coordinator) deliverPrompts(parent context.Context, log logger.Logger, prompts []pendingPrompt) {
	if c.prompter == nil {
		return
	}
	if len(prompts) == 0 {
		ctx, cancel := context.WithTimeout(parent, c.promptTimeout)
		defer cancel()
		if err := c.prompter.WithdrawPendingDecision(ctx); err != nil {
			log.Warn("withdraw pending decision failed", logger.F("error", err.Error()))
		}
		return
	}
	for _, p := range prompts {
		ctx, cancel := context.WithTimeout(parent, c.promptTimeout)
		_ = c.engine.Prompt(ctx, p.network, p.ap)
		cancel()
	}
}

// apply performs the OS action for one verdict. Failures are counted, not fatal.
func (c *Coordinator) apply(ctx context.Context, log logger.Logger, n core.ConfiguredNetwork, v core.Verdict, res *CycleResult) NetworkVerdict {
	nv := NetworkVerdict{
		Network: n,
		Name:    n.Network,
		Safety:  v.Safety.String(),
		Reason:  v.Reason,
		AP:      v.AccessPoint,
	}

	var err error
	switch v.Safety {
	case core.SafetyTrusted:
		nv.Action = ActionEnable
		if err = c.wifi.Enable(ctx, n.Handle, false); err == nil {
			res.Enabled++
		}
	case core.SafetyUntrusted:
		nv.Action = ActionDisable
		if err = c.wifi.Disable(ctx, n.Handle); err == nil {
			res.Disabled++
		}
	case core.SafetyUnknown:
		nv.Action = ActionPrompt
		res.Prompted++
		if err = c.wifi.Disable(ctx, n.Handle); err == nil {
			res.Disabled++
		}
	default:
		// Unrecognized verdicts fail closed.
		nv.Action = ActionDisable
		nv.Reason = core.ReasonInvalidVerdict
		if err = c.wifi.Disable(ctx, n.Handle); err == nil {
			res.Disabled++
		}
	}

	if err != nil {
		res.Errors++
		nv.Error = err.Error()
		c.metrics.IncActionError(nv.Action)
		log.Warn("network action failed",
			logger.F("network", string(n.Network)),
			logger.F("action", nv.Action),
			logger.F("error", err.Error()))
	}
	return nv
}

// Release enables every configured network so nothing stays disabled once
// apguard stops guarding. It returns the number of networks enabled.
func (c *Coordinator) Release(ctx context.Context) (int, error) {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateEvaluating)) {
		return 0, ErrCycleInProgress
	}
	defer c.state.Store(int32(StateIdle))

	configured, err := c.wifi.ConfiguredNetworks(ctx)
	if err != nil {
		return 0, fmt.Errorf("release: %w", err)
	}

	var errs []error
	enabled := 0
	for _, n := range configured {
		if err := c.wifi.Enable(ctx, n.Handle, false); err != nil {
			c.metrics.IncActionError(ActionEnable)
			errs = append(errs, fmt.Errorf("enable %s: %w", n.Network, err))
			continue
		}
		enabled++
	}
	if c.prompter != nil {
		if err := c.prompter.WithdrawPendingDecision(ctx); err != nil {
			c.log.Warn("withdraw pending decision failed", logger.F("error", err.Error()))
		}
	}

	err = errors.Join(errs...)
	c.record(ctx, core.NewLedgerAuditEvent("release", "", "", err))
	c.log.Info("released configured networks", logger.F("enabled", enabled), logger.F("failed", len(errs)))
	return enabled, err
}

func (c *Coordinator) record(ctx context.Context, evt core.AuditEvent) {
	if c.auditor == nil {
		return
	}
	c.auditor.Record(ctx, evt)
}

func abortOutcome(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return core.ReasonCycleTimeout
	}
	return core.ReasonUnavailable + ":" + err.Error()
}

func reasonOf(outcome string) string {
	for i := 0; i < len(outcome); i++ {
		if outcome[i] == ':' {
			return outcome[:i]
		}
	}
	return outcome
}
