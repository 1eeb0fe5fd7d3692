package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ChrisB0-2/apguard/internal/auditor"
	"github.com/ChrisB0-2/apguard/internal/coordinator"
	"github.com/ChrisB0-2/apguard/internal/core"
	"github.com/ChrisB0-2/apguard/internal/logger"
	"github.com/ChrisB0-2/apguard/internal/web"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

func (d *Daemon) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", d.handleHealth)
	mux.HandleFunc("GET /ready", d.handleReady)
	mux.HandleFunc("GET /status", d.handleStatus)
	mux.HandleFunc("POST /trigger", d.handleTrigger)

	mux.HandleFunc("GET /api/networks", d.handleNetworks)
	mux.HandleFunc("DELETE /api/networks", d.handleClearAll)
	mux.HandleFunc("GET /api/networks/{name}", d.handleNetwork)
	mux.HandleFunc("DELETE /api/networks/{name}", d.handleClearNetwork)
	mux.HandleFunc("DELETE /api/networks/{name}/allowed/{ap}", d.handleForget(false))
	mux.HandleFunc("DELETE /api/networks/{name}/blocked/{ap}", d.handleForget(true))

	mux.HandleFunc("GET /api/pending", d.handlePending)
	mux.HandleFunc("POST /api/decisions", d.handleDecision)

	mux.HandleFunc("GET /api/audit/query", d.handleAuditQuery)
	mux.HandleFunc("GET /api/audit/stats", d.handleAuditStats)

	if web.HasDist() {
		if dist, err := web.DistFS(); err == nil {
			mux.Handle("GET /ui/", http.StripPrefix("/ui", http.FileServerFS(dist)))
			mux.Handle("GET /{$}", http.RedirectHandler("/ui/", http.StatusFound))
		}
	}

	return mux
}

// Health endpoint - basic liveness check
func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	d.writeJSONResponse(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  d.State().String(),
	})
}

// Ready endpoint - not ready while starting or shutting down
func (d *Daemon) handleReady(w http.ResponseWriter, _ *http.Request) {
	state := d.State()
	ready := state == StateReady || state == StateRunning
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	d.writeJSONResponse(w, code, map[string]any{"ready": ready, "state": state.String()})
}

func (d *Daemon) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"state":             d.State().String(),
		"poll_interval":     d.cfg.PollInterval.String(),
		"release_on_exit":   d.cfg.ReleaseOnExit,
		"cycle_count":       0,
		"pending_decision":  false,
		"known_networks":    0,
		"keepalive_enabled": d.deps.Wifi != nil && d.cfg.KeepaliveInterval > 0,
	}

	if c := d.deps.Coordinator; c != nil {
		last, count, lastErr := c.LastCycle()
		resp["cycle_state"] = c.State().String()
		resp["cycle_count"] = count
		if last != nil {
			resp["last_cycle"] = last
		}
		if lastErr != nil {
			resp["last_error"] = lastErr.Error()
		}
	}
	if d.deps.Ledger != nil {
		resp["known_networks"] = len(d.deps.Ledger.KnownNetworkNames())
	}
	if d.deps.Board != nil {
		if p, ok := d.deps.Board.Current(); ok {
			resp["pending_decision"] = true
			resp["pending"] = p
		}
	}

	d.writeJSONResponse(w, http.StatusOK, resp)
}

// Trigger endpoint - run a scan cycle now
func (d *Daemon) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if d.deps.Coordinator == nil {
		d.writeJSONError(w, http.StatusServiceUnavailable, "coordinator not available")
		return
	}

	// The cycle carries its own timeout; a client hanging up must not abort it.
	res, err := d.safeTrigger(context.WithoutCancel(r.Context()), "api")

	switch {
	case err == nil:
		d.writeJSONResponse(w, http.StatusOK, map[string]any{"triggered": true, "cycle": res})
	case errors.Is(err, coordinator.ErrCycleInProgress):
		d.writeJSONResponse(w, http.StatusConflict, map[string]any{"triggered": false, "error": err.Error()})
	case errors.Is(err, coordinator.ErrDebounced):
		w.Header().Set("Retry-After", "1")
		d.writeJSONResponse(w, http.StatusTooManyRequests, map[string]any{"triggered": false, "error": err.Error()})
	default:
		d.writeJSONResponse(w, http.StatusServiceUnavailable, map[string]any{"triggered": true, "cycle": res, "error": err.Error()})
	}
}

func (d *Daemon) handleNetworks(w http.ResponseWriter, r *http.Request) {
	if d.deps.Coordinator == nil {
		d.writeJSONError(w, http.StatusServiceUnavailable, "coordinator not available")
		return
	}

	networks, err := d.deps.Coordinator.Inventory(r.Context())
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, core.ErrUnavailable) {
			code = http.StatusServiceUnavailable
		}
		d.writeJSONError(w, code, err.Error())
		return
	}

	d.writeJSONResponse(w, http.StatusOK, map[string]any{"networks": networks, "count": len(networks)})
}

func (d *Daemon) handleNetwork(w http.ResponseWriter, r *http.Request) {
	if d.deps.Ledger == nil {
		d.writeJSONError(w, http.StatusServiceUnavailable, "ledger not available")
		return
	}

	name := core.NetworkName(r.PathValue("name"))
	entry := d.deps.Ledger.Entry(name)
	if entry.Empty() {
		d.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("network %q is not in the ledger", name))
		return
	}

	d.writeJSONResponse(w, http.StatusOK, map[string]any{
		"network": name,
		"allowed": nonNil(entry.Allowed),
		"blocked": nonNil(entry.Blocked),
	})
}

func (d *Daemon) handleClearNetwork(w http.ResponseWriter, r *http.Request) {
	if d.deps.Bridge == nil {
		d.writeJSONError(w, http.StatusServiceUnavailable, "ledger not available")
		return
	}

	name := core.NetworkName(r.PathValue("name"))
	if err := d.deps.Bridge.ClearNetwork(r.Context(), name); err != nil {
		d.writeLedgerError(w, err)
		return
	}
	d.writeJSONResponse(w, http.StatusOK, map[string]any{"cleared": name})
}

func (d *Daemon) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if d.deps.Bridge == nil {
		d.writeJSONError(w, http.StatusServiceUnavailable, "ledger not available")
		return
	}

	if err := d.deps.Bridge.ClearAll(r.Context()); err != nil {
		d.writeLedgerError(w, err)
		return
	}
	d.writeJSONResponse(w, http.StatusOK, map[string]any{"cleared": "all"})
}

func (d *Daemon) handleForget(blocked bool) http.HandlerFunc {
	list := "allowed"
	if blocked {
		list = "blocked"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if d.deps.Bridge == nil {
			d.writeJSONError(w, http.StatusServiceUnavailable, "ledger not available")
			return
		}

		name := core.NetworkName(r.PathValue("name"))
		ap := core.NormalizeAccessPointID(r.PathValue("ap"))
		if err := d.deps.Bridge.Forget(r.Context(), name, ap, blocked); err != nil {
			d.writeLedgerError(w, err)
			return
		}
		d.writeJSONResponse(w, http.StatusOK, map[string]any{
			"network":      name,
			"access_point": ap,
			"removed_from": list,
		})
	}
}

func (d *Daemon) handlePending(w http.ResponseWriter, _ *http.Request) {
	if d.deps.Board == nil {
		d.writeJSONError(w, http.StatusServiceUnavailable, "prompt board not available")
		return
	}

	p, ok := d.deps.Board.Current()
	if !ok {
		d.writeJSONResponse(w, http.StatusOK, map[string]any{"pending": false})
		return
	}
	d.writeJSONResponse(w, http.StatusOK, map[string]any{"pending": true, "decision": p})
}

// DecisionRequest answers a trust prompt. Network and access point default
// to the currently pending decision when both are omitted.
type DecisionRequest struct {
	Network     core.NetworkName   `json:"network"`
	AccessPoint core.AccessPointID `json:"access_point"`
	Trust       *bool              `json:"trust"`
}

func (d *Daemon) handleDecision(w http.ResponseWriter, r *http.Request) {
	if d.deps.Bridge == nil {
		d.writeJSONError(w, http.StatusServiceUnavailable, "decision bridge not available")
		return
	}

	var req DecisionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		d.writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Trust == nil {
		d.writeJSONError(w, http.StatusBadRequest, "trust is required")
		return
	}

	if req.Network == "" && req.AccessPoint == "" {
		if d.deps.Board == nil {
			d.writeJSONError(w, http.StatusBadRequest, "network and access_point are required")
			return
		}
		p, ok := d.deps.Board.Current()
		if !ok {
			d.writeJSONError(w, http.StatusConflict, "no decision is pending")
			return
		}
		req.Network, req.AccessPoint = p.Network, p.AccessPoint
	}

	err := d.deps.Bridge.ApplyUserDecision(r.Context(), req.Network, req.AccessPoint, *req.Trust)
	if err != nil {
		if errors.Is(err, core.ErrInvalidDecision) {
			d.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		d.writeLedgerError(w, err)
		return
	}

	if *req.Trust {
		d.Notify("decision")
	}

	d.writeJSONResponse(w, http.StatusOK, map[string]any{
		"network":      req.Network,
		"access_point": core.NormalizeAccessPointID(string(req.AccessPoint)),
		"trust":        *req.Trust,
	})
}

var (
	validAuditActions = []string{core.AuditActionVerdict, core.AuditActionCycle, core.AuditActionDecision, core.AuditActionLedger}
	validAuditLevels  = []string{"debug", "info", "warn", "error"}
)

func (d *Daemon) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if d.cfg.Auditor == nil {
		d.writeJSONError(w, http.StatusNotFound, "audit database not configured")
		return
	}

	q := r.URL.Query()
	filter := auditor.QueryFilter{
		Network: q.Get("network"),
		CycleID: q.Get("cycle_id"),
		Limit:   defaultAuditLimit,
	}

	if v := q.Get("action"); v != "" {
		if !contains(validAuditActions, v) {
			d.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid action %q (valid: %s)", v, strings.Join(validAuditActions, ", ")))
			return
		}
		filter.Action = v
	}
	if v := q.Get("level"); v != "" {
		if !contains(validAuditLevels, v) {
			d.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid level %q (valid: %s)", v, strings.Join(validAuditLevels, ", ")))
			return
		}
		filter.Level = v
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			d.writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxAuditLimit)
	}
	if v := q.Get("since"); v != "" {
		t, err := parseTimeParam(v)
		if err != nil {
			d.writeJSONError(w, http.StatusBadRequest, "invalid since: "+err.Error())
			return
		}
		filter.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := parseTimeParam(v)
		if err != nil {
			d.writeJSONError(w, http.StatusBadRequest, "invalid until: "+err.Error())
			return
		}
		filter.Until = t
	}

	records, err := d.cfg.Auditor.Query(r.Context(), filter)
	if err != nil {
		d.log.Error("audit query failed", logger.F("error", err.Error()))
		d.writeJSONError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	if records == nil {
		records = []auditor.AuditRecord{}
	}

	d.writeJSONResponse(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
		"limit":   filter.Limit,
	})
}

func (d *Daemon) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	if d.cfg.Auditor == nil {
		d.writeJSONError(w, http.StatusNotFound, "audit database not configured")
		return
	}

	stats, err := d.cfg.Auditor.Stats(r.Context())
	if err != nil {
		d.log.Error("audit stats failed", logger.F("error", err.Error()))
		d.writeJSONError(w, http.StatusInternalServerError, "audit stats failed")
		return
	}
	d.writeJSONResponse(w, http.StatusOK, stats)
}

// writeLedgerError maps ledger failures onto HTTP status codes.
func (d *Daemon) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidDecision):
		d.writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrPersistence):
		d.log.Error("ledger write failed", logger.F("error", err.Error()))
		d.writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		d.writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func (d *Daemon) writeJSONError(w http.ResponseWriter, code int, msg string) {
	d.writeJSONResponse(w, code, map[string]string{"error": msg})
}

func (d *Daemon) writeJSONResponse(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		d.log.Warn("failed to encode response", logger.F("error", err.Error()))
	}
}

// parseTimeParam accepts RFC3339, a plain date, or a look-back duration
// ("24h", "7d") measured from now.
func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty time")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	dur, err := parseDurationWithDays(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339, YYYY-MM-DD or duration, got %q", s)
	}
	return time.Now().Add(-dur), nil
}

// parseDurationWithDays extends time.ParseDuration with a "d" suffix.
// Only positive durations are accepted.
func parseDurationWithDays(s string) (time.Duration, error) {
	var dur time.Duration
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		dur = time.Duration(days) * 24 * time.Hour
	} else {
		var err error
		if dur, err = time.ParseDuration(s); err != nil {
			return 0, err
		}
	}
	if dur <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", s)
	}
	return dur, nil
}

func nonNil(list []core.AccessPointID) []core.AccessPointID {
	if list == nil {
		return []core.AccessPointID{}
	}
	return list
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
