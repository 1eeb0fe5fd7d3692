package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ChrisB0-2/apguard/internal/auditor"
	"github.com/ChrisB0-2/apguard/internal/bridge"
	"github.com/ChrisB0-2/apguard/internal/coordinator"
	"github.com/ChrisB0-2/apguard/internal/core"
	"github.com/ChrisB0-2/apguard/internal/ledger"
	"github.com/ChrisB0-2/apguard/internal/logger"
	"github.com/ChrisB0-2/apguard/internal/pidfile"
	"github.com/ChrisB0-2/apguard/internal/prompt"
	"github.com/ChrisB0-2/apguard/internal/wifi"
)

// ============================================================================
// Test harness
// ============================================================================

type harness struct {
	wifi  *wifi.Static
	store *ledger.Store
	board *prompt.Board
	coord *coordinator.Coordinator
	audit *auditor.SQLiteAuditor
	d     *Daemon
}

type harnessOptions struct {
	minInterval time.Duration
	withAudit   bool
	cfg         Config
	wifi        core.WifiController
}

func cafeFixture() wifi.Fixture {
	return wifi.Fixture{
		Configured: []wifi.FixtureNetwork{
			{Network: "Cafe", Handle: "cafe"},
			{Network: "Home", Handle: "home"},
		},
		Observed: []wifi.FixtureAccessPoint{
			{Network: "Cafe", AccessPoint: "BB:BB", SignalDBm: -60},
			{Network: "Home", AccessPoint: "AA:AA", SignalDBm: -50},
		},
	}
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	ctx := context.Background()

	h := &harness{wifi: wifi.NewStatic(cafeFixture()), board: prompt.NewBoard()}

	store, err := ledger.Open(ctx, ledger.NewMemoryBackend(nil), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.MarkAllowed(ctx, "Home", "AA:AA"); err != nil {
		t.Fatal(err)
	}
	h.store = store

	var aud core.Auditor
	if opts.withAudit {
		h.audit, err = auditor.NewSQLite(auditor.SQLiteConfig{Path: filepath.Join(t.TempDir(), "audit.db")})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { h.audit.Close() })
		aud = h.audit
		opts.cfg.Auditor = h.audit
	}

	var ctrl core.WifiController = h.wifi
	if opts.wifi != nil {
		ctrl = opts.wifi
	}
	if opts.minInterval == 0 {
		opts.minInterval = time.Nanosecond
	}

	h.coord = coordinator.New(coordinator.Deps{
		Wifi:     ctrl,
		Ledger:   store,
		Prompter: h.board,
		Policy: coordinator.StaticPolicy(core.PolicyConfig{
			RestrictToAvailableNetworks: true,
			RestrictToKnownAccessPoints: true,
		}),
		Auditor: aud,
	}, coordinator.Config{MinInterval: opts.minInterval})

	br := bridge.New(bridge.Deps{
		Ledger:   store,
		Wifi:     ctrl,
		Prompter: h.board,
		Auditor:  aud,
	}, bridge.Options{})

	h.d = New(logger.NewNop(), Deps{
		Coordinator: h.coord,
		Bridge:      br,
		Ledger:      store,
		Wifi:        ctrl,
		Board:       h.board,
	}, opts.cfg)
	return h
}

func (h *harness) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.d.routes().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response %q: %v", w.Body.String(), err)
	}
	return resp
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStarting, "starting"},
		{StateReady, "ready"},
		{StateRunning, "running"},
		{StateStopping, "stopping"},
		{StateStopped, "stopped"},
		{State(99), "unknown"},
	}
	for _, tc := range tests {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	d := New(nil, Deps{}, Config{})

	if d.cfg.HTTPAddr != "127.0.0.1:8787" {
		t.Errorf("HTTPAddr = %q", d.cfg.HTTPAddr)
	}
	if d.cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v", d.cfg.PollInterval)
	}
	if d.cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v", d.cfg.ShutdownTimeout)
	}
	if d.State() != StateStarting {
		t.Errorf("initial state = %s, want starting", d.State())
	}
}

func TestDaemon_RunWithStop(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "apguard.pid")
	h := newHarness(t, harnessOptions{cfg: Config{
		HTTPAddr:      "127.0.0.1:0",
		PollInterval:  time.Hour,
		ReleaseOnExit: true,
		PIDFile:       pidPath,
	}})

	done := make(chan error, 1)
	go func() { done <- h.d.Run(context.Background()) }()

	waitFor(t, "startup cycle", func() bool {
		_, n, _ := h.coord.LastCycle()
		return n == 1
	})
	if _, err := os.Stat(pidPath); err != nil {
		t.Errorf("PID file should exist while daemon is running: %v", err)
	}
	if enabled, _ := h.wifi.Enabled("cafe"); enabled {
		t.Error("unknown network should be disabled after the startup cycle")
	}

	h.d.Stop()
	h.d.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	if h.d.State() != StateStopped {
		t.Errorf("state = %s, want stopped", h.d.State())
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("PID file should be removed after daemon stops")
	}
	if got := h.wifi.EnabledHandles(); len(got) != 2 {
		t.Errorf("release on exit should enable every network, got %v", got)
	}
}

func TestDaemon_RunWithContextCancel(t *testing.T) {
	h := newHarness(t, harnessOptions{cfg: Config{HTTPAddr: "127.0.0.1:0", PollInterval: time.Hour}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.d.Run(ctx) }()

	waitFor(t, "ready", func() bool { return h.d.State() == StateReady })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop on cancel")
	}
	if enabled, _ := h.wifi.Enabled("cafe"); enabled {
		t.Error("networks must stay as they are without release on exit")
	}
}

func TestDaemon_RunWithPIDFile_Locked(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "apguard.pid")
	held, err := pidfile.New(pidPath)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Close()

	d := New(logger.NewNop(), Deps{}, Config{HTTPAddr: "127.0.0.1:0", PIDFile: pidPath})
	err = d.Run(context.Background())
	if !errors.Is(err, pidfile.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestDaemon_RunWithPIDFile_InvalidPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0600); err != nil {
		t.Fatal(err)
	}

	d := New(logger.NewNop(), Deps{}, Config{HTTPAddr: "127.0.0.1:0", PIDFile: filepath.Join(file, "apguard.pid")})
	if err := d.Run(context.Background()); err == nil {
		t.Error("expected error for invalid PID file path")
	}
}

func TestDaemon_NotifyRunsCycle(t *testing.T) {
	h := newHarness(t, harnessOptions{cfg: Config{HTTPAddr: "127.0.0.1:0", PollInterval: time.Hour}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.d.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	waitFor(t, "startup cycle", func() bool {
		_, n, _ := h.coord.LastCycle()
		return n == 1
	})

	h.d.Notify("config_reload")
	h.d.Notify("config_reload")

	waitFor(t, "notified cycle", func() bool {
		_, n, _ := h.coord.LastCycle()
		return n >= 2
	})
}

func TestDaemon_NotifyNeverBlocks(t *testing.T) {
	d := New(logger.NewNop(), Deps{}, Config{})
	for i := 0; i < 10; i++ {
		d.Notify("test")
	}
	if len(d.triggerCh) != 1 {
		t.Errorf("expected one queued notification, got %d", len(d.triggerCh))
	}
}

func TestDaemon_KeepaliveRequestsScans(t *testing.T) {
	h := newHarness(t, harnessOptions{cfg: Config{
		HTTPAddr:          "127.0.0.1:0",
		PollInterval:      time.Hour,
		KeepaliveInterval: 10 * time.Millisecond,
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.d.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	waitFor(t, "keepalive scan", func() bool {
		_, scans := h.wifi.Counts()
		return scans >= 2
	})
}

type panickyWifi struct {
	*wifi.Static
}

func (panickyWifi) ConfiguredNetworks(context.Context) ([]core.ConfiguredNetwork, error) {
	panic("driver exploded")
}

func TestSafeTrigger_PanicRecovers(t *testing.T) {
	h := newHarness(t, harnessOptions{wifi: panickyWifi{wifi.NewStatic(cafeFixture())}})

	_, err := h.d.safeTrigger(context.Background(), "test")
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("expected panic error, got %v", err)
	}
	if h.coord.State() != coordinator.StateIdle {
		t.Error("coordinator should be idle after a panicking cycle")
	}
}

// ============================================================================
// HTTP server
// ============================================================================

func TestDaemon_StartHTTP_Success(t *testing.T) {
	d := New(logger.NewNop(), Deps{}, Config{HTTPAddr: "127.0.0.1:0"})

	if err := d.startHTTP(); err != nil {
		t.Fatalf("startHTTP() error = %v", err)
	}
	defer d.httpServer.Close()

	if strings.HasSuffix(d.Addr(), ":0") {
		t.Errorf("Addr() should report the bound port, got %s", d.Addr())
	}

	resp, err := http.Get("http://" + d.Addr() + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health returned %d", resp.StatusCode)
	}
}

func TestDaemon_StartHTTP_InvalidAddress(t *testing.T) {
	d := New(logger.NewNop(), Deps{}, Config{HTTPAddr: "invalid:address:format:99999"})

	if err := d.startHTTP(); err == nil {
		t.Error("expected error for invalid address")
	}
}

func TestDaemon_MiddlewareWrapsRoutes(t *testing.T) {
	d := New(logger.NewNop(), Deps{}, Config{
		HTTPAddr: "127.0.0.1:0",
		Middleware: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("X-API-Key") == "" {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
	})
	if err := d.startHTTP(); err != nil {
		t.Fatal(err)
	}
	defer d.httpServer.Close()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	d.httpServer.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected middleware to reject, got %d", w.Code)
	}

	req.Header.Set("X-API-Key", "ag_test")
	w = httptest.NewRecorder()
	d.httpServer.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected middleware to pass through, got %d", w.Code)
	}
}

// ============================================================================
// Health, readiness and status
// ============================================================================

func TestHealthEndpoint_AllStates(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	for _, state := range []State{StateStarting, StateReady, StateStopping, StateStopped} {
		h.d.state.Store(int32(state))
		w := h.do(t, http.MethodGet, "/health", "")

		if w.Code != http.StatusOK {
			t.Errorf("state=%s: health returned %d, want 200", state, w.Code)
		}
		resp := decode(t, w)
		if resp["status"] != "ok" || resp["state"] != state.String() {
			t.Errorf("state=%s: unexpected body %v", state, resp)
		}
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		state State
		want  int
	}{
		{StateStarting, http.StatusServiceUnavailable},
		{StateReady, http.StatusOK},
		{StateStopping, http.StatusServiceUnavailable},
		{StateStopped, http.StatusServiceUnavailable},
	}

	h := newHarness(t, harnessOptions{})
	for _, tc := range tests {
		h.d.state.Store(int32(tc.state))
		w := h.do(t, http.MethodGet, "/ready", "")
		if w.Code != tc.want {
			t.Errorf("state=%s: ready returned %d, want %d", tc.state, w.Code, tc.want)
		}
		if ready := decode(t, w)["ready"]; ready != (tc.want == http.StatusOK) {
			t.Errorf("state=%s: ready=%v", tc.state, ready)
		}
	}
}

func TestStatusEndpoint(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.d.state.Store(int32(StateReady))

	resp := decode(t, h.do(t, http.MethodGet, "/status", ""))
	if resp["cycle_count"].(float64) != 0 {
		t.Errorf("cycle_count = %v before any cycle", resp["cycle_count"])
	}
	if _, ok := resp["last_cycle"]; ok {
		t.Error("last_cycle should be absent before any cycle")
	}

	h.do(t, http.MethodPost, "/trigger", "")

	resp = decode(t, h.do(t, http.MethodGet, "/status", ""))
	if resp["state"] != "ready" {
		t.Errorf("state = %v", resp["state"])
	}
	if resp["cycle_state"] != "idle" {
		t.Errorf("cycle_state = %v", resp["cycle_state"])
	}
	if resp["cycle_count"].(float64) != 1 {
		t.Errorf("cycle_count = %v, want 1", resp["cycle_count"])
	}
	if resp["known_networks"].(float64) != 1 {
		t.Errorf("known_networks = %v, want 1", resp["known_networks"])
	}
	if resp["pending_decision"] != true {
		t.Error("expected a pending decision for the unknown cafe access point")
	}
	last, ok := resp["last_cycle"].(map[string]any)
	if !ok {
		t.Fatalf("last_cycle missing: %v", resp)
	}
	if last["outcome"] != core.ReasonCycleOK || last["evaluated"].(float64) != 2 {
		t.Errorf("unexpected last cycle %v", last)
	}
}

func TestStatusEndpoint_NoDeps(t *testing.T) {
	d := New(logger.NewNop(), Deps{}, Config{})
	w := httptest.NewRecorder()
	d.routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status returned %d", w.Code)
	}
	resp := decode(t, w)
	if _, ok := resp["cycle_state"]; ok {
		t.Error("cycle_state should be absent without a coordinator")
	}
}

// ============================================================================
// Trigger
// ============================================================================

func TestTriggerEndpoint_Success(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	w := h.do(t, http.MethodPost, "/trigger", "")
	if w.Code != http.StatusOK {
		t.Fatalf("trigger returned %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["triggered"] != true {
		t.Errorf("expected triggered=true, got %v", resp)
	}
	if enabled, _ := h.wifi.Enabled("home"); !enabled {
		t.Error("trusted home network should be enabled")
	}
	if p, ok := h.board.Current(); !ok || p.Network != "Cafe" || p.AccessPoint != "BB:BB" {
		t.Errorf("expected pending Cafe/BB:BB, got %+v (%v)", p, ok)
	}
}

func TestTriggerEndpoint_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*harness)
		opts  harnessOptions
		want  int
	}{
		{
			name: "debounced",
			opts: harnessOptions{minInterval: time.Hour},
			setup: func(h *harness) {
				_, _ = h.coord.OnScanEvent(context.Background())
			},
			want: http.StatusTooManyRequests,
		},
		{
			name:  "wifi unavailable",
			setup: func(h *harness) { h.wifi.SetUnavailable(true) },
			want:  http.StatusServiceUnavailable,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.opts)
			tc.setup(h)

			w := h.do(t, http.MethodPost, "/trigger", "")
			if w.Code != tc.want {
				t.Errorf("trigger returned %d, want %d: %s", w.Code, tc.want, w.Body.String())
			}
			if _, ok := decode(t, w)["error"]; !ok {
				t.Error("expected an error message")
			}
		})
	}
}

func TestTriggerEndpoint_MethodNotAllowed(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	w := h.do(t, http.MethodGet, "/trigger", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /trigger returned %d, want 405", w.Code)
	}
}

func TestTriggerEndpoint_NoCoordinator(t *testing.T) {
	d := New(logger.NewNop(), Deps{}, Config{})
	w := httptest.NewRecorder()
	d.routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/trigger", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("trigger without coordinator returned %d, want 503", w.Code)
	}
}

// ============================================================================
// Networks
// ============================================================================

func TestNetworksEndpoint(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	w := h.do(t, http.MethodGet, "/api/networks", "")
	if w.Code != http.StatusOK {
		t.Fatalf("networks returned %d", w.Code)
	}
	resp := decode(t, w)
	if resp["count"].(float64) != 1 {
		t.Fatalf("expected the one ledger network, got %v", resp)
	}
	first := resp["networks"].([]any)[0].(map[string]any)
	if first["network"] != "Home" || first["available"] != true {
		t.Errorf("unexpected inventory entry %v", first)
	}
}

func TestNetworksEndpoint_Unavailable(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.wifi.SetUnavailable(true)

	w := h.do(t, http.MethodGet, "/api/networks", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("networks with wifi off returned %d, want 503", w.Code)
	}
}

func TestNetworkEndpoint(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	_ = h.store.MarkBlocked(context.Background(), "Coffee Shop", "CC:CC")

	tests := []struct {
		target      string
		want        int
		wantAllowed int
		wantBlocked int
	}{
		{"/api/networks/Home", http.StatusOK, 1, 0},
		{"/api/networks/Coffee%20Shop", http.StatusOK, 0, 1},
		{"/api/networks/Nowhere", http.StatusNotFound, 0, 0},
	}
	for _, tc := range tests {
		w := h.do(t, http.MethodGet, tc.target, "")
		if w.Code != tc.want {
			t.Errorf("%s returned %d, want %d", tc.target, w.Code, tc.want)
			continue
		}
		if tc.want != http.StatusOK {
			continue
		}
		resp := decode(t, w)
		if got := len(resp["allowed"].([]any)); got != tc.wantAllowed {
			t.Errorf("%s: allowed = %d, want %d", tc.target, got, tc.wantAllowed)
		}
		if got := len(resp["blocked"].([]any)); got != tc.wantBlocked {
			t.Errorf("%s: blocked = %d, want %d", tc.target, got, tc.wantBlocked)
		}
	}
}

func TestLedgerEndpoints(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		method    string
		target    string
		wantKnown int
		check     func(*testing.T, *ledger.Store)
	}{
		{
			name: "forget allowed", method: http.MethodDelete, target: "/api/networks/Home/allowed/aa:aa",
			wantKnown: 1,
		},
		{
			name: "forget blocked", method: http.MethodDelete, target: "/api/networks/Cafe/blocked/CC:CC",
			wantKnown: 1,
			check: func(t *testing.T, s *ledger.Store) {
				if ledger.Contains(s.BlockedFor("Cafe"), "CC:CC") {
					t.Error("CC:CC should no longer be blocked")
				}
			},
		},
		{
			name: "clear network", method: http.MethodDelete, target: "/api/networks/Cafe",
			wantKnown: 1,
		},
		{
			name: "clear all", method: http.MethodDelete, target: "/api/networks",
			wantKnown: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{})
			_ = h.store.MarkBlocked(ctx, "Cafe", "CC:CC")

			w := h.do(t, tc.method, tc.target, "")
			if w.Code != http.StatusOK {
				t.Fatalf("%s %s returned %d: %s", tc.method, tc.target, w.Code, w.Body.String())
			}
			if got := len(h.store.KnownNetworkNames()); got != tc.wantKnown {
				t.Errorf("known networks = %d, want %d", got, tc.wantKnown)
			}
			if tc.check != nil {
				tc.check(t, h.store)
			}
		})
	}
}

func TestLedgerEndpoints_MethodNotAllowed(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	for _, target := range []string{"/api/networks", "/api/networks/Home"} {
		if w := h.do(t, http.MethodPost, target, ""); w.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s returned %d, want 405", target, w.Code)
		}
	}
}

// ============================================================================
// Pending decisions
// ============================================================================

func TestPendingEndpoint(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	if resp := decode(t, h.do(t, http.MethodGet, "/api/pending", "")); resp["pending"] != false {
		t.Errorf("expected no pending decision, got %v", resp)
	}

	h.do(t, http.MethodPost, "/trigger", "")

	resp := decode(t, h.do(t, http.MethodGet, "/api/pending", ""))
	if resp["pending"] != true {
		t.Fatalf("expected a pending decision, got %v", resp)
	}
	decision := resp["decision"].(map[string]any)
	if decision["network"] != "Cafe" || decision["access_point"] != "BB:BB" {
		t.Errorf("unexpected decision %v", decision)
	}
}

func TestDecisionEndpoint(t *testing.T) {
	tests := []struct {
		name        string
		trigger     bool
		body        string
		want        int
		wantAllowed bool
		wantBlocked bool
	}{
		{name: "trust pending", trigger: true, body: `{"trust":true}`, want: http.StatusOK, wantAllowed: true},
		{name: "block pending", trigger: true, body: `{"trust":false}`, want: http.StatusOK, wantBlocked: true},
		{name: "explicit trust", body: `{"network":"Cafe","access_point":"bb:bb","trust":true}`, want: http.StatusOK, wantAllowed: true},
		{name: "nothing pending", body: `{"trust":true}`, want: http.StatusConflict},
		{name: "missing trust", trigger: true, body: `{}`, want: http.StatusBadRequest},
		{name: "missing access point", body: `{"network":"Cafe","trust":true}`, want: http.StatusBadRequest},
		{name: "invalid json", body: `{`, want: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{})
			if tc.trigger {
				h.do(t, http.MethodPost, "/trigger", "")
			}

			w := h.do(t, http.MethodPost, "/api/decisions", tc.body)
			if w.Code != tc.want {
				t.Fatalf("decision returned %d, want %d: %s", w.Code, tc.want, w.Body.String())
			}
			if got := ledger.Contains(h.store.AllowedFor("Cafe"), "BB:BB"); got != tc.wantAllowed {
				t.Errorf("BB:BB allowed = %v, want %v", got, tc.wantAllowed)
			}
			if got := ledger.Contains(h.store.BlockedFor("Cafe"), "BB:BB"); got != tc.wantBlocked {
				t.Errorf("BB:BB blocked = %v, want %v", got, tc.wantBlocked)
			}
			if tc.want == http.StatusOK {
				if _, ok := h.board.Current(); ok {
					t.Error("answered prompt should be withdrawn")
				}
			}
		})
	}
}

func TestDecisionThenTrigger_EnablesNetwork(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	h.do(t, http.MethodPost, "/trigger", "")
	if enabled, _ := h.wifi.Enabled("cafe"); enabled {
		t.Fatal("cafe should not be enabled before the decision")
	}

	if w := h.do(t, http.MethodPost, "/api/decisions", `{"trust":true}`); w.Code != http.StatusOK {
		t.Fatalf("decision returned %d", w.Code)
	}
	if _, scans := h.wifi.Counts(); scans != 1 {
		t.Errorf("trusting should request one rescan, got %d", scans)
	}

	h.do(t, http.MethodPost, "/trigger", "")
	if enabled, _ := h.wifi.Enabled("cafe"); !enabled {
		t.Error("cafe should be enabled once its access point is trusted")
	}
}

func TestDaemon_TrustDecisionRunsCycle(t *testing.T) {
	tests := []struct {
		name        string
		minInterval time.Duration
	}{
		{name: "immediate", minInterval: time.Nanosecond},
		{name: "inside debounce window", minInterval: 200 * time.Millisecond},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{
				minInterval: tc.minInterval,
				cfg:         Config{HTTPAddr: "127.0.0.1:0", PollInterval: time.Hour},
			})

			done := make(chan error, 1)
			go func() { done <- h.d.Run(context.Background()) }()
			defer func() {
				h.d.Stop()
				select {
				case <-done:
				case <-time.After(5 * time.Second):
					t.Error("daemon did not stop")
				}
			}()

			waitFor(t, "startup cycle", func() bool {
				_, n, _ := h.coord.LastCycle()
				return n == 1
			})

			w := h.do(t, http.MethodPost, "/api/decisions", `{"network":"Cafe","access_point":"BB:BB","trust":true}`)
			if w.Code != http.StatusOK {
				t.Fatalf("decision returned %d: %s", w.Code, w.Body.String())
			}

			waitFor(t, "cycle after decision", func() bool {
				_, n, _ := h.coord.LastCycle()
				return n >= 2
			})
			if enabled, _ := h.wifi.Enabled("cafe"); !enabled {
				t.Error("cafe should be enabled by the cycle the decision triggered")
			}
		})
	}
}

func TestDecisionEndpoint_BlockDoesNotQueueCycle(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	w := h.do(t, http.MethodPost, "/api/decisions", `{"network":"Cafe","access_point":"BB:BB","trust":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("decision returned %d", w.Code)
	}
	select {
	case source := <-h.d.triggerCh:
		t.Errorf("blocking should not queue a cycle, got %q", source)
	default:
	}
}

// ============================================================================
// Audit
// ============================================================================

func TestAuditEndpoints_NotAvailable(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	for _, target := range []string{"/api/audit/query", "/api/audit/stats"} {
		if w := h.do(t, http.MethodGet, target, ""); w.Code != http.StatusNotFound {
			t.Errorf("%s without auditor returned %d, want 404", target, w.Code)
		}
		if w := h.do(t, http.MethodPost, target, ""); w.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s returned %d, want 405", target, w.Code)
		}
	}
}

func TestAuditQueryEndpoint_Validation(t *testing.T) {
	h := newHarness(t, harnessOptions{withAudit: true})

	tests := []string{
		"action=invalid",
		"level=invalid",
		"limit=notanumber",
		"limit=-1",
		"limit=0",
		"since=yesterday",
		"until=0d",
	}
	for _, q := range tests {
		w := h.do(t, http.MethodGet, "/api/audit/query?"+q, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s returned %d, want 400", q, w.Code)
		}
	}
}

func TestAuditQueryEndpoint_Success(t *testing.T) {
	h := newHarness(t, harnessOptions{withAudit: true})
	h.do(t, http.MethodPost, "/trigger", "")

	tests := []struct {
		query     string
		wantCount int
		wantLimit int
	}{
		{"", 3, defaultAuditLimit},
		{"action=verdict", 2, defaultAuditLimit},
		{"action=cycle&since=1h", 1, defaultAuditLimit},
		{"network=Cafe", 1, defaultAuditLimit},
		{"limit=1", 1, 1},
		{"limit=5000", 3, maxAuditLimit},
		{"level=error", 0, defaultAuditLimit},
	}
	for _, tc := range tests {
		w := h.do(t, http.MethodGet, "/api/audit/query?"+tc.query, "")
		if w.Code != http.StatusOK {
			t.Errorf("%q returned %d: %s", tc.query, w.Code, w.Body.String())
			continue
		}
		resp := decode(t, w)
		if got := int(resp["count"].(float64)); got != tc.wantCount {
			t.Errorf("%q: count = %d, want %d", tc.query, got, tc.wantCount)
		}
		if got := int(resp["limit"].(float64)); got != tc.wantLimit {
			t.Errorf("%q: limit = %d, want %d", tc.query, got, tc.wantLimit)
		}
		if _, ok := resp["records"].([]any); !ok {
			t.Errorf("%q: records should always be an array", tc.query)
		}
	}
}

func TestAuditStatsEndpoint(t *testing.T) {
	h := newHarness(t, harnessOptions{withAudit: true})
	h.do(t, http.MethodPost, "/trigger", "")
	h.do(t, http.MethodPost, "/api/decisions", `{"trust":false}`)

	w := h.do(t, http.MethodGet, "/api/audit/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats returned %d", w.Code)
	}
	var stats auditor.AuditStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalRecords != 4 {
		t.Errorf("TotalRecords = %d, want 4", stats.TotalRecords)
	}
	if stats.Cycles != 1 || stats.Decisions != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

// ============================================================================
// Helpers
// ============================================================================

func TestWriteJSONError(t *testing.T) {
	d := New(logger.NewNop(), Deps{}, Config{})
	w := httptest.NewRecorder()

	d.writeJSONError(w, http.StatusBadRequest, "test error")

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if resp := decode(t, w); resp["error"] != "test error" {
		t.Errorf("expected error='test error', got %v", resp["error"])
	}
}

func TestWriteLedgerError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrInvalidDecision, http.StatusBadRequest},
		{core.ErrPersistence, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	d := New(logger.NewNop(), Deps{}, Config{})
	for _, tc := range tests {
		w := httptest.NewRecorder()
		d.writeLedgerError(w, tc.err)
		if w.Code != tc.want {
			t.Errorf("%v: status = %d, want %d", tc.err, w.Code, tc.want)
		}
	}
}

func TestParseDurationWithDays(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"1d", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"1h", time.Hour, false},
		{"30m", 30 * time.Minute, false},
		{"0d", 0, true},
		{"-1d", 0, true},
		{"-1h", 0, true},
		{"d", 0, true},
		{"invalid", 0, true},
	}

	for _, tc := range tests {
		got, err := parseDurationWithDays(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseDurationWithDays(%q) expected error", tc.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseDurationWithDays(%q) error = %v", tc.input, err)
		}
		if got != tc.want {
			t.Errorf("parseDurationWithDays(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestParseTimeParam(t *testing.T) {
	tests := []struct {
		input    string
		wantZero bool
	}{
		{"2024-01-15T10:30:00Z", false},
		{"2024-01-15", false},
		{"24h", false},
		{"7d", false},
		{"invalid", true},
		{"", true},
	}

	for _, tc := range tests {
		got, err := parseTimeParam(tc.input)
		if tc.wantZero != (err != nil) {
			t.Errorf("parseTimeParam(%q) err = %v", tc.input, err)
		}
		if tc.wantZero != got.IsZero() {
			t.Errorf("parseTimeParam(%q) = %v", tc.input, got)
		}
	}

	got, _ := parseTimeParam("24h")
	if d := time.Since(got); d < 23*time.Hour || d > 25*time.Hour {
		t.Errorf("24h should look back a day, got %v", d)
	}
}

func TestUIEndpoint(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	w := h.do(t, http.MethodGet, "/", "")
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/ui/" {
		t.Fatalf("GET / = %d %q, want redirect to /ui/", w.Code, w.Header().Get("Location"))
	}

	w = h.do(t, http.MethodGet, "/ui/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /ui/ = %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Type"), "text/html") {
		t.Errorf("content type = %q", w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), "/api/decisions") {
		t.Error("page does not offer the decision form")
	}

	if w := h.do(t, http.MethodGet, "/nothing-here", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown path = %d, want 404", w.Code)
	}
}
