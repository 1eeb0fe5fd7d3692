package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/ChrisB0-2/apguard/internal/config"
	"github.com/ChrisB0-2/apguard/internal/logger"
)

const homeFixture = `configured:
  - network: Home
    handle: home
  - network: Cafe
    handle: cafe
observed:
  - network: Home
    access_point: "aa:aa:aa:aa:aa:01"
    signal_dbm: -50
`

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wifi.yaml")
	if err := os.WriteFile(path, []byte(homeFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Ledger.Backend = backend
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "ledger.db")
	cfg.Wifi.Driver = "static"
	cfg.Wifi.Fixture = writeFixture(t)
	cfg.Scan.MinInterval = 0
	return cfg
}

func TestSetup_LedgerBackends(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	t.Cleanup(mr.Close)

	tests := []struct {
		name    string
		backend string
		adjust  func(*config.Config)
	}{
		{"memory", "memory", nil},
		{"sqlite", "sqlite", nil},
		{"redis", "redis", func(c *config.Config) { c.Ledger.Redis.Addr = mr.Addr() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, tt.backend)
			if tt.adjust != nil {
				tt.adjust(cfg)
			}
			ctx := context.Background()

			s, err := setup(ctx, cfg, logger.NewNop(), setupOptions{})
			if err != nil {
				t.Fatalf("setup: %v", err)
			}
			defer s.Close()

			if err := s.bridge.ApplyUserDecision(ctx, "Home", "aa:aa:aa:aa:aa:01", true); err != nil {
				t.Fatalf("ApplyUserDecision: %v", err)
			}
			if got := s.ledger.AllowedFor("Home"); len(got) != 1 {
				t.Fatalf("expected one allowed AP, got %v", got)
			}

			res, err := s.coord.OnScanEvent(ctx)
			if err != nil {
				t.Fatalf("OnScanEvent: %v", err)
			}
			if res.Evaluated != 2 {
				t.Errorf("evaluated = %d, want 2", res.Evaluated)
			}
		})
	}
}

func TestSetup_SQLiteLedgerPersists(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	ctx := context.Background()

	s, err := setup(ctx, cfg, logger.NewNop(), setupOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.bridge.ApplyUserDecision(ctx, "Home", "aa:aa:aa:aa:aa:01", true); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := setup(ctx, cfg, logger.NewNop(), setupOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if got := s2.ledger.AllowedFor("Home"); len(got) != 1 {
		t.Errorf("expected the decision to survive a restart, got %v", got)
	}
}

func TestSetup_Auditors(t *testing.T) {
	cfg := testConfig(t, "memory")
	dir := t.TempDir()
	cfg.Audit.SQLitePath = filepath.Join(dir, "audit.db")
	cfg.Audit.JSONLPath = filepath.Join(dir, "audit.jsonl")
	ctx := context.Background()

	s, err := setup(ctx, cfg, logger.NewNop(), setupOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if s.audit == nil || s.jsonl == nil {
		t.Fatal("expected both audit backends")
	}
	if _, err := s.coord.OnScanEvent(ctx); err != nil {
		t.Fatal(err)
	}

	st, err := s.audit.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Cycles != 1 {
		t.Errorf("cycles = %d, want 1", st.Cycles)
	}
	s.Close()

	data, err := os.ReadFile(cfg.Audit.JSONLPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"cycle"`) {
		t.Errorf("jsonl audit missing cycle record: %s", data)
	}
}

func TestSetup_Metrics(t *testing.T) {
	cfg := testConfig(t, "memory")

	s, err := setup(context.Background(), cfg, logger.NewNop(), setupOptions{metrics: true})
	if err != nil {
		t.Fatal(err)
	}
	if s.registry != nil {
		t.Error("registry should stay nil while metrics are disabled")
	}
	s.Close()

	cfg.Metrics.Enabled = true
	s, err = setup(context.Background(), cfg, logger.NewNop(), setupOptions{metrics: true})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.registry == nil {
		t.Fatal("expected a prometheus registry")
	}
	mfs, err := s.registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, mf := range mfs {
		if strings.HasPrefix(mf.GetName(), "apguard_") {
			found = true
		}
	}
	if !found {
		t.Error("no apguard_ metrics registered")
	}
}

func TestSetup_Errors(t *testing.T) {
	tests := []struct {
		name   string
		adjust func(*config.Config)
		opts   setupOptions
		want   string
	}{
		{
			name:   "unknown ledger backend",
			adjust: func(c *config.Config) { c.Ledger.Backend = "etcd" },
			want:   "unknown ledger backend",
		},
		{
			name:   "unknown wifi driver",
			adjust: func(c *config.Config) { c.Wifi.Driver = "iwd" },
			want:   "unknown wifi driver",
		},
		{
			name:   "static without fixture",
			adjust: func(c *config.Config) { c.Wifi.Fixture = "" },
			want:   "fixture",
		},
		{
			name:   "missing fixture file",
			adjust: func(c *config.Config) {},
			opts:   setupOptions{fixture: "/does/not/exist.yaml"},
			want:   "read fixture",
		},
		{
			name:   "unreachable redis",
			adjust: func(c *config.Config) { c.Ledger.Backend = "redis"; c.Ledger.Redis.Addr = "127.0.0.1:1" },
			want:   "ledger redis",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, "memory")
			tt.adjust(cfg)

			_, err := setup(context.Background(), cfg, logger.NewNop(), tt.opts)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestOpenWifi_FixtureOverride(t *testing.T) {
	fixture := writeFixture(t)
	w, err := openWifi(config.WifiConfig{Driver: "nmcli"}, fixture, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	nets, err := w.ConfiguredNetworks(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(nets) != 2 {
		t.Errorf("expected the fixture's 2 networks, got %d", len(nets))
	}
}

func TestWebhookConfig(t *testing.T) {
	got := webhookConfig(config.WebhookConfig{
		URL:    "https://hooks.example.com/x",
		Format: "slack",
		Events: []string{"pending_decision"},
	})
	if got.URL != "https://hooks.example.com/x" || got.Format != "slack" {
		t.Errorf("unexpected config %+v", got)
	}
	if len(got.Events) != 1 || string(got.Events[0]) != "pending_decision" {
		t.Errorf("events = %v", got.Events)
	}
}

func TestNewLogger(t *testing.T) {
	for _, out := range []string{"", "stderr", "stdout"} {
		log, closeFn, err := newLogger(config.LoggingConfig{Level: "info", Format: "json", Output: out})
		if err != nil || log == nil {
			t.Fatalf("output %q: %v", out, err)
		}
		if err := closeFn(); err != nil {
			t.Errorf("close %q: %v", out, err)
		}
	}

	path := filepath.Join(t.TempDir(), "apguard.log")
	log, closeFn, err := newLogger(config.LoggingConfig{Level: "bogus", Format: "json", Output: path})
	if err != nil {
		t.Fatal(err)
	}
	log.Info("hello")
	if err := closeFn(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("log file missing message: %s", data)
	}

	if _, _, err := newLogger(config.LoggingConfig{Output: filepath.Join(t.TempDir(), "missing", "x.log")}); err == nil {
		t.Error("expected error for unwritable log path")
	}
}
