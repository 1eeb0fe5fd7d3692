package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ChrisB0-2/apguard/internal/auditor"
	"github.com/ChrisB0-2/apguard/internal/bridge"
	"github.com/ChrisB0-2/apguard/internal/config"
	"github.com/ChrisB0-2/apguard/internal/coordinator"
	"github.com/ChrisB0-2/apguard/internal/core"
	"github.com/ChrisB0-2/apguard/internal/ledger"
	"github.com/ChrisB0-2/apguard/internal/logger"
	"github.com/ChrisB0-2/apguard/internal/metrics"
	"github.com/ChrisB0-2/apguard/internal/prompt"
	"github.com/ChrisB0-2/apguard/internal/wifi"
)

// services is everything one apguard process wires together.
type services struct {
	cfg      *config.Config
	log      logger.Logger
	ledger   *ledger.Store
	wifi     core.WifiController
	board    *prompt.Board
	audit    *auditor.SQLiteAuditor
	jsonl    *auditor.JSONLAuditor
	metrics  core.Metrics
	registry *prometheus.Registry
	coord    *coordinator.Coordinator
	bridge   *bridge.Bridge
	closers  []func() error
}

type setupOptions struct {
	policy  coordinator.PolicySource // nil uses the loaded policy as is
	fixture string                   // forces the static driver
	metrics bool
}

func setup(ctx context.Context, cfg *config.Config, log logger.Logger, opts setupOptions) (_ *services, err error) {
	s := &services{cfg: cfg, log: log, board: prompt.NewBoard(), metrics: metrics.NewNoop()}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	backend, err := openLedgerBackend(ctx, cfg.Ledger)
	if err != nil {
		return nil, err
	}
	s.ledger, err = ledger.Open(ctx, backend, log.WithFields(logger.F("component", "ledger")))
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	s.closers = append(s.closers, s.ledger.Close)

	if s.wifi, err = openWifi(cfg.Wifi, opts.fixture, log); err != nil {
		return nil, err
	}

	aud, err := s.openAuditors(cfg.Audit)
	if err != nil {
		return nil, err
	}

	if opts.metrics && cfg.Metrics.Enabled {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		s.metrics = metrics.NewPrometheus(s.registry)
	}

	var prompter core.Prompter = s.board
	if cfg.Prompt.Webhook.URL != "" {
		prompter = prompt.NewMulti(s.board, prompt.NewWebhook(webhookConfig(cfg.Prompt.Webhook)))
	}

	policy := opts.policy
	if policy == nil {
		policy = coordinator.StaticPolicy(cfg.Policy.Core())
	}

	s.coord = coordinator.New(coordinator.Deps{
		Wifi:     s.wifi,
		Ledger:   s.ledger,
		Prompter: prompter,
		Policy:   policy,
		Log:      log.WithFields(logger.F("component", "coordinator")),
		Metrics:  s.metrics,
		Auditor:  aud,
	}, coordinator.Config{
		MinInterval:   cfg.Scan.MinInterval,
		CycleTimeout:  cfg.Scan.CycleTimeout,
		PromptTimeout: cfg.Scan.PromptTimeout,
	})

	s.bridge = bridge.New(bridge.Deps{
		Ledger:   s.ledger,
		Wifi:     s.wifi,
		Prompter: prompter,
		Log:      log.WithFields(logger.F("component", "bridge")),
		Metrics:  s.metrics,
		Auditor:  aud,
	}, bridge.Options{TrustVisibleSiblings: cfg.Prompt.TrustVisibleSiblings})

	s.metrics.SetKnownNetworks(len(s.ledger.KnownNetworkNames()))
	return s, nil
}

// Close releases resources in reverse order of acquisition.
func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.Warn("close failed", logger.F("error", err.Error()))
		}
	}
	s.closers = nil
}

func (s *services) openAuditors(cfg config.AuditConfig) (core.Auditor, error) {
	var backends []core.Auditor

	if cfg.SQLitePath != "" {
		a, err := auditor.NewSQLite(auditor.SQLiteConfig{Path: cfg.SQLitePath, Logger: s.log})
		if err != nil {
			return nil, fmt.Errorf("audit database: %w", err)
		}
		s.audit = a
		s.closers = append(s.closers, a.Close)
		backends = append(backends, a)
	}

	if cfg.JSONLPath != "" {
		a, err := auditor.NewJSONL(cfg.JSONLPath)
		if err != nil {
			return nil, fmt.Errorf("audit log: %w", err)
		}
		s.jsonl = a
		s.closers = append(s.closers, func() error {
			if werr := a.Err(); werr != nil {
				s.log.Warn("audit log write error", logger.F("error", werr.Error()))
			}
			return a.Close()
		})
		backends = append(backends, a)
	}

	if len(backends) == 0 {
		return nil, nil
	}
	return auditor.NewMulti(backends...), nil
}

func openLedgerBackend(ctx context.Context, cfg config.LedgerConfig) (ledger.Backend, error) {
	switch cfg.Backend {
	case "", "sqlite":
		b, err := ledger.NewSQLiteBackend(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("ledger database: %w", err)
		}
		return b, nil
	case "redis":
		b, err := ledger.DialRedis(ctx, ledger.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("ledger redis: %w", err)
		}
		return b, nil
	case "memory":
		return ledger.NewMemoryBackend(nil), nil
	}
	return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
}

func openWifi(cfg config.WifiConfig, fixture string, log logger.Logger) (core.WifiController, error) {
	if fixture != "" {
		cfg.Driver, cfg.Fixture = "static", fixture
	}
	switch cfg.Driver {
	case "", "nmcli":
		return wifi.NewNMCLI(wifi.NMCLIConfig{Binary: cfg.Binary, Interface: cfg.Interface}, nil,
			log.WithFields(logger.F("component", "nmcli"))), nil
	case "static":
		if cfg.Fixture == "" {
			return nil, errors.New("static wifi driver needs a fixture file")
		}
		return wifi.LoadStatic(cfg.Fixture)
	}
	return nil, fmt.Errorf("unknown wifi driver %q", cfg.Driver)
}

func webhookConfig(cfg config.WebhookConfig) prompt.WebhookConfig {
	events := make([]prompt.EventType, 0, len(cfg.Events))
	for _, e := range cfg.Events {
		events = append(events, prompt.EventType(e))
	}
	return prompt.WebhookConfig{
		URL:     cfg.URL,
		Headers: cfg.Headers,
		Events:  events,
		Timeout: cfg.Timeout,
		Format:  cfg.Format,
	}
}

// newLogger builds the process logger. The returned func closes the log
// file if one was opened.
func newLogger(cfg config.LoggingConfig) (logger.Logger, func() error, error) {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		level = logger.LevelInfo
	}

	noop := func() error { return nil }
	switch cfg.Output {
	case "", "stderr":
		return logger.New(level, logger.Format(cfg.Format), os.Stderr), noop, nil
	case "stdout":
		return logger.New(level, logger.Format(cfg.Format), os.Stdout), noop, nil
	}

	f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return logger.New(level, logger.Format(cfg.Format), f), f.Close, nil
}
