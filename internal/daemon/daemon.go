package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ChrisB0-2/apguard/internal/auditor"
	"github.com/ChrisB0-2/apguard/internal/bridge"
	"github.com/ChrisB0-2/apguard/internal/coordinator"
	"github.com/ChrisB0-2/apguard/internal/core"
	"github.com/ChrisB0-2/apguard/internal/logger"
	"github.com/ChrisB0-2/apguard/internal/pidfile"
	"github.com/ChrisB0-2/apguard/internal/prompt"
)

// State represents the current daemon state.
type State int32

const (
	StateStarting State = iota
	StateReady
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Deps are the services the daemon drives and exposes over HTTP.
// Any of them may be nil; the matching endpoints then answer 503.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Bridge      *bridge.Bridge
	Ledger      core.TrustStore
	Wifi        core.WifiController
	Board       *prompt.Board
}

// Config holds daemon configuration.
type Config struct {
	HTTPAddr          string        // API listen address (e.g., "127.0.0.1:8787")
	PollInterval      time.Duration // how often scan results are re-evaluated
	KeepaliveInterval time.Duration // how often a fresh OS scan is requested; 0 disables
	ReleaseOnExit     bool          // re-enable every configured network on shutdown
	ShutdownTimeout   time.Duration
	PIDFile           string
	Auditor           *auditor.SQLiteAuditor // backs /api/audit/*; optional
	Middleware        func(http.Handler) http.Handler
}

// Daemon keeps the scan cycle coordinator fed and serves the HTTP API.
type Daemon struct {
	log  logger.Logger
	deps Deps
	cfg  Config

	state      atomic.Int32
	stopOnce   sync.Once
	stopCh     chan struct{}
	triggerCh  chan string
	httpServer *http.Server
	listener   net.Listener
}

// New creates a new daemon instance.
func New(log logger.Logger, deps Deps, cfg Config) *Daemon {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = "127.0.0.1:8787"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	d := &Daemon{
		log:       log,
		deps:      deps,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		triggerCh: make(chan string, 1),
	}
	d.state.Store(int32(StateStarting))

	return d
}

// Run starts the daemon and blocks until shutdown.
// It handles SIGINT and SIGTERM for graceful shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info("daemon starting",
		logger.F("http_addr", d.cfg.HTTPAddr),
		logger.F("poll_interval", d.cfg.PollInterval.String()))

	pf, err := pidfile.New(d.cfg.PIDFile)
	if err != nil {
		return fmt.Errorf("failed to acquire pid file: %w", err)
	}
	defer func() {
		if err := pf.Close(); err != nil {
			d.log.Warn("pid file cleanup failed", logger.F("error", err.Error()))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := d.startHTTP(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	d.state.Store(int32(StateReady))
	d.log.Info("daemon ready", logger.F("http_addr", d.Addr()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if d.deps.Coordinator != nil {
		wg.Add(1)
		go d.pollLoop(ctx, &wg)
	}
	if d.deps.Wifi != nil && d.cfg.KeepaliveInterval > 0 {
		wg.Add(1)
		go d.keepaliveLoop(ctx, &wg)
	}

	select {
	case sig := <-sigCh:
		d.log.Info("received signal", logger.F("signal", sig.String()))
	case <-ctx.Done():
		d.log.Info("context canceled")
	case <-d.stopCh:
		d.log.Info("stop requested")
	}

	d.state.Store(int32(StateStopping))
	d.log.Info("daemon stopping")

	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
		d.log.Warn("HTTP server shutdown error", logger.F("error", err.Error()))
	}

	if d.cfg.ReleaseOnExit && d.deps.Coordinator != nil {
		n, err := d.deps.Coordinator.Release(shutdownCtx)
		if err != nil {
			d.log.Warn("release on exit failed", logger.F("released", n), logger.F("error", err.Error()))
		} else {
			d.log.Info("configured networks released", logger.F("released", n))
		}
	}

	d.state.Store(int32(StateStopped))
	d.log.Info("daemon stopped")

	return nil
}

// Stop signals the daemon to shut down. Safe to call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// Notify asks the poll loop for an immediate evaluation. It never blocks;
// a notification arriving while one is queued is merged into it.
func (d *Daemon) Notify(source string) {
	select {
	case d.triggerCh <- source:
	default:
	}
}

// State returns the current daemon state. A ready daemon reports running
// while a scan cycle is being evaluated.
func (d *Daemon) State() State {
	s := State(d.state.Load())
	if s == StateReady && d.deps.Coordinator != nil && d.deps.Coordinator.State() == coordinator.StateEvaluating {
		return StateRunning
	}
	return s
}

// Addr returns the address the HTTP server listens on.
func (d *Daemon) Addr() string {
	if d.listener == nil {
		return d.cfg.HTTPAddr
	}
	return d.listener.Addr().String()
}

// pollLoop evaluates once at startup, then on every tick or notification.
func (d *Daemon) pollLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	d.safeTrigger(ctx, "startup")

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Debug("poll loop stopping")
			return
		case <-ticker.C:
			d.safeTrigger(ctx, "poll")
		case source := <-d.triggerCh:
			_, err := d.safeTrigger(ctx, source)
			if errors.Is(err, coordinator.ErrDebounced) || errors.Is(err, coordinator.ErrCycleInProgress) {
				// Notifications are retried once the debounce window has passed.
				time.AfterFunc(d.deps.Coordinator.MinInterval(), func() { d.Notify(source) })
			}
		}
	}
}

func (d *Daemon) keepaliveLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(d.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.deps.Wifi.RequestScan(ctx); err != nil && ctx.Err() == nil {
				d.log.Warn("keepalive scan request failed", logger.F("error", err.Error()))
			}
		}
	}
}

// safeTrigger feeds one scan event to the coordinator, recovering from panics
// so a bad cycle cannot take the daemon down.
func (d *Daemon) safeTrigger(ctx context.Context, source string) (res *coordinator.CycleResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during scan cycle: %v", r)
			d.log.Error("scan cycle panicked",
				logger.F("source", source),
				logger.F("panic", fmt.Sprintf("%v", r)),
				logger.F("stack", string(debug.Stack())))
		}
	}()

	res, err = d.deps.Coordinator.OnScanEvent(ctx)
	switch {
	case err == nil:
	case errors.Is(err, coordinator.ErrDebounced), errors.Is(err, coordinator.ErrCycleInProgress):
		d.log.Debug("scan event dropped", logger.F("source", source), logger.F("reason", err.Error()))
	case ctx.Err() != nil:
	default:
		d.log.Warn("scan cycle failed", logger.F("source", source), logger.F("error", err.Error()))
	}
	return res, err
}

// startHTTP binds the API listener and serves it in the background.
func (d *Daemon) startHTTP() error {
	ln, err := net.Listen("tcp", d.cfg.HTTPAddr)
	if err != nil {
		return err
	}
	d.listener = ln

	var handler http.Handler = d.routes()
	if d.cfg.Middleware != nil {
		handler = d.cfg.Middleware(handler)
	}

	d.httpServer = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := d.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			d.log.Error("HTTP server error", logger.F("error", err.Error()))
		}
	}()

	return nil
}
