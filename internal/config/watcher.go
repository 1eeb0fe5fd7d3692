package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ChrisB0-2/apguard/internal/core"
	"github.com/ChrisB0-2/apguard/internal/logger"
)

// DefaultReloadDebounce is how long the watcher waits after the last write
// before reloading.
const DefaultReloadDebounce = 500 * time.Millisecond

// Watcher keeps the policy section of a config file current. It satisfies
// coordinator.PolicySource; every other section is read once at startup.
type Watcher struct {
	mu       sync.RWMutex
	policy   core.PolicyConfig
	onReload []func(core.PolicyConfig)

	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	log      logger.Logger
}

// NewWatcher watches path. The parent directory is watched so editors that
// replace the file on save are still seen.
func NewWatcher(path string, initial PolicyConfig, log logger.Logger) (*Watcher, error) {
	if log == nil {
		log = logger.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", abs, err)
	}

	return &Watcher{
		policy:   initial.Core(),
		path:     abs,
		watcher:  fw,
		debounce: DefaultReloadDebounce,
		log:      log,
	}, nil
}

// Policy returns the current policy.
func (w *Watcher) Policy() core.PolicyConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.policy
}

// OnReload registers fn to run after every successful reload.
func (w *Watcher) OnReload(fn func(core.PolicyConfig)) {
	w.mu.Lock()
	w.onReload = append(w.onReload, fn)
	w.mu.Unlock()
}

// Reload re-reads the file. An unreadable or invalid file leaves the
// current policy in place.
func (w *Watcher) Reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	if err := Validate(cfg); err != nil {
		return err
	}

	next := cfg.Policy.Core()
	w.mu.Lock()
	changed := next != w.policy
	w.policy = next
	hooks := append([]func(core.PolicyConfig){}, w.onReload...)
	w.mu.Unlock()

	if changed {
		w.log.Info("policy reloaded",
			logger.F("only_available_networks", next.RestrictToAvailableNetworks),
			logger.F("only_known_access_points", next.RestrictToKnownAccessPoints),
			logger.F("trust_enterprise_networks", next.TrustEnterpriseAccessPoints),
		)
	}
	for _, fn := range hooks {
		fn(next)
	}
	return nil
}

// Run watches for file changes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(w.debounce, func() {
					if err := w.Reload(); err != nil {
						w.log.Warn("config reload failed", logger.F("path", w.path), logger.F("error", err.Error()))
					}
				})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("file watcher error", logger.F("error", err.Error()))
		}
	}
}
