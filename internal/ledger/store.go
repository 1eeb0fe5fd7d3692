// Package ledger holds the persisted trust ledger: per network name, the
// access points the user allowed and the ones the user blocked.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ChrisB0-2/apguard/internal/core"
	"github.com/ChrisB0-2/apguard/internal/logger"
)

// Backend is the durable storage behind a Store.
// Replace must be atomic: either the whole entry is written or nothing is.
// Replacing with an empty entry removes the network.
type Backend interface {
	Load(ctx context.Context) (map[core.NetworkName]core.TrustEntry, error)
	Replace(ctx context.Context, name core.NetworkName, entry core.TrustEntry) error
	DeleteAll(ctx context.Context) error
	Close() error
}

// Store is the synchronized trust ledger. Reads are served from memory;
// the in-memory copy only changes after the backend accepted the write.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	entries map[core.NetworkName]core.TrustEntry
	log     logger.Logger
}

// Open loads the ledger from backend. Entries that needed cleaning are
// written back so the backend and memory never disagree.
func Open(ctx context.Context, backend Backend, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNop()
	}
	loaded, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load: %v", core.ErrPersistence, err)
	}

	entries := make(map[core.NetworkName]core.TrustEntry, len(loaded))
	for name, e := range loaded {
		clean := sanitize(e)
		if len(clean.Allowed) != len(uniq(e.Allowed)) {
			log.Warn("ledger entry had overlapping lists, keeping block", logger.F("network", string(name)))
		}
		if clean.Empty() || !equal(clean, sorted(e)) {
			if err := backend.Replace(ctx, name, clean); err != nil {
				return nil, fmt.Errorf("%w: rewrite %q: %v", core.ErrPersistence, name, err)
			}
			log.Info("ledger entry normalized", logger.F("network", string(name)))
		}
		if !clean.Empty() {
			entries[name] = clean
		}
	}

	log.Debug("ledger loaded", logger.F("networks", len(entries)))
	return &Store{backend: backend, entries: entries, log: log}, nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) AllowedFor(name core.NetworkName) []core.AccessPointID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.entries[name].Allowed)
}

func (s *Store) BlockedFor(name core.NetworkName) []core.AccessPointID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.entries[name].Blocked)
}

// Entry returns both lists for name.
func (s *Store) Entry(name core.NetworkName) core.TrustEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.entries[name]
	return core.TrustEntry{Allowed: clone(e.Allowed), Blocked: clone(e.Blocked)}
}

// KnownNetworkNames returns every name with at least one non-empty list.
func (s *Store) KnownNetworkNames() []core.NetworkName {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]core.NetworkName, 0, len(s.entries))
	for name, e := range s.entries {
		if !e.Empty() {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Snapshot returns a deep copy of the ledger.
func (s *Store) Snapshot() map[core.NetworkName]core.TrustEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[core.NetworkName]core.TrustEntry, len(s.entries))
	for name, e := range s.entries {
		out[name] = core.TrustEntry{Allowed: clone(e.Allowed), Blocked: clone(e.Blocked)}
	}
	return out
}

// MarkAllowed adds ap to the allowed list and removes it from the blocked list.
func (s *Store) MarkAllowed(ctx context.Context, name core.NetworkName, ap core.AccessPointID) error {
	ap = core.NormalizeAccessPointID(string(ap))
	return s.mutate(ctx, name, func(e core.TrustEntry) core.TrustEntry {
		return core.TrustEntry{Allowed: with(e.Allowed, ap), Blocked: without(e.Blocked, ap)}
	})
}

// MarkBlocked adds ap to the blocked list and removes it from the allowed list.
func (s *Store) MarkBlocked(ctx context.Context, name core.NetworkName, ap core.AccessPointID) error {
	ap = core.NormalizeAccessPointID(string(ap))
	return s.mutate(ctx, name, func(e core.TrustEntry) core.TrustEntry {
		return core.TrustEntry{Allowed: without(e.Allowed, ap), Blocked: with(e.Blocked, ap)}
	})
}

func (s *Store) RemoveAllowed(ctx context.Context, name core.NetworkName, ap core.AccessPointID) error {
	ap = core.NormalizeAccessPointID(string(ap))
	return s.mutate(ctx, name, func(e core.TrustEntry) core.TrustEntry {
		return core.TrustEntry{Allowed: without(e.Allowed, ap), Blocked: e.Blocked}
	})
}

func (s *Store) RemoveBlocked(ctx context.Context, name core.NetworkName, ap core.AccessPointID) error {
	ap = core.NormalizeAccessPointID(string(ap))
	return s.mutate(ctx, name, func(e core.TrustEntry) core.TrustEntry {
		return core.TrustEntry{Allowed: e.Allowed, Blocked: without(e.Blocked, ap)}
	})
}

// ClearFor empties both lists of one network.
func (s *Store) ClearFor(ctx context.Context, name core.NetworkName) error {
	return s.mutate(ctx, name, func(core.TrustEntry) core.TrustEntry {
		return core.TrustEntry{}
	})
}

// ClearAll erases the whole ledger.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.DeleteAll(ctx); err != nil {
		return fmt.Errorf("%w: clear all: %v", core.ErrPersistence, err)
	}
	s.entries = make(map[core.NetworkName]core.TrustEntry)
	s.log.Info("ledger cleared")
	return nil
}

func (s *Store) mutate(ctx context.Context, name core.NetworkName, fn func(core.TrustEntry) core.TrustEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.entries[name]
	next := fn(cur)
	if equal(cur, next) {
		return nil
	}

	if err := s.backend.Replace(ctx, name, next); err != nil {
		return fmt.Errorf("%w: %s: %v", core.ErrPersistence, name, err)
	}

	if next.Empty() {
		delete(s.entries, name)
	} else {
		s.entries[name] = next
	}
	s.log.Debug("ledger updated",
		logger.F("network", string(name)),
		logger.F("allowed", len(next.Allowed)),
		logger.F("blocked", len(next.Blocked)))
	return nil
}

// Contains reports whether ap is in list.
func Contains(list []core.AccessPointID, ap core.AccessPointID) bool {
	for _, v := range list {
		if v == ap {
			return true
		}
	}
	return false
}

func with(list []core.AccessPointID, ap core.AccessPointID) []core.AccessPointID {
	if Contains(list, ap) {
		return list
	}
	out := make([]core.AccessPointID, 0, len(list)+1)
	out = append(out, list...)
	out = append(out, ap)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func without(list []core.AccessPointID, ap core.AccessPointID) []core.AccessPointID {
	if !Contains(list, ap) {
		return list
	}
	out := make([]core.AccessPointID, 0, len(list)-1)
	for _, v := range list {
		if v != ap {
			out = append(out, v)
		}
	}
	return out
}

// sanitize normalizes, sorts and dedupes both lists; an id present in both
// lists is kept only as blocked.
func sanitize(e core.TrustEntry) core.TrustEntry {
	blocked := uniq(e.Blocked)
	var allowed []core.AccessPointID
	for _, ap := range uniq(e.Allowed) {
		if !Contains(blocked, ap) {
			allowed = append(allowed, ap)
		}
	}
	return core.TrustEntry{Allowed: allowed, Blocked: blocked}
}

func uniq(list []core.AccessPointID) []core.AccessPointID {
	var out []core.AccessPointID
	for _, ap := range list {
		out = with(out, core.NormalizeAccessPointID(string(ap)))
	}
	return out
}

// sorted returns e with both lists in order. Set-backed stores load
// members in arbitrary order, which alone is not worth a rewrite.
func sorted(e core.TrustEntry) core.TrustEntry {
	out := core.TrustEntry{Allowed: clone(e.Allowed), Blocked: clone(e.Blocked)}
	sort.Slice(out.Allowed, func(i, j int) bool { return out.Allowed[i] < out.Allowed[j] })
	sort.Slice(out.Blocked, func(i, j int) bool { return out.Blocked[i] < out.Blocked[j] })
	return out
}

func equal(a, b core.TrustEntry) bool {
	return sameList(a.Allowed, b.Allowed) && sameList(a.Blocked, b.Blocked)
}

func sameList(a, b []core.AccessPointID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func clone(list []core.AccessPointID) []core.AccessPointID {
	if len(list) == 0 {
		return nil
	}
	out := make([]core.AccessPointID, len(list))
	copy(out, list)
	return out
}

// Ensure Store implements core.TrustStore
var _ core.TrustStore = (*Store)(nil)
