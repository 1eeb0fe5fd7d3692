package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ChrisB0-2/apguard/internal/core"
)

func TestSQLiteBackend_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	b, err := NewSQLiteBackend(dbPath)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	s, err := Open(ctx, b, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	if err := s.MarkAllowed(ctx, "Cafe", "aa:aa:aa:aa:aa:aa"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkBlocked(ctx, "Cafe", "BB:BB:BB:BB:BB:BB"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkAllowed(ctx, "Home", "CC:CC:CC:CC:CC:CC"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b2, err := NewSQLiteBackend(dbPath)
	if err != nil {
		t.Fatalf("reopen backend: %v", err)
	}
	defer b2.Close()
	s2, err := Open(ctx, b2, nil)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}

	if !Contains(s2.AllowedFor("Cafe"), "AA:AA:AA:AA:AA:AA") {
		t.Errorf("expected normalized allowed id after reopen, got %v", s2.AllowedFor("Cafe"))
	}
	if !Contains(s2.BlockedFor("Cafe"), "BB:BB:BB:BB:BB:BB") {
		t.Errorf("expected blocked id after reopen, got %v", s2.BlockedFor("Cafe"))
	}
	if names := s2.KnownNetworkNames(); len(names) != 2 {
		t.Errorf("expected 2 known networks, got %v", names)
	}
}

func TestSQLiteBackend_ReplaceSwitchesList(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	b, err := NewSQLiteBackend(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := b.Replace(ctx, "Cafe", core.TrustEntry{Allowed: []core.AccessPointID{"AA:AA"}}); err != nil {
		t.Fatal(err)
	}
	if err := b.Replace(ctx, "Cafe", core.TrustEntry{Blocked: []core.AccessPointID{"AA:AA"}}); err != nil {
		t.Fatal(err)
	}

	loaded, err := b.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	e := loaded["Cafe"]
	if len(e.Allowed) != 0 || len(e.Blocked) != 1 {
		t.Errorf("expected single blocked id, got %+v", e)
	}
}

func TestSQLiteBackend_EmptyReplaceRemovesNetwork(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	b, err := NewSQLiteBackend(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	_ = b.Replace(ctx, "Cafe", core.TrustEntry{Allowed: []core.AccessPointID{"AA:AA"}})
	_ = b.Replace(ctx, "Home", core.TrustEntry{Allowed: []core.AccessPointID{"BB:BB"}})
	if err := b.Replace(ctx, "Cafe", core.TrustEntry{}); err != nil {
		t.Fatal(err)
	}

	loaded, _ := b.Load(ctx)
	if _, ok := loaded["Cafe"]; ok {
		t.Error("expected Cafe to be removed")
	}
	if _, ok := loaded["Home"]; !ok {
		t.Error("expected Home to remain")
	}

	if err := b.DeleteAll(ctx); err != nil {
		t.Fatal(err)
	}
	loaded, _ = b.Load(ctx)
	if len(loaded) != 0 {
		t.Errorf("expected empty ledger, got %v", loaded)
	}
}
