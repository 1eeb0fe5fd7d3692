package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration

	"github.com/ChrisB0-2/apguard/internal/core"
)

const (
	listAllowed = "allowed"
	listBlocked = "blocked"
)

// SQLiteBackend persists the ledger in a single SQLite file.
// The (network, access_point) primary key makes the allowed and blocked
// lists disjoint at the storage level as well.
type SQLiteBackend struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteBackend opens (or creates) the ledger database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; WAL keeps readers of other processes (CLI) unblocked.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := createLedgerSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteBackend{db: db, now: time.Now}, nil
}

func createLedgerSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS trust_ledger (
		network TEXT NOT NULL,
		access_point TEXT NOT NULL,
		list TEXT NOT NULL CHECK (list IN ('allowed', 'blocked')),
		updated_at TEXT NOT NULL,
		PRIMARY KEY (network, access_point)
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_network ON trust_ledger(network);

	CREATE TABLE IF NOT EXISTS ledger_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}

	_, err := db.Exec(`
		INSERT OR IGNORE INTO ledger_meta (key, value)
		VALUES ('created_at', ?)
	`, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (b *SQLiteBackend) Load(ctx context.Context) (map[core.NetworkName]core.TrustEntry, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT network, access_point, list FROM trust_ledger
		ORDER BY network, list, access_point
	`)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	out := make(map[core.NetworkName]core.TrustEntry)
	for rows.Next() {
		var network, ap, list string
		if err := rows.Scan(&network, &ap, &list); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		name := core.NetworkName(network)
		e := out[name]
		switch list {
		case listAllowed:
			e.Allowed = append(e.Allowed, core.AccessPointID(ap))
		case listBlocked:
			e.Blocked = append(e.Blocked, core.AccessPointID(ap))
		}
		out[name] = e
	}
	return out, rows.Err()
}

// Replace rewrites every row of one network inside a single transaction.
func (b *SQLiteBackend) Replace(ctx context.Context, name core.NetworkName, entry core.TrustEntry) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM trust_ledger WHERE network = ?`, string(name)); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}

	ts := b.now().UTC().Format(time.RFC3339Nano)
	insert := func(list string, aps []core.AccessPointID) error {
		for _, ap := range aps {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO trust_ledger (network, access_point, list, updated_at)
				VALUES (?, ?, ?, ?)
			`, string(name), string(ap), list, ts); err != nil {
				return fmt.Errorf("insert %s/%s: %w", name, ap, err)
			}
		}
		return nil
	}
	if err := insert(listAllowed, entry.Allowed); err != nil {
		return err
	}
	if err := insert(listBlocked, entry.Blocked); err != nil {
		return err
	}

	return tx.Commit()
}

func (b *SQLiteBackend) DeleteAll(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM trust_ledger`); err != nil {
		return fmt.Errorf("delete all: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

var _ Backend = (*SQLiteBackend)(nil)
