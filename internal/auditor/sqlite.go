package auditor

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration

	"github.com/ChrisB0-2/apguard/internal/core"
	"github.com/ChrisB0-2/apguard/internal/logger"
)

// SQLiteAuditor persists audit events to a SQLite database. Every row
// carries a SHA256 checksum so edits to history can be detected.
type SQLiteAuditor struct {
	db  *sql.DB
	mu  sync.Mutex
	log logger.Logger
}

// SQLiteConfig configures the SQLite auditor.
type SQLiteConfig struct {
	Path   string
	Logger logger.Logger // write failures are logged here; nil discards them
}

// AuditRecord represents a single audit log entry.
type AuditRecord struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Level       string    `json:"level"`
	Action      string    `json:"action"`
	Network     string    `json:"network,omitempty"`
	AccessPoint string    `json:"access_point,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	CycleID     string    `json:"cycle_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	Fields      string    `json:"fields,omitempty"` // JSON-encoded extra fields
	Checksum    string    `json:"checksum"`
}

// NewSQLite creates a new SQLite auditor.
func NewSQLite(cfg SQLiteConfig) (*SQLiteAuditor, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &SQLiteAuditor{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		level TEXT NOT NULL,
		action TEXT NOT NULL,
		network TEXT,
		access_point TEXT,
		reason TEXT,
		cycle_id TEXT,
		error TEXT,
		fields TEXT,
		checksum TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action);
	CREATE INDEX IF NOT EXISTS idx_audit_network ON audit_log(network);

	CREATE TABLE IF NOT EXISTS audit_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return err
	}

	_, err := db.Exec(`
		INSERT OR IGNORE INTO audit_meta (key, value)
		VALUES ('created_at', ?)
	`, time.Now().UTC().Format(time.RFC3339))

	return err
}

// Record persists an audit event. Write failures are logged, never returned.
func (a *SQLiteAuditor) Record(ctx context.Context, evt core.AuditEvent) {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}

	r := AuditRecord{
		Timestamp:   evt.Time,
		Level:       evt.Level,
		Action:      evt.Action,
		Network:     string(evt.Network),
		AccessPoint: string(evt.AccessPoint),
	}
	if evt.Err != nil {
		r.Error = evt.Err.Error()
	}
	if v, ok := evt.Fields["reason"].(string); ok {
		r.Reason = v
	}
	if v, ok := evt.Fields["cycle_id"].(string); ok {
		r.CycleID = v
	}
	if len(evt.Fields) > 0 {
		if b, err := json.Marshal(evt.Fields); err == nil {
			r.Fields = string(b)
		}
	}
	r.Checksum = computeChecksum(r)

	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO audit_log (timestamp, level, action, network, access_point, reason, cycle_id, error, fields, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Level,
		r.Action,
		r.Network,
		r.AccessPoint,
		r.Reason,
		r.CycleID,
		r.Error,
		r.Fields,
		r.Checksum,
	)
	if err != nil {
		a.log.Warn("audit write failed", logger.F("action", evt.Action), logger.F("error", err.Error()))
	}
}

// computeChecksum hashes every stored column except id and checksum.
func computeChecksum(r AuditRecord) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s|%s",
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Level, r.Action, r.Network, r.AccessPoint, r.Reason, r.CycleID, r.Error, r.Fields)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// Close closes the database connection.
func (a *SQLiteAuditor) Close() error {
	return a.db.Close()
}

const selectColumns = `SELECT id, timestamp, level, action, network, access_point, reason, cycle_id, error, fields, checksum FROM audit_log`

// QueryFilter specifies filters for querying audit records.
type QueryFilter struct {
	Since   time.Time
	Until   time.Time
	Action  string // verdict, cycle, decision, ledger
	Level   string // info, warn, error
	Network string // exact match
	CycleID string
	Limit   int
}

// Query retrieves audit records matching the filter, newest first.
func (a *SQLiteAuditor) Query(ctx context.Context, filter QueryFilter) ([]AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	query := selectColumns + ` WHERE 1=1`
	args := []interface{}{}

	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	if !filter.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.Until.UTC().Format(time.RFC3339Nano))
	}
	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.Level != "" {
		query += " AND level = ?"
		args = append(args, filter.Level)
	}
	if filter.Network != "" {
		query += " AND network = ?"
		args = append(args, filter.Network)
	}
	if filter.CycleID != "" {
		query += " AND cycle_id = ?"
		args = append(args, filter.CycleID)
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (AuditRecord, error) {
	var r AuditRecord
	var ts string
	var network, ap, reason, cycleID, errStr, fields sql.NullString

	if err := rows.Scan(&r.ID, &ts, &r.Level, &r.Action, &network, &ap, &reason, &cycleID, &errStr, &fields, &r.Checksum); err != nil {
		return AuditRecord{}, fmt.Errorf("scan row: %w", err)
	}
	r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	r.Network = network.String
	r.AccessPoint = ap.String
	r.Reason = reason.String
	r.CycleID = cycleID.String
	r.Error = errStr.String
	r.Fields = fields.String
	return r, nil
}

// VerifyIntegrity checks all records for tampering and returns the ids
// whose checksum no longer matches.
func (a *SQLiteAuditor) VerifyIntegrity(ctx context.Context) ([]int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.db.QueryContext(ctx, selectColumns+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query for integrity check: %w", err)
	}
	defer rows.Close()

	var tampered []int64
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if r.Checksum != computeChecksum(r) {
			tampered = append(tampered, r.ID)
		}
	}
	return tampered, rows.Err()
}

// AuditStats contains summary statistics.
type AuditStats struct {
	TotalRecords  int64     `json:"total_records"`
	FirstRecord   time.Time `json:"first_record"`
	LastRecord    time.Time `json:"last_record"`
	Cycles        int64     `json:"cycles"`
	Verdicts      int64     `json:"verdicts"`
	BlockedAPSeen int64     `json:"blocked_ap_seen"`
	Decisions     int64     `json:"decisions"`
	Errors        int64     `json:"errors"`
}

// Stats returns summary statistics from the audit log.
func (a *SQLiteAuditor) Stats(ctx context.Context) (*AuditStats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := &AuditStats{}

	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&stats.TotalRecords); err != nil {
		return nil, err
	}

	var firstTS, lastTS sql.NullString
	if err := a.db.QueryRowContext(ctx, "SELECT MIN(timestamp), MAX(timestamp) FROM audit_log").Scan(&firstTS, &lastTS); err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if firstTS.Valid {
		stats.FirstRecord, _ = time.Parse(time.RFC3339Nano, firstTS.String)
	}
	if lastTS.Valid {
		stats.LastRecord, _ = time.Parse(time.RFC3339Nano, lastTS.String)
	}

	counts := []struct {
		dst   *int64
		query string
		args  []any
	}{
		{&stats.Cycles, "SELECT COUNT(*) FROM audit_log WHERE action = ?", []any{core.AuditActionCycle}},
		{&stats.Verdicts, "SELECT COUNT(*) FROM audit_log WHERE action = ?", []any{core.AuditActionVerdict}},
		{&stats.BlockedAPSeen, "SELECT COUNT(*) FROM audit_log WHERE action = ? AND reason = ?", []any{core.AuditActionVerdict, core.ReasonBlockedAP}},
		{&stats.Decisions, "SELECT COUNT(*) FROM audit_log WHERE action = ?", []any{core.AuditActionDecision}},
		{&stats.Errors, "SELECT COUNT(*) FROM audit_log WHERE level = 'error'", nil},
	}
	for _, c := range counts {
		if err := a.db.QueryRowContext(ctx, c.query, c.args...).Scan(c.dst); err != nil {
			return nil, err
		}
	}

	return stats, nil
}

// Prune removes records older than the retention period.
func (a *SQLiteAuditor) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339Nano)
	result, err := a.db.ExecContext(ctx, "DELETE FROM audit_log WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Export writes all records since the given time as indented JSON.
func (a *SQLiteAuditor) Export(ctx context.Context, since time.Time) ([]byte, error) {
	records, err := a.Query(ctx, QueryFilter{Since: since})
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(records, "", "  ")
}

var _ core.Auditor = (*SQLiteAuditor)(nil)
