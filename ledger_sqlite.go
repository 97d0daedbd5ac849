package leadguard

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS submission_events (
	id        TEXT PRIMARY KEY,
	client_id TEXT NOT NULL,
	accepted  INTEGER NOT NULL,
	reason    TEXT NOT NULL DEFAULT '',
	recorded  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submission_events_recorded ON submission_events (recorded);
`

// SQLiteLedger persists submission events so the abuse trail survives a
// restart, unlike the guard counters.
type SQLiteLedger struct {
	db    *sqlx.DB
	ttl   time.Duration
	clock func() time.Time
}

// NewSQLiteLedger opens (and migrates) the ledger database at path. Use
// ":memory:" for tests.
func NewSQLiteLedger(path string, ttl time.Duration) (*SQLiteLedger, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}
	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger schema: %w", err)
	}
	return &SQLiteLedger{db: db, ttl: ttl, clock: time.Now}, nil
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func (l *SQLiteLedger) Record(event SubmissionEvent) error {
	if event.ID == "" || event.ClientID == "" {
		return nil
	}
	_, err := l.db.NamedExec(
		`INSERT INTO submission_events (id, client_id, accepted, reason, recorded)
		 VALUES (:id, :client_id, :accepted, :reason, :recorded)`, event)
	if err != nil {
		return fmt.Errorf("record submission event: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) Snapshot() ([]SubmissionEvent, error) {
	cutoff := l.clock().Add(-l.ttl)
	var events []SubmissionEvent
	err := l.db.Select(&events,
		`SELECT id, client_id, accepted, reason, recorded
		 FROM submission_events WHERE recorded > ? ORDER BY recorded`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("snapshot submission events: %w", err)
	}
	return events, nil
}

func (l *SQLiteLedger) Summary() (LedgerSummary, error) {
	summary := LedgerSummary{ByReason: make(map[string]int)}
	events, err := l.Snapshot()
	if err != nil {
		return summary, err
	}
	clients := make(map[string]bool)
	for _, ev := range events {
		clients[ev.ClientID] = true
		if ev.Accepted {
			summary.Accepted++
		} else {
			summary.Rejected++
			summary.ByReason[ev.Reason]++
		}
		if ev.Recorded.After(summary.LastUpdated) {
			summary.LastUpdated = ev.Recorded
		}
	}
	summary.ActiveIPs = len(clients)
	return summary, nil
}

func (l *SQLiteLedger) Cleanup() error {
	cutoff := l.clock().Add(-l.ttl)
	if _, err := l.db.Exec(`DELETE FROM submission_events WHERE recorded <= ?`, cutoff); err != nil {
		return fmt.Errorf("cleanup submission events: %w", err)
	}
	return nil
}
