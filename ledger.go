package leadguard

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SubmissionEvent is the audit record of one submission attempt. Only
// metadata is kept; payload contents are never persisted.
type SubmissionEvent struct {
	ID       string    `json:"id" db:"id"`
	ClientID string    `json:"clientId" db:"client_id"`
	Accepted bool      `json:"accepted" db:"accepted"`
	Reason   string    `json:"reason,omitempty" db:"reason"`
	Recorded time.Time `json:"recorded" db:"recorded"`
}

// LedgerSummary aggregates recent activity for the operator endpoint.
type LedgerSummary struct {
	Accepted    int            `json:"accepted"`
	Rejected    int            `json:"rejected"`
	ByReason    map[string]int `json:"byReason"`
	ActiveIPs   int            `json:"activeClients"`
	LastUpdated time.Time      `json:"lastUpdated"`
}

// Ledger records submission outcomes for monitoring.
type Ledger interface {
	Record(event SubmissionEvent) error
	Snapshot() ([]SubmissionEvent, error)
	Summary() (LedgerSummary, error)
	Cleanup() error
}

// NewSubmissionEvent stamps an event with a fresh ID.
func NewSubmissionEvent(clientID string, accepted bool, reason Reason, at time.Time) SubmissionEvent {
	return SubmissionEvent{
		ID:       uuid.NewString(),
		ClientID: clientID,
		Accepted: accepted,
		Reason:   string(reason),
		Recorded: at,
	}
}

// MemoryLedger keeps recent events in a TTL'd map.
type MemoryLedger struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]SubmissionEvent
	clock   func() time.Time
}

func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryLedger{
		ttl:     ttl,
		entries: make(map[string]SubmissionEvent),
		clock:   time.Now,
	}
}

func (l *MemoryLedger) Record(event SubmissionEvent) error {
	if event.ID == "" || event.ClientID == "" {
		return nil
	}
	l.mu.Lock()
	l.entries[event.ID] = event
	l.mu.Unlock()
	return nil
}

func (l *MemoryLedger) Snapshot() ([]SubmissionEvent, error) {
	now := l.clock()
	l.mu.RLock()
	defer l.mu.RUnlock()
	var events []SubmissionEvent
	for _, entry := range l.entries {
		if now.Sub(entry.Recorded) > l.ttl {
			continue
		}
		events = append(events, entry)
	}
	return events, nil
}

func (l *MemoryLedger) Summary() (LedgerSummary, error) {
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

func (l *MemoryLedger) Cleanup() error {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, entry := range l.entries {
		if now.Sub(entry.Recorded) > l.ttl {
			delete(l.entries, id)
		}
	}
	return nil
}
