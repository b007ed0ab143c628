// Package history is the audit log of analyzed transactions.
//
// Entries are keyed by transaction id. The first write for an id wins; later
// writes with the same id are dropped without error so clients can retry an
// analysis safely. Reads return the most recent entries, newest first.
package history

import (
	"context"
	"errors"
	"time"
)

// DefaultLimit is the number of entries returned by the history endpoint.
const DefaultLimit = 10

// MaxLimit caps any Recent query.
const MaxLimit = 100

// ErrInvalidEntry is returned when an entry cannot be stored.
var ErrInvalidEntry = errors.New("history: invalid entry")

// Entry is one analyzed transaction.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Amount    float64   `json:"amount"`
	Merchant  string    `json:"merchant"`
	RiskScore int       `json:"risk_score"`
	Decision  string    `json:"decision"`
	Reason    string    `json:"reason"`
}

// Validate checks the fields every backend relies on.
func (e *Entry) Validate() error {
	if e == nil || e.ID == "" {
		return ErrInvalidEntry
	}
	if e.Timestamp.IsZero() {
		return ErrInvalidEntry
	}
	return nil
}

// Store persists entries.
type Store interface {
	// Insert stores e unless an entry with the same id exists. It reports
	// whether the entry was written.
	Insert(ctx context.Context, e *Entry) (bool, error)

	// Recent returns up to limit entries ordered newest first.
	Recent(ctx context.Context, limit int) ([]*Entry, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
