// Package ledger settles session costs and archives completed sessions. The
// in-call meter produces a client-local estimate; the ledger's finalize step
// is authoritative and may return a different amount.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable reports that the ledger backend could not be reached or
// answered with a server error. Callers retry once and otherwise log and
// carry on with the local estimate.
var ErrUnavailable = errors.New("ledger unavailable")

// Cost is the settlement input for one finished session.
type Cost struct {
	SessionID string
	Provider  string
	Elapsed   time.Duration
	Estimate  float64
}

// Ledger settles the cost of a finished session. The returned amount is
// authoritative and replaces the local estimate.
type Ledger interface {
	Finalize(ctx context.Context, c Cost) (float64, error)
}

// SessionRecord is the archived form of a completed session.
type SessionRecord struct {
	ID          string
	Provider    string
	Model       string
	StartedAt   time.Time
	EndedAt     time.Time
	Cost        float64
	CloseReason string
	Clean       bool
}

// TranscriptRecord is one archived utterance.
type TranscriptRecord struct {
	SessionID string
	Role      string
	Text      string
	Turn      int
	SpokenAt  time.Time
}
