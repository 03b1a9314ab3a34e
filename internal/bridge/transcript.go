package bridge

import (
	"sync"
	"time"
)

// TranscriptEntry is one finalized utterance in the conversation record.
type TranscriptEntry struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Turn      int       `json:"turn"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript is an append-only, ordered record of finalized utterances.
// Partial transcripts are never stored; they exist only for live display.
type Transcript struct {
	mu      sync.Mutex
	entries []TranscriptEntry
}

// Append records a finalized utterance.
func (t *Transcript) Append(e TranscriptEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, e)
}

// Entries returns a snapshot of the record in arrival order.
func (t *Transcript) Entries() []TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len reports the number of recorded utterances.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
