package bridge

import (
	"testing"
	"time"
)

func TestTranscriptOrderPreserved(t *testing.T) {
	tr := &Transcript{}
	tr.Append(TranscriptEntry{Role: "assistant", Text: "Hello", Turn: 1, Timestamp: time.Now()})
	tr.Append(TranscriptEntry{Role: "user", Text: "Hi", Turn: 1, Timestamp: time.Now()})
	tr.Append(TranscriptEntry{Role: "assistant", Text: "How can I help?", Turn: 2, Timestamp: time.Now()})

	entries := tr.Entries()
	if len(entries) != 3 || tr.Len() != 3 {
		t.Fatalf("recorded %d entries, want 3", len(entries))
	}
	if entries[0].Text != "Hello" || entries[2].Turn != 2 {
		t.Error("entries not in arrival order")
	}

	// The snapshot is decoupled from later appends.
	tr.Append(TranscriptEntry{Role: "user", Text: "Bye", Turn: 2})
	if len(entries) != 3 {
		t.Error("snapshot mutated by later append")
	}
}
