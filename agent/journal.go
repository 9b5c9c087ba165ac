package agent

import (
	"sync"
	"time"
)

const journalCapacity = 512

// Request sources for journal records.
const (
	SourceCache    = "cache"
	SourceUpstream = "upstream"
	SourceDenied   = "no-cache"
)

// JournalRecord is one serviced request in the local observability window.
type JournalRecord struct {
	At        time.Time `json:"at"`
	Method    string    `json:"method"`
	LatencyMs float64   `json:"latency_ms"`
	Source    string    `json:"source"`
	Error     string    `json:"error,omitempty"`
}

// Journal keeps a fixed-size rolling window of request records. Old entries
// fall off the back; memory never grows past the capacity.
type Journal struct {
	mu      sync.Mutex
	records []JournalRecord
	next    int
	filled  bool
}

func NewJournal() *Journal {
	return &Journal{records: make([]JournalRecord, journalCapacity)}
}

func (j *Journal) Add(rec JournalRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records[j.next] = rec
	j.next++
	if j.next == len(j.records) {
		j.next = 0
		j.filled = true
	}
}

// Snapshot returns the window newest-first.
func (j *Journal) Snapshot() []JournalRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	size := j.next
	if j.filled {
		size = len(j.records)
	}
	out := make([]JournalRecord, 0, size)
	for i := 0; i < size; i++ {
		idx := j.next - 1 - i
		if idx < 0 {
			idx += len(j.records)
		}
		out = append(out, j.records[idx])
	}
	return out
}
