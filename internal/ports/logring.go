// internal/ports/logring.go
package ports

import "time"

const logRingSize = 256

// LogEntry is one line of a port's activity log.
type LogEntry struct {
	At    time.Time
	Level string
	Text  string
}

// LogRing is a bounded per-port log with monotonically increasing
// per-level counters. The counters feed the status snapshot; the entries
// feed the UI.
type LogRing struct {
	entries []LogEntry
	next    int
	full    bool

	Counters map[string]uint64
}

func NewLogRing() *LogRing {
	return &LogRing{
		entries:  make([]LogEntry, logRingSize),
		Counters: make(map[string]uint64),
	}
}

// Append records one entry, evicting the oldest when full.
func (lr *LogRing) Append(level, text string) {
	lr.entries[lr.next] = LogEntry{At: time.Now(), Level: level, Text: text}
	lr.next = (lr.next + 1) % len(lr.entries)
	if lr.next == 0 {
		lr.full = true
	}
	lr.Counters[level]++
}

// Entries returns the log oldest-first.
func (lr *LogRing) Entries() []LogEntry {
	if !lr.full {
		out := make([]LogEntry, lr.next)
		copy(out, lr.entries[:lr.next])
		return out
	}
	out := make([]LogEntry, 0, len(lr.entries))
	out = append(out, lr.entries[lr.next:]...)
	out = append(out, lr.entries[:lr.next]...)
	return out
}

// Total returns the count of entries ever appended.
func (lr *LogRing) Total() uint64 {
	var n uint64
	for _, c := range lr.Counters {
		n += c
	}
	return n
}
