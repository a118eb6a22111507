// internal/scheduler/buffer.go
package scheduler

// Entry is one deferred log line produced during a tick. Deferring keeps
// the tick free of any log-target decision while it walks all ports; the
// runtime flushes entries to the global log or the port's ring afterward.
type Entry struct {
	Port  string
	Level string
	Text  string
}

// Buffer collects deferred entries for one tick.
type Buffer struct {
	entries []Entry
}

func (b *Buffer) Add(port, level, text string) {
	b.entries = append(b.entries, Entry{Port: port, Level: level, Text: text})
}

// Drain returns and clears the collected entries.
func (b *Buffer) Drain() []Entry {
	out := b.entries
	b.entries = nil
	return out
}

func (b *Buffer) Len() int { return len(b.entries) }
