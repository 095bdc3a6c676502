package model

// RuntimeLogLimit is the number of runtime log entries retained.
const RuntimeLogLimit = 101

// RuntimeLog is a bounded log that evicts its oldest entries first.
// It is not safe for concurrent use.
type RuntimeLog struct {
	limit   int
	entries []LogEntry
}

// NewRuntimeLog creates a log holding at most limit entries. A non-positive
// limit means RuntimeLogLimit.
func NewRuntimeLog(limit int) *RuntimeLog {
	if limit <= 0 {
		limit = RuntimeLogLimit
	}
	return &RuntimeLog{limit: limit}
}

// Append adds an entry, evicting the oldest one when full.
func (l *RuntimeLog) Append(e LogEntry) {
	if len(l.entries) >= l.limit {
		n := copy(l.entries, l.entries[len(l.entries)-l.limit+1:])
		l.entries = l.entries[:n]
	}
	l.entries = append(l.entries, e)
}

// Reset drops every entry.
func (l *RuntimeLog) Reset() { l.entries = l.entries[:0] }

// Len returns the number of retained entries.
func (l *RuntimeLog) Len() int { return len(l.entries) }

// Entries returns a copy of the retained entries, oldest first.
func (l *RuntimeLog) Entries() []LogEntry {
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
