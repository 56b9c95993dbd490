package telemetry

import (
	"strings"
	"sync"
)

// Entry is a single message captured by a Recorder.
type Entry struct {
	Level   string
	Message string
}

// Recorder is a Logger that keeps every message in memory. It is used by
// tests to assert on what a component reported.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Message: msg})
}

func (r *Recorder) Debug(msg string)   { r.add("debug", msg) }
func (r *Recorder) Info(msg string)    { r.add("info", msg) }
func (r *Recorder) Warn(msg string)    { r.add("warn", msg) }
func (r *Recorder) Error(msg string)   { r.add("error", msg) }
func (r *Recorder) Success(msg string) { r.add(successField, msg) }

// With returns the recorder itself; fields are not captured.
func (r *Recorder) With(string, interface{}) Logger { return r }

// Entries returns a copy of the captured messages.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Contains reports whether any message at level contains substr.
// An empty level matches every level.
func (r *Recorder) Contains(level, substr string) bool {
	for _, e := range r.Entries() {
		if (level == "" || e.Level == level) && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}
