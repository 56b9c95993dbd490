package security

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Action is the outcome of a path validation decision.
type Action string

const (
	ActionAllow Action = "ALLOW"
	ActionDeny  Action = "DENY"
	ActionWarn  Action = "WARN"
)

// Decision is one entry of the security audit trail.
type Decision struct {
	Time   time.Time `json:"timestamp"`
	Action Action    `json:"action"`
	Path   string    `json:"path"`
	Reason string    `json:"reason"`
	PID    int       `json:"pid"`
}

// AuditSink receives validation decisions. The trail is informational:
// a sink error is logged by the Guard and never changes a decision.
type AuditSink interface {
	Record(d Decision) error
}

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc func(d Decision) error

// Record calls f(d).
func (f AuditSinkFunc) Record(d Decision) error {
	return f(d)
}

// FileAuditSink appends decisions as JSON lines to a file.
type FileAuditSink struct {
	mu   sync.Mutex
	path string
}

// NewFileAuditSink creates a sink appending to path. The file and its
// directory are created on first write.
func NewFileAuditSink(path string) *FileAuditSink {
	return &FileAuditSink{path: path}
}

// Record appends d to the log file.
func (s *FileAuditSink) Record(d Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create audit log directory: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode audit decision: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Path returns the log file location.
func (s *FileAuditSink) Path() string {
	return s.path
}
