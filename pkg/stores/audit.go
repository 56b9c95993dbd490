package stores

import (
	"context"
	"time"

	"github.com/superclaude-org/scinstall/pkg/security"
)

// AuditSink stores path validation decisions of one run.
type AuditSink struct {
	store Store
	runID string
}

var _ security.AuditSink = (*AuditSink)(nil)

// NewAuditSink returns a security.AuditSink writing to store. runID may be
// empty for decisions made outside a run.
func NewAuditSink(store Store, runID string) *AuditSink {
	return &AuditSink{store: store, runID: runID}
}

// Record stores d.
func (a *AuditSink) Record(d security.Decision) error {
	ts := d.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	entry := &AuditEntry{
		Action:    string(d.Action),
		Path:      d.Path,
		Reason:    d.Reason,
		PID:       d.PID,
		Timestamp: ts.UTC(),
	}
	if a.runID != "" {
		runID := a.runID
		entry.RunID = &runID
	}
	return a.store.CreateAuditEntry(context.Background(), entry)
}
