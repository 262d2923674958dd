package types

import (
	"encoding/json"
	"sync"
	"time"
)

// AuditEntry records one stage invocation. Entries are never modified after
// they have been appended to an AuditLog.
type AuditEntry struct {
	ID           string      `json:"id"`
	ComplaintID  string      `json:"complaint_id"`
	Stage        string      `json:"agent_name"`
	Action       string      `json:"action"`
	Input        interface{} `json:"input_data"`
	Output       interface{} `json:"output_data"`
	Confidence   *float64    `json:"confidence"`
	ModelVersion string      `json:"model_version,omitempty"`
	DurationMS   int64       `json:"execution_time_ms"`
	Error        string      `json:"error,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Failed reports whether the stage raised instead of producing a result.
func (e AuditEntry) Failed() bool {
	return e.Error != ""
}

// AuditLog is an append-only sequence of audit entries, safe for concurrent use.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// NewAuditLog returns an empty log.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// Append adds entries in the given order.
func (l *AuditLog) Append(entries ...AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entries...)
}

// Entries returns a copy of the log in append order.
func (l *AuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *AuditLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// MarshalJSON encodes the log as a JSON array.
func (l *AuditLog) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Entries())
}
