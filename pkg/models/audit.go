package models

import "time"

// AuditEntry records one archive lifecycle event.
type AuditEntry struct {
	ID        int64          `json:"id"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	EntityID  string         `json:"entity_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
