package models

import "time"

// SessionRecord is the caller-supplied snapshot of a crisis session at
// archive time. The archive service copies a few fields into the Archive
// row for filtering and seals the rest inside the encrypted payload.
type SessionRecord struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	UserName  string     `json:"user_name"`
	Severity  string     `json:"severity"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// Data carries the full session body (transcript, assessments,
	// whatever the dashboard stores). It is encrypted wholesale and
	// never inspected here.
	Data map[string]any `json:"data,omitempty"`
}

// Note is one session note included in the archived payload.
type Note struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// ArchivePayload is the plaintext document sealed into an archive blob.
// FormatVersion pins the layout so future readers can tell payloads
// apart without decrypt-and-guess.
type ArchivePayload struct {
	FormatVersion int            `json:"format_version"`
	Session       *SessionRecord `json:"session"`
	Notes         []Note         `json:"notes"`
	ArchivedAt    time.Time      `json:"archived_at"`
}
