package models

import (
	"fmt"
	"time"
)

// RetentionTier classifies how long an archive is kept.
type RetentionTier string

const (
	// TierStandard archives expire once their retention horizon passes
	// and are then removed by the sweep.
	TierStandard RetentionTier = "standard"
	// TierPermanent archives are never selected for automatic deletion.
	TierPermanent RetentionTier = "permanent"
)

// Valid reports whether the tier is one of the known values.
func (t RetentionTier) Valid() bool {
	return t == TierStandard || t == TierPermanent
}

// Archive is the metadata record for one archived session. The encrypted
// payload lives in object storage; everything needed for listing,
// filtering and reporting is denormalized here so those paths never
// touch the blob.
type Archive struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`

	Bucket    string `json:"bucket"`
	ObjectKey string `json:"object_key"`

	// Checksum is the SHA-256 hex digest of the sealed blob as stored,
	// and SizeBytes its stored size. Neither describes the plaintext.
	Checksum  string `json:"checksum"`
	SizeBytes int64  `json:"size_bytes"`

	Tier        RetentionTier `json:"retention_tier"`
	ArchivedAt  time.Time     `json:"archived_at"`
	RetainUntil *time.Time    `json:"retain_until,omitempty"`

	// Session metadata copied at archive time. Once written it no longer
	// tracks the live session tables.
	UserID         string     `json:"user_id"`
	UserName       string     `json:"user_name"`
	Severity       string     `json:"severity"`
	NoteCount      int        `json:"note_count"`
	ArchivedBy     string     `json:"archived_by"`
	ArchivedByName string     `json:"archived_by_name"`
	SessionStarted time.Time  `json:"session_started_at"`
	SessionEnded   *time.Time `json:"session_ended_at,omitempty"`

	// Metadata is an opaque key-value extension point with no assumed
	// schema. Anything used as a filter predicate belongs in a
	// first-class column above, never in here.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// StorageURI returns the s3-style location of the sealed blob.
func (a *Archive) StorageURI() string {
	return fmt.Sprintf("s3://%s/%s", a.Bucket, a.ObjectKey)
}

// Expired reports whether the archive is eligible for automatic deletion
// at the given instant. Permanent archives never expire, whatever their
// retain_until says.
func (a *Archive) Expired(now time.Time) bool {
	if a.Tier != TierStandard || a.RetainUntil == nil {
		return false
	}
	return a.RetainUntil.Before(now)
}

// ArchiveFilter narrows ListArchives queries. Zero values mean no
// constraint on that field.
type ArchiveFilter struct {
	UserID     string
	Severity   string
	Tier       RetentionTier
	ArchivedBy string
	From       *time.Time // archived_at lower bound, inclusive
	To         *time.Time // archived_at upper bound, inclusive
	Limit      int
	Offset     int
}

// ExpiringArchive pairs an archive with the whole days left until its
// retention horizon. DaysRemaining is negative once the horizon passed.
type ExpiringArchive struct {
	Archive       *Archive `json:"archive"`
	DaysRemaining int      `json:"days_remaining"`
}

// StatsBucket is one count/bytes aggregate cell.
type StatsBucket struct {
	Count int64 `json:"count"`
	Bytes int64 `json:"bytes"`
}

// ArchiveStats aggregates archive counts and stored blob bytes.
type ArchiveStats struct {
	TotalCount int64                  `json:"total_count"`
	TotalBytes int64                  `json:"total_bytes"`
	ByTier     map[string]StatsBucket `json:"by_tier"`
	BySeverity map[string]StatsBucket `json:"by_severity"`
	ByBucket   map[string]StatsBucket `json:"by_bucket"`
}
