package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/sessionvault/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when a uniqueness constraint rejects a
// write, e.g. a second archive for the same session.
var ErrAlreadyExists = errors.New("already exists")

// AuditFilter specifies query parameters for audit log retrieval.
type AuditFilter struct {
	EntityID string
	Action   string
	Since    *time.Time
	Limit    int
	Offset   int
}

// Store defines the metadata persistence interface for the archive
// service. Implementations translate driver errors into the sentinel
// errors above.
type Store interface {
	// Archives
	CreateArchive(ctx context.Context, a *models.Archive) error
	GetArchive(ctx context.Context, id string) (*models.Archive, error)
	GetArchiveBySession(ctx context.Context, sessionID string) (*models.Archive, error)
	GetArchiveByObjectKey(ctx context.Context, bucket, key string) (*models.Archive, error)
	ListArchives(ctx context.Context, filter models.ArchiveFilter) ([]*models.Archive, int, error)
	GetExpired(ctx context.Context, now time.Time) ([]*models.Archive, error)
	GetExpiringWithin(ctx context.Context, now time.Time, days int) ([]*models.Archive, error)
	ExtendRetention(ctx context.Context, id string, until time.Time) error
	SetTier(ctx context.Context, id string, tier models.RetentionTier, until *time.Time) error
	DeleteArchive(ctx context.Context, id string) error
	GetStats(ctx context.Context) (*models.ArchiveStats, error)

	// ObjectKeys maps every stored object key in bucket to its archive
	// id, for reconciliation against the object store.
	ObjectKeys(ctx context.Context, bucket string) (map[string]string, error)

	// Audit
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close()
}
