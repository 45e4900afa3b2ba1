package audit

import (
	"context"
	"time"

	"github.com/org/sessionvault/internal/storage"
	"github.com/org/sessionvault/pkg/models"
	"github.com/rs/zerolog/log"
)

// Action names recorded by the archive engine.
const (
	ActionArchiveCreate   = "archive.create"
	ActionArchiveRetrieve = "archive.retrieve"
	ActionArchiveDelete   = "archive.delete"
	ActionRetentionExtend = "archive.retention_extend"
	ActionSetPermanent    = "archive.set_permanent"
)

// Recorder writes structured audit entries.
type Recorder struct {
	store storage.Store
}

// NewRecorder creates an audit Recorder.
func NewRecorder(store storage.Store) *Recorder {
	return &Recorder{store: store}
}

// Record persists one lifecycle event. Failures are logged but never
// propagated: audit must not break the operation it describes.
// Payload contents must NEVER be passed here, only metadata.
func (r *Recorder) Record(ctx context.Context, actor, action, entityID string, metadata map[string]any) {
	entry := &models.AuditEntry{
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Action:    action,
		EntityID:  entityID,
		Metadata:  metadata,
	}
	if err := r.store.WriteAuditEntry(ctx, entry); err != nil {
		log.Warn().Err(err).Str("action", action).Str("entity_id", entityID).Msg("audit write failed")
	}
}

// Query retrieves paginated audit log entries.
func (r *Recorder) Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	return r.store.QueryAuditLog(ctx, filter)
}
