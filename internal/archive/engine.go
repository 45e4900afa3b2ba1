// Package archive orchestrates the encrypted session archive lifecycle:
// sealing payloads, storing them durably, tracking retention metadata
// and sweeping expired archives.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/org/sessionvault/internal/audit"
	"github.com/org/sessionvault/internal/crypto"
	"github.com/org/sessionvault/internal/objstore"
	"github.com/org/sessionvault/internal/storage"
	"github.com/org/sessionvault/pkg/models"
)

const (
	payloadFormatVersion = 1

	defaultRetentionDays = 365
	defaultListLimit     = 50
	maxListLimit         = 500

	// sweepActor names the retention sweep in audit entries.
	sweepActor = "retention-sweep"
)

// Request describes one session to archive. Tier defaults to standard
// and RetentionDays to the engine's configured horizon.
type Request struct {
	Session        *models.SessionRecord
	Notes          []models.Note
	ArchivedBy     string
	ArchivedByName string
	Tier           models.RetentionTier
	RetentionDays  int

	// Metadata is carried opaquely into the archive record. It is not
	// filterable; filter predicates are first-class Archive fields.
	Metadata map[string]string
}

// SessionMarker receives the archived-status transition after a session
// is successfully archived. The dashboard wires its session repository
// here; the engine itself never touches live session tables.
type SessionMarker interface {
	MarkArchived(ctx context.Context, sessionID string) error
}

// NopMarker is the default SessionMarker. It does nothing.
type NopMarker struct{}

func (NopMarker) MarkArchived(context.Context, string) error { return nil }

// Config holds the engine's tunables.
type Config struct {
	// Bucket is the object-store bucket holding sealed blobs.
	Bucket string
	// DefaultRetentionDays applies to standard-tier requests that leave
	// RetentionDays zero.
	DefaultRetentionDays int
	// CacheSize and CacheTTL bound the metadata cache. CacheSize <= 0
	// disables it.
	CacheSize int
	CacheTTL  time.Duration
}

// Engine composes the codec, object store and metadata store into the
// archive lifecycle operations. It is scheduler-agnostic: the sweep and
// reconciliation entry points run one pass and return, leaving cadence
// to cron or the CLI.
type Engine struct {
	meta   storage.Store
	blobs  objstore.Store
	codec  *crypto.Codec
	audit  *audit.Recorder
	marker SessionMarker
	cache  *metaCache
	cfg    Config
	logger zerolog.Logger

	// now is swapped in tests to pin expiry arithmetic.
	now func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(meta storage.Store, blobs objstore.Store, codec *crypto.Codec, auditor *audit.Recorder, cfg Config) *Engine {
	if cfg.DefaultRetentionDays <= 0 {
		cfg.DefaultRetentionDays = defaultRetentionDays
	}
	return &Engine{
		meta:   meta,
		blobs:  blobs,
		codec:  codec,
		audit:  auditor,
		marker: NopMarker{},
		cache:  newMetaCache(cfg.CacheSize, cfg.CacheTTL),
		cfg:    cfg,
		logger: log.With().Str("component", "archive").Logger(),
		now:    time.Now,
	}
}

// SetSessionMarker installs the host callback invoked after a successful
// archive.
func (e *Engine) SetSessionMarker(m SessionMarker) {
	if m != nil {
		e.marker = m
	}
}

// objectKey builds the date-partitioned key for a session's sealed blob:
// YYYY/MM/<session_id>.enc. The prefix allows cheap listing by month.
func objectKey(sessionID string, t time.Time) string {
	return fmt.Sprintf("%04d/%02d/%s.enc", t.Year(), int(t.Month()), sessionID)
}

// ArchiveSession seals the session payload and persists it: blob first,
// metadata second. If the metadata write fails the uploaded blob is
// removed again so no row ever claims a blob that was never recorded,
// and no recorded row lacks its blob.
func (e *Engine) ArchiveSession(ctx context.Context, req Request) (*models.Archive, error) {
	if req.Session == nil || req.Session.ID == "" {
		return nil, fmt.Errorf("%w: missing session", ErrInvalidRequest)
	}
	tier := req.Tier
	if tier == "" {
		tier = models.TierStandard
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, req.Tier)
	}

	// Fail fast before paying for an upload. The unique constraint on
	// session_id remains the authoritative guard for concurrent callers.
	if _, err := e.meta.GetArchiveBySession(ctx, req.Session.ID); err == nil {
		return nil, fmt.Errorf("%w: session %s", ErrAlreadyArchived, req.Session.ID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: checking session %s: %v", ErrStorage, req.Session.ID, err)
	}

	now := e.now().UTC()
	plaintext, err := json.Marshal(models.ArchivePayload{
		FormatVersion: payloadFormatVersion,
		Session:       req.Session,
		Notes:         req.Notes,
		ArchivedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("serializing payload for session %s: %w", req.Session.ID, err)
	}

	sealed, err := e.codec.Seal(plaintext)
	if err != nil {
		return nil, fmt.Errorf("sealing session %s: %w", req.Session.ID, err)
	}
	sum := sha256.Sum256(sealed)
	checksum := hex.EncodeToString(sum[:])
	key := objectKey(req.Session.ID, now)

	err = e.blobs.Upload(ctx, e.cfg.Bucket, key, sealed, map[string]string{
		"session-id": req.Session.ID,
		"checksum":   checksum,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: uploading blob for session %s: %v", ErrStorage, req.Session.ID, err)
	}

	days := req.RetentionDays
	if days <= 0 {
		days = e.cfg.DefaultRetentionDays
	}
	var retainUntil *time.Time
	if tier == models.TierStandard {
		t := now.AddDate(0, 0, days)
		retainUntil = &t
	}

	rec := &models.Archive{
		ID:             uuid.NewString(),
		SessionID:      req.Session.ID,
		Bucket:         e.cfg.Bucket,
		ObjectKey:      key,
		Checksum:       checksum,
		SizeBytes:      int64(len(sealed)),
		Tier:           tier,
		ArchivedAt:     now,
		RetainUntil:    retainUntil,
		UserID:         req.Session.UserID,
		UserName:       req.Session.UserName,
		Severity:       req.Session.Severity,
		NoteCount:      len(req.Notes),
		ArchivedBy:     req.ArchivedBy,
		ArchivedByName: req.ArchivedByName,
		SessionStarted: req.Session.StartedAt,
		SessionEnded:   req.Session.EndedAt,
		Metadata:       req.Metadata,
	}

	if err := e.meta.CreateArchive(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			// A concurrent archiver won the unique constraint. The key is
			// deterministic, so the blob location now belongs to the
			// winner's row; it must not be compensation-deleted.
			return nil, fmt.Errorf("%w: session %s", ErrAlreadyArchived, req.Session.ID)
		}
		// Compensate: a blob without a row only wastes space until
		// reconciliation, but it must not linger when we can remove it
		// now. Runs detached from ctx so caller cancellation (often the
		// very reason the insert failed) cannot strand the blob.
		if delErr := e.blobs.Delete(context.WithoutCancel(ctx), e.cfg.Bucket, key); delErr != nil {
			e.logger.Error().Err(delErr).Str("bucket", e.cfg.Bucket).Str("key", key).
				Msg("orphaned blob left behind after metadata write failure")
		}
		return nil, fmt.Errorf("%w: recording archive for session %s: %v", ErrStorage, req.Session.ID, err)
	}

	archivesCreated.Inc()
	archivedBytes.Add(float64(rec.SizeBytes))

	if err := e.marker.MarkArchived(ctx, req.Session.ID); err != nil {
		// The archive stands even when the status callback fails; the
		// dashboard reconciles session flags on its side.
		e.logger.Warn().Err(err).Str("session_id", req.Session.ID).Msg("mark-archived callback failed")
	}
	e.audit.Record(ctx, req.ArchivedBy, audit.ActionArchiveCreate, rec.ID, map[string]any{
		"session_id": rec.SessionID,
		"tier":       string(rec.Tier),
	})
	e.logger.Info().Str("archive_id", rec.ID).Str("session_id", rec.SessionID).
		Int64("size_bytes", rec.SizeBytes).Str("tier", string(rec.Tier)).Msg("session archived")

	return rec, nil
}

// getArchive is the cache read-through used by every id-based operation.
func (e *Engine) getArchive(ctx context.Context, id string) (*models.Archive, error) {
	if rec, ok := e.cache.get(id); ok {
		return rec, nil
	}
	rec, err := e.meta.GetArchive(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: loading archive %s: %v", ErrStorage, id, err)
	}
	e.cache.set(rec)
	return rec, nil
}

// Get returns archive metadata by id. It never touches the blob.
func (e *Engine) Get(ctx context.Context, id string) (*models.Archive, error) {
	return e.getArchive(ctx, id)
}

// GetBySession returns archive metadata by session id.
func (e *Engine) GetBySession(ctx context.Context, sessionID string) (*models.Archive, error) {
	rec, err := e.meta.GetArchiveBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("%w: loading archive for session %s: %v", ErrStorage, sessionID, err)
	}
	e.cache.set(rec)
	return rec, nil
}

// Retrieve downloads, verifies and decrypts an archive's payload. The
// stored checksum is checked over the sealed blob before any decryption
// is attempted.
func (e *Engine) Retrieve(ctx context.Context, id, actor string) ([]byte, *models.Archive, error) {
	rec, err := e.getArchive(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return e.retrieveSealed(ctx, rec, actor)
}

// RetrieveBySession is Retrieve keyed by session id instead of archive id.
func (e *Engine) RetrieveBySession(ctx context.Context, sessionID, actor string) ([]byte, *models.Archive, error) {
	rec, err := e.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return e.retrieveSealed(ctx, rec, actor)
}

func (e *Engine) retrieveSealed(ctx context.Context, rec *models.Archive, actor string) ([]byte, *models.Archive, error) {
	sealed, err := e.blobs.Download(ctx, rec.Bucket, rec.ObjectKey)
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			// A row without its blob means data loss, not a user error.
			// Surface it loudly instead of masking it as a 404.
			e.logger.Error().Str("archive_id", rec.ID).Str("key", rec.ObjectKey).
				Msg("archive blob missing despite metadata row")
			return nil, nil, fmt.Errorf("%w: blob %s missing for archive %s", ErrStorage, rec.ObjectKey, rec.ID)
		}
		return nil, nil, fmt.Errorf("%w: downloading blob for archive %s: %v", ErrStorage, rec.ID, err)
	}

	sum := sha256.Sum256(sealed)
	if hex.EncodeToString(sum[:]) != rec.Checksum {
		integrityFailures.Inc()
		return nil, nil, fmt.Errorf("%w: checksum mismatch for archive %s", ErrIntegrity, rec.ID)
	}

	plaintext, err := e.codec.Open(sealed)
	if err != nil {
		if errors.Is(err, crypto.ErrIntegrity) {
			integrityFailures.Inc()
			return nil, nil, fmt.Errorf("%w: decrypting archive %s: %v", ErrIntegrity, rec.ID, err)
		}
		return nil, nil, fmt.Errorf("decrypting archive %s: %w", rec.ID, err)
	}

	archivesRetrieved.Inc()
	e.audit.Record(ctx, actor, audit.ActionArchiveRetrieve, rec.ID, map[string]any{"session_id": rec.SessionID})
	return plaintext, rec, nil
}

// List returns a metadata page plus the unpaginated total.
func (e *Engine) List(ctx context.Context, filter models.ArchiveFilter) ([]*models.Archive, int, error) {
	if filter.Limit <= 0 || filter.Limit > maxListLimit {
		filter.Limit = defaultListLimit
	}
	if filter.Tier != "" && !filter.Tier.Valid() {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidTier, filter.Tier)
	}
	recs, total, err := e.meta.ListArchives(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: listing archives: %v", ErrStorage, err)
	}
	return recs, total, nil
}

// ExpiringSoon returns standard-tier archives whose horizon falls within
// the next days, each annotated with whole days remaining. Overdue
// archives appear with a non-positive remainder.
func (e *Engine) ExpiringSoon(ctx context.Context, days int) ([]models.ExpiringArchive, error) {
	if days < 0 {
		days = 0
	}
	now := e.now().UTC()
	recs, err := e.meta.GetExpiringWithin(ctx, now, days)
	if err != nil {
		return nil, fmt.Errorf("%w: querying expiring archives: %v", ErrStorage, err)
	}
	out := make([]models.ExpiringArchive, 0, len(recs))
	for _, rec := range recs {
		remaining := int(math.Ceil(rec.RetainUntil.Sub(now).Hours() / 24))
		out = append(out, models.ExpiringArchive{Archive: rec, DaysRemaining: remaining})
	}
	return out, nil
}

// ExtendRetention pushes a standard-tier archive's horizon out by days,
// counted from the current horizon, or from now when the horizon has
// already passed.
func (e *Engine) ExtendRetention(ctx context.Context, id string, days int, actor string) (*models.Archive, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: extension must be positive, got %d days", ErrInvalidRequest, days)
	}
	rec, err := e.getArchive(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Tier != models.TierStandard {
		return nil, fmt.Errorf("%w: cannot extend retention of a %s archive", ErrInvalidTier, rec.Tier)
	}

	now := e.now().UTC()
	base := now
	if rec.RetainUntil != nil && rec.RetainUntil.After(now) {
		base = *rec.RetainUntil
	}
	until := base.AddDate(0, 0, days)

	if err := e.meta.ExtendRetention(ctx, rec.ID, until); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
		}
		return nil, fmt.Errorf("%w: extending retention for %s: %v", ErrStorage, rec.ID, err)
	}
	e.cache.invalidate(rec.ID)
	e.audit.Record(ctx, actor, audit.ActionRetentionExtend, rec.ID, map[string]any{
		"days":         days,
		"retain_until": until,
	})

	updated := *rec
	updated.RetainUntil = &until
	return &updated, nil
}

// SetPermanent moves an archive to the permanent tier and clears its
// horizon. Calling it on an already-permanent archive is a no-op.
func (e *Engine) SetPermanent(ctx context.Context, id, actor string) (*models.Archive, error) {
	rec, err := e.getArchive(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Tier == models.TierPermanent {
		return rec, nil
	}
	if err := e.meta.SetTier(ctx, rec.ID, models.TierPermanent, nil); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
		}
		return nil, fmt.Errorf("%w: updating tier for %s: %v", ErrStorage, rec.ID, err)
	}
	e.cache.invalidate(rec.ID)
	e.audit.Record(ctx, actor, audit.ActionSetPermanent, rec.ID, nil)

	updated := *rec
	updated.Tier = models.TierPermanent
	updated.RetainUntil = nil
	return &updated, nil
}

// Delete removes an archive's blob and metadata row, blob first: an
// orphaned blob only wastes space, while a row without a blob claims an
// archive that can no longer be retrieved.
func (e *Engine) Delete(ctx context.Context, id, actor string) error {
	rec, err := e.getArchive(ctx, id)
	if err != nil {
		return err
	}
	if err := e.deletePair(ctx, rec); err != nil {
		return err
	}
	e.audit.Record(ctx, actor, audit.ActionArchiveDelete, rec.ID, map[string]any{"session_id": rec.SessionID})
	e.logger.Info().Str("archive_id", rec.ID).Str("session_id", rec.SessionID).Msg("archive deleted")
	return nil
}

func (e *Engine) deletePair(ctx context.Context, rec *models.Archive) error {
	if err := e.blobs.Delete(ctx, rec.Bucket, rec.ObjectKey); err != nil && !errors.Is(err, objstore.ErrNotFound) {
		return fmt.Errorf("%w: deleting blob for archive %s: %v", ErrStorage, rec.ID, err)
	}
	if err := e.meta.DeleteArchive(ctx, rec.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: deleting metadata for archive %s: %v", ErrStorage, rec.ID, err)
	}
	e.cache.invalidate(rec.ID)
	return nil
}

// DeleteExpired discovers standard-tier archives past their horizon and
// deletes each blob+row pair. Per-item failures are logged and skipped
// so one bad archive cannot block the batch. Cancellation is honored
// between items; the in-flight pair always drains.
func (e *Engine) DeleteExpired(ctx context.Context) (int, error) {
	start := time.Now()
	expired, err := e.meta.GetExpired(ctx, e.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: discovering expired archives: %v", ErrStorage, err)
	}

	// Each pair runs detached from the sweep's cancellation so shutdown
	// never abandons a half-completed delete.
	pairCtx := context.WithoutCancel(ctx)

	deleted := 0
	for _, rec := range expired {
		select {
		case <-ctx.Done():
			e.logger.Warn().Int("deleted", deleted).Int("pending", len(expired)-deleted).
				Msg("sweep interrupted")
			return deleted, ctx.Err()
		default:
		}

		if err := e.deletePair(pairCtx, rec); err != nil {
			sweepFailures.Inc()
			e.logger.Error().Err(err).Str("archive_id", rec.ID).Str("session_id", rec.SessionID).
				Msg("sweep delete failed")
			continue
		}
		deleted++
		sweepDeleted.Inc()
		e.audit.Record(pairCtx, sweepActor, audit.ActionArchiveDelete, rec.ID, map[string]any{
			"session_id": rec.SessionID,
			"expired":    true,
		})
		e.logger.Info().Str("archive_id", rec.ID).Str("session_id", rec.SessionID).
			Time("retain_until", *rec.RetainUntil).Msg("expired archive deleted")
	}

	sweepRuns.Inc()
	sweepDuration.Observe(time.Since(start).Seconds())
	e.logger.Info().Int("deleted", deleted).Int("candidates", len(expired)).
		Dur("took", time.Since(start)).Msg("retention sweep finished")
	return deleted, nil
}

// Stats returns archive count and byte aggregates.
func (e *Engine) Stats(ctx context.Context) (*models.ArchiveStats, error) {
	stats, err := e.meta.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: computing archive statistics: %v", ErrStorage, err)
	}
	return stats, nil
}
