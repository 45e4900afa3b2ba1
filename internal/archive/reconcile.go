package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/org/sessionvault/internal/storage"
)

// ReconcileReport summarizes one reconciliation pass over the archive
// bucket.
type ReconcileReport struct {
	BlobsScanned int      `json:"blobs_scanned"`
	Orphans      []string `json:"orphans,omitempty"`      // object keys with no metadata row
	MissingBlobs []string `json:"missing_blobs,omitempty"` // archive ids whose blob is gone
	Pruned       int      `json:"pruned"`
}

// Reconcile compares the archive bucket against the metadata table.
// Orphaned blobs are reported and, in prune mode, deleted once older
// than grace; the grace window keeps in-flight writes out of harm's way.
// Rows without blobs are only ever reported: deleting metadata
// automatically would hide real data loss.
func (e *Engine) Reconcile(ctx context.Context, prune bool, grace time.Duration) (*ReconcileReport, error) {
	keys, err := e.meta.ObjectKeys(ctx, e.cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%w: loading metadata keys: %v", ErrStorage, err)
	}
	objects, err := e.blobs.List(ctx, e.cfg.Bucket, "", 0)
	if err != nil {
		return nil, fmt.Errorf("%w: listing archive bucket: %v", ErrStorage, err)
	}

	now := e.now().UTC()
	report := &ReconcileReport{BlobsScanned: len(objects)}

	seen := make(map[string]bool, len(objects))
	for _, obj := range objects {
		seen[obj.Key] = true
		if _, ok := keys[obj.Key]; ok {
			continue
		}
		report.Orphans = append(report.Orphans, obj.Key)
		if !prune || now.Sub(obj.Modified) < grace {
			continue
		}
		// Re-check against the live table: an archive created after the
		// ObjectKeys snapshot must not lose its blob to the pruner.
		if _, err := e.meta.GetArchiveByObjectKey(ctx, e.cfg.Bucket, obj.Key); err == nil {
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			e.logger.Error().Err(err).Str("key", obj.Key).Msg("orphan re-check failed, skipping prune")
			continue
		}
		if err := e.blobs.Delete(ctx, e.cfg.Bucket, obj.Key); err != nil {
			e.logger.Error().Err(err).Str("key", obj.Key).Msg("pruning orphaned blob failed")
			continue
		}
		report.Pruned++
		e.logger.Info().Str("key", obj.Key).Msg("orphaned blob pruned")
	}

	for key, id := range keys {
		if !seen[key] {
			report.MissingBlobs = append(report.MissingBlobs, id)
			e.logger.Error().Str("archive_id", id).Str("key", key).
				Msg("metadata row without blob")
		}
	}

	sort.Strings(report.Orphans)
	sort.Strings(report.MissingBlobs)
	return report, nil
}
