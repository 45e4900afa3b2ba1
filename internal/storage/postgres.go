package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/sessionvault/pkg/models"
)

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	pool      *pgxpool.Pool
	opTimeout time.Duration
}

// NewPostgresStore opens a pgxpool connection and returns a ready store.
// opTimeout bounds every individual query; zero disables the bound.
func NewPostgresStore(ctx context.Context, connStr string, opTimeout time.Duration) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{pool: pool, opTimeout: opTimeout}, nil
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}

// opCtx bounds one query. Rows are always drained before the method
// returns, so cancelling on exit is safe.
func (p *PostgresStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.opTimeout)
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	return p.pool.Ping(ctx)
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// --- Archives ---

const archiveColumns = `SELECT id, session_id, bucket, object_key, checksum, size_bytes, retention_tier,
       archived_at, retain_until, user_id, user_name, severity, note_count,
       archived_by, archived_by_name, session_started_at, session_ended_at, metadata
  FROM archives`

func (p *PostgresStore) CreateArchive(ctx context.Context, a *models.Archive) error {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	metaJSON := []byte("{}")
	if len(a.Metadata) > 0 {
		var err error
		metaJSON, err = json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("encoding archive metadata: %w", err)
		}
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO archives (id, session_id, bucket, object_key, checksum, size_bytes, retention_tier,
		                       archived_at, retain_until, user_id, user_name, severity, note_count,
		                       archived_by, archived_by_name, session_started_at, session_ended_at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		a.ID, a.SessionID, a.Bucket, a.ObjectKey, a.Checksum, a.SizeBytes, a.Tier,
		a.ArchivedAt, a.RetainUntil, a.UserID, a.UserName, a.Severity, a.NoteCount,
		a.ArchivedBy, a.ArchivedByName, a.SessionStarted, a.SessionEnded, metaJSON,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting archive: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetArchive(ctx context.Context, id string) (*models.Archive, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	row := p.pool.QueryRow(ctx, archiveColumns+` WHERE id = $1`, id)
	return scanArchive(row)
}

func (p *PostgresStore) GetArchiveBySession(ctx context.Context, sessionID string) (*models.Archive, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	row := p.pool.QueryRow(ctx, archiveColumns+` WHERE session_id = $1`, sessionID)
	return scanArchive(row)
}

func (p *PostgresStore) GetArchiveByObjectKey(ctx context.Context, bucket, key string) (*models.Archive, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	row := p.pool.QueryRow(ctx, archiveColumns+` WHERE bucket = $1 AND object_key = $2`, bucket, key)
	return scanArchive(row)
}

func scanArchive(row pgx.Row) (*models.Archive, error) {
	var a models.Archive
	var metaJSON []byte
	err := row.Scan(&a.ID, &a.SessionID, &a.Bucket, &a.ObjectKey, &a.Checksum, &a.SizeBytes, &a.Tier,
		&a.ArchivedAt, &a.RetainUntil, &a.UserID, &a.UserName, &a.Severity, &a.NoteCount,
		&a.ArchivedBy, &a.ArchivedByName, &a.SessionStarted, &a.SessionEnded, &metaJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(metaJSON) > 0 {
		json.Unmarshal(metaJSON, &a.Metadata) //nolint:errcheck
	}
	return &a, nil
}

func collectArchives(rows pgx.Rows) ([]*models.Archive, error) {
	defer rows.Close()
	var archives []*models.Archive
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, err
		}
		archives = append(archives, a)
	}
	return archives, rows.Err()
}

// archiveFilterSQL renders filter into a WHERE fragment plus positional
// args. Pagination placeholders continue from len(args)+1.
func archiveFilterSQL(filter models.ArchiveFilter) (string, []any) {
	clause := strings.Builder{}
	clause.WriteString(` WHERE 1=1`)
	args := []any{}
	n := 1
	if filter.UserID != "" {
		fmt.Fprintf(&clause, ` AND user_id = $%d`, n)
		args = append(args, filter.UserID)
		n++
	}
	if filter.Severity != "" {
		fmt.Fprintf(&clause, ` AND severity = $%d`, n)
		args = append(args, filter.Severity)
		n++
	}
	if filter.Tier != "" {
		fmt.Fprintf(&clause, ` AND retention_tier = $%d`, n)
		args = append(args, filter.Tier)
		n++
	}
	if filter.ArchivedBy != "" {
		fmt.Fprintf(&clause, ` AND archived_by = $%d`, n)
		args = append(args, filter.ArchivedBy)
		n++
	}
	if filter.From != nil {
		fmt.Fprintf(&clause, ` AND archived_at >= $%d`, n)
		args = append(args, filter.From)
		n++
	}
	if filter.To != nil {
		fmt.Fprintf(&clause, ` AND archived_at <= $%d`, n)
		args = append(args, filter.To)
	}
	return clause.String(), args
}

func (p *PostgresStore) ListArchives(ctx context.Context, filter models.ArchiveFilter) ([]*models.Archive, int, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	where, args := archiveFilterSQL(filter)

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM archives`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting archives: %w", err)
	}

	query := strings.Builder{}
	query.WriteString(archiveColumns)
	query.WriteString(where)
	query.WriteString(` ORDER BY archived_at DESC`)
	n := len(args) + 1
	if filter.Limit > 0 {
		fmt.Fprintf(&query, ` LIMIT $%d`, n)
		args = append(args, filter.Limit)
		n++
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&query, ` OFFSET $%d`, n)
		args = append(args, filter.Offset)
	}

	rows, err := p.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing archives: %w", err)
	}
	archives, err := collectArchives(rows)
	if err != nil {
		return nil, 0, err
	}
	return archives, total, nil
}

// GetExpired returns standard-tier archives whose retention horizon lies
// strictly before now. Permanent archives are never returned, whatever
// their retain_until holds.
func (p *PostgresStore) GetExpired(ctx context.Context, now time.Time) ([]*models.Archive, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	rows, err := p.pool.Query(ctx,
		archiveColumns+` WHERE retention_tier = 'standard' AND retain_until IS NOT NULL AND retain_until < $1
		 ORDER BY retain_until`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("querying expired archives: %w", err)
	}
	return collectArchives(rows)
}

// GetExpiringWithin returns standard-tier archives whose horizon falls
// before now+days, already-expired ones included.
func (p *PostgresStore) GetExpiringWithin(ctx context.Context, now time.Time, days int) ([]*models.Archive, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	cutoff := now.AddDate(0, 0, days)
	rows, err := p.pool.Query(ctx,
		archiveColumns+` WHERE retention_tier = 'standard' AND retain_until IS NOT NULL AND retain_until < $1
		 ORDER BY retain_until`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("querying expiring archives: %w", err)
	}
	return collectArchives(rows)
}

func (p *PostgresStore) ExtendRetention(ctx context.Context, id string, until time.Time) error {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	tag, err := p.pool.Exec(ctx, `UPDATE archives SET retain_until = $2 WHERE id = $1`, id, until)
	if err != nil {
		return fmt.Errorf("updating retention: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) SetTier(ctx context.Context, id string, tier models.RetentionTier, until *time.Time) error {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	tag, err := p.pool.Exec(ctx,
		`UPDATE archives SET retention_tier = $2, retain_until = $3 WHERE id = $1`,
		id, tier, until,
	)
	if err != nil {
		return fmt.Errorf("updating tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) DeleteArchive(ctx context.Context, id string) error {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	tag, err := p.pool.Exec(ctx, `DELETE FROM archives WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting archive: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) GetStats(ctx context.Context) (*models.ArchiveStats, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	stats := &models.ArchiveStats{
		ByTier:     map[string]models.StatsBucket{},
		BySeverity: map[string]models.StatsBucket{},
		ByBucket:   map[string]models.StatsBucket{},
	}
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM archives`).
		Scan(&stats.TotalCount, &stats.TotalBytes)
	if err != nil {
		return nil, fmt.Errorf("counting archives: %w", err)
	}

	groups := []struct {
		column string
		dest   map[string]models.StatsBucket
	}{
		{"retention_tier", stats.ByTier},
		{"severity", stats.BySeverity},
		{"bucket", stats.ByBucket},
	}
	for _, g := range groups {
		if err := p.groupStats(ctx, g.column, g.dest); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// groupStats fills dest from a GROUP BY over column. The column name
// comes from a fixed set above, never from input.
func (p *PostgresStore) groupStats(ctx context.Context, column string, dest map[string]models.StatsBucket) error {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s, COUNT(*), COALESCE(SUM(size_bytes), 0) FROM archives GROUP BY %s`, column, column))
	if err != nil {
		return fmt.Errorf("grouping archives by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var b models.StatsBucket
		if err := rows.Scan(&key, &b.Count, &b.Bytes); err != nil {
			return err
		}
		dest[key] = b
	}
	return rows.Err()
}

func (p *PostgresStore) ObjectKeys(ctx context.Context, bucket string) (map[string]string, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	rows, err := p.pool.Query(ctx, `SELECT object_key, id FROM archives WHERE bucket = $1`, bucket)
	if err != nil {
		return nil, fmt.Errorf("querying object keys: %w", err)
	}
	defer rows.Close()
	keys := make(map[string]string)
	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, err
		}
		keys[key] = id
	}
	return keys, rows.Err()
}

// --- Audit ---

func (p *PostgresStore) WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil || entry.Metadata == nil {
		metaJSON = []byte("{}")
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO archive_audit_log (request_id, timestamp, actor, action, entity_id, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.RequestID, entry.Timestamp, entry.Actor, entry.Action, entry.EntityID, metaJSON,
	)
	return err
}

func (p *PostgresStore) QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	query := strings.Builder{}
	query.WriteString(`SELECT id, request_id, timestamp, actor, action, entity_id, metadata FROM archive_audit_log WHERE 1=1`)
	args := []any{}
	n := 1
	if filter.EntityID != "" {
		fmt.Fprintf(&query, ` AND entity_id = $%d`, n)
		args = append(args, filter.EntityID)
		n++
	}
	if filter.Action != "" {
		fmt.Fprintf(&query, ` AND action = $%d`, n)
		args = append(args, filter.Action)
		n++
	}
	if filter.Since != nil {
		fmt.Fprintf(&query, ` AND timestamp >= $%d`, n)
		args = append(args, filter.Since)
		n++
	}
	query.WriteString(` ORDER BY timestamp DESC`)
	if filter.Limit > 0 {
		fmt.Fprintf(&query, ` LIMIT $%d`, n)
		args = append(args, filter.Limit)
		n++
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&query, ` OFFSET $%d`, n)
		args = append(args, filter.Offset)
	}

	rows, err := p.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Timestamp, &e.Actor, &e.Action, &e.EntityID, &metaJSON); err != nil {
			return nil, err
		}
		json.Unmarshal(metaJSON, &e.Metadata) //nolint:errcheck
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
