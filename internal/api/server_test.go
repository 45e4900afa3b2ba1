package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/org/sessionvault/internal/archive"
	"github.com/org/sessionvault/internal/audit"
	"github.com/org/sessionvault/internal/auth"
	"github.com/org/sessionvault/internal/crypto"
	"github.com/org/sessionvault/internal/objstore"
	"github.com/org/sessionvault/internal/storage"
	"github.com/org/sessionvault/pkg/models"
)

// --- In-memory metadata store for tests ---

type memStore struct {
	archives  map[string]*models.Archive // by id
	bySession map[string]string          // session id → archive id
	audit     []*models.AuditEntry
	pingErr   error
}

func newMemStore() *memStore {
	return &memStore{
		archives:  map[string]*models.Archive{},
		bySession: map[string]string{},
	}
}

func (m *memStore) CreateArchive(ctx context.Context, a *models.Archive) error {
	if _, ok := m.bySession[a.SessionID]; ok {
		return storage.ErrAlreadyExists
	}
	m.archives[a.ID] = a
	m.bySession[a.SessionID] = a.ID
	return nil
}

func (m *memStore) GetArchive(ctx context.Context, id string) (*models.Archive, error) {
	if a, ok := m.archives[id]; ok {
		return a, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) GetArchiveBySession(ctx context.Context, sessionID string) (*models.Archive, error) {
	if id, ok := m.bySession[sessionID]; ok {
		return m.archives[id], nil
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) GetArchiveByObjectKey(ctx context.Context, bucket, key string) (*models.Archive, error) {
	for _, a := range m.archives {
		if a.Bucket == bucket && a.ObjectKey == key {
			return a, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) ListArchives(ctx context.Context, f models.ArchiveFilter) ([]*models.Archive, int, error) {
	var all []*models.Archive
	for _, a := range m.archives {
		if f.UserID != "" && a.UserID != f.UserID {
			continue
		}
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		if f.Tier != "" && a.Tier != f.Tier {
			continue
		}
		if f.ArchivedBy != "" && a.ArchivedBy != f.ArchivedBy {
			continue
		}
		if f.From != nil && a.ArchivedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && a.ArchivedAt.After(*f.To) {
			continue
		}
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ArchivedAt.After(all[j].ArchivedAt) })
	total := len(all)
	if f.Offset > 0 {
		if f.Offset >= len(all) {
			all = nil
		} else {
			all = all[f.Offset:]
		}
	}
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (m *memStore) GetExpired(ctx context.Context, now time.Time) ([]*models.Archive, error) {
	var out []*models.Archive
	for _, a := range m.archives {
		if a.Tier == models.TierStandard && a.RetainUntil != nil && a.RetainUntil.Before(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RetainUntil.Before(*out[j].RetainUntil) })
	return out, nil
}

func (m *memStore) GetExpiringWithin(ctx context.Context, now time.Time, days int) ([]*models.Archive, error) {
	cutoff := now.AddDate(0, 0, days)
	var out []*models.Archive
	for _, a := range m.archives {
		if a.Tier == models.TierStandard && a.RetainUntil != nil && a.RetainUntil.Before(cutoff) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RetainUntil.Before(*out[j].RetainUntil) })
	return out, nil
}

func (m *memStore) ExtendRetention(ctx context.Context, id string, until time.Time) error {
	a, ok := m.archives[id]
	if !ok {
		return storage.ErrNotFound
	}
	a.RetainUntil = &until
	return nil
}

func (m *memStore) SetTier(ctx context.Context, id string, tier models.RetentionTier, until *time.Time) error {
	a, ok := m.archives[id]
	if !ok {
		return storage.ErrNotFound
	}
	a.Tier = tier
	a.RetainUntil = until
	return nil
}

func (m *memStore) DeleteArchive(ctx context.Context, id string) error {
	a, ok := m.archives[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(m.bySession, a.SessionID)
	delete(m.archives, id)
	return nil
}

func (m *memStore) GetStats(ctx context.Context) (*models.ArchiveStats, error) {
	stats := &models.ArchiveStats{
		ByTier:     map[string]models.StatsBucket{},
		BySeverity: map[string]models.StatsBucket{},
		ByBucket:   map[string]models.StatsBucket{},
	}
	for _, a := range m.archives {
		stats.TotalCount++
		stats.TotalBytes += a.SizeBytes
		for key, agg := range map[string]map[string]models.StatsBucket{
			string(a.Tier): stats.ByTier,
			a.Severity:     stats.BySeverity,
			a.Bucket:       stats.ByBucket,
		} {
			b := agg[key]
			b.Count++
			b.Bytes += a.SizeBytes
			agg[key] = b
		}
	}
	return stats, nil
}

func (m *memStore) ObjectKeys(ctx context.Context, bucket string) (map[string]string, error) {
	keys := map[string]string{}
	for _, a := range m.archives {
		if a.Bucket == bucket {
			keys[a.ObjectKey] = a.ID
		}
	}
	return keys, nil
}

func (m *memStore) WriteAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	m.audit = append(m.audit, e)
	return nil
}

func (m *memStore) QueryAuditLog(ctx context.Context, f storage.AuditFilter) ([]*models.AuditEntry, error) {
	var out []*models.AuditEntry
	for _, e := range m.audit {
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		out = append(out, e)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) Ping(ctx context.Context) error { return m.pingErr }
func (m *memStore) Close()                         {}

// --- In-memory object store for tests ---

type memBlobs struct {
	objects map[string][]byte // bucket/key → sealed blob
	healthy bool
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, healthy: true}
}

func blobKey(bucket, key string) string { return bucket + "/" + key }

func (b *memBlobs) Upload(ctx context.Context, bucket, key string, data []byte, metadata map[string]string) error {
	b.objects[blobKey(bucket, key)] = data
	return nil
}

func (b *memBlobs) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	if data, ok := b.objects[blobKey(bucket, key)]; ok {
		return data, nil
	}
	return nil, objstore.ErrNotFound
}

func (b *memBlobs) List(ctx context.Context, bucket, prefix string, limit int) ([]objstore.ObjectInfo, error) {
	var infos []objstore.ObjectInfo
	for k, data := range b.objects {
		if len(k) > len(bucket) && k[:len(bucket)+1] == bucket+"/" {
			infos = append(infos, objstore.ObjectInfo{Key: k[len(bucket)+1:], Size: int64(len(data))})
		}
	}
	return infos, nil
}

func (b *memBlobs) Delete(ctx context.Context, bucket, key string) error {
	delete(b.objects, blobKey(bucket, key))
	return nil
}

func (b *memBlobs) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, ok := b.objects[blobKey(bucket, key)]
	return ok, nil
}

func (b *memBlobs) HealthCheck(ctx context.Context) *objstore.Health {
	return &objstore.Health{Healthy: b.healthy, Latency: "0s"}
}

// --- test helpers ---

const testBucket = "sv-archives"

func newTestServer(t *testing.T, token string) (*Server, *memStore, *memBlobs) {
	t.Helper()
	store := newMemStore()
	blobs := newMemBlobs()
	codec, err := crypto.NewCodecWithIterations([]byte("test-master-key-0123456789abcdef"), 2048)
	if err != nil {
		t.Fatalf("building codec: %v", err)
	}
	auditor := audit.NewRecorder(store)
	engine := archive.NewEngine(store, blobs, codec, auditor, archive.Config{
		Bucket:               testBucket,
		DefaultRetentionDays: 30,
	})
	srv := NewServer(engine, store, blobs, auditor, auth.NewVerifier(token), Config{})
	return srv, store, blobs
}

func archiveBody(sessionID string) map[string]any {
	return map[string]any{
		"session": &models.SessionRecord{
			ID:        sessionID,
			UserID:    "user-7",
			UserName:  "Dana R",
			Severity:  "high",
			StartedAt: time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
			Data:      map[string]any{"transcript": "caller stabilized, safety plan agreed"},
		},
		"notes": []models.Note{
			{ID: "n-1", AuthorID: "counselor-9", Author: "Sam", Body: "followed up by phone", CreatedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)},
		},
		"archived_by": "counselor-9",
	}
}

func postJSON(t *testing.T, handler http.Handler, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(auth.HeaderServiceToken, token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func getJSON(t *testing.T, handler http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set(auth.HeaderServiceToken, token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v (body: %s)", err, w.Body.String())
	}
	return result
}

func createArchive(t *testing.T, handler http.Handler, sessionID string) string {
	t.Helper()
	w := postJSON(t, handler, "/v1/archives", archiveBody(sessionID), "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", w.Code, w.Body.String())
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	return data["id"].(string)
}

// --- tests ---

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	handler := srv.BuildRouter()

	w := getJSON(t, handler, "/v1/sys/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if healthy, _ := body["healthy"].(bool); !healthy {
		t.Error("expected healthy=true")
	}
}

func TestHealthEndpointDegraded(t *testing.T) {
	srv, store, _ := newTestServer(t, "")
	handler := srv.BuildRouter()

	store.pingErr = fmt.Errorf("connection refused")
	w := getJSON(t, handler, "/v1/sys/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with database down, got %d", w.Code)
	}
}

func TestArchiveCreateAndGet(t *testing.T) {
	srv, _, blobs := newTestServer(t, "")
	handler := srv.BuildRouter()

	w := postJSON(t, handler, "/v1/archives", archiveBody("sess-1"), "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", w.Code, w.Body.String())
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	id := data["id"].(string)
	if data["session_id"] != "sess-1" {
		t.Errorf("expected session_id=sess-1, got %v", data["session_id"])
	}
	if data["retention_tier"] != "standard" {
		t.Errorf("expected standard tier by default, got %v", data["retention_tier"])
	}
	if data["retain_until"] == nil {
		t.Error("expected retain_until on a standard archive")
	}
	if len(blobs.objects) != 1 {
		t.Errorf("expected one sealed blob, got %d", len(blobs.objects))
	}

	// By id
	w2 := getJSON(t, handler, "/v1/archives/"+id, "")
	if w2.Code != http.StatusOK {
		t.Fatalf("get failed: %d %s", w2.Code, w2.Body.String())
	}

	// By session
	w3 := getJSON(t, handler, "/v1/archives/session/sess-1", "")
	if w3.Code != http.StatusOK {
		t.Fatalf("get by session failed: %d %s", w3.Code, w3.Body.String())
	}
	got := decodeBody(t, w3)["data"].(map[string]any)
	if got["id"] != id {
		t.Errorf("expected archive %s by session, got %v", id, got["id"])
	}
}

func TestArchiveCreateDuplicateSession(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	handler := srv.BuildRouter()

	createArchive(t, handler, "sess-1")
	w := postJSON(t, handler, "/v1/archives", archiveBody("sess-1"), "")
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for double archive, got %d %s", w.Code, w.Body.String())
	}
}

func TestArchiveCreateBadRequests(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	handler := srv.BuildRouter()

	// No session at all
	w := postJSON(t, handler, "/v1/archives", map[string]any{"archived_by": "counselor-9"}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without session, got %d", w.Code)
	}

	// Unknown retention tier
	body := archiveBody("sess-2")
	body["retention_tier"] = "forever"
	w2 := postJSON(t, handler, "/v1/archives", body, "")
	if w2.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown tier, got %d", w2.Code)
	}
}

func TestArchiveGetNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	handler := srv.BuildRouter()

	w := getJSON(t, handler, "/v1/archives/no-such-id", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	w2 := getJSON(t, handler, "/v1/archives/session/no-such-session", "")
	if w2.Code != http.StatusNotFound {
		t.Errorf("expected 404 by session, got %d", w2.Code)
	}
}

func TestPayloadRoundtrip(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	handler := srv.BuildRouter()

	id := createArchive(t, handler, "sess-1")

	w := getJSON(t, handler, "/v1/archives/"+id+"/payload", "")
	if w.Code != http.StatusOK {
		t.Fatalf("payload failed: %d %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Archive-Session"); got != "sess-1" {
		t.Errorf("expected X-Archive-Session=sess-1, got %q", got)
	}

	var payload models.ArchivePayload
	if err := json.NewDecoder(w.Body).Decode(&payload); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if payload.Session == nil || payload.Session.ID != "sess-1" {
		t.Fatalf("expected session sess-1 in payload, got %+v", payload.Session)
	}
	if payload.Session.Data["transcript"] == "" {
		t.Error("expected transcript in decrypted session data")
	}
	if len(payload.Notes) != 1 || payload.Notes[0].Body != "followed up by phone" {
		t.Errorf("expected archived note to round-trip, got %+v", payload.Notes)
	}

	// The same payload is reachable by session id.
	w2 := getJSON(t, handler, "/v1/archives/session/sess-1/payload", "")
	if w2.Code != http.StatusOK {
		t.Fatalf("payload by session failed: %d %s", w2.Code, w2.Body.String())
	}
	var bySession models.ArchivePayload
	if err := json.NewDecoder(w2.Body).Decode(&bySession); err != nil {
		t.Fatalf("decoding payload by session: %v", err)
	}
	if bySession.Session == nil || bySession.Session.ID != "sess-1" {
		t.Errorf("expected session sess-1 by session route, got %+v", bySession.Session)
	}
}

func TestPayloadBlobMissing(t *testing.T) {
	srv, _, blobs := newTestServer(t, "")
	handler := srv.BuildRouter()

	id := createArchive(t, handler, "sess-1")
	blobs.objects = map[string][]byte{} // simulate object-store data loss

	w := getJSON(t, handler, "/v1/archives/"+id+"/payload", "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for missing blob, got %d %s", w.Code, w.Body.String())
	}
}

func TestPayloadCorruptBlob(t *testing.T) {
	srv, _, blobs := newTestServer(t, "")
	handler := srv.BuildRouter()

	id := createArchive(t, handler, "sess-1")
	for k, data := range blobs.objects {
		data[len(data)-1] ^= 0xff
		blobs.objects[k] = data
	}

	w := getJSON(t, handler, "/v1/archives/"+id+"/payload", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for corrupt blob, got %d %s", w.Code, w.Body.String())
	}
}

func TestRetentionExtend(t *testing.T) {
	srv, store, _ := newTestServer(t, "")
	handler := srv.BuildRouter()

	id := createArchive(t, handler, "sess-1")
	before := *store.archives[id].RetainUntil

	w := postJSON(t, handler, "/v1/archives/"+id+"/retention/extend", map[string]any{"days": 90}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("extend failed: %d %s", w.Code, w.Body.String())
	}
	after := *store.archives[id].RetainUntil
	if got := after.Sub(before); got != 90*24*time.Hour {
		t.Errorf("expected horizon to move 90 days, moved %v", got)
	}

	// Non-positive extensions are rejected
	w2 := postJSON(t, handler, "/v1/archives/"+id+"/retention/extend", map[string]any{"days": 0}, "")
	if w2.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero days, got %d", w2.Code)
	}
}

func TestRetentionPermanent(t *testing.T) {
	srv, store, _ := newTestServer(t, "")
	handler := srv.BuildRouter()

	id := createArchive(t, handler, "sess-1")
	w := postJSON(t, handler, "/v1/archives/"+id+"/retention/permanent", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("set permanent failed: %d %s", w.Code, w.Body.String())
	}
	rec := store.archives[id]
	if rec.Tier != models.TierPermanent {
		t.Errorf("expected permanent tier, got %s", rec.Tier)
	}
	if rec.RetainUntil != nil {
		t.Error("expected retain_until cleared on permanent archive")
	}

	// Extending a permanent archive is invalid
	w2 := postJSON(t, handler, "/v1/archives/"+id+"/retention/extend", map[string]any{"days": 30}, "")
	if w2.Code != http.StatusBadRequest {
		t.Errorf("expected 400 extending permanent archive, got %d", w2.Code)
	}
}

func TestArchiveDelete(t *testing.T) {
	srv, _, blobs := newTestServer(t, "")
	handler := srv.BuildRouter()

	id := createArchive(t, handler, "sess-1")

	req := httptest.NewRequest("DELETE", "/v1/archives/"+id, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete failed: %d %s", w.Code, w.Body.String())
	}
	if len(blobs.objects) != 0 {
		t.Error("expected blob removed with the archive")
	}

	w2 := getJSON(t, handler, "/v1/archives/"+id, "")
	if w2.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", w2.Code)
	}
}

func TestArchiveListFilterAndPaging(t *testing.T) {
	srv, store, _ := newTestServer(t, "")
	handler := srv.BuildRouter()

	for i := 1; i <= 3; i++ {
		createArchive(t, handler, fmt.Sprintf("sess-%d", i))
	}
	// Make one archive stand out for the severity filter.
	for _, a := range store.archives {
		if a.SessionID == "sess-2" {
			a.Severity = "low"
		}
	}

	w := getJSON(t, handler, "/v1/archives?severity=high", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if got := len(body["data"].([]any)); got != 2 {
		t.Errorf("expected 2 high-severity archives, got %d", got)
	}

	w2 := getJSON(t, handler, "/v1/archives?limit=2", "")
	body2 := decodeBody(t, w2)
	if got := len(body2["data"].([]any)); got != 2 {
		t.Errorf("expected page of 2, got %d", got)
	}
	if total := body2["total"].(float64); total != 3 {
		t.Errorf("expected total=3 alongside the page, got %v", total)
	}

	// Bad timestamp in a range filter
	w3 := getJSON(t, handler, "/v1/archives?from=yesterday", "")
	if w3.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad from timestamp, got %d", w3.Code)
	}
}

func TestArchiveExpiring(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	handler := srv.BuildRouter()

	body := archiveBody("sess-1")
	body["retention_days"] = 5
	w := postJSON(t, handler, "/v1/archives", body, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", w.Code, w.Body.String())
	}

	w2 := getJSON(t, handler, "/v1/archives/expiring?days=10", "")
	if w2.Code != http.StatusOK {
		t.Fatalf("expiring failed: %d %s", w2.Code, w2.Body.String())
	}
	resp := decodeBody(t, w2)
	items := resp["data"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 expiring archive, got %d", len(items))
	}
	remaining := items[0].(map[string]any)["days_remaining"].(float64)
	if remaining != 5 {
		t.Errorf("expected 5 days remaining, got %v", remaining)
	}

	// Outside the window
	w3 := getJSON(t, handler, "/v1/archives/expiring?days=2", "")
	resp3 := decodeBody(t, w3)
	if items := resp3["data"].([]any); len(items) != 0 {
		t.Errorf("expected no archives within 2 days, got %d", len(items))
	}
}

func TestArchiveStats(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	handler := srv.BuildRouter()

	createArchive(t, handler, "sess-1")
	createArchive(t, handler, "sess-2")

	w := getJSON(t, handler, "/v1/archives/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats failed: %d %s", w.Code, w.Body.String())
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	if count := data["total_count"].(float64); count != 2 {
		t.Errorf("expected total_count=2, got %v", count)
	}
	if bytes := data["total_bytes"].(float64); bytes <= 0 {
		t.Errorf("expected positive total_bytes, got %v", bytes)
	}
}

func TestServiceTokenAuth(t *testing.T) {
	srv, _, _ := newTestServer(t, "svc-secret")
	handler := srv.BuildRouter()

	// Health stays public
	w := getJSON(t, handler, "/v1/sys/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected health without token, got %d", w.Code)
	}

	w2 := getJSON(t, handler, "/v1/archives", "")
	if w2.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w2.Code)
	}

	w3 := getJSON(t, handler, "/v1/archives", "wrong-token")
	if w3.Code != http.StatusForbidden {
		t.Errorf("expected 403 with wrong token, got %d", w3.Code)
	}

	w4 := getJSON(t, handler, "/v1/archives", "svc-secret")
	if w4.Code != http.StatusOK {
		t.Errorf("expected 200 with valid token, got %d %s", w4.Code, w4.Body.String())
	}
}

func TestActorRecordedInAudit(t *testing.T) {
	srv, store, _ := newTestServer(t, "")
	handler := srv.BuildRouter()

	body, _ := json.Marshal(archiveBody("sess-1"))
	req := httptest.NewRequest("POST", "/v1/archives", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderActor, "counselor-9")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", w.Code, w.Body.String())
	}

	if len(store.audit) == 0 {
		t.Fatal("expected an audit entry for the create")
	}
	entry := store.audit[0]
	if entry.Action != audit.ActionArchiveCreate {
		t.Errorf("expected %s, got %s", audit.ActionArchiveCreate, entry.Action)
	}
	if entry.Actor != "counselor-9" {
		t.Errorf("expected actor counselor-9, got %s", entry.Actor)
	}
}

func TestAuditLogEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	handler := srv.BuildRouter()

	id := createArchive(t, handler, "sess-1")
	getJSON(t, handler, "/v1/archives/"+id+"/payload", "")

	w := getJSON(t, handler, "/v1/sys/audit-log?action=archive.retrieve", "")
	if w.Code != http.StatusOK {
		t.Fatalf("audit-log failed: %d %s", w.Code, w.Body.String())
	}
	entries := decodeBody(t, w)["data"].([]any)
	if len(entries) != 1 {
		t.Fatalf("expected 1 retrieve entry, got %d", len(entries))
	}
	if action := entries[0].(map[string]any)["action"]; action != "archive.retrieve" {
		t.Errorf("expected archive.retrieve, got %v", action)
	}

	w2 := getJSON(t, handler, "/v1/sys/audit-log?since=yesterday", "")
	if w2.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad since, got %d", w2.Code)
	}
}
