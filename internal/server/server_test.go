package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zraffens/HackUTA-backend/constants"
	"github.com/Zraffens/HackUTA-backend/internal/core/async"
	"github.com/Zraffens/HackUTA-backend/internal/repository"
	"github.com/Zraffens/HackUTA-backend/internal/services/export"
	"github.com/Zraffens/HackUTA-backend/internal/services/notes"
	"github.com/Zraffens/HackUTA-backend/internal/storage"
)

const adminToken = "s3cret"

type memQueue struct {
	mu   sync.Mutex
	jobs []async.Job
}

func (q *memQueue) Enqueue(_ context.Context, j async.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, j)
	return nil
}

func (q *memQueue) Shutdown(context.Context) {}

type testServer struct {
	handler http.Handler
	notes   repository.NoteRepository
	jobs    repository.ConversionJobRepository
	queue   *memQueue
	mdDir   string
}

func newTestServer(t *testing.T, ready ReadinessCheck) *testServer {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := repository.Open(ctx, repository.Config{
		Driver: "sqlite",
		DSN:    "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(log) })
	require.NoError(t, db.Migrate(ctx, log))

	store, err := storage.NewLocal(t.TempDir(), 1<<20, log)
	require.NoError(t, err)

	ts := &testServer{
		notes: repository.NewNoteRepository(db, log),
		jobs:  repository.NewConversionJobRepository(db, log),
		queue: &memQueue{},
		mdDir: t.TempDir(),
	}
	notesSvc := notes.NewService(ts.notes, ts.jobs, store, ts.queue, log)
	exportSvc := export.NewService(ts.notes, ts.jobs, log)
	ts.handler = NewRouter(
		Config{AdminToken: adminToken, MaxUploadBytes: 1 << 20},
		NewNotesHandler(notesSvc, 1<<20, log),
		NewAdminHandler(notesSvc, exportSvc, log),
		ready,
		log,
	)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func asUser(id uuid.UUID) map[string]string { return map[string]string{headerUserID: id.String()} }

var asAdmin = map[string]string{headerAdminToken: adminToken}

func uploadForm(t *testing.T, fields map[string]string, filename, content string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (ts *testServer) upload(t *testing.T, owner uuid.UUID, title string, public bool) uuid.UUID {
	t.Helper()
	pub := "false"
	if public {
		pub = "true"
	}
	body, ct := uploadForm(t, map[string]string{"title": title, "is_public": pub}, "page.png", "png-bytes")
	h := asUser(owner)
	h["Content-Type"] = ct
	rec := ts.do(t, http.MethodPost, "/api/notes", body, h)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var out struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.ID
}

func (ts *testServer) finish(t *testing.T, id uuid.UUID, status constants.ConversionStatus, markdown string) {
	t.Helper()
	ctx := context.Background()
	ok, err := ts.notes.ClaimPending(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	if status != constants.StatusCompleted {
		require.NoError(t, ts.notes.SetStatus(ctx, id, status, nil))
		return
	}
	path := filepath.Join(ts.mdDir, "note_"+id.String()+".md")
	require.NoError(t, os.WriteFile(path, []byte(markdown), 0o644))
	require.NoError(t, ts.notes.SetStatus(ctx, id, status, &path))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func TestUpload(t *testing.T) {
	ts := newTestServer(t, nil)
	owner := uuid.New()

	body, ct := uploadForm(t, map[string]string{"title": "Lecture 1", "description": "intro"}, "lecture.pdf", "%PDF-1.4")
	h := asUser(owner)
	h["Content-Type"] = ct
	rec := ts.do(t, http.MethodPost, "/api/notes", body, h)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	m := decode(t, rec)
	assert.Equal(t, "pending", m["ocr_status"])
	assert.Equal(t, false, m["has_markdown"])
	assert.Equal(t, "intro", m["description"])
	assert.NotContains(t, m, "source_path")
	assert.Equal(t, "/api/notes/"+m["id"].(string), rec.Header().Get("Location"))
	require.Len(t, ts.queue.jobs, 1)
	assert.Equal(t, m["id"], ts.queue.jobs[0].NoteID.String())
	assert.NotEmpty(t, ts.queue.jobs[0].TraceID)
}

func TestUpload_PublicByDefault(t *testing.T) {
	ts := newTestServer(t, nil)
	owner := uuid.New()

	body, ct := uploadForm(t, map[string]string{"title": "Shared notes"}, "shared.png", "png")
	h := asUser(owner)
	h["Content-Type"] = ct
	rec := ts.do(t, http.MethodPost, "/api/notes", body, h)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	m := decode(t, rec)
	assert.Equal(t, true, m["is_public"])

	rec = ts.do(t, http.MethodGet, "/api/notes/"+m["id"].(string), nil, asUser(uuid.New()))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpload_Rejected(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name     string
		headers  map[string]string
		fields   map[string]string
		filename string
		status   int
	}{
		{"anonymous", map[string]string{}, map[string]string{"title": "t"}, "a.png", http.StatusUnauthorized},
		{"malformed user", map[string]string{headerUserID: "bob"}, map[string]string{"title": "t"}, "a.png", http.StatusUnauthorized},
		{"missing file", asUser(uuid.New()), map[string]string{"title": "t"}, "", http.StatusBadRequest},
		{"missing title", asUser(uuid.New()), map[string]string{}, "a.png", http.StatusBadRequest},
		{"bad is_public", asUser(uuid.New()), map[string]string{"title": "t", "is_public": "maybe"}, "a.png", http.StatusBadRequest},
		{"wrong type", asUser(uuid.New()), map[string]string{"title": "t"}, "a.exe", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := uploadForm(t, tt.fields, tt.filename, "data")
			tt.headers["Content-Type"] = ct
			rec := ts.do(t, http.MethodPost, "/api/notes", body, tt.headers)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}
	assert.Empty(t, ts.queue.jobs)
}

func TestGetAndList_Visibility(t *testing.T) {
	ts := newTestServer(t, nil)
	alice, bob := uuid.New(), uuid.New()
	private := ts.upload(t, alice, "private", false)
	ts.upload(t, alice, "public", true)

	rec := ts.do(t, http.MethodGet, "/api/notes/"+private.String(), nil, asUser(bob))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/notes/"+private.String(), nil, asUser(alice))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["view_count"])

	rec = ts.do(t, http.MethodGet, "/api/notes/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "note id must be a valid UUID", decode(t, rec)["error"])

	rec = ts.do(t, http.MethodGet, "/api/notes?per_page=1", nil, asUser(bob))
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode(t, rec)
	assert.EqualValues(t, 1, m["total"])
	assert.EqualValues(t, 1, m["per_page"])

	rec = ts.do(t, http.MethodGet, "/api/notes", nil, asUser(alice))
	assert.EqualValues(t, 2, decode(t, rec)["total"])

	rec = ts.do(t, http.MethodGet, "/api/notes?page=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkdown_ByStatus(t *testing.T) {
	ts := newTestServer(t, nil)
	owner := uuid.New()
	pending := ts.upload(t, owner, "pending", true)
	done := ts.upload(t, owner, "done", true)
	failed := ts.upload(t, owner, "failed", true)

	md := "---\n**Page 1**\n---\n\n# Title\n\n| a | b |\n|---|---|\n| 1 | 2 |"
	ts.finish(t, done, constants.StatusCompleted, md)
	ts.finish(t, failed, constants.StatusFailed, "")

	rec := ts.do(t, http.MethodGet, "/api/notes/"+pending.String()+"/markdown", nil, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "pending", decode(t, rec)["status"])

	rec = ts.do(t, http.MethodGet, "/api/notes/"+done.String()+"/markdown", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/markdown; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, md, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/notes/"+done.String()+"/markdown?format=html", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<h1>Title</h1>")
	assert.Contains(t, rec.Body.String(), "<table>")

	rec = ts.do(t, http.MethodGet, "/api/notes/"+failed.String()+"/markdown", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"error":"processing failed"}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/notes/"+done.String()+"/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"completed","has_markdown":true}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/notes/"+done.String(), nil, nil)
	assert.Equal(t, "/api/notes/"+done.String()+"/markdown", decode(t, rec)["markdown_url"])
}

func TestPatch(t *testing.T) {
	ts := newTestServer(t, nil)
	owner := uuid.New()
	id := ts.upload(t, owner, "draft", true)
	path := "/api/notes/" + id.String()

	tests := []struct {
		name    string
		headers map[string]string
		body    string
		status  int
	}{
		{"unknown field", asUser(owner), `{"owner_id":"x"}`, http.StatusBadRequest},
		{"empty object", asUser(owner), `{}`, http.StatusBadRequest},
		{"wrong type", asUser(owner), `{"is_public":"yes"}`, http.StatusBadRequest},
		{"not json", asUser(owner), `title=x`, http.StatusBadRequest},
		{"not owner", asUser(uuid.New()), `{"title":"hijack"}`, http.StatusForbidden},
		{"owner", asUser(owner), `{"title":"final","is_public":false}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPatch, path, strings.NewReader(tt.body), tt.headers)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	n, err := ts.notes.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "final", n.Title)
	assert.False(t, n.IsPublic)
}

func TestDeleteAndDownload(t *testing.T) {
	ts := newTestServer(t, nil)
	owner := uuid.New()
	id := ts.upload(t, owner, "slides", true)
	path := "/api/notes/" + id.String()

	rec := ts.do(t, http.MethodGet, path+"/download", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=page.png`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "png-bytes", rec.Body.String())

	rec = ts.do(t, http.MethodDelete, path, nil, asUser(uuid.New()))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodDelete, path, nil, asUser(owner))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, path, nil, asUser(owner))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin(t *testing.T) {
	ts := newTestServer(t, nil)
	owner := uuid.New()
	pending := ts.upload(t, owner, "pending", false)
	done := ts.upload(t, owner, "done", false)
	ts.finish(t, done, constants.StatusCompleted, "# done")

	rec := ts.do(t, http.MethodGet, "/api/admin/notes/stats", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/admin/notes/stats", nil, map[string]string{headerAdminToken: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/admin/notes/stats", nil, asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"counts":{"pending":1,"processing":0,"completed":1,"failed":0},"total":2}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/admin/notes?status=completed", nil, asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["total"])

	rec = ts.do(t, http.MethodPost, "/api/admin/notes/"+pending.String()+"/reprocess", nil, asAdmin)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/admin/notes/"+done.String()+"/reprocess", nil, asAdmin)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "pending", decode(t, rec)["ocr_status"])
	assert.Len(t, ts.queue.jobs, 3)

	job, err := ts.jobs.Start(context.Background(), done, constants.IMAGE)
	require.NoError(t, err)
	require.NoError(t, ts.jobs.FinishFailure(context.Background(), job.ID, "ModelError", "upstream 500", 0))
	rec = ts.do(t, http.MethodGet, "/api/admin/notes/"+done.String()+"/conversions", nil, asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error_message":"upstream 500"`)

	rec = ts.do(t, http.MethodGet, "/api/admin/notes/export.xlsx", nil, asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = ts.do(t, http.MethodGet, "/api/admin/notes/export.xlsx?status=done", nil, asAdmin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	healthy := newTestServer(t, func(context.Context) error { return nil })
	rec := healthy.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = healthy.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	down := newTestServer(t, func(context.Context) error { return errors.New("db gone") })
	rec = down.do(t, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db gone")
}
