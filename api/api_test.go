package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"caff_back/audit"
	"caff_back/authorization"
	"caff_back/caff"
	"caff_back/config"
	"caff_back/database"
	"caff_back/decoder"
	"caff_back/failure"
	"caff_back/ingest"
	"caff_back/logging"
	"caff_back/metrics"
	"caff_back/preview"
	"caff_back/staging"
)

type stubResolver map[string]*authorization.Identity

func (s stubResolver) Resolve(_ context.Context, bearer string) (*authorization.Identity, error) {
	if identity, ok := s[bearer]; ok {
		return identity, nil
	}
	return nil, failure.Newf(failure.Unauthorized, "unknown token")
}

// parserStub writes a one-animation collection whose creator is the upload
// content, or exits 1 when the content is "fail".
type parserStub struct{}

func (parserStub) Run(_ context.Context, _ string, args []string) ([]byte, int, error) {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return nil, -1, err
	}
	creator := strings.TrimSpace(string(raw))
	if creator == "fail" {
		return []byte("not a caff"), 1, nil
	}

	doc := fmt.Sprintf(`{"credits":{"year":2021,"month":1,"day":2,"hour":3,"creator":%q},"animation":[{"duration":100,"width":2,"height":2,"caption":"only","tags":["a","b"]}]}`, creator)
	if err := os.WriteFile(filepath.Join(args[1], "metadata.json"), []byte(doc), 0o600); err != nil {
		return nil, -1, err
	}
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.NRGBA{G: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, -1, err
	}
	return nil, 0, os.WriteFile(filepath.Join(args[1], "preview0.png"), buf.Bytes(), 0o600)
}

type server struct {
	router     *gin.Engine
	db         *gorm.DB
	previewDir string
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	log := logging.Discard()
	db, err := database.Open("sqlite", filepath.Join(root, "api.db"), log)
	require.NoError(t, err)
	models := append(caff.Models(), &audit.LogEntry{}, &authorization.User{})
	require.NoError(t, database.Migrate(db, models...))

	auditService := audit.NewService(log)
	auth, err := authorization.NewModule(db, config.Settings{}, stubResolver{
		"user-token":  {SubjectID: "u-1", Name: "user", Role: authorization.RoleUser},
		"admin-token": {SubjectID: "a-1", Name: "admin", Role: authorization.RoleAdmin},
	}, auditService, log)
	require.NoError(t, err)

	previewDir := filepath.Join(root, "preview")
	manager, err := staging.NewManager(filepath.Join(root, "staging"))
	require.NoError(t, err)
	dec, err := decoder.New("caff-parser", 0, 2, decoder.WithExecutor(parserStub{}), decoder.WithLogger(log))
	require.NoError(t, err)
	assembler, err := preview.NewAssembler(previewDir, preview.Options{}, log)
	require.NoError(t, err)

	sourcesDir := filepath.Join(root, "sources")
	remover := ingest.NewArtifactRemover(assembler, sourcesDir, log)
	store := caff.NewStore(db, nil, log, caff.WithDeleteHook(remover.Hook()))

	registry := prometheus.NewRegistry()
	ingestMetrics, err := metrics.NewIngestMetrics(registry)
	require.NoError(t, err)

	orch, err := ingest.New(ingest.Deps{
		Staging:     manager,
		Decoder:     dec,
		Persister:   caff.NewPersister(db, nil, log),
		Assembler:   assembler,
		Collections: store,
		Audit:       auth.Overlay(),
		Metrics:     ingestMetrics,
		Logger:      log,
	}, ingest.Config{SourcesDir: sourcesDir, MaxUploadBytes: 1 << 20})
	require.NoError(t, err)

	module, err := NewModule(Deps{DB: db, Store: store, Ingest: orch, Auth: auth, Audit: auditService, Logger: log})
	require.NoError(t, err)

	router := NewRouter(RouterConfig{UIURL: "http://ui.example.test", PreviewDir: previewDir, Gatherer: registry, Logger: log}, auth, module)
	return &server{router: router, db: db, previewDir: previewDir}
}

func (s *server) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *server) upload(t *testing.T, field, filename, content, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	path := "/upload_file"
	if field == "archive" {
		path = "/upload_archive"
	}
	return s.do(t, http.MethodPost, path, token, &buf, w.FormDataContentType())
}

func (s *server) uploadOK(t *testing.T, creator string) uint64 {
	t.Helper()
	rec := s.upload(t, "file", creator+".caff", creator, "user-token")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, messageUploaded, resp.Message)
	require.NotZero(t, resp.ID)
	return resp.ID
}

func (s *server) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.db.Model(model).Count(&n).Error)
	return n
}

func writeZip(w io.Writer, files map[string]string) error {
	zw := zip.NewWriter(w)
	for name, content := range files {
		f, err := zw.Create(name)
		if err != nil {
			return err
		}
		if _, err := f.Write([]byte(content)); err != nil {
			return err
		}
	}
	return zw.Close()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestUploadAndReadBack(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	id := s.uploadOK(t, "alice")

	rec := s.do(t, http.MethodGet, fmt.Sprintf("/api/%d", id), "user-token", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[caffDTO](t, rec)
	assert.Equal(t, "alice", got.Creator)
	assert.Equal(t, int64(-1), got.Minute)
	assert.Equal(t, fmt.Sprintf("/preview/%d.gif", id), got.PreviewURL)
	require.Len(t, got.Ciffs, 1)
	assert.Equal(t, []string{"a", "b"}, got.Ciffs[0].Tags)
	assert.Empty(t, got.Comments)

	rec = s.do(t, http.MethodGet, got.PreviewURL, "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code, "previews are public")

	rec = s.do(t, http.MethodGet, "/api/", "user-token", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Caffs []caffDTO `json:"caffs"`
	}](t, rec)
	require.Len(t, list.Caffs, 1)
	assert.Equal(t, id, list.Caffs[0].ID)
}

func TestUploadRejections(t *testing.T) {
	t.Parallel()

	s := newServer(t)

	rec := s.upload(t, "file", "report.txt", "alice", "user-token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Illegal file extension"}`, rec.Body.String())

	rec = s.upload(t, "file", "bad.caff", "fail", "user-token")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, failure.ParseFailure.String(), body["error"])

	rec = s.upload(t, "file", "empty.caff", "", "user-token")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.upload(t, "file", "anon.caff", "alice", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/upload_file", "user-token", strings.NewReader("x"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var n int64
	require.NoError(t, s.db.Model(&caff.Caff{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestGetMissingCollection(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	rec := s.do(t, http.MethodGet, "/api/99", "user-token", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, failure.CollectionNotFound.String(), body["error"])
	assert.EqualValues(t, 99, body["id"])

	rec = s.do(t, http.MethodGet, "/api/abc", "user-token", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteRequiresAdminAndCascades(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	id := s.uploadOK(t, "bob")
	path := fmt.Sprintf("/api/%d", id)

	for _, text := range []string{"one", "two", "three"} {
		rec := s.do(t, http.MethodPost, path+"/comments", "user-token", strings.NewReader(fmt.Sprintf(`{"text":%q}`, text)), "application/json")
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	var row caff.Caff
	require.NoError(t, s.db.First(&row, id).Error)
	require.FileExists(t, row.RawFile)

	rec := s.do(t, http.MethodDelete, path, "user-token", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	entries, err := audit.NewService(nil).List(context.Background(), s.db)
	require.NoError(t, err)
	var warnings []audit.LogEntry
	for _, entry := range entries {
		if entry.Level == audit.LevelWarning {
			warnings = append(warnings, entry)
		}
	}
	require.Len(t, warnings, 1)
	assert.Equal(t, fmt.Sprintf("User with ID u-1 is not authorized to delete caff %d.", id), warnings[0].Message)

	assert.Equal(t, int64(1), s.count(t, &caff.Caff{}), "forbidden delete changes nothing")
	assert.Equal(t, int64(1), s.count(t, &caff.Ciff{}))
	assert.Equal(t, int64(3), s.count(t, &caff.Comment{}))
	assert.FileExists(t, filepath.Join(s.previewDir, fmt.Sprintf("%d.gif", id)))

	rec = s.do(t, http.MethodDelete, path, "admin-token", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, path, "user-token", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoFileExists(t, filepath.Join(s.previewDir, fmt.Sprintf("%d.gif", id)))
	assert.NoFileExists(t, row.RawFile)

	assert.Zero(t, s.count(t, &caff.Caff{}))
	assert.Zero(t, s.count(t, &caff.Ciff{}))
	assert.Zero(t, s.count(t, &caff.Comment{}))

	rec = s.do(t, http.MethodDelete, path, "admin-token", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOversizedUploadRejectedBeforeParsing(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	rec := s.upload(t, "file", "huge.caff", strings.Repeat("x", (1<<20)+(128<<10)), "user-token")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, failure.InvalidInput.String(), body["error"])
	assert.Contains(t, body["detail"], "request body exceeds")
	assert.Zero(t, s.count(t, &caff.Caff{}))
}

func TestLimitBodyCapsChunkedRequests(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.POST("/", limitBody(1024), func(c *gin.Context) {
		_, err := c.FormFile("file")
		authorization.Abort(c, formFileError(err, "file"))
	})

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "a.caff")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte("y"), 4096))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// An unknown length forces the reader limit rather than the header check.
	req := httptest.NewRequest(http.MethodPost, "/", io.MultiReader(&buf))
	req.ContentLength = -1
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, failure.InvalidInput.String(), body["error"])
}

func TestCommentLifecycle(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	id := s.uploadOK(t, "cid")
	base := fmt.Sprintf("/api/%d/comments", id)

	rec := s.do(t, http.MethodPost, base, "user-token", strings.NewReader(`{"text":"first!"}`), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[commentDTO](t, rec)
	assert.Equal(t, "u-1", created.AuthorID)
	assert.Equal(t, id, created.CaffID)

	rec = s.do(t, http.MethodPost, base, "user-token", strings.NewReader(`{"text":"   "}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	commentPath := fmt.Sprintf("%s/%d", base, created.ID)
	rec = s.do(t, http.MethodPut, commentPath, "user-token", strings.NewReader(`{"text":"edited"}`), "application/json")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPut, commentPath, "admin-token", strings.NewReader(`{"text":"edited"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "edited", decode[commentDTO](t, rec).Text)

	rec = s.do(t, http.MethodGet, base, "user-token", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[struct {
		Comments []commentDTO `json:"comments"`
	}](t, rec)
	require.Len(t, listed.Comments, 1)

	rec = s.do(t, http.MethodDelete, commentPath, "admin-token", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, commentPath, "admin-token", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, failure.CommentNotFound.String(), body["error"])
}

func TestDownloadServesSourceWithETag(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	id := s.uploadOK(t, "dora")
	path := fmt.Sprintf("/download_caff/%d", id)

	rec := s.do(t, http.MethodGet, path, "user-token", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dora", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "dora.caff")
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer user-token")
	req.Header.Set("If-None-Match", etag)
	cached := httptest.NewRecorder()
	s.router.ServeHTTP(cached, req)
	assert.Equal(t, http.StatusNotModified, cached.Code)

	rec = s.do(t, http.MethodGet, path, "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogsAreAdminOnly(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	s.uploadOK(t, "eve")

	rec := s.do(t, http.MethodGet, "/api/logs", "user-token", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/logs", "admin-token", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode[struct {
		Logs []logDTO `json:"logs"`
	}](t, rec)

	var actions []string
	for _, entry := range logs.Logs {
		actions = append(actions, entry.Action+"/"+entry.Level)
	}
	assert.Contains(t, actions, "UPLOADED/INFO")
	assert.Contains(t, actions, "GET/WARNING", "the forbidden attempt is audited")
}

func TestUploadArchive(t *testing.T) {
	t.Parallel()

	s := newServer(t)

	var zipped bytes.Buffer
	require.NoError(t, writeZip(&zipped, map[string]string{"a.caff": "ann", "b.caff": "fail"}))

	rec := s.upload(t, "archive", "set.zip", zipped.String(), "user-token")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[ingest.ArchiveReport](t, rec)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
}

func TestMetricsAndHealthArePublic(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	s.uploadOK(t, "fay")

	rec := s.do(t, http.MethodGet, "/metrics", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "caff_ingest")

	rec = s.do(t, http.MethodGet, "/healthz", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSAllowsUIOrigin(t *testing.T) {
	t.Parallel()

	s := newServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/", nil)
	req.Header.Set("Origin", "http://ui.example.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, "http://ui.example.test", rec.Header().Get("Access-Control-Allow-Origin"))
}
