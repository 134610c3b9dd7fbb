package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/csye6225/webapp/internal/api/handlers"
	"github.com/csye6225/webapp/internal/api/handlers/file"
	"github.com/csye6225/webapp/internal/metrics"
	"github.com/csye6225/webapp/internal/models"
	"github.com/csye6225/webapp/internal/nats"
	"github.com/csye6225/webapp/internal/services"
	"github.com/csye6225/webapp/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var fixedNow = time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC)

type fakeBlob struct {
	mu        sync.Mutex
	objects   map[string][]byte
	putErr    error
	deleteErr error
	signErr   error
	deletes   []string
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: map[string][]byte{}}
}

func (b *fakeBlob) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	if b.putErr != nil {
		return "", b.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return "https://webapp-files.s3.amazonaws.com/" + key, nil
}

func (b *fakeBlob) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes = append(b.deletes, key)
	if b.deleteErr != nil {
		return b.deleteErr
	}
	delete(b.objects, key)
	return nil
}

func (b *fakeBlob) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	if b.signErr != nil {
		return "", b.signErr
	}
	return "https://signed.example/" + key + "?X-Amz-Expires=" + ttl.String(), nil
}

type failingStore struct {
	*storage.MemoryStorage
	checkErr   error
	checkPanic any
	createErr  error
	getErr     error
	deleteErr  error
}

func (s *failingStore) CreateCheck(ctx context.Context) (models.HealthCheckEvent, error) {
	if s.checkPanic != nil {
		panic(s.checkPanic)
	}
	if s.checkErr != nil {
		return models.HealthCheckEvent{}, s.checkErr
	}
	return s.MemoryStorage.CreateCheck(ctx)
}

func (s *failingStore) CreateFile(ctx context.Context, f models.FileRecord) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.MemoryStorage.CreateFile(ctx, f)
}

func (s *failingStore) GetFile(ctx context.Context, id string) (models.FileRecord, error) {
	if s.getErr != nil {
		return models.FileRecord{}, s.getErr
	}
	return s.MemoryStorage.GetFile(ctx, id)
}

func (s *failingStore) DeleteFile(ctx context.Context, id string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.MemoryStorage.DeleteFile(ctx, id)
}

type captureRecorder struct {
	mu     sync.Mutex
	events []metrics.Event
}

func (c *captureRecorder) Record(e metrics.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

type capturePublisher struct {
	subjects []string
}

func (p *capturePublisher) Publish(_ context.Context, subject string, _ nats.Event) error {
	p.subjects = append(p.subjects, subject)
	return nil
}

type testServer struct {
	engine   *gin.Engine
	store    *failingStore
	blob     *fakeBlob
	recorder *captureRecorder
	events   *capturePublisher
}

func newTestServer(t *testing.T, scanner services.Scanner) *testServer {
	t.Helper()
	mem, err := storage.NewMemoryStorage("")
	require.NoError(t, err)

	ts := &testServer{
		store:    &failingStore{MemoryStorage: mem},
		blob:     newFakeBlob(),
		recorder: &captureRecorder{},
		events:   &capturePublisher{},
	}
	logger := zaptest.NewLogger(t)

	ts.engine = gin.New()
	RegisterRoutes(ts.engine, Routes{
		Health: handlers.NewHealth(ts.store, logger),
		Files: file.New(file.Deps{
			Files:   ts.store,
			Blobs:   ts.blob,
			Scanner: scanner,
			Events:  ts.events,
			Logger:  logger,
			Now:     func() time.Time { return fixedNow },
		}),
		Recorder:       ts.recorder,
		Logger:         logger,
		MaxUploadBytes: 1 << 20,
	})
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, field, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (ts *testServer) upload(t *testing.T) models.UploadResponse {
	t.Helper()
	w := ts.do(uploadRequest(t, "profilepic", "avatar.png", "png bytes"))
	require.Equal(t, http.StatusCreated, w.Code)

	var resp models.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func assertNoStore(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "no-cache, no-store, must-revalidate", w.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", w.Header().Get("Pragma"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assertNoStore(t, w)

	ev, err := ts.store.MemoryStorage.CreateCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), ev.ID, "one row per accepted request")
}

func TestHealthzRejectsOtherMethods(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, method := range []string{
		http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodOptions, http.MethodTrace,
	} {
		t.Run(method, func(t *testing.T) {
			w := ts.do(httptest.NewRequest(method, "/healthz", nil))
			assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
			assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
		})
	}
}

func TestHealthzRejectsPayloads(t *testing.T) {
	ts := newTestServer(t, nil)

	withLength := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	withLength.Header.Set("Content-Length", "5")
	withAuth := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	withAuth.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	tests := map[string]*http.Request{
		"query":          httptest.NewRequest(http.MethodGet, "/healthz?verbose=1", nil),
		"body":           httptest.NewRequest(http.MethodGet, "/healthz", strings.NewReader(`{"ping":true}`)),
		"content length": withLength,
		"authorization":  withAuth,
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			w := ts.do(req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
		})
	}
}

func TestHealthzUnavailable(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.store.checkErr = errors.New("connection refused")

	w := ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Empty(t, w.Body.String())
	assertNoStore(t, w)
}

func TestHealthzPanicIsRecordedAsUnavailable(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.store.checkPanic = "connection pool corrupted"

	w := ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Empty(t, w.Body.String())
	assertNoStore(t, w)

	require.Len(t, ts.recorder.events, 1)
	assert.Equal(t, metrics.KindAPI, ts.recorder.events[0].Kind)
	assert.Equal(t, "GET_/healthz", ts.recorder.events[0].Name)
	assert.Equal(t, http.StatusServiceUnavailable, ts.recorder.events[0].Status)
}

func TestUndefinedRoutesAreMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, target := range []string{"/", "/v1", "/v2/file", "/healthz/", "/v1/file/abc/extra"} {
		for _, method := range []string{http.MethodGet, http.MethodPost, "PROPFIND"} {
			w := ts.do(httptest.NewRequest(method, target, nil))
			assert.Equal(t, http.StatusMethodNotAllowed, w.Code, "%s %s", method, target)
		}
	}
}

func TestUploadCreatesRecord(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.upload(t)

	_, err := uuid.Parse(resp.FileID)
	require.NoError(t, err)
	assert.Equal(t, "avatar.png", resp.Filename)
	assert.Equal(t, "https://webapp-files.s3.amazonaws.com/"+resp.FileID+"-avatar.png", resp.S3Path)
	assert.Equal(t, "2024-03-09", resp.UploadDate)
	assert.Equal(t, []byte("png bytes"), ts.blob.objects[resp.FileID+"-avatar.png"])
	assert.Equal(t, []string{nats.SubjectUploaded}, ts.events.subjects)
}

func TestUploadIDsAreFresh(t *testing.T) {
	ts := newTestServer(t, nil)

	first := ts.upload(t)
	second := ts.upload(t)
	assert.NotEqual(t, first.FileID, second.FileID)
}

func TestUploadRejections(t *testing.T) {
	ts := newTestServer(t, nil)

	noFile := httptest.NewRequest(http.MethodPost, "/v1/file", strings.NewReader(""))
	noFile.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")

	withQuery := uploadRequest(t, "profilepic", "a.png", "x")
	withQuery.URL.RawQuery = "x=1"

	withAuth := uploadRequest(t, "profilepic", "a.png", "x")
	withAuth.Header.Set("Authorization", "Bearer token")

	tests := map[string]*http.Request{
		"empty multipart": noFile,
		"wrong field":     uploadRequest(t, "file", "a.png", "x"),
		"query":           withQuery,
		"authorization":   withAuth,
		"json body":       httptest.NewRequest(http.MethodPost, "/v1/file", strings.NewReader(`{}`)),
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			w := ts.do(req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
		})
	}
	assert.Empty(t, ts.blob.objects, "rejected uploads never reach the blob store")
}

func TestFileCollectionRejectsOtherMethods(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions} {
		w := ts.do(httptest.NewRequest(method, "/v1/file", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, method)
	}
}

func TestUploadBlobFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.blob.putErr = errors.New("s3 unavailable")

	w := ts.do(uploadRequest(t, "profilepic", "a.png", "x"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Empty(t, w.Body.String())
	assertNoStore(t, w)
}

func TestUploadCompensatesOnMetadataFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.store.createErr = errors.New("db down")

	w := ts.do(uploadRequest(t, "profilepic", "a.png", "x"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assertNoStore(t, w)

	require.Len(t, ts.blob.deletes, 1)
	assert.True(t, strings.HasSuffix(ts.blob.deletes[0], "-a.png"))
	assert.Empty(t, ts.blob.objects, "orphaned blob removed")
	assert.Empty(t, ts.events.subjects)
}

type stubScanner struct{ err error }

func (s stubScanner) Scan(context.Context, io.Reader) error { return s.err }

func TestUploadScanner(t *testing.T) {
	infected := newTestServer(t, stubScanner{err: services.ErrInfected})
	w := infected.do(uploadRequest(t, "profilepic", "eicar.txt", "X5O!P%@AP"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, infected.blob.objects)

	down := newTestServer(t, stubScanner{err: errors.New("dial tcp: connection refused")})
	w = down.do(uploadRequest(t, "profilepic", "a.png", "x"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assertNoStore(t, w)
}

func TestRetrieveRoundTrip(t *testing.T) {
	ts := newTestServer(t, nil)
	uploaded := ts.upload(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/v1/file/"+uploaded.FileID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got models.FileResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, uploaded.FileID, got.FileID)
	assert.Equal(t, uploaded.Filename, got.Filename)
	assert.Equal(t, uploaded.S3Path, got.S3Path)
	assert.Equal(t, "https://signed.example/"+uploaded.FileID+"-avatar.png?X-Amz-Expires=1m0s", got.DownloadURL)
}

func TestRetrieveUnknown(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, id := range []string{uuid.NewString(), "not-a-uuid"} {
		w := ts.do(httptest.NewRequest(http.MethodGet, "/v1/file/"+id, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, id)
		assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))
	}
}

func TestRetrieveFailures(t *testing.T) {
	ts := newTestServer(t, nil)
	uploaded := ts.upload(t)

	ts.blob.signErr = errors.New("no credentials")
	w := ts.do(httptest.NewRequest(http.MethodGet, "/v1/file/"+uploaded.FileID, nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	ts.blob.signErr = nil
	ts.store.getErr = errors.New("db down")
	w = ts.do(httptest.NewRequest(http.MethodGet, "/v1/file/"+uploaded.FileID, nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assertNoStore(t, w)
}

func TestFileItemRejectsOtherMethods(t *testing.T) {
	ts := newTestServer(t, nil)
	target := "/v1/file/" + uuid.NewString()

	for _, method := range []string{http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions} {
		w := ts.do(httptest.NewRequest(method, target, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, method)
	}
}

func TestDeleteThenGetIsNotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	uploaded := ts.upload(t)
	target := "/v1/file/" + uploaded.FileID

	w := ts.do(httptest.NewRequest(http.MethodDelete, target, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Empty(t, ts.blob.objects)
	assert.Equal(t, []string{nats.SubjectUploaded, nats.SubjectDeleted}, ts.events.subjects)

	w = ts.do(httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(httptest.NewRequest(http.MethodDelete, target, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteBlobFailureKeepsRow(t *testing.T) {
	ts := newTestServer(t, nil)
	uploaded := ts.upload(t)
	ts.blob.deleteErr = errors.New("access denied")

	w := ts.do(httptest.NewRequest(http.MethodDelete, "/v1/file/"+uploaded.FileID, nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assertNoStore(t, w)

	_, err := ts.store.MemoryStorage.GetFile(context.Background(), uploaded.FileID)
	assert.NoError(t, err, "row survives when the blob delete fails")
}

func TestDeleteMetadataFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	uploaded := ts.upload(t)
	ts.store.deleteErr = errors.New("db down")

	w := ts.do(httptest.NewRequest(http.MethodDelete, "/v1/file/"+uploaded.FileID, nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Empty(t, w.Body.String())
	assertNoStore(t, w)

	assert.Empty(t, ts.blob.objects, "blob delete ran before the row delete")
	assert.Equal(t, []string{nats.SubjectUploaded}, ts.events.subjects)
}

func TestTelemetryRecordsEveryRequest(t *testing.T) {
	ts := newTestServer(t, nil)
	uploaded := ts.upload(t)
	ts.do(httptest.NewRequest(http.MethodGet, "/v1/file/"+uploaded.FileID, nil))
	ts.do(httptest.NewRequest(http.MethodPut, "/healthz", nil))
	ts.do(httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	var api []string
	var statuses []int
	for _, e := range ts.recorder.events {
		if e.Kind == metrics.KindAPI {
			api = append(api, e.Name)
			statuses = append(statuses, e.Status)
		}
	}
	assert.Equal(t, []string{"POST_/v1/file", "GET_/v1/file/{id}", "PUT_/healthz", "GET_unmatched"}, api)
	assert.Equal(t, []int{201, 200, 405, 405}, statuses)
}
