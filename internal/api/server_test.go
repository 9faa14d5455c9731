package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/imageloom/internal/domain"
	"github.com/dunamismax/imageloom/internal/queue"
	"github.com/dunamismax/imageloom/internal/ratelimit"
	"github.com/dunamismax/imageloom/internal/store"
)

type fakeEnqueuer struct {
	payloads []queue.ProcessImagePayload
	err      error
}

func (f *fakeEnqueuer) EnqueueProcessImage(_ context.Context, payload queue.ProcessImagePayload) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, payload)
	return &asynq.TaskInfo{
		ID:            "task-1",
		Queue:         "default",
		State:         asynq.TaskStatePending,
		NextProcessAt: time.Now(),
	}, nil
}

type fakeObjectStorage struct {
	presignedURL string
	exists       bool
}

func (f fakeObjectStorage) PresignedPutURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return f.presignedURL + "/" + objectKey, nil
}

func (f fakeObjectStorage) ObjectExists(context.Context, string) (bool, error) {
	return f.exists, nil
}

func newTestServer(t *testing.T, enqueuer *fakeEnqueuer, storage objectStorage, opts Options) (*Server, *store.MemoryJobStore) {
	t.Helper()
	jobStore := store.NewMemoryJobStore()
	logger := log.New(io.Discard, "[api] ", 0)
	return NewServer(logger, enqueuer, jobStore, storage, opts), jobStore
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, decoded
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEnqueuer{}, nil, Options{})
	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if body["status"] != "ok" {
		t.Fatalf("body %v", body)
	}
}

func TestCreateLocalFileJob(t *testing.T) {
	srv, jobStore := newTestServer(t, &fakeEnqueuer{}, nil, Options{})

	header := http.Header{}
	header.Set("X-User-ID", "user-7")
	rec, body := doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs", `{
		"source_type": "local_file",
		"object_key": "/tmp/in.png",
		"variants": [{"id": "thumb", "steps": [{"action": "resize", "width": 100}]}]
	}`, header)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d: %v", rec.Code, body)
	}

	jobID, _ := body["job_id"].(string)
	if jobID == "" {
		t.Fatalf("missing job_id in %v", body)
	}
	if got := body["start_url"]; got != "/v1/jobs/"+jobID+"/start" {
		t.Fatalf("start_url %v", got)
	}

	job, ok, err := jobStore.Get(context.Background(), jobID)
	if err != nil || !ok {
		t.Fatalf("job not stored: ok=%v err=%v", ok, err)
	}
	if job.Status != domain.JobStatusCreated {
		t.Fatalf("status %q", job.Status)
	}
	if job.UserID != "user-7" {
		t.Fatalf("user id %q", job.UserID)
	}
	if job.ObjectKey != "/tmp/in.png" {
		t.Fatalf("object key %q", job.ObjectKey)
	}
}

func TestCreatePresignedJobReturnsUploadURL(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEnqueuer{}, fakeObjectStorage{presignedURL: "https://minio.test"}, Options{})

	rec, body := doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs", `{
		"source_type": "s3_presigned",
		"variants": [{"id": "thumb"}]
	}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d: %v", rec.Code, body)
	}

	upload, _ := body["upload"].(map[string]any)
	if upload == nil {
		t.Fatalf("missing upload block in %v", body)
	}
	url, _ := upload["presigned_put_url"].(string)
	if !strings.HasPrefix(url, "https://minio.test/uploads/") {
		t.Fatalf("presigned url %q", url)
	}
	if upload["presigned_url_state"] != "ready" {
		t.Fatalf("upload state %v", upload["presigned_url_state"])
	}
}

func TestCreateJobRejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEnqueuer{}, nil, Options{})
	handler := srv.Handler()

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"unknown field", `{"source_type": "local_file", "object_key": "k", "variants": [{"id": "v"}], "bogus": 1}`},
		{"missing variants", `{"source_type": "local_file", "object_key": "k"}`},
		{"duplicate variant ids", `{"source_type": "local_file", "object_key": "k", "variants": [{"id": "v"}, {"id": "v"}]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, _ := doJSON(t, handler, http.MethodPost, "/v1/jobs", tc.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status %d", rec.Code)
			}
		})
	}
}

func TestStartJobEnqueuesPayload(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	srv, jobStore := newTestServer(t, enqueuer, nil, Options{})

	source := filepath.Join(t.TempDir(), "in.png")
	if err := os.WriteFile(source, []byte("data"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	job := domain.Job{
		ID:         "job-1",
		Status:     domain.JobStatusCreated,
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  source,
		Variants:   []domain.Variant{{ID: "thumb"}},
	}
	if err := jobStore.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	rec, body := doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs/job-1/start", "", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d: %v", rec.Code, body)
	}
	if body["status"] != domain.JobStatusQueued {
		t.Fatalf("body %v", body)
	}

	if len(enqueuer.payloads) != 1 {
		t.Fatalf("enqueued %d payloads", len(enqueuer.payloads))
	}
	payload := enqueuer.payloads[0]
	if payload.JobID != "job-1" || payload.ObjectKey != source || len(payload.Variants) != 1 {
		t.Fatalf("payload %+v", payload)
	}

	stored, _, _ := jobStore.Get(context.Background(), "job-1")
	if stored.Status != domain.JobStatusQueued {
		t.Fatalf("stored status %q", stored.Status)
	}
}

func TestStartJobMissingSourceConflicts(t *testing.T) {
	srv, jobStore := newTestServer(t, &fakeEnqueuer{}, fakeObjectStorage{exists: false}, Options{})

	job := domain.Job{
		ID:         "job-1",
		SourceType: domain.SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-1/source",
		Variants:   []domain.Variant{{ID: "thumb"}},
	}
	if err := jobStore.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	rec, _ := doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs/job-1/start", "", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestStartUnknownJobNotFound(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEnqueuer{}, nil, Options{})
	rec, _ := doJSON(t, srv.Handler(), http.MethodPost, "/v1/jobs/missing/start", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestGetJob(t *testing.T) {
	srv, jobStore := newTestServer(t, &fakeEnqueuer{}, nil, Options{})

	job := domain.Job{ID: "job-1", Status: domain.JobStatusProcessing, SourceType: domain.SourceTypeLocalFile}
	if err := jobStore.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/v1/jobs/job-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if body["status"] != domain.JobStatusProcessing {
		t.Fatalf("body %v", body)
	}

	rec, _ = doJSON(t, srv.Handler(), http.MethodGet, "/v1/jobs/missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false, Remaining: 0, RetryAfter: 30 * time.Second}, nil
}

func TestRateLimitRejectsWithRetryAfter(t *testing.T) {
	srv, _ := newTestServer(t, &fakeEnqueuer{}, nil, Options{RateLimiter: denyAllLimiter{}})
	handler := srv.Handler()

	rec, _ := doJSON(t, handler, http.MethodPost, "/v1/jobs", `{}`, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "30" {
		t.Fatalf("Retry-After %q", rec.Header().Get("Retry-After"))
	}

	// Reads stay unthrottled.
	rec, _ = doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestExtractJobIDFromStartPath(t *testing.T) {
	cases := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{"/v1/jobs/abc/start", "abc", false},
		{"/v1/jobs/abc/start/", "abc", false},
		{"/v1/jobs//start", "", true},
		{"/v1/jobs/abc", "", true},
		{"/v1/jobs/abc/stop", "", true},
		{"/v1/jobs/abc/start/extra", "", true},
	}
	for _, tc := range cases {
		got, err := extractJobIDFromStartPath(tc.path)
		if tc.wantErr != (err != nil) {
			t.Fatalf("%s: err=%v", tc.path, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestExtractJobIDFromGetPath(t *testing.T) {
	cases := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{"/v1/jobs/abc", "abc", false},
		{"/v1/jobs/abc/", "abc", false},
		{"/v1/jobs/", "", true},
		{"/v1/jobs/abc/start", "", true},
	}
	for _, tc := range cases {
		got, err := extractJobIDFromGetPath(tc.path)
		if tc.wantErr != (err != nil) {
			t.Fatalf("%s: err=%v", tc.path, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.path, got, tc.want)
		}
	}
}
