package web

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/appscale/certhub/internal/blobstore"
	"github.com/appscale/certhub/internal/certify"
	"github.com/appscale/certhub/internal/config"
	"github.com/appscale/certhub/internal/identity"
	"github.com/appscale/certhub/internal/model"
	"github.com/appscale/certhub/internal/storage"
)

type fakeBlobs struct {
	objects  map[string][]byte
	disabled bool
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (f *fakeBlobs) Upload(_ context.Context, objectKey string, reader io.Reader, _ int64, _ string) error {
	if f.disabled {
		return blobstore.ErrUploadsDisabled
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.objects[objectKey] = data
	return nil
}

func (f *fakeBlobs) Download(_ context.Context, objectKey string) ([]byte, error) {
	data, ok := f.objects[objectKey]
	if !ok {
		return nil, fmt.Errorf("no blob for %s", objectKey)
	}
	return data, nil
}

func (f *fakeBlobs) Open(_ context.Context, objectKey string) (io.ReadCloser, *blobstore.BlobInfo, error) {
	data, ok := f.objects[objectKey]
	if !ok {
		return nil, nil, fmt.Errorf("no blob for %s", objectKey)
	}
	info := &blobstore.BlobInfo{
		Name:        objectKey,
		Size:        int64(len(data)),
		ContentType: "application/zip",
	}
	return io.NopCloser(bytes.NewReader(data)), info, nil
}

func (f *fakeBlobs) PresignUploadURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "http://blobs.local/" + objectKey + "?sig=test", nil
}

func (f *fakeBlobs) PresignDownloadURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "http://blobs.local/" + objectKey + "?sig=dl", nil
}

type fakeDispatcher struct {
	ids []string
}

func (f *fakeDispatcher) EnqueueAnalyze(_ context.Context, submissionID string) error {
	f.ids = append(f.ids, submissionID)
	return nil
}

type fakeIdentity struct {
	user identity.User
}

func (f *fakeIdentity) Current(*http.Request) identity.User { return f.user }
func (f *fakeIdentity) LoginURL(dest string) string         { return "/auth/login?next=" + dest }
func (f *fakeIdentity) LogoutURL(dest string) string        { return "/auth/logout?next=" + dest }

type fakeNotifier struct {
	count int
}

func (f *fakeNotifier) Notify(context.Context, *model.Submission) error {
	f.count++
	return nil
}

type testEnv struct {
	server   *Server
	store    *storage.MemoryStore
	blobs    *fakeBlobs
	tasks    *fakeDispatcher
	notifier *fakeNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Address:      ":0",
		BaseURL:      "http://localhost:8080",
		MaxFileSize:  1 << 20,
		UploadURLTTL: time.Minute,
	}
	store := storage.NewMemoryStore()
	blobs := newFakeBlobs()
	tasks := &fakeDispatcher{}
	notifier := &fakeNotifier{}
	pipeline := certify.NewPipeline(store, blobs, notifier)
	users := &fakeIdentity{user: identity.User{LoggedIn: true, Admin: true, Name: "chris", Email: "chris@appscale.com"}}
	server, err := NewServer(cfg, store, blobs, tasks, pipeline, users)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testEnv{server: server, store: store, blobs: blobs, tasks: tasks, notifier: notifier}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func buildZip(t *testing.T, entries [][2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e[0])
		if err != nil {
			t.Fatalf("create entry %s: %v", e[0], err)
		}
		if _, err := w.Write([]byte(e[1])); err != nil {
			t.Fatalf("write entry %s: %v", e[0], err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func multipartUpload(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUploadCreatesSubmissionAndQueuesAnalysis(t *testing.T) {
	env := newTestEnv(t)
	blob := buildZip(t, [][2]string{{"app.yaml", "runtime: python27"}})
	body, contentType := multipartUpload(t, "file", "myapp.zip", blob)

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := env.do(req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d: %s", rec.Code, rec.Body.String())
	}
	loc := rec.Header().Get("Location")
	if !strings.HasPrefix(loc, "/view/") {
		t.Fatalf("expected redirect to view page, got %q", loc)
	}
	id := strings.TrimPrefix(loc, "/view/")
	sub, err := env.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("submission not stored: %v", err)
	}
	if sub.Name != "myapp.zip" || sub.Owner != "chris" || sub.Examined {
		t.Errorf("unexpected submission: %+v", sub)
	}
	if len(env.tasks.ids) != 1 || env.tasks.ids[0] != id {
		t.Errorf("expected one analysis job for %s, got %v", id, env.tasks.ids)
	}
	if _, ok := env.blobs.objects[sub.ObjectKey]; !ok {
		t.Errorf("archive not stored under %s", sub.ObjectKey)
	}
}

func TestUploadWithoutFileRedirectsHome(t *testing.T) {
	env := newTestEnv(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("comment", "no file here"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := env.do(req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Errorf("expected redirect home, got %q", loc)
	}
}

func TestUploadDisabledShowsInlineMessage(t *testing.T) {
	env := newTestEnv(t)
	env.blobs.disabled = true
	body, contentType := multipartUpload(t, "file", "myapp.zip", buildZip(t, [][2]string{{"app.yaml", ""}}))

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := env.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "Uploading disabled" {
		t.Errorf("expected inline message, got %q", rec.Body.String())
	}
	if n, _ := env.store.CountAll(context.Background()); n != 0 {
		t.Errorf("no record should be created, found %d", n)
	}
	if len(env.tasks.ids) != 0 {
		t.Errorf("no job should be enqueued, got %v", env.tasks.ids)
	}
}

func seedSubmission(t *testing.T, env *testEnv, sub *model.Submission) {
	t.Helper()
	if err := env.store.Create(context.Background(), sub); err != nil {
		t.Fatalf("seed submission: %v", err)
	}
}

func TestReviewApproveLiteralTrue(t *testing.T) {
	env := newTestEnv(t)
	seedSubmission(t, env, &model.Submission{ID: "sub-1", Name: "a.zip", Owner: "chris", EvidenceReport: "main.py: x"})

	form := strings.NewReader("approve=true")
	req := httptest.NewRequest(http.MethodPost, "/view/sub-1", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := env.do(req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	sub, _ := env.store.Get(context.Background(), "sub-1")
	if !sub.Examined || !sub.Passed {
		t.Errorf("expected approval, got %+v", sub)
	}
	if sub.CertificationNotes != "" {
		t.Errorf("empty note must leave notes unchanged, got %q", sub.CertificationNotes)
	}
	if sub.EvidenceReport != "main.py: x" {
		t.Errorf("review must not touch the evidence report, got %q", sub.EvidenceReport)
	}
}

func TestReviewAnyOtherValueRejects(t *testing.T) {
	env := newTestEnv(t)
	seedSubmission(t, env, &model.Submission{ID: "sub-2", Name: "b.zip", Owner: "chris"})

	form := strings.NewReader("approve=yes&certification_info=looks+wrong")
	req := httptest.NewRequest(http.MethodPost, "/view/sub-2", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	env.do(req)

	sub, _ := env.store.Get(context.Background(), "sub-2")
	if !sub.Examined || sub.Passed {
		t.Errorf("non-\"true\" approve must reject, got %+v", sub)
	}
	if sub.CertificationNotes != "looks wrong" {
		t.Errorf("unexpected notes: %q", sub.CertificationNotes)
	}
}

func TestViewUnknownSubmission(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/view/nope", nil)
	if rec := env.do(req); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestViewPageIncludesSignedDownloadURL(t *testing.T) {
	env := newTestEnv(t)
	seedSubmission(t, env, &model.Submission{ID: "v-1", Name: "app.zip", Owner: "chris", ObjectKey: "uploads/v-1/app.zip"})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/view/v-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "http://blobs.local/uploads/v-1/app.zip?sig=dl") {
		t.Error("view page missing signed download link")
	}
}

func TestWorkQueueListsOnlyUnexamined(t *testing.T) {
	env := newTestEnv(t)
	seedSubmission(t, env, &model.Submission{ID: "w-1", Name: "waiting.zip", Owner: "chris"})
	seedSubmission(t, env, &model.Submission{ID: "w-2", Name: "done.zip", Owner: "chris", Examined: true})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/workqueue", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	page := rec.Body.String()
	if !strings.Contains(page, "waiting.zip") {
		t.Error("work queue missing unexamined submission")
	}
	if strings.Contains(page, "done.zip") {
		t.Error("work queue must not list examined submissions")
	}
}

func TestStatsPage(t *testing.T) {
	env := newTestEnv(t)
	seedSubmission(t, env, &model.Submission{ID: "s-1", Name: "a.zip", Owner: "chris", Examined: true, Passed: true})
	seedSubmission(t, env, &model.Submission{ID: "s-2", Name: "b.zip", Owner: "chris", Examined: true})
	seedSubmission(t, env, &model.Submission{ID: "s-3", Name: "c.zip", Owner: "chris"})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Apps uploaded") {
		t.Error("stats page missing headline row")
	}
}

func TestAnalyzeEndpointRunsPipeline(t *testing.T) {
	env := newTestEnv(t)
	blob := buildZip(t, [][2]string{
		{"app.yaml", "runtime: python27"},
		{"main.py", "from google.appengine.api import users\n"},
	})
	env.blobs.objects["uploads/sub-3/app.zip"] = blob
	seedSubmission(t, env, &model.Submission{ID: "sub-3", Name: "app.zip", Owner: "chris", ObjectKey: "uploads/sub-3/app.zip"})

	rec := env.do(httptest.NewRequest(http.MethodPost, "/analyze/sub-3", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	sub, _ := env.store.Get(context.Background(), "sub-3")
	if sub.Examined {
		t.Error("python app must await review, not auto-examine")
	}
	want := "main.py: from google.appengine.api import users"
	if sub.EvidenceReport != want {
		t.Errorf("expected report %q, got %q", want, sub.EvidenceReport)
	}
	if env.notifier.count != 1 {
		t.Errorf("expected one notification, got %d", env.notifier.count)
	}
}

func TestDownloadStreamsBlob(t *testing.T) {
	env := newTestEnv(t)
	data := []byte("zip bytes here")
	env.blobs.objects["uploads/sub-4/app.zip"] = data

	rec := env.do(httptest.NewRequest(http.MethodGet, "/download/uploads/sub-4/app.zip", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), data) {
		t.Error("downloaded bytes do not match stored blob")
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "app.zip") {
		t.Errorf("unexpected content disposition: %q", cd)
	}
}

func TestCertifyPageIncludesUploadURL(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/certify", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "http://blobs.local/incoming/") {
		t.Error("certify page missing presigned upload URL")
	}
}
