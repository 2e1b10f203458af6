// Package web exposes the HTTP surface: upload and review pages for
// submitters and reviewers, plus the internal analyze trigger.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/appscale/certhub/internal/blobstore"
	"github.com/appscale/certhub/internal/certify"
	"github.com/appscale/certhub/internal/config"
	"github.com/appscale/certhub/internal/identity"
	"github.com/appscale/certhub/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// SubmissionStore is the slice of the repository the handlers need.
type SubmissionStore interface {
	Create(ctx context.Context, sub *model.Submission) error
	Get(ctx context.Context, id string) (*model.Submission, error)
	ListByOwner(ctx context.Context, owner string) ([]*model.Submission, error)
	ListUnexamined(ctx context.Context) ([]*model.Submission, error)
	CountAll(ctx context.Context) (int64, error)
	CountExamined(ctx context.Context, passed bool) (int64, error)
	CountUnexamined(ctx context.Context) (int64, error)
}

// BlobStore covers the blob operations the handlers need.
type BlobStore interface {
	Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	Open(ctx context.Context, objectKey string) (io.ReadCloser, *blobstore.BlobInfo, error)
	PresignUploadURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error)
	PresignDownloadURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error)
}

// Dispatcher enqueues analysis jobs.
type Dispatcher interface {
	EnqueueAnalyze(ctx context.Context, submissionID string) error
}

// Server hosts the HTTP handlers. Routes are resolved once at startup and
// every handler works off this explicit dependency set.
type Server struct {
	cfg      *config.Config
	store    SubmissionStore
	blobs    BlobStore
	tasks    Dispatcher
	pipeline *certify.Pipeline
	users    identity.Service
	pages    *template.Template
}

// NewServer parses the embedded templates and wires the handler dependencies.
func NewServer(cfg *config.Config, store SubmissionStore, blobs BlobStore, tasks Dispatcher, pipeline *certify.Pipeline, users identity.Service) (*Server, error) {
	pages, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Server{
		cfg:      cfg,
		store:    store,
		blobs:    blobs,
		tasks:    tasks,
		pipeline: pipeline,
		users:    users,
		pages:    pages,
	}, nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))
	r.Use(loggingMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/", s.handleIndex)
	r.Get("/certify", s.handleCertifyForm)
	r.Post("/upload", s.handleUpload)
	r.Get("/download/*", s.handleDownload)
	r.Get("/view/all", s.handleViewAll)
	r.Get("/view/{id}", s.handleView)
	r.Post("/view/{id}", s.handleReview)
	r.Get("/workqueue", s.handleWorkQueue)
	r.Get("/stats", s.handleStats)
	r.Post("/analyze/{id}", s.handleAnalyze)
	return r
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	log.Printf("certhub listening on %s", s.cfg.Address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// PageContext carries the identity parameters common to every rendered page.
type PageContext struct {
	IsLoggedIn bool
	IsAdmin    bool
	UserName   string
	LoginURL   string
	LogoutURL  string
}

func (s *Server) common(r *http.Request) PageContext {
	user := s.users.Current(r)
	return PageContext{
		IsLoggedIn: user.LoggedIn,
		IsAdmin:    user.Admin,
		UserName:   user.Name,
		LoginURL:   s.users.LoginURL("/"),
		LogoutURL:  s.users.LogoutURL("/"),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, `{"status":"ok"}`)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, "index.html", struct {
		PageContext
	}{s.common(r)})
}

func (s *Server) handleCertifyForm(w http.ResponseWriter, r *http.Request) {
	uploadURL, err := s.blobs.PresignUploadURL(r.Context(), "incoming/"+uuid.NewString(), s.cfg.UploadURLTTL)
	if err != nil {
		// The direct-to-storage path is optional; the form still POSTs here.
		log.Printf("presign upload url: %v", err)
	}
	s.render(w, "certify.html", struct {
		PageContext
		UploadURL string
	}{s.common(r), uploadURL})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := s.users.Current(r)
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	part, err := nextFilePart(mr)
	if errors.Is(err, io.EOF) {
		// No file part at all sends the visitor back home.
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer part.Close()
	tmp, err := s.persistTemp(part)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer os.Remove(tmp.path)
	defer tmp.f.Close()

	id := uuid.NewString()
	objectKey := fmt.Sprintf("uploads/%s/%s", id, filepath.Base(tmp.filename))
	if err := s.uploadToStorage(ctx, objectKey, tmp); err != nil {
		if errors.Is(err, blobstore.ErrUploadsDisabled) {
			io.WriteString(w, "Uploading disabled")
			return
		}
		log.Printf("upload to storage failed: %v", err)
		http.Error(w, "failed to store file", http.StatusInternalServerError)
		return
	}
	sub := &model.Submission{
		ID:         id,
		Name:       tmp.filename,
		Size:       tmp.size,
		Owner:      user.Name,
		OwnerEmail: user.Email,
		ObjectKey:  objectKey,
	}
	if err := s.store.Create(ctx, sub); err != nil {
		http.Error(w, "failed to store submission", http.StatusInternalServerError)
		return
	}
	if err := s.tasks.EnqueueAnalyze(ctx, id); err != nil {
		http.Error(w, "failed to queue analysis", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/view/"+id, http.StatusSeeOther)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ref, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || ref == "" {
		http.Error(w, "invalid reference", http.StatusBadRequest)
		return
	}
	rc, info, err := s.blobs.Open(r.Context(), ref)
	if err != nil {
		http.Error(w, "blob not found", http.StatusNotFound)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(info.Name)+"\"")
	if _, err := io.Copy(w, rc); err != nil {
		log.Printf("stream blob %s: %v", ref, err)
	}
}

func (s *Server) handleViewAll(w http.ResponseWriter, r *http.Request) {
	user := s.users.Current(r)
	subs, err := s.store.ListByOwner(r.Context(), user.Name)
	if err != nil {
		http.Error(w, "failed to list submissions", http.StatusInternalServerError)
		return
	}
	s.render(w, "view_all.html", struct {
		PageContext
		Submissions []*model.Submission
	}{s.common(r), subs})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sub, err := s.store.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "submission not found", http.StatusNotFound)
		return
	}
	signedURL, err := s.blobs.PresignDownloadURL(r.Context(), sub.ObjectKey, s.cfg.UploadURLTTL)
	if err != nil {
		// The proxied /download route still works without a signed link.
		log.Printf("presign download url: %v", err)
	}
	s.render(w, "view.html", struct {
		PageContext
		Submission *model.Submission
		SignedURL  string
	}{s.common(r), sub, signedURL})
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	// The approve field is a literal string contract: only "true" approves,
	// anything else (including a missing field) rejects.
	approve := r.FormValue("approve") == "true"
	note := r.FormValue("certification_info")
	if err := s.pipeline.Review(r.Context(), id, approve, note); err != nil {
		http.Error(w, "failed to save decision", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/view/"+id, http.StatusSeeOther)
}

func (s *Server) handleWorkQueue(w http.ResponseWriter, r *http.Request) {
	subs, err := s.store.ListUnexamined(r.Context())
	if err != nil {
		http.Error(w, "failed to list submissions", http.StatusInternalServerError)
		return
	}
	s.render(w, "workqueue.html", struct {
		PageContext
		Submissions []*model.Submission
	}{s.common(r), subs})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	total, err := s.store.CountAll(ctx)
	if err != nil {
		http.Error(w, "failed to count submissions", http.StatusInternalServerError)
		return
	}
	passed, err := s.store.CountExamined(ctx, true)
	if err != nil {
		http.Error(w, "failed to count submissions", http.StatusInternalServerError)
		return
	}
	failed, err := s.store.CountExamined(ctx, false)
	if err != nil {
		http.Error(w, "failed to count submissions", http.StatusInternalServerError)
		return
	}
	waiting, err := s.store.CountUnexamined(ctx)
	if err != nil {
		http.Error(w, "failed to count submissions", http.StatusInternalServerError)
		return
	}
	s.render(w, "stats.html", struct {
		PageContext
		Uploaded int64
		Passed   int64
		Failed   int64
		Waiting  int64
	}{s.common(r), total, passed, failed, waiting})
}

// handleAnalyze is the internal trigger invoked by the task dispatcher. It
// runs the pipeline synchronously and returns no meaningful body.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.pipeline.Analyze(r.Context(), id); err != nil {
		log.Printf("analyze %s: %v", id, err)
		http.Error(w, "analysis failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) render(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.pages.ExecuteTemplate(w, name, data); err != nil {
		log.Printf("render %s: %v", name, err)
	}
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "certhub-*.zip")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxFileSize {
				tmpFile.Close()
				os.Remove(tmpFile.Name())
				return nil, fmt.Errorf("file exceeds limit (%d bytes)", s.cfg.MaxFileSize)
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				tmpFile.Close()
				os.Remove(tmpFile.Name())
				return nil, fmt.Errorf("write temp file: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			tmpFile.Close()
			os.Remove(tmpFile.Name())
			return nil, fmt.Errorf("read file: %w", readErr)
		}
	}
	if written == 0 {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, errors.New("empty file")
	}
	contentType := http.DetectContentType(sniff)
	if _, err := tmpFile.Seek(0, 0); err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, fmt.Errorf("rewind temp file: %w", err)
	}
	filename := part.FileName()
	if filename == "" {
		filename = "upload.zip"
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: contentType,
		filename:    filename,
	}, nil
}

func (s *Server) uploadToStorage(ctx context.Context, objectKey string, tmp *tempUpload) error {
	if _, err := tmp.f.Seek(0, 0); err != nil {
		return err
	}
	return s.blobs.Upload(ctx, objectKey, tmp.f, tmp.size, tmp.contentType)
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}
