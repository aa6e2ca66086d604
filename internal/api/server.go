// Package api exposes the HTTP surface: uploads, processing requests, job
// visibility, and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/dharsanguruparan/linehaul/internal/catalog"
	"github.com/dharsanguruparan/linehaul/internal/config"
	"github.com/dharsanguruparan/linehaul/internal/ingest"
	"github.com/dharsanguruparan/linehaul/internal/jobqueue"
	"github.com/dharsanguruparan/linehaul/internal/model"
)

// Uploader runs the streaming ingest pipeline for one request.
type Uploader interface {
	Upload(ctx context.Context, r *http.Request) (*model.File, error)
}

// FileStore is the slice of the catalog the handlers read.
type FileStore interface {
	Get(ctx context.Context, id primitive.ObjectID) (*model.File, error)
	List(ctx context.Context, skip, limit int64, status *model.FileStatus) ([]model.File, error)
}

// JobStore creates and reads jobs.
type JobStore interface {
	Create(ctx context.Context, fileID primitive.ObjectID) (*model.Job, error)
	Get(ctx context.Context, id primitive.ObjectID) (*model.Job, error)
}

// Pinger reports metadata-store liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober reports object-store reachability.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Server hosts the HTTP handlers.
type Server struct {
	cfg      *config.Config
	log      *slog.Logger
	uploader Uploader
	files    FileStore
	jobs     JobStore
	db       Pinger
	store    Prober
	server   *http.Server
	once     sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, log *slog.Logger, uploader Uploader, files FileStore, jobs JobStore, db Pinger, store Prober) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		log:      log,
		uploader: uploader,
		files:    files,
		jobs:     jobs,
		db:       db,
		store:    store,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.Address(),
			Handler: s.Routes(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info("api listening", "addr", s.cfg.Address())
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Routes builds the router. Exposed separately so tests can drive the handlers
// through httptest.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger(s.log))
	r.Get("/", s.handleIndex)
	r.Get("/healthz", s.handleHealth)
	r.Post("/upload", s.handleUpload)
	r.Post("/process/{fileID}", s.handleProcess)
	r.Get("/jobs/{jobID}", s.handleJob)
	r.Get("/files", s.handleFiles)
	r.Get("/files/{fileID}", s.handleFile)
	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "linehaul",
		"message": "line-oriented file ingest and processing",
		"endpoints": []string{
			"POST /upload",
			"POST /process/{fileID}",
			"GET /jobs/{jobID}",
			"GET /files",
			"GET /files/{fileID}",
			"GET /healthz",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	services := map[string]string{"database": "ok", "storage": "ok"}
	down := 0
	if err := s.db.Ping(ctx); err != nil {
		services["database"] = "unavailable"
		down++
	}
	if !s.store.Probe(ctx) {
		services["storage"] = "unavailable"
		down++
	}

	switch down {
	case 0:
		respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "services": services})
	case 1:
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "degraded", "services": services})
	default:
		respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "unhealthy", "services": services})
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, err := s.uploader.Upload(r.Context(), r)
	if err != nil {
		var uploadErr *ingest.Error
		if errors.As(err, &uploadErr) {
			status := http.StatusInternalServerError
			if uploadErr.Kind == ingest.KindBadRequest {
				status = http.StatusBadRequest
			}
			if status >= http.StatusInternalServerError {
				s.log.Error("upload failed", "error", err)
			}
			respondError(w, status, uploadErr.Code, uploadErr.Message)
			return
		}
		s.log.Error("upload failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Upload failed", "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"file_id": file.ID.Hex(),
		"key":     file.ObjectKey,
		"message": "uploaded",
		"metadata": map[string]interface{}{
			"original_name": file.OriginalName,
			"size":          file.Size,
			"content_type":  file.ContentType,
		},
	})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	fileID, err := primitive.ObjectIDFromHex(chi.URLParam(r, "fileID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid fileId format", "")
		return
	}
	if _, err := s.files.Get(r.Context(), fileID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			respondError(w, http.StatusNotFound, "File not found", "")
			return
		}
		s.log.Error("file lookup failed", "file_id", fileID.Hex(), "error", err)
		respondError(w, http.StatusInternalServerError, "Internal error", "")
		return
	}
	job, err := s.jobs.Create(r.Context(), fileID)
	if err != nil {
		s.log.Error("job create failed", "file_id", fileID.Hex(), "error", err)
		respondError(w, http.StatusInternalServerError, "Internal error", "")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"job_id":    job.ID.Hex(),
		"file_id":   job.FileID.Hex(),
		"state":     job.State,
		"queued_at": job.QueuedAt,
		"message":   "processing job created",
	})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := primitive.ObjectIDFromHex(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid jobId format", "")
		return
	}
	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobqueue.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Job not found", "")
			return
		}
		s.log.Error("job lookup failed", "job_id", jobID.Hex(), "error", err)
		respondError(w, http.StatusInternalServerError, "Internal error", "")
		return
	}
	respondJSON(w, http.StatusOK, jobView(job))
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	fileID, err := primitive.ObjectIDFromHex(chi.URLParam(r, "fileID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid fileId format", "")
		return
	}
	file, err := s.files.Get(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			respondError(w, http.StatusNotFound, "File not found", "")
			return
		}
		s.log.Error("file lookup failed", "file_id", fileID.Hex(), "error", err)
		respondError(w, http.StatusInternalServerError, "Internal error", "")
		return
	}
	respondJSON(w, http.StatusOK, file)
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	skip := parseQueryInt(r, "skip", 0)
	limit := parseQueryInt(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var status *model.FileStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := model.FileStatus(raw)
		if st != model.FileUploaded && st != model.FileProcessed {
			respondError(w, http.StatusBadRequest, "Invalid status filter", "")
			return
		}
		status = &st
	}
	files, err := s.files.List(r.Context(), skip, limit, status)
	if err != nil {
		s.log.Error("file list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Internal error", "")
		return
	}
	if files == nil {
		files = []model.File{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"files": files,
		"skip":  skip,
		"limit": limit,
	})
}

// jobView shapes a job document for the API, surfacing the progress snapshot
// and the bounded error tail.
func jobView(job *model.Job) map[string]interface{} {
	view := map[string]interface{}{
		"job_id":      job.ID.Hex(),
		"file_id":     job.FileID.Hex(),
		"state":       job.State,
		"attempts":    job.Attempts,
		"queued_at":   job.QueuedAt,
		"progress":    job.Progress,
		"error_count": job.Progress.ErrorCount,
	}
	if job.StartedAt != nil {
		view["started_at"] = job.StartedAt
	}
	if job.FinishedAt != nil {
		view["finished_at"] = job.FinishedAt
	}
	if len(job.Errors) > 0 {
		view["errors"] = job.Errors
	}
	if job.Result != nil {
		view["result"] = job.Result
	}
	return view
}

func parseQueryInt(r *http.Request, key string, def int64) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	body := map[string]string{"error": code}
	if message != "" {
		body["message"] = message
	}
	respondJSON(w, status, body)
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	}
}
