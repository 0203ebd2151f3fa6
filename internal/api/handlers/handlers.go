package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dvloznov/txingest/internal/api/middleware"
	"github.com/dvloznov/txingest/internal/jobs"
	"github.com/dvloznov/txingest/internal/parser"
	"github.com/dvloznov/txingest/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// ArtifactSaver stores uploaded files.
type ArtifactSaver interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
	Remove(ctx context.Context, ref string) error
}

// JobTracker submits jobs and reports their state.
type JobTracker interface {
	Submit(ctx context.Context, artifactRef, sourceName string) (string, error)
	Status(ctx context.Context, jobID string) (*jobs.IngestJob, error)
	List(ctx context.Context, filter jobs.JobFilter) ([]*jobs.IngestJob, error)
}

// UploadHandler handles file submissions.
type UploadHandler struct {
	artifacts ArtifactSaver
	tracker   JobTracker
	maxBytes  int64
	log       zerolog.Logger
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(artifacts ArtifactSaver, tracker JobTracker, maxBytes int64, log zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		artifacts: artifacts,
		tracker:   tracker,
		maxBytes:  maxBytes,
		log:       log,
	}
}

// TaskRef pairs a job id with the file it was created for.
type TaskRef struct {
	TaskID   string `json:"task_id"`
	Filename string `json:"filename"`
}

// Upload handles POST /upload
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request too large (max %d MB)", h.maxBytes/(1024*1024)))
			return
		}
		h.log.Warn().Err(err).Msg("Failed to parse multipart form")
		middleware.WriteError(w, http.StatusBadRequest, "No file part")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "No file part")
		return
	}
	if files[0].Filename == "" {
		middleware.WriteError(w, http.StatusBadRequest, "No selected files")
		return
	}

	// Reject the whole request before anything is stored.
	for _, fh := range files {
		if _, err := parser.FormatFromName(SourceName(fh.Filename)); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "File type not allowed: "+fh.Filename)
			return
		}
	}

	// Store every file before queueing any, so a storage failure leaves
	// nothing behind.
	names := make([]string, len(files))
	refs := make([]string, 0, len(files))
	for i, fh := range files {
		names[i] = SourceName(fh.Filename)

		ref, err := h.save(ctx, names[i], fh)
		if err != nil {
			h.log.Error().Err(err).Str("source_file", names[i]).Msg("Failed to store upload")
			h.discard(ctx, refs)
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to store "+names[i])
			return
		}
		refs = append(refs, ref)
	}

	tasks := make([]TaskRef, 0, len(files))
	for i, ref := range refs {
		jobID, err := h.tracker.Submit(ctx, ref, names[i])
		if err != nil {
			// The tracker already removed this artifact; the rest were never queued.
			h.log.Error().Err(err).Str("source_file", names[i]).Int("queued", len(tasks)).Msg("Failed to submit job")
			h.discard(ctx, refs[i+1:])
			middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status":  "error",
				"message": "Failed to queue " + names[i],
				"tasks":   tasks,
			})
			return
		}
		tasks = append(tasks, TaskRef{TaskID: jobID, Filename: names[i]})
	}

	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "success",
		"message": fmt.Sprintf("Started processing %d files", len(tasks)),
		"tasks":   tasks,
	})
}

// discard removes stored uploads that will not be queued.
func (h *UploadHandler) discard(ctx context.Context, refs []string) {
	for _, ref := range refs {
		if err := h.artifacts.Remove(ctx, ref); err != nil {
			h.log.Error().Err(err).Str("artifact", ref).Msg("Failed to remove upload")
		}
	}
}

func (h *UploadHandler) save(ctx context.Context, name string, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("opening upload: %w", err)
	}
	defer f.Close()
	return h.artifacts.Save(ctx, name, f)
}

// SourceName strips any client supplied directory from an upload name.
func SourceName(filename string) string {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	return strings.TrimSpace(filepath.Base(filename))
}

// DatabaseHandler serves the transaction table.
type DatabaseHandler struct {
	repo store.Repository
	log  zerolog.Logger
}

// NewDatabaseHandler creates a new database handler.
func NewDatabaseHandler(repo store.Repository, log zerolog.Logger) *DatabaseHandler {
	return &DatabaseHandler{
		repo: repo,
		log:  log,
	}
}

// View handles GET /view_database
func (h *DatabaseHandler) View(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	total, err := h.repo.Count(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to count transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read database")
		return
	}

	rows, err := h.repo.List(ctx, store.DefaultListLimit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read database")
		return
	}

	writeRows(w, total, rows)
}

// Search handles GET /search?q=
func (h *DatabaseHandler) Search(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if term == "" {
		h.View(w, r)
		return
	}

	rows, err := h.repo.Search(r.Context(), term, store.DefaultListLimit)
	if err != nil {
		h.log.Error().Err(err).Str("q", term).Msg("Failed to search transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to search database")
		return
	}

	writeRows(w, int64(len(rows)), rows)
}

// Reset handles POST /reset_database
func (h *DatabaseHandler) Reset(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.repo.Reset(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to reset database")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to reset database")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": "Database reset successfully",
		"deleted": deleted,
	})
}

func writeRows(w http.ResponseWriter, total int64, rows []*store.Transaction) {
	if rows == nil {
		rows = []*store.Transaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "success",
		"total_records": total,
		"columns":       store.Columns(),
		"data":          rows,
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	tracker JobTracker
	log     zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(tracker JobTracker, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		tracker: tracker,
		log:     log,
	}
}

// TaskStatus handles GET /task_status/{id}
func (h *JobsHandler) TaskStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.tracker.Status(r.Context(), jobID)
	if err != nil {
		status := http.StatusInternalServerError
		var unknown *jobs.UnknownJobError
		if errors.As(err, &unknown) {
			status = http.StatusNotFound
		}
		middleware.WriteJSON(w, status, map[string]string{"status": "error", "error": err.Error()})
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job.Payload())
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.tracker.Status(r.Context(), jobID)
	if err != nil {
		h.log.Debug().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Status: jobs.JobStatus(query.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.tracker.List(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
