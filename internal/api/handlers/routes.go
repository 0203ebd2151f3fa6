package handlers

import (
	"net/http"
	"time"

	"github.com/dvloznov/txingest/internal/api/middleware"
	"github.com/dvloznov/txingest/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RouterConfig holds what the HTTP surface needs.
type RouterConfig struct {
	Artifacts      ArtifactSaver
	Tracker        JobTracker
	Repo           store.Repository
	MaxUploadBytes int64
	// Limiter throttles uploads; nil disables it.
	Limiter *rate.Limiter
	Log     zerolog.Logger
}

// NewRouter builds the HTTP handler with all routes and middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	upload := NewUploadHandler(cfg.Artifacts, cfg.Tracker, cfg.MaxUploadBytes, cfg.Log)
	database := NewDatabaseHandler(cfg.Repo, cfg.Log)
	jobsHandler := NewJobsHandler(cfg.Tracker, cfg.Log)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recovery(cfg.Log),
		middleware.Logger(cfg.Log),
		middleware.CORS,
	)

	r.With(
		middleware.RateLimit(cfg.Limiter, cfg.Log),
		middleware.MaxBytes(cfg.MaxUploadBytes),
	).Post("/upload", upload.Upload)

	r.Get("/task_status/{id}", jobsHandler.TaskStatus)
	r.Get("/view_database", database.View)
	r.Get("/search", database.Search)
	r.Post("/reset_database", database.Reset)

	r.Route("/api/jobs", func(r chi.Router) {
		r.Get("/", jobsHandler.ListJobs)
		r.Get("/{id}", jobsHandler.GetJob)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}
