package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"issuedigest/internal/artifact"
	"issuedigest/internal/bundle"
	"issuedigest/internal/manifest"
	"issuedigest/internal/metrics"
	"issuedigest/internal/pipeline"
	"issuedigest/internal/progress"
	"issuedigest/internal/storage"
)

const (
	// IdentityHeader carries the authenticated caller, set by the upstream
	// proxy that owns authentication.
	IdentityHeader = "X-Authenticated-User"
	// VersionHeader reports the artifact version a response was served from.
	VersionHeader = "X-Artifact-Version"
)

// Recorder is the download audit trail.
type Recorder interface {
	Record(ctx context.Context, identity, format string) error
}

// Deps are the collaborators behind the HTTP surface. Pipeline, Manifest,
// Hub and Metrics may be nil; the routes that need them then answer 503.
type Deps struct {
	Store     storage.Store
	Resolver  *artifact.Resolver
	Bundler   *bundle.Packager
	Audit     Recorder
	Pipeline  *pipeline.Pipeline
	Manifest  manifest.Store
	Hub       *progress.Hub
	Metrics   *metrics.Metrics
	InputPath string
	Logger    *log.Logger
}

type Handler struct {
	deps Deps
	log  *log.Logger
}

func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{deps: deps, log: logger}
}

// NewMux registers every route and wraps them in CORS.
func NewMux(h *Handler, corsOrigins []string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /download/all", h.HandleDownloadAll)
	mux.HandleFunc("GET /download/{format}", h.HandleDownload)

	mux.HandleFunc("GET /api/summary", h.HandleGetSummary)
	mux.HandleFunc("POST /api/summary", h.HandlePublishSummary)
	mux.HandleFunc("POST /api/update-summary", h.HandlePublishSummary)
	mux.HandleFunc("GET /api/summary/stats", h.HandleSummaryStats)

	mux.HandleFunc("POST /api/runs", h.HandleStartRun)
	mux.HandleFunc("GET /api/runs", h.HandleListRuns)
	mux.HandleFunc("GET /api/runs/latest", h.HandleLatestRun)

	if h.deps.Hub != nil {
		mux.HandleFunc("GET /ws/progress", h.deps.Hub.ServeWS)
	}
	if h.deps.Metrics != nil {
		mux.Handle("GET /metrics", h.deps.Metrics.Handler())
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	return CORS(corsOrigins, mux)
}

func identity(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(IdentityHeader))
}

// audit records a download. Failures never block the download.
func (h *Handler) audit(r *http.Request, format string) {
	if h.deps.Audit == nil {
		return
	}
	if err := h.deps.Audit.Record(r.Context(), identity(r), format); err != nil {
		h.log.Printf("server: audit %s download failed: %v", format, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
