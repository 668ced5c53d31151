package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"issuedigest/internal/artifact"
	"issuedigest/internal/issue"
	"issuedigest/internal/manifest"
	"issuedigest/internal/pipeline"
)

const maxRunBody = 64 << 20

// HandleStartRun runs the pipeline over a JSON issue array in the body,
// or over the configured input file when the body is empty. The run is
// detached from the request so a dropped client does not abort it.
func (h *Handler) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	if h.deps.Pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline is not configured")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRunBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := context.WithoutCancel(r.Context())
	var res *pipeline.Result
	if len(bytes.TrimSpace(body)) == 0 {
		if h.deps.InputPath == "" {
			writeError(w, http.StatusBadRequest, "no issues supplied and no input file configured")
			return
		}
		res, err = h.deps.Pipeline.RunFile(ctx, h.deps.InputPath)
	} else {
		var issues []issue.Issue
		issues, err = issue.Decode(bytes.NewReader(body))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		res, err = h.deps.Pipeline.Run(ctx, issues)
	}

	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil && res == nil:
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "run": res.Record})
	default:
		writeJSON(w, http.StatusCreated, res.Record)
	}
}

// HandleListRuns returns recent manifest records, newest first.
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Manifest == nil {
		writeError(w, http.StatusServiceUnavailable, "run manifest is not configured")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	recs, err := h.deps.Manifest.List(r.Context(), limit)
	if err != nil {
		h.log.Printf("server: list runs failed: %v", err)
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if recs == nil {
		recs = []manifest.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// HandleLatestRun reports the newest complete artifact set found in
// storage, with its manifest record when one exists.
func (h *Handler) HandleLatestRun(w http.ResponseWriter, r *http.Request) {
	set, err := h.deps.Resolver.LatestSet(r.Context())
	if errors.Is(err, artifact.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No complete artifact set found")
		return
	}
	if err != nil {
		h.log.Printf("server: latest set failed: %v", err)
		writeError(w, http.StatusInternalServerError, "resolve failed")
		return
	}
	out := map[string]any{"set": set}
	if h.deps.Manifest != nil {
		recs, err := h.deps.Manifest.List(r.Context(), 50)
		if err != nil {
			h.log.Printf("server: list runs failed: %v", err)
		}
		for _, rec := range recs {
			if rec.Version == set.Version {
				out["run"] = rec
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}
