package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"issuedigest/internal/artifact"
	"issuedigest/internal/issue"
)

const maxPublishBody = 32 << 20

// latestStructured returns the newest structured artifact and its name.
func (h *Handler) latestStructured(r *http.Request) (string, []byte, error) {
	name, err := h.deps.Resolver.Resolve(r.Context(), artifact.JSON)
	if err != nil {
		return "", nil, err
	}
	raw, err := h.deps.Store.Get(r.Context(), name)
	if err != nil {
		return "", nil, err
	}
	return name, raw, nil
}

func (h *Handler) summaryError(w http.ResponseWriter, err error) {
	if errors.Is(err, artifact.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No summaries found")
		return
	}
	h.log.Printf("server: load summaries failed: %v", err)
	writeError(w, http.StatusInternalServerError, "load summaries failed")
}

// HandleGetSummary serves the latest structured collection. Each record
// also carries "summary", an alias of summary_generated the dashboard reads.
func (h *Handler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	name, raw, err := h.latestStructured(r)
	if err != nil {
		h.summaryError(w, err)
		return
	}
	var records []map[string]any
	if err := json.Unmarshal(raw, &records); err != nil {
		h.log.Printf("server: decode %s failed: %v", name, err)
		writeError(w, http.StatusInternalServerError, "corrupt summary artifact")
		return
	}
	for _, rec := range records {
		rec["summary"] = rec["summary_generated"]
	}
	if records == nil {
		records = []map[string]any{}
	}
	if n, ok := artifact.ParseName(name); ok {
		w.Header().Set(VersionHeader, n.Version())
	}
	writeJSON(w, http.StatusOK, records)
}

// HandlePublishSummary writes an edited collection as a new artifact set.
// Earlier sets stay untouched.
func (h *Handler) HandlePublishSummary(w http.ResponseWriter, r *http.Request) {
	if h.deps.Pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "publishing is not configured")
		return
	}
	items, err := issue.DecodeSummarized(http.MaxBytesReader(w, r.Body, maxPublishBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.deps.Pipeline.Publish(r.Context(), items)
	if res == nil && err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.log.Printf("server: publish failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "run": res.Record})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Summary updated successfully.",
		"version": res.Set.Version,
		"files":   res.Set.Files,
	})
}

// HandleSummaryStats reports the status breakdown of the latest collection.
func (h *Handler) HandleSummaryStats(w http.ResponseWriter, r *http.Request) {
	name, raw, err := h.latestStructured(r)
	if err != nil {
		h.summaryError(w, err)
		return
	}
	items, err := issue.DecodeSummarized(bytes.NewReader(raw))
	if err != nil {
		h.log.Printf("server: decode %s failed: %v", name, err)
		writeError(w, http.StatusInternalServerError, "corrupt summary artifact")
		return
	}
	out := map[string]any{"stats": issue.Stats(items)}
	if n, ok := artifact.ParseName(name); ok {
		out["version"] = n.Version()
	}
	writeJSON(w, http.StatusOK, out)
}
