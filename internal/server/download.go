package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"issuedigest/internal/artifact"
	"issuedigest/internal/bundle"
	"issuedigest/internal/storage"
)

// HandleDownload streams the latest artifact of one format.
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	format, err := artifact.ParseFormat(r.PathValue("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unsupported file type")
		return
	}
	name, err := h.deps.Resolver.Resolve(r.Context(), format)
	if errors.Is(err, artifact.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("No %s found", format.Ext()))
		return
	}
	if err != nil {
		h.log.Printf("server: resolve %s failed: %v", format, err)
		writeError(w, http.StatusInternalServerError, "resolve failed")
		return
	}

	body, err := h.deps.Store.Open(r.Context(), name)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("No %s found", format.Ext()))
		return
	}
	if err != nil {
		h.log.Printf("server: open %s failed: %v", name, err)
		writeError(w, http.StatusInternalServerError, "read failed")
		return
	}
	defer body.Close()

	h.audit(r, string(format))
	h.deps.Metrics.Download(string(format))

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", attachment(name))
	if n, ok := artifact.ParseName(name); ok {
		w.Header().Set(VersionHeader, n.Version())
	}
	if _, err := io.Copy(w, body); err != nil {
		h.log.Printf("server: stream %s failed: %v", name, err)
	}
}

// HandleDownloadAll serves the zip bundle of the latest artifacts.
func (h *Handler) HandleDownloadAll(w http.ResponseWriter, r *http.Request) {
	raw, res, err := h.deps.Bundler.Build(r.Context())
	if errors.Is(err, artifact.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No reports found")
		return
	}
	if err != nil {
		h.log.Printf("server: bundle failed: %v", err)
		writeError(w, http.StatusInternalServerError, "bundle failed")
		return
	}

	h.audit(r, "all")
	h.deps.Metrics.Download("all")

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", attachment(bundle.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(res.Size))
	if _, err := w.Write(raw); err != nil {
		h.log.Printf("server: write bundle failed: %v", err)
	}
}

func attachment(name string) string {
	return fmt.Sprintf("attachment; filename=%q", name)
}
