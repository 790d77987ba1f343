package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"

	"promptgrid/internal/domain"

	"github.com/go-chi/chi/v5"
)

// MediaServe streams a stored media object. Keys are the relative storage
// paths produced by UploadFromURL.
func (a *App) MediaServe(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "missing media key")
		return
	}
	rc, err := a.Media.Open(key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "media not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to open media")
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = io.Copy(w, rc)
}
