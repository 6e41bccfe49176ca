package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/stanwall/difybridge/internal/domain"
)

const maxUploadSize = 50 << 20

// handlePendingUpload uploads a file to Dify right away and occupies the
// single pending slot so the next exchange attaches it.
func (h *handler) handlePendingUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	user := r.FormValue("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "user field is required")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	info, err := h.dify.UploadFile(r.Context(), header.Filename, mimeType, file, user)
	if err != nil {
		slog.Error("upload pending file", "error", err, "name", header.Filename)
		writeError(w, http.StatusBadGateway, "upload failed: "+err.Error())
		return
	}

	err = h.store.QueuePendingUpload(r.Context(), domain.PendingUpload{
		Name:     header.Filename,
		FileID:   info.ID,
		UserID:   user,
		QueuedAt: time.Now(),
	})
	if errors.Is(err, domain.ErrUploadPending) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		slog.Error("queue pending upload", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":   info.ID,
		"name": header.Filename,
	})
}
