package server

import (
	"net/http"

	"github.com/stanwall/difybridge/internal/config"
)

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Name    string `json:"name"`
	OwnedBy string `json:"owned_by"`
}

// handleModels returns the manifold listing: ids carry the "dify."
// prefix, names the "dify/" prefix.
func (h *handler) handleModels(w http.ResponseWriter, r *http.Request) {
	models := h.pipe.Models()
	entries := make([]modelEntry, 0, len(models))
	for _, m := range models {
		entries = append(entries, modelEntry{
			ID:      config.ManifoldID + "." + m.ID,
			Object:  "model",
			Name:    config.ManifoldName + m.Name,
			OwnedBy: config.ManifoldID,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   entries,
	})
}
