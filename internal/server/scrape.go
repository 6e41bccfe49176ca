package server

import (
	"encoding/json"
	"net/http"
)

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

// handleScrape runs the scrape tool. Tool failures come back as
// "Error: ..." result strings with status 200, per the tool contract.
func (h *handler) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	result := h.scraper.Scrape(r.Context(), req.URL, req.Formats, nil)
	writeJSON(w, http.StatusOK, map[string]string{"result": result})
}
