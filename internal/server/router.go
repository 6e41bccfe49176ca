// Package server exposes the pipe and the scrape tool over HTTP: an
// OpenAI-style chat completions surface plus bridge endpoints for
// scraping and pending uploads.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/stanwall/difybridge/internal/dify"
	"github.com/stanwall/difybridge/internal/pipe"
	"github.com/stanwall/difybridge/internal/scrape"
	"github.com/stanwall/difybridge/internal/store"
)

var startTime = time.Now()

type Deps struct {
	Pipe    *pipe.Service
	Scraper *scrape.Scraper
	Store   store.Store
	Dify    *dify.Client
}

type handler struct {
	pipe    *pipe.Service
	scraper *scrape.Scraper
	store   store.Store
	dify    *dify.Client
}

func NewRouter(deps Deps) http.Handler {
	h := &handler{
		pipe:    deps.Pipe,
		scraper: deps.Scraper,
		store:   deps.Store,
		dify:    deps.Dify,
	}

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Chat-ID", "X-Message-ID", "X-Task"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.handleHealth)
	r.Get("/v1/models", h.handleModels)
	r.Post("/v1/chat/completions", h.handleChatCompletions)
	r.Post("/api/scrape", h.handleScrape)
	r.Post("/api/uploads/pending", h.handlePendingUpload)

	return r
}

type healthResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"message": message},
	})
}
