// Package handler implements the Telegram front end. The handler owns the
// host-side ordered message log per chat; the pipe owns the mapping of
// those chats onto remote Dify conversations.
package handler

import (
	"fmt"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/stanwall/difybridge/internal/config"
	"github.com/stanwall/difybridge/internal/dify"
	"github.com/stanwall/difybridge/internal/pipe"
	"github.com/stanwall/difybridge/internal/scrape"
	"github.com/stanwall/difybridge/internal/store"
	"github.com/stanwall/difybridge/internal/telegram"
)

type Handler struct {
	bot      *bot.Bot
	cfg      *config.Config
	pipe     *pipe.Service
	scraper  *scrape.Scraper
	store    store.Store
	dify     *dify.Client
	notifier *telegram.Notifier

	mu     sync.Mutex
	logs   map[int64][]pipe.Message
	stream map[int64]bool
}

// Deps contains all dependencies required to construct a Handler.
type Deps struct {
	Bot      *bot.Bot
	Cfg      *config.Config
	Pipe     *pipe.Service
	Scraper  *scrape.Scraper
	Store    store.Store
	Dify     *dify.Client
	Notifier *telegram.Notifier
}

// New creates a new Handler from the provided dependencies.
func New(deps Deps) *Handler {
	return &Handler{
		bot:      deps.Bot,
		cfg:      deps.Cfg,
		pipe:     deps.Pipe,
		scraper:  deps.Scraper,
		store:    deps.Store,
		dify:     deps.Dify,
		notifier: deps.Notifier,
		logs:     map[int64][]pipe.Message{},
		stream:   map[int64]bool{},
	}
}

// chatKey is the chat identifier handed to the pipe and the store.
func chatKey(chatID int64) string {
	return fmt.Sprintf("tg-%d", chatID)
}

func (h *Handler) appendLog(chatID int64, msg pipe.Message) []pipe.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logs[chatID] = append(h.logs[chatID], msg)
	return append([]pipe.Message(nil), h.logs[chatID]...)
}

func (h *Handler) resetLog(chatID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.logs, chatID)
}

func (h *Handler) streamEnabled(chatID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v, ok := h.stream[chatID]; ok {
		return v
	}
	return h.cfg.BotStreamDefault
}

func (h *Handler) toggleStream(chatID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.stream[chatID]
	if !ok {
		v = h.cfg.BotStreamDefault
	}
	h.stream[chatID] = !v
	return !v
}
