package handler

import (
	"github.com/go-telegram/bot"
)

// Register registers all command and callback handlers on the bot instance.
func (h *Handler) Register() {
	// Commands
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, h.handleStart)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/new", bot.MatchTypePrefix, h.handleNew)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/model", bot.MatchTypePrefix, h.handleModel)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/status", bot.MatchTypePrefix, h.handleStatus)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/scrape", bot.MatchTypePrefix, h.handleScrape)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/settings", bot.MatchTypePrefix, h.handleSettings)

	// Settings callbacks
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "toggle_stream", bot.MatchTypePrefix, h.handleToggleStream)
}
