package handler

import (
	"context"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stanwall/difybridge/internal/scrape"
	tg "github.com/stanwall/difybridge/internal/telegram"
)

// handleScrape runs the scrape tool: /scrape <url> [формат,формат...]
func (h *Handler) handleScrape(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID

	args := strings.Fields(update.Message.Text)
	if len(args) < 2 {
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "Использование: /scrape <url> [markdown,html,html2text,html2bs4,links]",
		})
		return
	}

	url := args[1]
	var formats []string
	if len(args) > 2 {
		for _, f := range strings.Split(args[2], ",") {
			if f = strings.TrimSpace(f); f != "" {
				formats = append(formats, f)
			}
		}
	}

	statusMsg, _ := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   "🔎 Запускаю парсинг...",
	})

	status := func(st scrape.Status) {
		if statusMsg == nil || st.Done {
			return
		}
		b.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID:    chatID,
			MessageID: statusMsg.ID,
			Text:      "🔎 " + st.Description,
		})
	}

	result := h.scraper.Scrape(ctx, url, formats, status)

	if statusMsg != nil {
		b.DeleteMessage(ctx, &bot.DeleteMessageParams{
			ChatID:    chatID,
			MessageID: statusMsg.ID,
		})
	}

	if err := tg.SendLongMessage(ctx, b, chatID, result, nil); err != nil {
		slog.Error("send scrape result", "error", err, "chat_id", chatID)
	}
}
