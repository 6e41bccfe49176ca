package handler

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stanwall/difybridge/internal/middleware"
)

func (h *Handler) handleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	name := "друг"
	if id := middleware.GetIdentity(ctx); id != nil && id.Name != "" {
		name = id.Name
	}

	welcomeText := fmt.Sprintf(
		"👋 Привет, *%s*!\n\n"+
			"Я — мост к Dify-воркфлоу. Просто напишите сообщение, и я передам его агенту.\n\n"+
			"📋 *Команды:*\n"+
			"/new — Начать новый диалог\n"+
			"/model — Текущая модель\n"+
			"/status — Состояние диалога\n"+
			"/scrape <url> — Спарсить страницу\n"+
			"/settings — Настройки\n\n"+
			"📎 Пришлите файл без подписи — он прикрепится к следующему сообщению.",
		name,
	)

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    update.Message.Chat.ID,
		Text:      welcomeText,
		ParseMode: models.ParseModeMarkdownV1,
	})
}

// handleNew clears the local message log: the next message becomes a
// length-1 list and starts a fresh remote conversation.
func (h *Handler) handleNew(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	h.resetLog(chatID)

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   "🔄 Контекст сброшен. Начат новый диалог.",
	})
}
