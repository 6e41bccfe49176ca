package handler

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	tg "github.com/stanwall/difybridge/internal/telegram"
)

func (h *Handler) handleSettings(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        "⚙️ *Настройки*",
		ParseMode:   models.ParseModeMarkdownV1,
		ReplyMarkup: h.settingsKeyboard(chatID),
	})
}

func (h *Handler) settingsKeyboard(chatID int64) *models.InlineKeyboardMarkup {
	streamStatus := "❌ Выкл"
	if h.streamEnabled(chatID) {
		streamStatus = "✅ Вкл"
	}
	return tg.InlineKeyboard(
		tg.ButtonRow(
			tg.InlineButton(fmt.Sprintf("🌊 Стриминг: %s", streamStatus), "toggle_stream"),
		),
	)
}

func (h *Handler) handleToggleStream(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: update.CallbackQuery.ID,
	})

	msg := update.CallbackQuery.Message.Message
	if msg == nil {
		return
	}
	chatID := msg.Chat.ID

	h.toggleStream(chatID)

	b.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:      chatID,
		MessageID:   msg.ID,
		Text:        "⚙️ *Настройки*",
		ParseMode:   models.ParseModeMarkdownV1,
		ReplyMarkup: h.settingsKeyboard(chatID),
	})
}
