package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stanwall/difybridge/internal/config"
)

func (h *Handler) handleModel(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID

	entry := h.pipe.Models()[0]
	text := fmt.Sprintf("🤖 Модель: `%s.%s`\n📛 Имя: %s%s",
		config.ManifoldID, entry.ID, config.ManifoldName, entry.Name)

	state, err := h.store.Chat(ctx, chatKey(chatID))
	if err != nil {
		slog.Error("load chat state", "error", err, "chat_id", chatID)
	} else if state != nil && state.Model != "" {
		text += fmt.Sprintf("\n🔗 Диалог привязан к модели: `%s`", state.Model)
	}

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeMarkdownV1,
	})
}

func (h *Handler) handleStatus(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID

	state, err := h.store.Chat(ctx, chatKey(chatID))
	if err != nil {
		slog.Error("load chat state", "error", err, "chat_id", chatID)
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "❌ Не удалось загрузить состояние диалога.",
		})
		return
	}
	if state == nil {
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "💬 Диалог ещё не начат. Просто напишите сообщение.",
		})
		return
	}

	conversation := state.ConversationID
	if conversation == "" {
		conversation = "—"
	}
	text := fmt.Sprintf(
		"📊 *Состояние диалога*\n\n"+
			"🆔 Conversation: `%s`\n"+
			"🤖 Модель: `%s`\n"+
			"💬 Ходов: %d\n"+
			"📎 Файлов: %d",
		conversation, state.Model, len(state.History), len(state.Files),
	)
	if !state.TotalCost.IsZero() {
		text += fmt.Sprintf("\n💰 Стоимость: %s %s", state.TotalCost.String(), state.Currency)
	}

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeMarkdownV1,
	})
}
