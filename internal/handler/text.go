package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"github.com/stanwall/difybridge/internal/config"
	"github.com/stanwall/difybridge/internal/domain"
	"github.com/stanwall/difybridge/internal/middleware"
	"github.com/stanwall/difybridge/internal/pipe"
	tg "github.com/stanwall/difybridge/internal/telegram"
)

// HandleText processes plain text messages as pipe exchanges.
func (h *Handler) HandleText(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	msg := update.Message

	// Skip commands
	if strings.HasPrefix(msg.Text, "/") {
		return
	}

	text := msg.Text
	if text == "" {
		return
	}

	h.runExchange(ctx, b, msg.Chat.ID, pipe.Message{
		ID:      uuid.NewString(),
		Role:    "user",
		Content: pipe.Text(text),
	})
}

// runExchange appends the user turn to the local log, runs the pipe and
// delivers the reply, appending the assistant turn on success.
func (h *Handler) runExchange(ctx context.Context, b *bot.Bot, chatID int64, userMsg pipe.Message) {
	identity := domain.Identity{ID: chatKey(chatID)}
	if id := middleware.GetIdentity(ctx); id != nil {
		identity = *id
	}

	// 1. Append the user turn; the log is the ordered message list
	messages := h.appendLog(chatID, userMsg)

	// 2. Typing indicator and placeholder message
	stopTyping := tg.StartTyping(ctx, b, chatID)
	defer stopTyping()

	statusMsg, _ := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   "⏳ Обрабатываю запрос...",
	})

	// 3. Run the pipe
	reqCtx, cancel := context.WithTimeout(ctx, config.RequestTimeout)
	defer cancel()

	model := h.pipe.Models()[0]
	reply, err := h.pipe.Exchange(reqCtx, pipe.Request{
		Model:     config.ManifoldID + "." + model.ID,
		Messages:  messages,
		Stream:    h.streamEnabled(chatID),
		ChatID:    chatKey(chatID),
		MessageID: userMsg.ID,
		User:      identity,
	})
	if err != nil {
		h.replyExchangeError(ctx, b, chatID, statusMsg, err)
		return
	}

	// 4. Deliver the answer
	var answer string
	if reply.Stream != nil {
		answer = h.deliverStream(ctx, b, chatID, statusMsg, reply.Stream)
	} else {
		answer = reply.Text
		if statusMsg != nil {
			b.DeleteMessage(ctx, &bot.DeleteMessageParams{
				ChatID:    chatID,
				MessageID: statusMsg.ID,
			})
		}
		if err := tg.SendLongMessage(ctx, b, chatID, answer, nil); err != nil {
			slog.Error("send answer", "error", err, "chat_id", chatID)
		}
	}

	// 5. Record the assistant turn; error replies stay out of the log so
	// a retry keeps the same position in the message list
	if answer != "" && !strings.HasPrefix(answer, "Error:") {
		h.appendLog(chatID, pipe.Message{
			ID:      uuid.NewString(),
			Role:    "assistant",
			Content: pipe.Text(answer),
		})
	}
}

// deliverStream consumes the chunk stream, editing the placeholder on a
// throttle, and returns the full answer text.
func (h *Handler) deliverStream(ctx context.Context, b *bot.Bot, chatID int64, statusMsg *models.Message, stream <-chan string) string {
	var builder strings.Builder
	lastEdit := time.Now()

	for chunk := range stream {
		builder.WriteString(chunk)
		if statusMsg == nil || time.Since(lastEdit) < config.StreamEditInterval {
			continue
		}
		if current := strings.TrimSpace(builder.String()); current != "" {
			tg.EditLongMessage(ctx, b, chatID, statusMsg.ID, current+" ▍")
			lastEdit = time.Now()
		}
	}

	answer := builder.String()
	if answer == "" {
		answer = "❌ AI не вернул ответ."
	}

	if statusMsg != nil {
		// Final text replaces the placeholder; overly long answers are
		// re-sent in parts instead
		if len([]rune(answer)) <= tg.MaxMessageLen {
			tg.EditLongMessage(ctx, b, chatID, statusMsg.ID, answer)
		} else {
			b.DeleteMessage(ctx, &bot.DeleteMessageParams{
				ChatID:    chatID,
				MessageID: statusMsg.ID,
			})
			tg.SendLongMessage(ctx, b, chatID, answer, nil)
		}
	} else {
		tg.SendLongMessage(ctx, b, chatID, answer, nil)
	}

	return answer
}

func (h *Handler) replyExchangeError(ctx context.Context, b *bot.Bot, chatID int64, statusMsg *models.Message, err error) {
	slog.Error("pipe exchange", "error", err, "chat_id", chatID)

	errText := "❌ Ошибка при обработке запроса."
	var switchErr *domain.ModelSwitchError
	if errors.As(err, &switchErr) {
		errText = fmt.Sprintf("❌ Нельзя сменить модель в текущем диалоге: он начат с `%s`.\nИспользуйте /new для нового диалога.", switchErr.BoundModel)
	} else {
		h.notifier.NotifyError(err, "pipe exchange")
	}

	if statusMsg != nil {
		b.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID:    chatID,
			MessageID: statusMsg.ID,
			Text:      errText,
			ParseMode: models.ParseModeMarkdownV1,
		})
		return
	}
	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      errText,
		ParseMode: models.ParseModeMarkdownV1,
	})
}
