package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"github.com/stanwall/difybridge/internal/domain"
	"github.com/stanwall/difybridge/internal/middleware"
	"github.com/stanwall/difybridge/internal/pipe"
	tg "github.com/stanwall/difybridge/internal/telegram"
)

// HandleDocument uploads an incoming document to Dify. With a caption the
// file joins that turn's exchange via the pending slot; without one it
// stays queued for the next message.
func (h *Handler) HandleDocument(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Document == nil {
		return
	}

	msg := update.Message
	chatID := msg.Chat.ID

	data, name, err := tg.DownloadFile(ctx, b, msg.Document.FileID)
	if err != nil {
		slog.Error("download document", "error", err, "chat_id", chatID)
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "❌ Не удалось скачать файл.",
		})
		return
	}
	if msg.Document.FileName != "" {
		name = msg.Document.FileName
	}

	mimeType := msg.Document.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	if !h.queuePending(ctx, b, chatID, name, mimeType, data) {
		return
	}

	if msg.Caption != "" {
		// The exchange takes the pending slot immediately
		h.runExchange(ctx, b, chatID, pipe.Message{
			ID:      uuid.NewString(),
			Role:    "user",
			Content: pipe.Text(msg.Caption),
		})
		return
	}

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   fmt.Sprintf("📎 Файл «%s» прикрепится к следующему сообщению.", name),
	})
}

// HandlePhoto attaches an incoming photo to the exchange. With a caption
// the photo goes as an inline image part; without one it is uploaded and
// queued like a document.
func (h *Handler) HandlePhoto(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || len(update.Message.Photo) == 0 {
		return
	}

	msg := update.Message
	chatID := msg.Chat.ID

	// Highest resolution photo is last
	photo := msg.Photo[len(msg.Photo)-1]
	data, name, err := tg.DownloadFile(ctx, b, photo.FileID)
	if err != nil {
		slog.Error("download photo", "error", err, "chat_id", chatID)
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "❌ Не удалось скачать фото.",
		})
		return
	}

	if msg.Caption != "" {
		dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
		h.runExchange(ctx, b, chatID, pipe.Message{
			ID:   uuid.NewString(),
			Role: "user",
			Content: pipe.MessageContent{
				Text:   msg.Caption,
				Images: []string{dataURL},
			},
		})
		return
	}

	if !h.queuePending(ctx, b, chatID, name, "image/jpeg", data) {
		return
	}

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   "📎 Фото прикрепится к следующему сообщению.",
	})
}

// queuePending uploads the file to Dify and occupies the single pending
// slot. Reports to the chat and returns false on failure.
func (h *Handler) queuePending(ctx context.Context, b *bot.Bot, chatID int64, name, mimeType string, data []byte) bool {
	user := chatKey(chatID)
	if id := middleware.GetIdentity(ctx); id != nil {
		user = id.DifyUser()
	}

	info, err := h.dify.UploadFile(ctx, name, mimeType, bytes.NewReader(data), user)
	if err != nil {
		slog.Error("upload file to dify", "error", err, "name", name, "chat_id", chatID)
		h.notifier.NotifyError(err, "file upload")
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "❌ Не удалось загрузить файл на сервер.",
		})
		return false
	}

	err = h.store.QueuePendingUpload(ctx, domain.PendingUpload{
		Name:     name,
		FileID:   info.ID,
		UserID:   user,
		QueuedAt: time.Now(),
	})
	if errors.Is(err, domain.ErrUploadPending) {
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "⏳ Один файл уже ожидает отправки. Сначала отправьте сообщение.",
		})
		return false
	}
	if err != nil {
		slog.Error("queue pending upload", "error", err, "chat_id", chatID)
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "❌ Не удалось поставить файл в очередь.",
		})
		return false
	}

	return true
}
