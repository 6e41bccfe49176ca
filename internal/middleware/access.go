package middleware

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stanwall/difybridge/internal/domain"
)

type ctxKey string

const identityKey ctxKey = "identity"

// GetIdentity extracts the requesting user's identity from context.
func GetIdentity(ctx context.Context) *domain.Identity {
	id, ok := ctx.Value(identityKey).(*domain.Identity)
	if !ok {
		return nil
	}
	return id
}

// Access returns middleware that enforces the chat allowlist and injects
// the sender's identity into the context.
func Access(cfg interface{ IsAllowed(int64) bool }) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			var from *models.User
			var chatID int64

			if update.Message != nil {
				from = update.Message.From
				chatID = update.Message.Chat.ID
			} else if update.CallbackQuery != nil {
				from = &update.CallbackQuery.From
				if update.CallbackQuery.Message.Message != nil {
					chatID = update.CallbackQuery.Message.Message.Chat.ID
				}
			}

			if chatID != 0 && !cfg.IsAllowed(chatID) {
				slog.Debug("chat not in allowlist", "chat_id", chatID)
				return
			}

			if from != nil {
				name := from.FirstName
				if from.Username != "" {
					name = "@" + from.Username
				}
				ctx = context.WithValue(ctx, identityKey, &domain.Identity{
					ID:   fmt.Sprintf("tg-%d", from.ID),
					Name: name,
				})
			}

			next(ctx, b, update)
		}
	}
}
