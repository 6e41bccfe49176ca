package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Cooldown returns middleware that enforces a minimal interval between
// text messages per chat. Commands and callbacks pass through.
func Cooldown(interval time.Duration) bot.Middleware {
	var mu sync.Mutex
	last := map[int64]time.Time{}

	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			if update.Message == nil || len(update.Message.Text) > 0 && update.Message.Text[0] == '/' {
				next(ctx, b, update)
				return
			}

			chatID := update.Message.Chat.ID

			mu.Lock()
			since := time.Since(last[chatID])
			if since < interval {
				mu.Unlock()
				b.SendMessage(ctx, &bot.SendMessageParams{
					ChatID: chatID,
					Text:   "⏳ Слишком часто. Подождите немного.",
				})
				return
			}
			last[chatID] = time.Now()
			mu.Unlock()

			next(ctx, b, update)
		}
	}
}
