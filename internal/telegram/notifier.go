package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
)

// Notifier forwards operational failures to an admin chat.
// A zero chat id disables it.
type Notifier struct {
	bot    *bot.Bot
	chatID int64
}

func NewNotifier(b *bot.Bot, chatID int64) *Notifier {
	return &Notifier{bot: b, chatID: chatID}
}

func (n *Notifier) NotifyError(err error, where string) {
	if n == nil || n.chatID == 0 {
		return
	}

	msg := fmt.Sprintf("❌ *Ошибка*\n\n*Где:* %s\n*Ошибка:* `%s`\n*Время:* %s",
		where, err.Error(), time.Now().Format("2006-01-02 15:04:05"))
	if len([]rune(msg)) > MaxMessageLen {
		msg = string([]rune(msg)[:MaxMessageLen-20]) + "\n\n... (truncated)"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, sendErr := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    n.chatID,
		Text:      msg,
		ParseMode: "Markdown",
	})
	if sendErr != nil {
		slog.Error("failed to send admin notification", "error", sendErr)
	}
}
