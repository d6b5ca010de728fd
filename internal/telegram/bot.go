package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Sender delivers replies
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// Updater fetches updates by long polling
type Updater interface {
	GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]Update, error)
}

// Bot routes incoming messages to Commands and sends the replies
type Bot struct {
	sender      Sender
	commands    *Commands
	allowedChat string
	retryDelay  time.Duration
}

// NewBot creates a bot. A non-empty allowedChat restricts answers to that chat.
func NewBot(sender Sender, commands *Commands, allowedChat string) *Bot {
	return &Bot{sender: sender, commands: commands, allowedChat: allowedChat, retryDelay: 5 * time.Second}
}

// HandleUpdate answers one update
func (b *Bot) HandleUpdate(ctx context.Context, u Update) {
	if u.Message == nil || u.Message.Text == "" {
		return
	}
	chatID := strconv.FormatInt(u.Message.Chat.ID, 10)
	if b.allowedChat != "" && chatID != b.allowedChat {
		log.Warn().Str("chat_id", chatID).Msg("ignoring message from unknown chat")
		return
	}

	reply := b.commands.Handle(ctx, u.Message.Text)
	if reply == "" {
		return
	}
	if err := b.sender.SendMessage(ctx, chatID, reply); err != nil {
		log.Error().Err(err).Str("chat_id", chatID).Msg("failed to send reply")
	}
}

// Poll long-polls for updates until ctx is cancelled
func (b *Bot) Poll(ctx context.Context, updater Updater, timeout time.Duration) {
	log.Info().Dur("timeout", timeout).Msg("telegram polling started")
	offset := 0
	for {
		if ctx.Err() != nil {
			log.Info().Msg("telegram polling stopped")
			return
		}

		updates, err := updater.GetUpdates(ctx, offset, timeout)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("telegram polling stopped")
				return
			}
			log.Warn().Err(err).Msg("telegram polling request failed")
			select {
			case <-ctx.Done():
			case <-time.After(b.retryDelay):
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			b.HandleUpdate(ctx, u)
		}
	}
}

// WebhookHandler accepts webhook deliveries. It always answers 200 so
// Telegram does not redeliver an update the bot cannot process.
func (b *Bot) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var u Update
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			log.Warn().Err(err).Msg("invalid webhook payload")
			w.WriteHeader(http.StatusOK)
			return
		}
		b.HandleUpdate(r.Context(), u)
		w.WriteHeader(http.StatusOK)
	}
}
