package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// retryDelay is the pause after a failed poll.
var retryDelay = 5 * time.Second

// update is the part of a Telegram Update the listener reads.
type update struct {
	UpdateID int `json:"update_id"`
	Message  struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From struct {
			Username string `json:"username"`
		} `json:"from"`
	} `json:"message"`
}

type updateResponse struct {
	Ok          bool     `json:"ok"`
	Result      []update `json:"result"`
	Description string   `json:"description"`
	ErrorCode   int      `json:"error_code"`
}

// CommandHandler answers one slash command. An empty answer sends nothing.
type CommandHandler func(ctx context.Context, command string) string

// Listen long-polls for commands from the configured chat and replies with the
// handler's answer. It blocks until ctx is done. Messages from other chats are
// logged and ignored.
func (t *Telegram) Listen(ctx context.Context, handler CommandHandler) error {
	authChatID, err := strconv.ParseInt(t.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("notify: chat id %q: %w", t.ChatID, err)
	}
	log.Println("INFO: Telegram listener started")

	offset := 0
	for {
		updates, err := t.poll(ctx, offset)
		if ctx.Err() != nil {
			log.Println("INFO: Telegram listener stopped")
			return nil
		}
		if err != nil {
			log.Printf("WARN: Telegram listener: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryDelay):
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1

			if u.Message.Chat.ID != authChatID {
				// no reply, so the bot does not reveal itself
				log.Printf("WARN: Unauthorized command from %s (chat %d): %s",
					u.Message.From.Username, u.Message.Chat.ID, u.Message.Text)
				continue
			}

			text := strings.TrimSpace(u.Message.Text)
			if !strings.HasPrefix(text, "/") {
				continue
			}
			log.Printf("INFO: Command received: %s", text)
			if reply := handler(ctx, text); reply != "" {
				if err := t.Notify(ctx, reply); err != nil {
					log.Printf("WARN: Reply to %s failed: %v", text, err)
				}
			}
		}
	}
}

func (t *Telegram) poll(ctx context.Context, offset int) ([]update, error) {
	url := fmt.Sprintf("%s/bot%s/getUpdates?offset=%d&timeout=60", t.BaseURL, t.Token, offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	// the long poll outlives the send timeout
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.New("getUpdates request failed")
	}
	defer resp.Body.Close()

	var result updateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	if !result.Ok {
		return nil, fmt.Errorf("telegram API error: %s (code %d)", result.Description, result.ErrorCode)
	}
	return result.Result, nil
}
