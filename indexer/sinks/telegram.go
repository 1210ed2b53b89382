package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dexstream/indexer/config/params"
	"github.com/dexstream/indexer/indexer/types"
)

const (
	telegramAPIBase     = "https://api.telegram.org"
	telegramSendTimeout = 15 * time.Second
)

// Notifier pushes human-readable alerts about newly indexed pools and tokens
// to one or more Telegram chats. Deliveries run concurrently per chat and
// failures only log.
type Notifier struct {
	token   string
	chatIDs []string
	client  *http.Client
	log     *logrus.Entry
}

// NewNotifier returns nil when the bot token or the chat list is empty, so
// callers can treat an unconfigured notifier as absent.
func NewNotifier(settings *params.Settings) *Notifier {
	if settings.TelegramToken == "" || len(settings.TelegramChatIDs) == 0 {
		return nil
	}
	return &Notifier{
		token:   settings.TelegramToken,
		chatIDs: settings.TelegramChatIDs,
		client:  &http.Client{Timeout: telegramSendTimeout},
		log:     logrus.WithField("prefix", "telegram"),
	}
}

// HealthCheck verifies the bot token against the getMe endpoint.
func (n *Notifier) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/bot%s/getMe", telegramAPIBase, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "could not build getMe request")
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "getMe request failed")
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("getMe returned status %d", resp.StatusCode)
	}
	return nil
}

// NotifyPoolCreated sends a formatted new-pool alert to every chat.
func (n *Notifier) NotifyPoolCreated(ctx context.Context, pool *types.Pool, chainName string) {
	text := fmt.Sprintf(
		"<b>New pool on %s</b>\n"+
			"Protocol: %s\n"+
			"Pool: <code>%s</code>\n"+
			"Token0: <code>%s</code>\n"+
			"Token1: <code>%s</code>\n"+
			"Block: %d",
		chainName, pool.Protocol, pool.PoolAddress,
		pool.Token0Address, pool.Token1Address, pool.CreationBlock,
	)
	n.broadcast(ctx, text)
}

// NotifyTokenCreated sends a formatted new-token alert to every chat.
func (n *Notifier) NotifyTokenCreated(ctx context.Context, token *types.Token, chainName string) {
	name := token.Name
	if name == "" {
		name = "(unnamed)"
	}
	text := fmt.Sprintf(
		"<b>New token on %s</b>\n"+
			"Source: %s\n"+
			"Name: %s (%s)\n"+
			"Token: <code>%s</code>\n"+
			"Creator: <code>%s</code>\n"+
			"Block: %d",
		chainName, token.Source, name, token.Symbol,
		token.TokenAddress, token.Creator, token.CreationBlock,
	)
	n.broadcast(ctx, text)
}

// broadcast delivers one message to every configured chat concurrently and
// logs the per-chat outcome.
func (n *Notifier) broadcast(ctx context.Context, text string) {
	var wg sync.WaitGroup
	for _, chatID := range n.chatIDs {
		wg.Add(1)
		go func(chatID string) {
			defer wg.Done()
			if err := n.send(ctx, chatID, text); err != nil {
				n.log.WithError(err).WithField("chat_id", chatID).Warn("Could not deliver notification")
			}
		}(chatID)
	}
	wg.Wait()
}

func (n *Notifier) send(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return errors.Wrap(err, "could not marshal sendMessage body")
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", telegramAPIBase, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "could not build sendMessage request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "sendMessage request failed")
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("sendMessage returned status %d: %s", resp.StatusCode, raw)
	}
	return nil
}
