package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/okian/guardian/internal/domain/model"
)

const (
	defaultTelegramBaseURL = "https://api.telegram.org"
	// Telegram caps messages at 4096 characters.
	telegramChunkSize = 4000
	// maxPartial bounds the notifications remembered as partly sent.
	maxPartial = 1024
)

// Telegram sends notifications through the Bot API sendMessage method.
type Telegram struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client

	mu sync.Mutex
	// partial holds the number of chunks already sent per notification key.
	partial map[string]int
}

// TelegramOption configures a Telegram notifier.
type TelegramOption func(*Telegram)

// WithTelegramBaseURL points the notifier at another API host.
func WithTelegramBaseURL(u string) TelegramOption {
	return func(t *Telegram) {
		if u != "" {
			t.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTelegramClient sets the HTTP client.
func WithTelegramClient(c *http.Client) TelegramOption {
	return func(t *Telegram) {
		if c != nil {
			t.client = c
		}
	}
}

// NewTelegram creates a Telegram notifier for one chat.
func NewTelegram(token, chatID string, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		baseURL: defaultTelegramBaseURL,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
		partial: make(map[string]int),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Telegram) Name() string { return "telegram" }

// Notify sends the message text in chunks. A failed chunk fails the call
// and a retry of the same key resumes at that chunk.
func (t *Telegram) Notify(ctx context.Context, n model.Notification) error {
	chunks := Chunk(n.MessageText, telegramChunkSize)
	t.mu.Lock()
	sent := t.partial[n.Key]
	t.mu.Unlock()

	for i := sent; i < len(chunks); i++ {
		if err := t.send(ctx, chunks[i]); err != nil {
			t.remember(n.Key, i)
			return err
		}
	}
	t.remember(n.Key, 0)
	return nil
}

func (t *Telegram) remember(key string, sent int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sent == 0 {
		delete(t.partial, key)
		return
	}
	if len(t.partial) >= maxPartial {
		clear(t.partial)
	}
	t.partial[key] = sent
}

func (t *Telegram) send(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{"chat_id": t.chatID, "text": text})
	if err != nil {
		return Permanent(err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Permanent(t.redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request: %w", t.redact(err))
	}
	defer func() { _ = resp.Body.Close() }()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return statusError("telegram", resp, string(msg))
}

// redact drops the request URL, which carries the bot token, from err.
func (t *Telegram) redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s %s/bot<token>/sendMessage: %w", ue.Op, t.baseURL, ue.Err)
	}
	if t.token != "" && strings.Contains(err.Error(), t.token) {
		return errors.New(strings.ReplaceAll(err.Error(), t.token, "<token>"))
	}
	return err
}

// Chunk splits text into pieces of at most size runes, preferring to break
// after a newline.
func Chunk(text string, size int) []string {
	if text == "" {
		return []string{""}
	}
	runes := []rune(text)
	var out []string
	for len(runes) > size {
		cut := size
		for i := size - 1; i > size/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
