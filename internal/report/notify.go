package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultTelegramBaseURL is the Bot API endpoint.
const DefaultTelegramBaseURL = "https://api.telegram.org"

// Notifier delivers a rendered report to one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, r *Report, text string) error
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// TelegramNotifier sends the text through the Bot API sendMessage method.
type TelegramNotifier struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramNotifier creates a Telegram notifier. An empty baseURL uses
// DefaultTelegramBaseURL.
func NewTelegramNotifier(baseURL, token, chatID string) *TelegramNotifier {
	if baseURL == "" {
		baseURL = DefaultTelegramBaseURL
	}
	return &TelegramNotifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		chatID:  chatID,
		client:  newHTTPClient(),
	}
}

// Name implements Notifier.
func (t *TelegramNotifier) Name() string { return "telegram" }

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Notify implements Notifier.
func (t *TelegramNotifier) Notify(ctx context.Context, _ *Report, text string) error {
	payload, err := json.Marshal(map[string]string{"chat_id": t.chatID, "text": text})
	if err != nil {
		return eris.Wrap(err, "report: marshal telegram message")
	}

	endpoint := t.baseURL + "/bot" + t.token + "/sendMessage"
	body, status, err := postJSON(ctx, t.client, endpoint, payload)
	if err != nil {
		// The URL carries the bot token.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return eris.Wrap(err, "report: telegram request")
	}

	var resp telegramResponse
	if jerr := json.Unmarshal(body, &resp); jerr != nil || status >= 400 || !resp.OK {
		return eris.Errorf("report: telegram returned status %d: %s", status, resp.Description)
	}
	return nil
}

// WebhookNotifier posts the report and its text as JSON.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(endpoint string) *WebhookNotifier {
	return &WebhookNotifier{url: endpoint, client: newHTTPClient()}
}

// Name implements Notifier.
func (w *WebhookNotifier) Name() string { return "webhook" }

type webhookPayload struct {
	Text   string  `json:"text"`
	Report *Report `json:"report"`
}

// Notify implements Notifier.
func (w *WebhookNotifier) Notify(ctx context.Context, r *Report, text string) error {
	payload, err := json.Marshal(webhookPayload{Text: text, Report: r})
	if err != nil {
		return eris.Wrap(err, "report: marshal webhook payload")
	}
	_, status, err := postJSON(ctx, w.client, w.url, payload)
	if err != nil {
		return eris.Wrap(err, "report: webhook request")
	}
	if status >= 400 {
		return eris.Errorf("report: webhook returned status %d", status)
	}
	return nil
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, payload []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// Dispatch delivers the report to every notifier concurrently. A failing
// channel does not stop the others; the number of successful deliveries and
// the first error are returned.
func Dispatch(ctx context.Context, notifiers []Notifier, r *Report, text string) (int, error) {
	var g errgroup.Group
	ok := make([]bool, len(notifiers))
	for i, n := range notifiers {
		g.Go(func() error {
			if err := n.Notify(ctx, r, text); err != nil {
				zap.L().Error("report: delivery failed", zap.String("notifier", n.Name()), zap.Error(err))
				return err
			}
			zap.L().Info("report: delivered", zap.String("notifier", n.Name()))
			ok[i] = true
			return nil
		})
	}
	err := g.Wait()

	sent := 0
	for _, v := range ok {
		if v {
			sent++
		}
	}
	return sent, err
}
