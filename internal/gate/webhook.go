package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookNotifier posts approval prompts to a chat webhook (Slack-style
// incoming webhook payload). Notification only: the decision always comes
// back through the configured decision source.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a notifier for the given webhook URL.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	Text string `json:"text"`
}

// Notify posts the prompt. The caller treats any error as non-fatal.
func (n *WebhookNotifier) Notify(ctx context.Context, threadID, text string) error {
	body, err := json.Marshal(webhookPayload{
		Text: fmt.Sprintf("*Action approval required* (thread %s)\n%s", threadID, text),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// LogNotifier is the fallback when no webhook is configured; the alert goes
// to the process log only.
type LogNotifier struct {
	Print func(threadID, text string)
}

func (n LogNotifier) Notify(_ context.Context, threadID, text string) error {
	if n.Print != nil {
		n.Print(threadID, text)
	}
	return nil
}
