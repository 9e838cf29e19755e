package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookTransport POSTs each alert as JSON to a fixed URL.
type WebhookTransport struct {
	url    string
	client *http.Client
}

// NewWebhookTransport builds a transport posting to url with a bounded
// per-request timeout.
func NewWebhookTransport(url string) *WebhookTransport {
	return &WebhookTransport{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (t *WebhookTransport) Send(ctx context.Context, m Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("transport: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (t *WebhookTransport) Close() error { return nil }

var _ Transport = (*WebhookTransport)(nil)
