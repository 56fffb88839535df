package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	notifications "coldchain-cloud/internal/notifications/domain"
)

// Contact is a notification recipient resolved from a contact priority group.
type Contact struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// ContactDirectory resolves a contact priority group to its recipients.
// Priority 0 is the default on-call group.
type ContactDirectory interface {
	Resolve(ctx context.Context, priority int) ([]Contact, error)
}

// Transport delivers rendered content over one channel. Provider mechanics
// (actual email/SMS/push APIs) live behind the gateway this posts to.
type Transport interface {
	Send(ctx context.Context, channel notifications.Channel, recipients []Contact, content string) error
}

type webhookPayload struct {
	Channel    string    `json:"channel"`
	Recipients []Contact `json:"recipients"`
	Content    string    `json:"content"`
}

// WebhookTransport posts deliveries to per-channel gateway endpoints.
type WebhookTransport struct {
	urls   map[notifications.Channel]string
	client *http.Client
}

// WebhookOption configures the webhook transport.
type WebhookOption func(*WebhookTransport)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(t *WebhookTransport) {
		if client != nil {
			t.client = client
		}
	}
}

// NewWebhookTransport constructs a transport from channel to gateway URL.
func NewWebhookTransport(urls map[notifications.Channel]string, opts ...WebhookOption) (*WebhookTransport, error) {
	if len(urls) == 0 {
		return nil, errors.New("webhook transport: no channel urls")
	}
	for channel, url := range urls {
		if !channel.Valid() {
			return nil, fmt.Errorf("webhook transport: unknown channel %q", channel)
		}
		if url == "" {
			return nil, fmt.Errorf("webhook transport: empty url for channel %q", channel)
		}
	}
	transport := &WebhookTransport{
		urls:   urls,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(transport)
	}
	return transport, nil
}

// Send posts the delivery to the channel's gateway endpoint.
func (t *WebhookTransport) Send(ctx context.Context, channel notifications.Channel, recipients []Contact, content string) error {
	if t == nil {
		return errors.New("webhook transport: nil")
	}
	url, ok := t.urls[channel]
	if !ok {
		return fmt.Errorf("webhook transport: channel %q not configured", channel)
	}
	body, err := json.Marshal(webhookPayload{
		Channel:    string(channel),
		Recipients: recipients,
		Content:    content,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
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
		return fmt.Errorf("webhook transport: non-2xx response %d", resp.StatusCode)
	}
	return nil
}
