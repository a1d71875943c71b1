package audit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/accordsai/contractseal/pkg/webhooks"
)

// WebhookSink POSTs each event as JSON, signed with webhooks.Sign. A
// non-2xx answer is an error; there is no retry.
type WebhookSink struct {
	url    string
	secret string
	client *http.Client
	now    func() time.Time
}

func NewWebhookSink(url, secret string, client *http.Client) (*WebhookSink, error) {
	if url == "" {
		return nil, fmt.Errorf("audit webhook url is empty")
	}
	if secret == "" {
		return nil, webhooks.ErrEmptySecret
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSink{url: url, secret: secret, client: client, now: time.Now}, nil
}

func (s *WebhookSink) Emit(ctx context.Context, e Event) error {
	now := s.now()
	if e.At.IsZero() {
		e.At = now.UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhooks.EventIDHeader, uuid.NewString())
	req.Header.Set(webhooks.EventTypeHeader, string(e.Kind))
	if err := webhooks.Sign(req.Header, s.secret, now, body); err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("audit webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("audit webhook: status %d", resp.StatusCode)
	}
	return nil
}
