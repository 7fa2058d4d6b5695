package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookNotifier posts queued notifications to an operator endpoint. Each
// body is the stored sync event, signed with HMAC-SHA256 so the receiver can
// verify it. Non-2xx responses are errors, leaving retries to the dispatcher.
type WebhookNotifier struct {
	url    string
	secret []byte
	client *http.Client
}

// NewWebhookNotifier returns a notifier that POSTs to url. A zero or negative
// timeout falls back to defaultWebhookTimeout.
func NewWebhookNotifier(url, secret string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookNotifier{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: timeout},
	}
}

// Notify sends n.Payload with these headers:
//
//	Content-Type:                  application/json
//	X-Surveysync-Event:            <event type>
//	X-Surveysync-Mutation:         <mutation id>
//	X-Surveysync-Notification-Id:  <outbox id>
//	X-Hub-Signature-256:           sha256=<hex HMAC-SHA256>, only with a secret
func (n *WebhookNotifier) Notify(ctx context.Context, notification domain.Notification) error {
	payload := []byte(notification.Payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Surveysync-Event", string(notification.EventType))
	req.Header.Set("X-Surveysync-Mutation", notification.MutationID)
	req.Header.Set("X-Surveysync-Notification-Id", strconv.FormatInt(notification.ID, 10))
	if len(n.secret) > 0 {
		req.Header.Set("X-Hub-Signature-256", "sha256="+n.sign(payload))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *WebhookNotifier) sign(payload []byte) string {
	mac := hmac.New(sha256.New, n.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
