package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/deliberation-engine/council/pkg/council"
)

// maxWebhookAttempts and the backoff bounds implement §6's retry policy:
// up to 5 attempts, exponential backoff 1s -> 32s, full jitter.
const maxWebhookAttempts = 5

// WebhookDispatcher delivers LayerEvents as signed HTTP POSTs to a
// subscriber-supplied URL, retrying transient failures with the
// cenkalti/backoff exponential-with-jitter policy the itsneelabh-gomind
// resilience package also uses for Gateway retries.
type WebhookDispatcher struct {
	client *http.Client
}

// NewWebhookDispatcher builds a dispatcher using the given HTTP client, or
// http.DefaultClient if nil.
func NewWebhookDispatcher(client *http.Client) *WebhookDispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookDispatcher{client: client}
}

// Deliver POSTs evt to opt.URL if evt.Type is in opt.Events (or opt.Events
// is empty, meaning "all"), signing the body with HMAC-SHA256 over
// opt.Secret. On exhausting retries it logs a single
// webhook.delivery.failed notice internally rather than dispatching it, per
// §6.
func (d *WebhookDispatcher) Deliver(ctx context.Context, opt council.WebhookOption, evt council.LayerEvent) error {
	if !shouldDeliver(opt, evt.Type) {
		return nil
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook body: %w", err)
	}
	signature := sign(opt.Secret, body)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 1 * time.Second
	policy.MaxInterval = 32 * time.Second
	policy.Multiplier = 2
	policy.RandomizationFactor = 1.0 // full jitter
	bounded := backoff.WithMaxRetries(policy, maxWebhookAttempts-1)
	withCtx := backoff.WithContext(bounded, ctx)

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, opt.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Council-Signature", "sha256="+signature)

		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("webhook endpoint returned %d", resp.StatusCode))
		}
		return nil
	}, withCtx)

	if err != nil {
		slog.Warn("webhook.delivery.failed",
			"url", opt.URL, "event_type", evt.Type, "query_id", evt.QueryID, "attempts", attempt, "error", err)
		return err
	}
	return nil
}

func shouldDeliver(opt council.WebhookOption, t council.EventType) bool {
	if len(opt.Events) == 0 {
		return true
	}
	for _, e := range opt.Events {
		if e == t {
			return true
		}
	}
	return false
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
