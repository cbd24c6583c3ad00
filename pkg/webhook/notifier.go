/**
 * @description
 * This package provides fire-and-forget outbound webhook delivery. Every payload
 * is signed with HMAC-SHA256 over the raw JSON body; the hex digest travels in
 * the `X-Webhook-Signature: sha256=<hex>` header so subscribers can verify
 * authenticity.
 *
 * Delivery is retried up to 5 times (6 attempts total) with 1s/2s/4s/8s/16s
 * delays on 5xx responses, 429, and network errors. Other 4xx responses are not
 * retried. Exhausting retries logs a terminal dead-letter line; there is no
 * further action, and delivery failures never affect the saga that fired them.
 *
 * @dependencies
 * - bytes, context, crypto/hmac, crypto/sha256, encoding/hex, encoding/json,
 *   log, net/http, time: Standard Go libraries.
 */
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

const maxRetries = 5

var retryDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// Event is one outbound webhook delivery. The idempotency key lets subscribers
// deduplicate redelivered events.
type Event struct {
	Type           string
	IdempotencyKey string
	Payload        interface{}
}

// Notifier delivers signed webhook events to a single subscriber endpoint.
type Notifier struct {
	endpointURL string
	secret      string
	httpClient  *http.Client

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// NewNotifier creates a notifier for the given endpoint and signing secret. An
// empty endpoint yields a notifier that silently drops events, so callers never
// have to nil-check.
func NewNotifier(endpointURL, secret string) *Notifier {
	return &Notifier{
		endpointURL: strings.TrimSpace(endpointURL),
		secret:      secret,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		sleep:       time.Sleep,
	}
}

// Notify delivers the event in the background. Fire-and-forget: the caller gets
// no delivery result, and failures are contained inside the notifier.
func (n *Notifier) Notify(event Event) {
	if n == nil || n.endpointURL == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		n.deliver(ctx, event)
	}()
}

// Sign computes the hex HMAC-SHA256 digest of a raw body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// deliver runs the attempt/retry loop for one event.
func (n *Notifier) deliver(ctx context.Context, event Event) {
	body, err := json.Marshal(event.Payload)
	if err != nil {
		log.Printf("level=error component=webhook_notifier event=%s msg=\"payload marshal failed\" err=%v", event.Type, err)
		return
	}
	signature := fmt.Sprintf("sha256=%s", Sign(n.secret, body))

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			n.sleep(retryDelays[attempt-1])
		}

		retryable, err := n.attempt(ctx, event, body, signature)
		if err == nil {
			if attempt > 0 {
				log.Printf("level=info component=webhook_notifier event=%s key=%s attempt=%d msg=\"delivered after retry\"", event.Type, event.IdempotencyKey, attempt+1)
			}
			return
		}
		if !retryable {
			log.Printf("level=warn component=webhook_notifier event=%s key=%s msg=\"delivery rejected; not retrying\" err=%v", event.Type, event.IdempotencyKey, err)
			return
		}
		log.Printf("level=warn component=webhook_notifier event=%s key=%s attempt=%d msg=\"delivery failed\" err=%v", event.Type, event.IdempotencyKey, attempt+1, err)
	}

	log.Printf("level=error component=webhook_notifier event=%s key=%s msg=\"dead-lettered after exhausting retries\"", event.Type, event.IdempotencyKey)
}

// attempt performs a single delivery. The bool reports whether a failure is
// retryable (5xx, 429, or a transport error).
func (n *Notifier) attempt(ctx context.Context, event Event, body []byte, signature string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", n.endpointURL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)
	req.Header.Set("X-Webhook-Event", event.Type)
	req.Header.Set("X-Webhook-Idempotency-Key", event.IdempotencyKey)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return retryable, fmt.Errorf("subscriber returned status %d", resp.StatusCode)
}
