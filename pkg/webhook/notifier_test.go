package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type recordedRequest struct {
	signature      string
	eventType      string
	idempotencyKey string
	body           []byte
}

type subscriberStub struct {
	mu       sync.Mutex
	statuses []int
	requests []recordedRequest
}

func (s *subscriberStub) handler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	s.requests = append(s.requests, recordedRequest{
		signature:      r.Header.Get("X-Webhook-Signature"),
		eventType:      r.Header.Get("X-Webhook-Event"),
		idempotencyKey: r.Header.Get("X-Webhook-Idempotency-Key"),
		body:           body,
	})

	status := http.StatusOK
	if len(s.statuses) > 0 {
		status = s.statuses[0]
		s.statuses = s.statuses[1:]
	}
	w.WriteHeader(status)
}

func (s *subscriberStub) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newTestNotifier(endpointURL, secret string, slept *[]time.Duration) *Notifier {
	n := NewNotifier(endpointURL, secret)
	n.sleep = func(d time.Duration) {
		if slept != nil {
			*slept = append(*slept, d)
		}
	}
	return n
}

func TestDeliverSignsPayload(t *testing.T) {
	sub := &subscriberStub{}
	server := httptest.NewServer(http.HandlerFunc(sub.handler))
	defer server.Close()

	n := newTestNotifier(server.URL, "topsecret", nil)
	event := Event{
		Type:           "transfer.completed",
		IdempotencyKey: "TRF-123",
		Payload:        map[string]string{"transfer_id": "TRF-123"},
	}
	n.deliver(context.Background(), event)

	if sub.requestCount() != 1 {
		t.Fatalf("expected one delivery, got %d", sub.requestCount())
	}
	got := sub.requests[0]
	if got.eventType != "transfer.completed" || got.idempotencyKey != "TRF-123" {
		t.Fatalf("unexpected headers: event=%q key=%q", got.eventType, got.idempotencyKey)
	}

	expectedBody, _ := json.Marshal(event.Payload)
	if string(got.body) != string(expectedBody) {
		t.Fatalf("body mismatch: %s vs %s", got.body, expectedBody)
	}
	if want := "sha256=" + Sign("topsecret", expectedBody); got.signature != want {
		t.Fatalf("signature mismatch: got %q want %q", got.signature, want)
	}
}

func TestDeliverRetriesServerErrors(t *testing.T) {
	sub := &subscriberStub{statuses: []int{500, 429, 200}}
	server := httptest.NewServer(http.HandlerFunc(sub.handler))
	defer server.Close()

	var slept []time.Duration
	n := newTestNotifier(server.URL, "s", &slept)
	n.deliver(context.Background(), Event{Type: "settlement.completed", IdempotencyKey: "k1"})

	if sub.requestCount() != 3 {
		t.Fatalf("expected three attempts, got %d", sub.requestCount())
	}
	if len(slept) != 2 || slept[0] != 1*time.Second || slept[1] != 2*time.Second {
		t.Fatalf("expected 1s then 2s backoff, got %v", slept)
	}
}

func TestDeliverDoesNotRetryClientErrors(t *testing.T) {
	sub := &subscriberStub{statuses: []int{400}}
	server := httptest.NewServer(http.HandlerFunc(sub.handler))
	defer server.Close()

	var slept []time.Duration
	n := newTestNotifier(server.URL, "s", &slept)
	n.deliver(context.Background(), Event{Type: "settlement.failed", IdempotencyKey: "k2"})

	if sub.requestCount() != 1 {
		t.Fatalf("expected one attempt for a 400, got %d", sub.requestCount())
	}
	if len(slept) != 0 {
		t.Fatalf("expected no backoff for a non-retryable failure, got %v", slept)
	}
}

func TestDeliverDeadLettersAfterExhaustingRetries(t *testing.T) {
	sub := &subscriberStub{statuses: []int{500, 500, 500, 500, 500, 500, 500}}
	server := httptest.NewServer(http.HandlerFunc(sub.handler))
	defer server.Close()

	var slept []time.Duration
	n := newTestNotifier(server.URL, "s", &slept)
	n.deliver(context.Background(), Event{Type: "transfer.completed", IdempotencyKey: "k3"})

	if sub.requestCount() != 6 {
		t.Fatalf("expected six total attempts, got %d", sub.requestCount())
	}
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("expected %d backoffs, got %v", len(want), slept)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("backoff %d: expected %s, got %s", i, want[i], slept[i])
		}
	}
}

func TestDeliverRetriesNetworkErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close() // connection refused from here on

	var slept []time.Duration
	n := newTestNotifier(endpoint, "s", &slept)
	n.deliver(context.Background(), Event{Type: "transfer.completed", IdempotencyKey: "k4"})

	if len(slept) != 5 {
		t.Fatalf("expected network errors to exhaust all retries, got %d backoffs", len(slept))
	}
}

func TestNotifyDropsEventsWithoutEndpoint(t *testing.T) {
	n := NewNotifier("", "s")
	// Must not panic or spawn anything.
	n.Notify(Event{Type: "transfer.completed"})

	var nilNotifier *Notifier
	nilNotifier.Notify(Event{Type: "transfer.completed"})
}
