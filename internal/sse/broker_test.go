package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// drain collects everything currently queued on ch after a short settle.
func drain(ch chan []byte) []string {
	time.Sleep(50 * time.Millisecond)
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe(Filter{})
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishPostEvent_Delivery(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe(Filter{})
	defer b.Unsubscribe(ch)

	b.PublishPostEvent("draft.saved", "a")

	msgs := drain(ch)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2: %q", len(msgs), msgs)
	}
	if !strings.HasPrefix(msgs[0], "id: 1\n") || !strings.Contains(msgs[0], "event: draft.saved") {
		t.Errorf("unexpected first frame %q", msgs[0])
	}
	if !strings.Contains(msgs[0], `"id":"a"`) {
		t.Errorf("missing data in %q", msgs[0])
	}
	if !strings.Contains(msgs[1], "event: "+EventListingUpdated) {
		t.Errorf("expected listing frame, got %q", msgs[1])
	}
}

func TestPublishPostEvent_ListingThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe(Filter{})
	defer b.Unsubscribe(ch)

	// First event triggers listing.updated, the second one is throttled.
	b.PublishPostEvent("draft.saved", "a")
	b.PublishPostEvent("draft.published", "b")

	listingCount, postCount := 0, 0
	for _, s := range drain(ch) {
		if strings.Contains(s, EventListingUpdated) {
			listingCount++
		} else {
			postCount++
		}
	}

	if postCount != 2 {
		t.Errorf("post events = %d, want 2", postCount)
	}
	if listingCount != 1 {
		t.Errorf("listing events = %d, want 1 (throttled)", listingCount)
	}
}

func TestFilterByPostID(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe(Filter{PostID: "b"})
	defer b.Unsubscribe(ch)

	b.PublishPostEvent("draft.saved", "a")
	b.PublishPostEvent("draft.saved", "b")

	msgs := drain(ch)
	// listing.updated (from "a") plus the "b" event.
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2: %q", len(msgs), msgs)
	}
	for _, m := range msgs {
		if strings.Contains(m, `"id":"a"`) {
			t.Errorf("filtered subscriber received %q", m)
		}
	}
}

func TestResumeReplaysMissedEvents(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()

	// seq 1: draft a, seq 2: listing, seq 3: draft b, seq 4: draft c
	b.PublishPostEvent("draft.saved", "a")
	b.PublishPostEvent("draft.saved", "b")
	b.PublishPostEvent("draft.saved", "c")
	time.Sleep(50 * time.Millisecond)

	ch := b.Subscribe(Filter{After: 2})
	defer b.Unsubscribe(ch)

	msgs := drain(ch)
	if len(msgs) != 2 {
		t.Fatalf("got %d replayed messages, want 2: %q", len(msgs), msgs)
	}
	if !strings.HasPrefix(msgs[0], "id: 3\n") || !strings.HasPrefix(msgs[1], "id: 4\n") {
		t.Errorf("unexpected replay order %q", msgs)
	}
}

func TestResumeBeyondHistorySendsReset(t *testing.T) {
	b := NewBroker(time.Hour, WithReplay(1))
	defer b.Close()

	b.PublishPostEvent("draft.saved", "a")
	b.PublishPostEvent("draft.saved", "b")
	b.PublishPostEvent("draft.saved", "c")
	time.Sleep(50 * time.Millisecond)

	ch := b.Subscribe(Filter{After: 1})
	defer b.Unsubscribe(ch)

	msgs := drain(ch)
	if len(msgs) != 1 || !strings.Contains(msgs[0], "event: "+EventStreamReset) {
		t.Fatalf("expected a single reset frame, got %q", msgs)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(time.Hour, WithHeartbeat(20*time.Millisecond))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events?id=x", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishPostEvent("draft.published", "x")
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.HasPrefix(body, "retry: 3000\n\n") {
		t.Errorf("missing retry hint: %q", body)
	}
	if !strings.Contains(body, "event: draft.published") {
		t.Errorf("handler output missing event: %q", body)
	}
	if !strings.Contains(body, ": ping") {
		t.Errorf("handler output missing heartbeat: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe(Filter{})
	defer b.Unsubscribe(ch)

	// Overrun the client buffer; the loop must not block.
	for i := 0; i < clientBuffer+10; i++ {
		b.PublishPostEvent("draft.saved", "x")
	}
	if b.ClientCount() != 1 {
		t.Fatal("broker loop stalled")
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe(Filter{})
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.PublishPostEvent("draft.saved", "x")
}
