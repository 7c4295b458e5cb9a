package stream

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marshtalk/internal/chat"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	alice := uuid.New()
	bob := uuid.New()
	carol := uuid.New()

	aliceSub1 := hub.Subscribe(alice)
	aliceSub2 := hub.Subscribe(alice)
	bobSub := hub.Subscribe(bob)
	defer aliceSub1.Close()
	defer aliceSub2.Close()
	defer bobSub.Close()

	threadID := uuid.New()
	hub.Publish(chat.NewTypingEvent(threadID, alice), alice, bob, carol)

	for _, sub := range []*Subscription{aliceSub1, aliceSub2, bobSub} {
		select {
		case event := <-sub.C:
			assert.Equal(t, chat.EventTyping, event.Type)
			assert.Contains(t, string(event.Payload), threadID.String())
		case <-time.After(time.Second):
			t.Fatal("subscription did not receive the event")
		}
	}
}

func TestHubSkipsUnsubscribedRecipients(t *testing.T) {
	hub := NewHub()
	alice := uuid.New()

	// Publishing to a user with no subscriptions must not block or panic.
	hub.Publish(chat.NewThreadUpdatedEvent(uuid.New()), alice)

	sub := hub.Subscribe(alice)
	defer sub.Close()
	select {
	case <-sub.C:
		t.Fatal("event published before subscribing should not be delivered")
	default:
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub()
	alice := uuid.New()
	sub := hub.Subscribe(alice)
	defer sub.Close()

	event := chat.NewThreadUpdatedEvent(uuid.New())
	for i := 0; i < defaultBuffer+10; i++ {
		hub.Publish(event, alice)
	}

	// The buffered events are still there, the overflow was dropped.
	assert.Len(t, sub.C, defaultBuffer)
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	hub := NewHub()
	alice := uuid.New()

	sub := hub.Subscribe(alice)
	require.Equal(t, 1, hub.ConnectionCount(alice))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.ConnectionCount(alice))

	// A closed subscription no longer receives events.
	hub.Publish(chat.NewThreadUpdatedEvent(uuid.New()), alice)
	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestServeSSEStreamsEvents(t *testing.T) {
	hub := NewHub()
	alice := uuid.New()
	threadID := uuid.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeSSE(w, r, hub, alice)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	// The stream opens with a hello comment.
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": hi", strings.TrimRight(line, "\n"))

	// Wait for the subscription to register before publishing.
	require.Eventually(t, func() bool {
		return hub.ConnectionCount(alice) == 1
	}, time.Second, 10*time.Millisecond)

	hub.Publish(chat.NewThreadUpdatedEvent(threadID), alice)

	var eventLine, dataLine string
	for eventLine == "" || dataLine == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = line
		case strings.HasPrefix(line, "data: "):
			dataLine = line
		}
	}
	assert.Equal(t, "event: "+chat.EventThreadUpdated, eventLine)
	assert.Contains(t, dataLine, threadID.String())

	// Disconnecting tears the subscription down.
	cancel()
	require.Eventually(t, func() bool {
		return hub.ConnectionCount(alice) == 0
	}, time.Second, 10*time.Millisecond)
}
