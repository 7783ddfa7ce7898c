package stream

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"pairchat/internal/retry"
	"pairchat/pkg/store/storetest"
	"pairchat/pkg/store/types"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStreamConfig(url string) Config {
	return Config{
		URL:    url,
		APIKey: "test-key",
		Backoff: retry.BackoffConfig{
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     50 * time.Millisecond,
			Multiplier:   2.0,
			MaxAttempts:  3,
		},
	}
}

func TestSubscribeDeliversEvents(t *testing.T) {
	server := storetest.New()
	defer server.Close()

	client := NewClient(testStreamConfig(server.StreamURL()), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan types.ChangeEvent, 10)
	done := make(chan error, 1)
	go func() {
		done <- client.Subscribe(ctx, func(ctx context.Context, event types.ChangeEvent) {
			received <- event
		})
	}()

	require.Eventually(t, func() bool {
		return server.SubscriberCount() > 0
	}, 2*time.Second, 20*time.Millisecond)

	row := types.MessageRow{ID: "1", Sender: "James", Timestamp: "2026-03-01T12:00:00Z", Status: types.StatusSent}
	server.Broadcast(types.ChangeEvent{Kind: types.EventInsert, Row: row})
	server.Broadcast(types.ChangeEvent{Kind: types.EventKind("truncate"), Row: row})
	row.Status = types.StatusRead
	server.Broadcast(types.ChangeEvent{Kind: types.EventUpdate, Row: row})

	first := waitForEvent(t, received)
	assert.Equal(t, types.EventInsert, first.Kind)
	assert.Equal(t, "1", first.Row.ID)

	// The unknown kind is dropped; the update comes through next.
	second := waitForEvent(t, received)
	assert.Equal(t, types.EventUpdate, second.Kind)
	assert.Equal(t, types.StatusRead, second.Row.Status)

	cancel()
	err := <-done
	assert.True(t, IsClosed(err), "cancellation is a normal closure, got %v", err)
}

func TestSubscribeRejectsConcurrentUse(t *testing.T) {
	server := storetest.New()
	defer server.Close()

	client := NewClient(testStreamConfig(server.StreamURL()), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- client.Subscribe(ctx, func(context.Context, types.ChangeEvent) {})
	}()

	require.Eventually(t, func() bool {
		return server.SubscriberCount() > 0
	}, 2*time.Second, 20*time.Millisecond)

	err := client.Subscribe(ctx, func(context.Context, types.ChangeEvent) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	cancel()
	<-done
}

func TestSubscribeUnreachableServer(t *testing.T) {
	client := NewClient(testStreamConfig("ws://127.0.0.1:1/stream"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := client.Subscribe(ctx, func(context.Context, types.ChangeEvent) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscribeReconnects(t *testing.T) {
	server := storetest.New()
	defer server.Close()

	client := NewClient(testStreamConfig(server.StreamURL()), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan types.ChangeEvent, 10)
	done := make(chan error, 1)
	go func() {
		done <- client.Subscribe(ctx, func(ctx context.Context, event types.ChangeEvent) {
			received <- event
		})
	}()

	require.Eventually(t, func() bool {
		return server.SubscriberCount() > 0
	}, 2*time.Second, 20*time.Millisecond)

	// Drop the connection out from under the read loop. The server does not
	// notice the closed socket until its next write, so the reconnected
	// subscription shows up as a second subscriber.
	require.NoError(t, client.Close())

	require.Eventually(t, func() bool {
		return server.SubscriberCount() >= 2
	}, 2*time.Second, 20*time.Millisecond)

	server.Broadcast(types.ChangeEvent{
		Kind: types.EventInsert,
		Row:  types.MessageRow{ID: "2", Sender: "James", Timestamp: "2026-03-01T12:00:00Z", Status: types.StatusSent},
	})

	event := waitForEvent(t, received)
	assert.Equal(t, "2", event.Row.ID)

	cancel()
	<-done
}

func TestIsClosed(t *testing.T) {
	assert.False(t, IsClosed(nil))
	assert.True(t, IsClosed(context.Canceled))
	assert.True(t, IsClosed(fmt.Errorf("read: %w", context.Canceled)))
	assert.False(t, IsClosed(errors.New("connection reset")))
	assert.False(t, IsClosed(websocket.CloseError{Code: websocket.StatusInternalError}))
	assert.True(t, IsClosed(websocket.CloseError{Code: websocket.StatusNormalClosure}))
}

func waitForEvent(t *testing.T, ch <-chan types.ChangeEvent) types.ChangeEvent {
	t.Helper()

	select {
	case event := <-ch:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
		return types.ChangeEvent{}
	}
}
