package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"pairchat/internal/models"
	"pairchat/pkg/store/types"
	"pairchat/pkg/stream"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) InsertMessage(ctx context.Context, req types.InsertRequest) (*types.MessageRow, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.MessageRow), args.Error(1)
}

func (m *mockStore) UpdateMessage(ctx context.Context, id string, req types.UpdateRequest) error {
	args := m.Called(ctx, id, req)
	return args.Error(0)
}

func (m *mockStore) MarkRead(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockStore) MarkSenderRead(ctx context.Context, sender string) error {
	args := m.Called(ctx, sender)
	return args.Error(0)
}

func (m *mockStore) ListMessages(ctx context.Context) ([]types.MessageRow, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.MessageRow), args.Error(1)
}

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, path string, data []byte) (string, error) {
	args := m.Called(ctx, path, data)
	return args.String(0), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) RequestPermission(ctx context.Context) (Permission, error) {
	args := m.Called(ctx)
	return args.Get(0).(Permission), args.Error(1)
}

func (m *mockNotifier) Permission() Permission {
	args := m.Called()
	return args.Get(0).(Permission)
}

func (m *mockNotifier) Notify(ctx context.Context, title, body, icon string) error {
	args := m.Called(ctx, title, body, icon)
	return args.Error(0)
}

// fakeStream hand-feeds change events to the engine's handler, standing in
// for the websocket subscription.
type fakeStream struct {
	mu      sync.Mutex
	ctx     context.Context
	handler stream.Handler
	done    chan struct{}
	ready   chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		done:  make(chan struct{}),
		ready: make(chan struct{}),
	}
}

func (f *fakeStream) Subscribe(ctx context.Context, handler stream.Handler) error {
	f.mu.Lock()
	f.ctx = ctx
	f.handler = handler
	f.mu.Unlock()
	close(f.ready)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return nil
	}
}

func (f *fakeStream) Close() error {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
	return nil
}

func (f *fakeStream) emit(t *testing.T, event types.ChangeEvent) {
	t.Helper()

	select {
	case <-f.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler was never installed")
	}

	// Deliver with the subscription context, as the real read loop does.
	f.mu.Lock()
	ctx := f.ctx
	handler := f.handler
	f.mu.Unlock()
	handler(ctx, event)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()

	registry, err := NewRegistry("Lilly", []models.Participant{
		{Name: "Lilly", AvatarURL: "https://example.com/lilly.png"},
		{Name: "James"},
	})
	require.NoError(t, err)
	return registry
}

func confirmedText(id, sender, content string, ts time.Time) *models.Message {
	return &models.Message{
		Ref:       models.ConfirmedRef(id),
		Sender:    sender,
		Content:   content,
		Timestamp: ts,
		Status:    types.StatusSent,
	}
}

func rowFor(id, sender, content string, ts time.Time, status types.MessageStatus) types.MessageRow {
	return types.MessageRow{
		ID:        id,
		Sender:    sender,
		Message:   content,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		Status:    status,
	}
}
