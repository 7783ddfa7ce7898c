package service

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"pairchat/internal/models"
	"pairchat/pkg/store"
	"pairchat/pkg/store/storetest"
	"pairchat/pkg/store/types"
	"pairchat/pkg/stream"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testConfig() *models.Config {
	return &models.Config{
		LocalParticipant: "Lilly",
		Participants: []models.Participant{
			{Name: "Lilly", AvatarURL: "https://example.com/lilly.png"},
			{Name: "James"},
		},
		ReadTracking: models.ReadTrackingConfig{VisibilityThreshold: 0.5},
	}
}

func TestNewEngineValidation(t *testing.T) {
	storeClient := new(mockStore)
	uploader := new(mockUploader)
	streamClient := newFakeStream()

	_, err := NewEngine(Options{Store: storeClient, Uploader: uploader, Stream: streamClient})
	assert.ErrorContains(t, err, "config is required")

	_, err = NewEngine(Options{Config: testConfig()})
	assert.ErrorContains(t, err, "required")

	cfg := testConfig()
	cfg.LocalParticipant = "Marie"
	_, err = NewEngine(Options{Config: cfg, Store: storeClient, Uploader: uploader, Stream: streamClient})
	assert.ErrorContains(t, err, "invalid participant registry")
}

func TestEngineStartBackfillsAndSweeps(t *testing.T) {
	storeClient := new(mockStore)
	uploader := new(mockUploader)
	streamClient := newFakeStream()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	storeClient.On("ListMessages", mock.Anything).Return([]types.MessageRow{
		rowFor("2", "James", "second", base.Add(time.Second), types.StatusSent),
		rowFor("1", "Lilly", "first", base, types.StatusRead),
		{ID: "bad", Sender: "James", Timestamp: "garbage"},
	}, nil).Once()
	storeClient.On("MarkSenderRead", mock.Anything, "James").Return(nil).Once()

	engine, err := NewEngine(Options{
		Config:   testConfig(),
		Store:    storeClient,
		Uploader: uploader,
		Stream:   streamClient,
		Logger:   testLogger(),
	})
	require.NoError(t, err)

	require.NoError(t, engine.Start(context.Background()))
	defer engine.Close()

	assert.Error(t, engine.Start(context.Background()), "double start is refused")

	// Malformed history rows are skipped, the rest sorted by timestamp.
	snapshot := engine.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "1", snapshot[0].ID())
	assert.Equal(t, "2", snapshot[1].ID())

	storeClient.AssertExpectations(t)
}

func TestEngineNotifiesOnBackgroundInsert(t *testing.T) {
	storeClient := new(mockStore)
	uploader := new(mockUploader)
	streamClient := newFakeStream()
	notifier := new(mockNotifier)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	storeClient.On("ListMessages", mock.Anything).Return([]types.MessageRow{}, nil)
	storeClient.On("MarkSenderRead", mock.Anything, "James").Return(nil)
	notifier.On("Permission").Return(PermissionGranted)
	notifier.On("Notify", mock.Anything, "New message from James", "you around?", mock.Anything).Return(nil).Once()

	engine, err := NewEngine(Options{
		Config:   testConfig(),
		Store:    storeClient,
		Uploader: uploader,
		Stream:   streamClient,
		Notifier: notifier,
		Focus:    FocusFunc(func() bool { return false }),
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))
	defer engine.Close()

	streamClient.emit(t, types.ChangeEvent{
		Kind: types.EventInsert,
		Row:  rowFor("5", "James", "you around?", base, types.StatusSent),
	})

	// Own echoes never alert, whatever the focus state.
	streamClient.emit(t, types.ChangeEvent{
		Kind: types.EventInsert,
		Row:  rowFor("6", "Lilly", "yes", base.Add(time.Second), types.StatusSent),
	})

	assert.Equal(t, 2, engine.Len())
	notifier.AssertExpectations(t)
	notifier.AssertNumberOfCalls(t, "Notify", 1)
}

func TestEngineForegroundInsertDoesNotNotify(t *testing.T) {
	storeClient := new(mockStore)
	uploader := new(mockUploader)
	streamClient := newFakeStream()
	notifier := new(mockNotifier)

	storeClient.On("ListMessages", mock.Anything).Return([]types.MessageRow{}, nil)
	storeClient.On("MarkSenderRead", mock.Anything, "James").Return(nil)

	engine, err := NewEngine(Options{
		Config:   testConfig(),
		Store:    storeClient,
		Uploader: uploader,
		Stream:   streamClient,
		Notifier: notifier,
		Focus:    FocusFunc(func() bool { return true }),
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))
	defer engine.Close()

	streamClient.emit(t, types.ChangeEvent{
		Kind: types.EventInsert,
		Row:  rowFor("5", "James", "you around?", time.Now().UTC(), types.StatusSent),
	})

	assert.Equal(t, 1, engine.Len())
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEngineTraceLevelEnablesVerboseEventLogging(t *testing.T) {
	storeClient := new(mockStore)
	uploader := new(mockUploader)
	streamClient := newFakeStream()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	storeClient.On("ListMessages", mock.Anything).Return([]types.MessageRow{}, nil)
	storeClient.On("MarkSenderRead", mock.Anything, "James").Return(nil)

	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.TraceLevel)

	engine, err := NewEngine(Options{
		Config:   testConfig(),
		Store:    storeClient,
		Uploader: uploader,
		Stream:   streamClient,
		Logger:   logger,
	})
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))
	defer engine.Close()

	streamClient.emit(t, types.ChangeEvent{
		Kind: types.EventInsert,
		Row:  rowFor("5", "James", "a much longer message body", base, types.StatusSent),
	})

	out := buf.String()
	assert.Contains(t, out, "Processing change event")
	assert.NotContains(t, out, "a much longer message body", "full bodies never reach the log output")
}

func TestEngineOnChangeSnapshots(t *testing.T) {
	storeClient := new(mockStore)
	uploader := new(mockUploader)
	streamClient := newFakeStream()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var mu sync.Mutex
	var last []*models.Message
	calls := 0

	storeClient.On("ListMessages", mock.Anything).Return([]types.MessageRow{
		rowFor("1", "James", "hello", base, types.StatusSent),
	}, nil)
	storeClient.On("MarkSenderRead", mock.Anything, "James").Return(nil)

	engine, err := NewEngine(Options{
		Config:   testConfig(),
		Store:    storeClient,
		Uploader: uploader,
		Stream:   streamClient,
		Logger:   testLogger(),
		OnChange: func(snapshot []*models.Message) {
			mu.Lock()
			last = snapshot
			calls++
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))
	defer engine.Close()

	require.NoError(t, engine.ApplyEvent(context.Background(), types.ChangeEvent{
		Kind: types.EventInsert,
		Row:  rowFor("2", "James", "second", base.Add(time.Second), types.StatusSent),
	}))

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, calls, 2, "backfill and merge both announce")
	require.Len(t, last, 2)
	assert.Equal(t, "2", last[1].ID())
}

func TestEngineRefreshIsIdempotent(t *testing.T) {
	storeClient := new(mockStore)
	uploader := new(mockUploader)
	streamClient := newFakeStream()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := []types.MessageRow{
		rowFor("1", "James", "hello", base, types.StatusSent),
		rowFor("2", "Lilly", "hi", base.Add(time.Second), types.StatusSent),
	}
	storeClient.On("ListMessages", mock.Anything).Return(rows, nil)
	storeClient.On("MarkSenderRead", mock.Anything, "James").Return(nil)

	engine, err := NewEngine(Options{
		Config:   testConfig(),
		Store:    storeClient,
		Uploader: uploader,
		Stream:   streamClient,
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))
	defer engine.Close()

	require.NoError(t, engine.Refresh(context.Background()))
	require.NoError(t, engine.Refresh(context.Background()))

	assert.Equal(t, 2, engine.Len())
}

// TestEngineEndToEnd runs the engine against the emulated store over real
// HTTP and websocket transports.
func TestEngineEndToEnd(t *testing.T) {
	server := storetest.New()
	defer server.Close()

	logger := testLogger()
	storeClient := store.NewClient(server.URL, "test-key", nil, logger)
	uploader := store.NewBlobClient(server.URL, "chat-uploads", "test-key", nil, logger)
	streamClient := stream.NewClient(stream.Config{URL: server.StreamURL(), APIKey: "test-key"}, logger)

	engine, err := NewEngine(Options{
		Config:   testConfig(),
		Store:    storeClient,
		Uploader: uploader,
		Stream:   streamClient,
		Logger:   logger,
	})
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))
	defer engine.Close()

	// Wait for the subscription before writing, so the echo is not missed.
	require.Eventually(t, func() bool {
		return server.SubscriberCount() > 0
	}, 2*time.Second, 20*time.Millisecond)

	msg, err := engine.SendText(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.True(t, msg.Ref.Provisional())

	// The echo arrives on the stream and replaces the provisional entry.
	require.Eventually(t, func() bool {
		snapshot := engine.Snapshot()
		return len(snapshot) == 1 && !snapshot[0].Ref.Provisional()
	}, 2*time.Second, 20*time.Millisecond)

	snapshot := engine.Snapshot()
	assert.Equal(t, "hi", snapshot[0].Content)
	assert.Equal(t, "Lilly", snapshot[0].Sender)

	upload := AttachmentUpload{
		Filename: "photo.jpg",
		Kind:     types.FileTypeImage,
		Data:     []byte("jpeg-bytes"),
	}
	_, err = engine.SendAttachment(context.Background(), upload, snapshot[0].ID())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snapshot := engine.Snapshot()
		if len(snapshot) != 2 || snapshot[1].Ref.Provisional() {
			return false
		}
		return snapshot[1].Attachment != nil && snapshot[1].ReplyTo.Resolved()
	}, 2*time.Second, 20*time.Millisecond)
}
