package service

import (
	"context"
	"fmt"
	"sync"

	"pairchat/internal/constants"
	apperrors "pairchat/internal/errors"
	"pairchat/internal/metrics"
	"pairchat/internal/models"
	"pairchat/pkg/store"
	"pairchat/pkg/store/types"
	"pairchat/pkg/stream"

	"github.com/sirupsen/logrus"
)

// Options wires an Engine to its collaborators. Store, Uploader and Stream
// are required; Notifier and Focus may be nil for headless hosts.
type Options struct {
	Config   *models.Config
	Store    store.Client
	Uploader store.Uploader
	Stream   stream.Subscriber
	Notifier Notifier
	Focus    FocusSource
	Logger   *logrus.Logger

	// OnChange receives the rendered snapshot after every log mutation.
	// Called from the goroutine that performed the mutation; must not call
	// back into the engine's mutating methods.
	OnChange func(snapshot []*models.Message)
}

// Engine is the message synchronization engine: it owns the message log and
// serializes every mutation path through one lock, so the log itself needs
// no internal locking. Components never mutate the log except through the
// engine.
type Engine struct {
	mu           sync.Mutex
	log          *MessageLog
	resolver     *ReplyResolver
	participants *Registry
	outbox       *Outbox
	merger       *Merger
	tracker      *ReadTracker
	gate         *NotificationGate

	storeClient store.Client
	stream      stream.Subscriber
	notifier    Notifier
	logger      *logrus.Logger
	onChange    func([]*models.Message)

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   bool
}

// NewEngine builds the engine from options.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Store == nil || opts.Uploader == nil || opts.Stream == nil {
		return nil, fmt.Errorf("store, uploader and stream clients are required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	participants, err := NewRegistry(opts.Config.LocalParticipant, opts.Config.Participants)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidConfig, "invalid participant registry")
	}

	e := &Engine{
		log:          NewMessageLog(),
		resolver:     NewReplyResolver(constants.DefaultReplySnippetMaxLen),
		participants: participants,
		storeClient:  opts.Store,
		stream:       opts.Stream,
		notifier:     opts.Notifier,
		logger:       logger,
		onChange:     opts.OnChange,
	}

	e.outbox = NewOutbox(&e.mu, e.log, e.resolver, opts.Store, opts.Uploader, participants, logger, e.notifyChange)
	e.merger = NewMerger(&e.mu, e.log, e.resolver, participants, logger, e.notifyChange)
	e.tracker = NewReadTracker(opts.Store, participants, opts.Config.ReadTracking.VisibilityThreshold, e.lookupMessage, logger)
	e.gate = NewNotificationGate(participants, opts.Focus)

	return e, nil
}

// Start backfills the log from the store, runs the session catch-up read
// sweep, then consumes the change-stream until ctx is cancelled or Close is
// called.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.started {
		return fmt.Errorf("engine is already started")
	}

	if err := e.backfill(ctx); err != nil {
		return err
	}

	// Best effort: a failed sweep leaves messages unread until they
	// scroll into view.
	if err := e.tracker.CatchUpSweep(ctx); err != nil {
		e.logger.WithError(err).Warn("Session catch-up sweep failed")
	}

	// Trace level opts the whole stream path into verbose per-event logging.
	verboseCtx := context.WithValue(ctx, VerboseContextKey, e.logger.IsLevelEnabled(logrus.TraceLevel))
	streamCtx, cancel := context.WithCancel(verboseCtx)
	e.cancel = cancel
	e.started = true

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := e.stream.Subscribe(streamCtx, e.handleEvent)
		if err != nil && !stream.IsClosed(err) && streamCtx.Err() == nil {
			e.logger.WithError(err).Error("Change-stream subscription ended")
		}
	}()

	e.logger.WithFields(logrus.Fields{
		"local":        e.participants.Local(),
		"participants": e.participants.Count(),
		"backfilled":   e.Len(),
	}).Info("Sync engine started")

	return nil
}

// Close stops stream consumption and releases all read observation.
func (e *Engine) Close() error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if !e.started {
		return nil
	}

	e.cancel()
	err := e.stream.Close()
	e.wg.Wait()
	e.tracker.Close()
	e.started = false

	e.logger.Info("Sync engine stopped")
	return err
}

// SendText sends a text message. See Outbox.SendText.
func (e *Engine) SendText(ctx context.Context, content, replyToID string) (*models.Message, error) {
	return e.outbox.SendText(ctx, content, replyToID)
}

// SendAttachment sends a file message. See Outbox.SendAttachment.
func (e *Engine) SendAttachment(ctx context.Context, upload AttachmentUpload, replyToID string) (*models.Message, error) {
	return e.outbox.SendAttachment(ctx, upload, replyToID)
}

// Snapshot returns the rendered sequence: timestamp ascending, ties broken
// by insertion order.
func (e *Engine) Snapshot() []*models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Snapshot()
}

// Len returns the number of messages in the log.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Len()
}

// Register starts visibility observation for a rendered message.
func (e *Engine) Register(id string) *Registration {
	return e.tracker.Register(id)
}

// ReportVisible feeds a visibility transition from the viewport source.
func (e *Engine) ReportVisible(ctx context.Context, id string, visibleFraction float64) {
	e.tracker.ReportVisible(ctx, id, visibleFraction)
}

// Refresh re-fetches the full history from the store and merges it into the
// log. Callers use it to recover from change-stream gaps; merging is
// idempotent so overlap is harmless.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.backfill(ctx)
}

// ApplyEvent merges one change event. Exposed for hosts that bring their
// own transport instead of the built-in stream subscription.
func (e *Engine) ApplyEvent(ctx context.Context, event types.ChangeEvent) error {
	return e.merger.Apply(ctx, event)
}

func (e *Engine) handleEvent(ctx context.Context, event types.ChangeEvent) {
	if e.gate.ShouldNotify(event) {
		dispatchNotification(ctx, e.notifier, e.participants, event.Row, e.logger)
	}

	if err := e.merger.Apply(ctx, event); err != nil {
		// Blast radius of a bad row is that one row; the stream moves on.
		e.logger.WithError(err).WithFields(logrus.Fields{
			"kind": event.Kind,
			"id":   SanitizeMessageID(event.Row.ID),
		}).Warn("Failed to apply change event")
	}
}

func (e *Engine) backfill(ctx context.Context) error {
	rows, err := e.storeClient.ListMessages(ctx)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStreamFailure, "failed to backfill message history")
	}

	e.mu.Lock()
	for _, row := range rows {
		msg, err := models.FromRow(row)
		if err != nil {
			e.logger.WithError(err).WithField("id", SanitizeMessageID(row.ID)).Warn("Skipping malformed history row")
			continue
		}
		e.log.Upsert(msg)
	}
	e.resolver.Resolve(e.log)
	count := e.log.Len()
	e.mu.Unlock()

	e.notifyChange()
	metrics.SetGauge("log_size", float64(count), nil, "Messages in the log after backfill")
	return nil
}

// lookupMessage resolves an id against the current log for the read
// tracker.
func (e *Engine) lookupMessage(id string) (*models.Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.log.Get(id)
}

func (e *Engine) notifyChange() {
	if e.onChange == nil {
		return
	}
	e.onChange(e.Snapshot())
}
