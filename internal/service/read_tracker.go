package service

import (
	"context"
	"sync"

	"pairchat/internal/metrics"
	"pairchat/internal/models"
	"pairchat/internal/tracing"
	"pairchat/pkg/store/types"

	"github.com/sirupsen/logrus"
)

// ReadMarker is the slice of the store API the read tracker needs.
// Satisfied by store.Client.
type ReadMarker interface {
	MarkRead(ctx context.Context, id string) error
	MarkSenderRead(ctx context.Context, sender string) error
}

// Registration is a scoped observation of one rendered message. Release
// un-registers it; the caller guarantees Release on unmount.
type Registration struct {
	id      string
	tracker *ReadTracker
	once    sync.Once
}

// Release stops observing the message. Idempotent.
func (r *Registration) Release() {
	if r == nil || r.tracker == nil {
		return
	}
	r.once.Do(func() {
		r.tracker.unregister(r.id)
	})
}

// ReadTracker observes which rendered messages are visible and issues
// at-most-once mark-read requests for remote, unread, confirmed messages.
//
// Mark-read failures are logged and swallowed, never retried here; the
// message becomes eligible again only when the caller re-registers it.
type ReadTracker struct {
	store        ReadMarker
	participants *Registry
	threshold    float64
	logger       *logrus.Logger
	lookup       func(id string) (*models.Message, bool)

	mu        sync.Mutex
	observed  map[string]*Registration
	marked    map[string]bool
	sweepDone bool
	closed    bool
}

// NewReadTracker wires the visibility read tracker. lookup resolves a
// message id against the current log.
func NewReadTracker(store ReadMarker, participants *Registry, threshold float64, lookup func(id string) (*models.Message, bool), logger *logrus.Logger) *ReadTracker {
	return &ReadTracker{
		store:        store,
		participants: participants,
		threshold:    threshold,
		logger:       logger,
		lookup:       lookup,
		observed:     make(map[string]*Registration),
		marked:       make(map[string]bool),
	}
}

// Register starts observing a rendered message. Messages already marked
// read, or ids registered twice, get an inert handle.
func (t *ReadTracker) Register(id string) *Registration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || id == "" || t.marked[id] {
		return &Registration{}
	}
	if existing, ok := t.observed[id]; ok {
		return existing
	}

	reg := &Registration{id: id, tracker: t}
	t.observed[id] = reg
	return reg
}

// ReportVisible feeds one visibility transition from the viewport source.
// visibleFraction is the share of the message's rendered area inside the
// viewport.
func (t *ReadTracker) ReportVisible(ctx context.Context, id string, visibleFraction float64) {
	if visibleFraction < t.threshold {
		return
	}

	t.mu.Lock()
	if t.closed || t.marked[id] {
		t.mu.Unlock()
		return
	}
	if _, registered := t.observed[id]; !registered {
		t.mu.Unlock()
		return
	}

	msg, ok := t.lookup(id)
	if !ok || msg.Own(t.participants.Local()) || msg.Status == types.StatusRead || msg.Ref.Provisional() {
		t.mu.Unlock()
		return
	}

	// Claim the mark before the write so a second visibility report for
	// the same id cannot issue a duplicate request.
	t.marked[id] = true
	delete(t.observed, id)
	t.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "readtracker.mark_read")
	defer span.End()

	if err := t.store.MarkRead(ctx, id); err != nil {
		// Best effort: log and swallow. Un-claim so a re-registered
		// render can try again.
		tracing.RecordError(ctx, err)
		t.logger.WithError(err).WithField("id", SanitizeMessageID(id)).Warn("Failed to mark message as read")

		t.mu.Lock()
		delete(t.marked, id)
		t.mu.Unlock()
		return
	}

	metrics.IncrementCounter("read_marks", nil, "Messages marked read from visibility")
	t.logger.WithField("id", SanitizeMessageID(id)).Debug("Marked message as read")
}

// CatchUpSweep bulk-transitions every remote participant's sent/delivered
// messages to read, once per session, regardless of visibility.
func (t *ReadTracker) CatchUpSweep(ctx context.Context) error {
	t.mu.Lock()
	if t.sweepDone || t.closed {
		t.mu.Unlock()
		return nil
	}
	t.sweepDone = true
	t.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "readtracker.catchup_sweep")
	defer span.End()

	for _, other := range t.participants.Others() {
		if err := t.store.MarkSenderRead(ctx, other.Name); err != nil {
			tracing.RecordError(ctx, err)
			t.logger.WithError(err).WithField("sender", other.Name).Warn("Session catch-up read sweep failed")
			return err
		}
	}

	t.logger.Debug("Session catch-up read sweep completed")
	return nil
}

// Close releases all observation. No observer survives shutdown.
func (t *ReadTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.observed = make(map[string]*Registration)
}

func (t *ReadTracker) unregister(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.observed, id)
}

// Observing reports whether the id currently has an active registration.
func (t *ReadTracker) Observing(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.observed[id]
	return ok
}
