package service

import (
	"context"
	"sync"
	"time"

	apperrors "pairchat/internal/errors"
	"pairchat/internal/metrics"
	"pairchat/internal/models"
	"pairchat/internal/tracing"
	"pairchat/pkg/store/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Merger applies remote change events to the message log, absorbing the
// engine's own optimistic writes without duplication. It is idempotent:
// redelivery of the same event is a no-op replace.
type Merger struct {
	mu           *sync.Mutex
	log          *MessageLog
	resolver     *ReplyResolver
	participants *Registry
	logger       *logrus.Logger
	changed      func()
}

// NewMerger wires the change-stream merger. mu is the engine's mutation
// lock; changed is invoked (unlocked) after every applied event.
func NewMerger(mu *sync.Mutex, log *MessageLog, resolver *ReplyResolver, participants *Registry, logger *logrus.Logger, changed func()) *Merger {
	if changed == nil {
		changed = func() {}
	}
	return &Merger{
		mu:           mu,
		log:          log,
		resolver:     resolver,
		participants: participants,
		logger:       logger,
		changed:      changed,
	}
}

// Apply merges one change event into the log and re-runs reply resolution.
// A malformed row is reported but never fatal; the stream moves on.
func (m *Merger) Apply(ctx context.Context, event types.ChangeEvent) error {
	ctx, span := tracing.StartSpan(ctx, "merger.apply",
		attribute.String("event.kind", string(event.Kind)))
	defer span.End()
	start := time.Now()

	msg, err := models.FromRow(event.Row)
	if err != nil {
		tracing.RecordError(ctx, err)
		return apperrors.Wrap(err, apperrors.ErrCodeStreamFailure, "malformed change event row").
			WithContext("row_id", event.Row.ID)
	}

	if IsVerboseLogging(ctx) {
		m.logger.WithFields(logrus.Fields{
			"kind":    event.Kind,
			"id":      SanitizeMessageID(event.Row.ID),
			"sender":  event.Row.Sender,
			"status":  event.Row.Status,
			"content": SanitizeContent(event.Row.Message),
		}).Info("Processing change event")
	}

	m.mu.Lock()
	switch event.Kind {
	case types.EventUpdate:
		m.applyUpdate(msg)
	case types.EventInsert:
		if m.participants.IsLocal(msg.Sender) {
			m.applyOwnInsert(msg)
		} else {
			m.log.Upsert(msg)
		}
	}
	m.resolver.Resolve(m.log)
	m.mu.Unlock()

	m.changed()

	metrics.IncrementCounter("events_applied", map[string]string{"kind": string(event.Kind)}, "Change-stream events applied")
	metrics.RecordTimer("merge_duration", time.Since(start), nil, "Time to apply a change event")
	return nil
}

// applyUpdate replaces an already-confirmed entry in place. Updates never
// touch provisional entries, and an update for an id not in the log is
// dropped.
func (m *Merger) applyUpdate(msg *models.Message) {
	existing, ok := m.log.Get(msg.ID())
	if !ok {
		m.logger.WithField("id", SanitizeMessageID(msg.ID())).Debug("Ignoring update for unknown message")
		return
	}

	// Status only moves forward; a stale redelivered update must not
	// regress read back to delivered.
	if msg.Status.Rank() < existing.Status.Rank() {
		msg.Status = existing.Status
	}

	m.log.Upsert(msg)
}

// applyOwnInsert handles an echo of one of our own writes: find the
// matching provisional entry and replace it rather than appending a
// duplicate.
//
// The matching heuristic (content + attachment kind + reply-id equality)
// can in principle consume the wrong provisional entry when two identical
// messages are in flight at once; the first match in insertion order wins.
// That ambiguity is inherited from the store's echo carrying no client tag
// and is accepted as a known limitation.
func (m *Merger) applyOwnInsert(msg *models.Message) {
	// Redelivery of an echo already reconciled: pure replace, and the
	// provisional matching must not run again.
	if _, ok := m.log.Get(msg.ID()); ok {
		m.log.Upsert(msg)
		return
	}

	var match func(*models.Message) bool
	if msg.Attachment == nil {
		match = func(p *models.Message) bool {
			return p.Ref.Kind == models.RefProvisionalText &&
				p.Sender == msg.Sender &&
				p.Content == msg.Content &&
				p.ReplyTargetID() == msg.ReplyTargetID()
		}
	} else {
		match = func(p *models.Message) bool {
			return p.Ref.Kind == models.RefProvisionalAttachment &&
				p.Sender == msg.Sender &&
				p.AttachmentKind() == msg.AttachmentKind() &&
				p.Content == msg.Content &&
				p.ReplyTargetID() == msg.ReplyTargetID()
		}
	}

	provisional, found := m.log.FindProvisional(match)
	if !found {
		// No tracked provisional entry for this echo (never staged here,
		// or already reconciled). Append rather than drop: a rare visible
		// duplicate beats silent message loss.
		m.log.Upsert(msg)
		metrics.IncrementCounter("own_echo_appended", nil, "Own-insert echoes appended without a provisional match")
		m.logger.WithFields(logrus.Fields{
			"id": SanitizeMessageID(msg.ID()),
		}).Debug("Own insert echo had no provisional match, appending")
		return
	}

	provisional.ReleasePreview()
	m.log.ReplaceID(provisional.ID(), msg)
	metrics.IncrementCounter("own_echo_matched", nil, "Provisional entries reconciled with their echo")

	m.logger.WithFields(logrus.Fields{
		"provisional_id": SanitizeMessageID(provisional.ID()),
		"confirmed_id":   SanitizeMessageID(msg.ID()),
	}).Debug("Reconciled provisional message with confirmed row")
}
