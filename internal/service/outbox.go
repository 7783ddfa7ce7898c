package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"pairchat/internal/constants"
	apperrors "pairchat/internal/errors"
	"pairchat/internal/metrics"
	"pairchat/internal/models"
	"pairchat/internal/security"
	"pairchat/internal/tracing"
	"pairchat/pkg/store"
	"pairchat/pkg/store/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// AttachmentUpload is a user intent to send a file. PreviewURL is a
// locally-created resource (object URL or temp file) shown while the upload
// is in flight; ReleasePreview frees it and may be nil.
type AttachmentUpload struct {
	Filename       string
	Kind           types.FileType
	Data           []byte
	PreviewURL     string
	ReleasePreview func()
}

// Outbox turns user send intents into provisional log entries and
// reconciles or rolls them back based on the remote write's outcome.
//
// It never replaces a provisional entry on write success; that is the
// merger's job when the echo arrives on the change-stream, keeping a single
// reconciliation path. Failures are not retried: each failure removes
// exactly the one provisional entry it corresponds to, and the user may
// re-submit.
type Outbox struct {
	mu           *sync.Mutex
	log          *MessageLog
	resolver     *ReplyResolver
	store        store.Client
	uploader     store.Uploader
	participants *Registry
	logger       *logrus.Logger
	changed      func()

	now       func() time.Time
	newSuffix func() string
}

// NewOutbox wires the optimistic write tracker. mu is the engine's mutation
// lock; changed is invoked (unlocked) after every log mutation.
func NewOutbox(mu *sync.Mutex, log *MessageLog, resolver *ReplyResolver, storeClient store.Client, uploader store.Uploader, participants *Registry, logger *logrus.Logger, changed func()) *Outbox {
	if changed == nil {
		changed = func() {}
	}
	return &Outbox{
		mu:           mu,
		log:          log,
		resolver:     resolver,
		store:        storeClient,
		uploader:     uploader,
		participants: participants,
		logger:       logger,
		changed:      changed,
		now:          time.Now,
		newSuffix:    uuid.NewString,
	}
}

// SendText stages a provisional text message, then issues the remote write.
// Empty or whitespace-only content with no active reply is refused. The
// returned message is the provisional entry; it stays in the log until the
// merger replaces it or the write fails and it is rolled back.
func (o *Outbox) SendText(ctx context.Context, content, replyToID string) (*models.Message, error) {
	ctx, span := tracing.StartSpan(ctx, "outbox.send_text")
	defer span.End()

	trimmed := strings.TrimSpace(content)
	if trimmed == "" && replyToID == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "refusing to send empty message with no reply")
	}

	ref := models.ProvisionalTextRef(o.newSuffix())
	msg := &models.Message{
		Ref:       ref,
		Sender:    o.participants.Local(),
		Content:   trimmed,
		Timestamp: o.now(),
		Status:    types.StatusSent,
	}

	o.stage(msg, replyToID)

	o.logger.WithFields(logrus.Fields{
		"provisional_id": SanitizeMessageID(ref.ID),
		"reply_to":       SanitizeMessageID(replyToID),
	}).Debug("Staged optimistic text message")

	req := types.InsertRequest{
		Sender:      msg.Sender,
		Message:     msg.Content,
		Timestamp:   msg.Timestamp.UTC().Format(time.RFC3339Nano),
		Status:      types.StatusSent,
		RepliedToID: optionalID(replyToID),
	}

	if _, err := o.store.InsertMessage(ctx, req); err != nil {
		o.rollback(msg)
		tracing.RecordError(ctx, err)
		metrics.IncrementCounter("send_rollbacks", map[string]string{"kind": "text"}, "Optimistic sends rolled back")
		return nil, apperrors.Wrap(err, apperrors.ErrCodeWriteFailure, "remote write failed").
			WithContext("provisional_id", ref.ID)
	}

	// Success: the confirmed row arrives on the change-stream and the
	// merger performs the replacement.
	metrics.IncrementCounter("messages_sent", map[string]string{"kind": "text"}, "Messages sent")
	return msg, nil
}

// SendAttachment stages a provisional attachment message carrying a local
// preview URL, uploads the file, then writes the row referencing the stable
// public URL. A failure at either step rolls back like the text case and
// releases the preview resource.
func (o *Outbox) SendAttachment(ctx context.Context, upload AttachmentUpload, replyToID string) (*models.Message, error) {
	ctx, span := tracing.StartSpan(ctx, "outbox.send_attachment",
		attribute.String("attachment.kind", string(upload.Kind)))
	defer span.End()

	if !upload.Kind.Valid() {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, fmt.Sprintf("unknown attachment kind %q", upload.Kind))
	}
	if len(upload.Data) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "attachment is empty")
	}

	objectPath := o.objectPath(upload.Filename)
	if err := security.ValidateUploadPath(objectPath); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid attachment filename")
	}

	ref := models.ProvisionalAttachmentRef(o.newSuffix())
	msg := &models.Message{
		Ref:       ref,
		Sender:    o.participants.Local(),
		Content:   fmt.Sprintf(constants.AttachmentPlaceholderFormat, upload.Kind),
		Timestamp: o.now(),
		Status:    types.StatusSent,
		Attachment: &models.Attachment{
			URL:     upload.PreviewURL,
			Kind:    upload.Kind,
			Preview: models.NewPreviewResource(upload.PreviewURL, upload.ReleasePreview),
		},
	}

	o.stage(msg, replyToID)

	o.logger.WithFields(logrus.Fields{
		"provisional_id": SanitizeMessageID(ref.ID),
		"kind":           upload.Kind,
		"bytes":          len(upload.Data),
	}).Debug("Staged optimistic attachment message")

	publicURL, err := o.uploader.Upload(ctx, objectPath, upload.Data)
	if err != nil {
		o.rollback(msg)
		tracing.RecordError(ctx, err)
		metrics.IncrementCounter("send_rollbacks", map[string]string{"kind": "attachment"}, "Optimistic sends rolled back")
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUploadFailure, "attachment upload failed").
			WithContext("provisional_id", ref.ID)
	}

	req := types.InsertRequest{
		Sender:      msg.Sender,
		Message:     msg.Content,
		Timestamp:   msg.Timestamp.UTC().Format(time.RFC3339Nano),
		Status:      types.StatusSent,
		FileURL:     &publicURL,
		FileType:    &upload.Kind,
		RepliedToID: optionalID(replyToID),
	}

	if _, err := o.store.InsertMessage(ctx, req); err != nil {
		o.rollback(msg)
		tracing.RecordError(ctx, err)
		metrics.IncrementCounter("send_rollbacks", map[string]string{"kind": "attachment"}, "Optimistic sends rolled back")
		return nil, apperrors.Wrap(err, apperrors.ErrCodeWriteFailure, "remote write failed").
			WithContext("provisional_id", ref.ID)
	}

	metrics.IncrementCounter("messages_sent", map[string]string{"kind": "attachment"}, "Messages sent")
	return msg, nil
}

// stage prefills the reply preview from the current log, inserts the
// provisional entry, and announces the mutation.
func (o *Outbox) stage(msg *models.Message, replyToID string) {
	o.mu.Lock()
	if replyToID != "" {
		reply := &models.Reply{ID: replyToID}
		if target, ok := o.log.Get(replyToID); ok {
			reply.Sender = target.Sender
			reply.Snippet = o.resolver.Snippet(target.Content)
		}
		msg.ReplyTo = reply
	}
	o.log.Upsert(msg)
	o.resolver.Resolve(o.log)
	o.mu.Unlock()

	o.changed()
}

// rollback removes the one provisional entry the failed write corresponds
// to and releases its preview resource. The rest of the log is untouched.
func (o *Outbox) rollback(msg *models.Message) {
	o.mu.Lock()
	removed := o.log.Remove(msg.ID())
	o.mu.Unlock()

	msg.ReleasePreview()
	if removed {
		o.changed()
	}

	o.logger.WithFields(logrus.Fields{
		"provisional_id": SanitizeMessageID(msg.ID()),
	}).Warn("Rolled back optimistic message after failed send")
}

func (o *Outbox) objectPath(filename string) string {
	sanitized := strings.ReplaceAll(filename, " ", "_")
	return fmt.Sprintf("%s/%d_%s", o.participants.Local(), o.now().UnixMilli(), sanitized)
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
