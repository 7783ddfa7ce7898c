package models

import (
	"fmt"
	"sync"
	"time"

	"pairchat/pkg/store/types"
)

// Reply is the denormalized back-reference a message carries to the message
// it replies to. Sender and Snippet stay empty until the resolver finds the
// target in the log.
type Reply struct {
	ID      string
	Sender  string
	Snippet string
}

// Resolved reports whether the reply preview has been filled in.
func (r *Reply) Resolved() bool {
	return r != nil && r.Sender != ""
}

// PreviewResource is a locally-created attachment preview (object URL or
// temp file) owned by a provisional message. Release is idempotent: exactly
// one of reconciliation or rollback triggers the cleanup.
type PreviewResource struct {
	URL     string
	release func()
	once    sync.Once
}

// NewPreviewResource wraps a preview URL with its cleanup function. A nil
// cleanup is allowed.
func NewPreviewResource(url string, release func()) *PreviewResource {
	return &PreviewResource{URL: url, release: release}
}

// Release frees the preview resource. Safe to call more than once.
func (p *PreviewResource) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		if p.release != nil {
			p.release()
		}
	})
}

// Attachment describes a file carried by a message. URL is either the stable
// public URL (confirmed) or the local preview URL (provisional).
type Attachment struct {
	URL     string
	Kind    types.FileType
	Preview *PreviewResource
}

// Message is the canonical in-log form of a chat message.
type Message struct {
	Ref        MessageRef
	Sender     string
	Content    string
	Timestamp  time.Time
	Status     types.MessageStatus
	Attachment *Attachment
	ReplyTo    *Reply
}

// ID returns the message's current identity string.
func (m *Message) ID() string {
	return m.Ref.ID
}

// Own reports whether the message was authored by the given local
// participant.
func (m *Message) Own(local string) bool {
	return m.Sender == local
}

// DisplayStatus maps the stored status to what the UI should show. A local
// participant's own message is never shown as merely "sent" once it exists
// in the shared log.
func (m *Message) DisplayStatus(local string) types.MessageStatus {
	if m.Own(local) && m.Status == types.StatusSent {
		return types.StatusDelivered
	}
	return m.Status
}

// ReplyTargetID returns the reply target id or "" when the message is not a
// reply. Used for the merger's reply-id equality checks.
func (m *Message) ReplyTargetID() string {
	if m.ReplyTo == nil {
		return ""
	}
	return m.ReplyTo.ID
}

// AttachmentKind returns the attachment file type or "" for plain text.
func (m *Message) AttachmentKind() types.FileType {
	if m.Attachment == nil {
		return ""
	}
	return m.Attachment.Kind
}

// ReleasePreview frees the attachment preview resource, if any.
func (m *Message) ReleasePreview() {
	if m.Attachment != nil {
		m.Attachment.Preview.Release()
	}
}

// FromRow converts a wire row into a canonical message.
func FromRow(row types.MessageRow) (*Message, error) {
	ts, err := time.Parse(time.RFC3339, row.Timestamp)
	if err != nil {
		// Some stores emit fractional seconds without a zone; try the
		// lenient form before giving up.
		ts, err = time.Parse("2006-01-02T15:04:05.999999", row.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("invalid row timestamp %q: %w", row.Timestamp, err)
		}
	}

	msg := &Message{
		Ref:       ParseRef(row.ID),
		Sender:    row.Sender,
		Content:   row.Message,
		Timestamp: ts,
		Status:    row.Status,
	}

	if row.FileURL != nil && *row.FileURL != "" {
		kind := types.FileTypeDocument
		if row.FileType != nil {
			kind = *row.FileType
		}
		msg.Attachment = &Attachment{URL: *row.FileURL, Kind: kind}
	}

	if row.RepliedToID != nil && *row.RepliedToID != "" {
		msg.ReplyTo = &Reply{ID: *row.RepliedToID}
	}

	return msg, nil
}
