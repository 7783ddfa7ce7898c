package types

// FileType identifies the kind of attachment carried by a message row.
type FileType string

const (
	FileTypeImage    FileType = "image"
	FileTypeVideo    FileType = "video"
	FileTypeAudio    FileType = "audio"
	FileTypeDocument FileType = "document"
)

// Valid reports whether the file type is one the store accepts.
func (ft FileType) Valid() bool {
	switch ft {
	case FileTypeImage, FileTypeVideo, FileTypeAudio, FileTypeDocument:
		return true
	}
	return false
}

// MessageStatus is the delivery state stored on a message row.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses for forward-only transition checks.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return -1
}

// MessageRow is the wire representation of a message as stored remotely.
// Timestamp is ISO-8601 as delivered by the store.
type MessageRow struct {
	ID          string        `json:"id"`
	Sender      string        `json:"sender"`
	Message     string        `json:"message"`
	Timestamp   string        `json:"timestamp"`
	Status      MessageStatus `json:"status"`
	FileURL     *string       `json:"file_url"`
	FileType    *FileType     `json:"file_type"`
	RepliedToID *string       `json:"replied_to_message_id"`
}

// InsertRequest is the payload for creating a new message row. The store
// assigns the confirmed id.
type InsertRequest struct {
	Sender      string        `json:"sender"`
	Message     string        `json:"message"`
	Timestamp   string        `json:"timestamp"`
	Status      MessageStatus `json:"status"`
	FileURL     *string       `json:"file_url"`
	FileType    *FileType     `json:"file_type"`
	RepliedToID *string       `json:"replied_to_message_id"`
}

// UpdateRequest carries partial field updates for an existing row.
type UpdateRequest struct {
	Status *MessageStatus `json:"status,omitempty"`
}

// EventKind discriminates change-stream events.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
)

// ChangeEvent is one entry of the store's change-stream. Each event carries
// the full row after the change.
type ChangeEvent struct {
	Kind EventKind  `json:"kind"`
	Row  MessageRow `json:"row"`
}

// UploadResponse is returned by the blob store after a successful upload.
type UploadResponse struct {
	URL string `json:"url"`
}
