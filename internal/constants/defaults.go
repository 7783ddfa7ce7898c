package constants

// Default client configuration values
const (
	DefaultHTTPTimeoutSec      = 30
	DefaultStreamHandshakeSec  = 10
	DefaultReconnectInitialMs  = 500
	DefaultReconnectMaxMs      = 30000
	DefaultVisibilityThreshold = 0.5
	DefaultUploadBucket        = "chat-uploads"
	DefaultReplySnippetMaxLen  = 120
	DefaultTracingSampleRate   = 0.1
)

// AttachmentPlaceholderFormat is the system-generated body for
// attachment-only messages, e.g. "Shared a image.". The wording (article
// included) matches what older clients already wrote to the store, and the
// merger matches on it verbatim.
const AttachmentPlaceholderFormat = "Shared a %s."

// Privacy settings for sanitized logging
const (
	DefaultMessageIDLogLength = 8
	DefaultContentLogLength   = 12
)
