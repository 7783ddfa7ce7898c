package models

// ConfigError indicates an invalid or incomplete configuration.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return "config error: " + e.Message
}

// Participant is one identity in the deployment's participant registry.
type Participant struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

// StoreConfig configures the remote store HTTP client.
type StoreConfig struct {
	BaseURL      string `json:"baseUrl"`
	APIKey       string `json:"apiKey"`
	TimeoutSec   int    `json:"timeoutSec"`
	UploadBucket string `json:"uploadBucket"`
}

// StreamConfig configures the change-stream subscription.
type StreamConfig struct {
	URL                 string `json:"url"`
	ReconnectInitialMs  int    `json:"reconnectInitialMs"`
	ReconnectMaxMs      int    `json:"reconnectMaxMs"`
	HandshakeTimeoutSec int    `json:"handshakeTimeoutSec"`
}

// ReadTrackingConfig configures visibility-driven read receipts.
type ReadTrackingConfig struct {
	// VisibilityThreshold is the fraction of a message's rendered area that
	// must be in the viewport before it counts as seen.
	VisibilityThreshold float64 `json:"visibilityThreshold"`
}

// TracingConfig holds the OpenTelemetry knobs surfaced in the config file.
type TracingConfig struct {
	Enabled      bool    `json:"enabled"`
	OTLPEndpoint string  `json:"otlpEndpoint"`
	UseStdout    bool    `json:"useStdout"`
	SampleRate   float64 `json:"sampleRate"`
}

// Config is the engine configuration.
type Config struct {
	// LocalParticipant names which registry entry is "me".
	LocalParticipant string        `json:"localParticipant"`
	Participants     []Participant `json:"participants"`

	Store        StoreConfig        `json:"store"`
	Stream       StreamConfig       `json:"stream"`
	ReadTracking ReadTrackingConfig `json:"readTracking"`
	Tracing      TracingConfig      `json:"tracing"`

	LogLevel string `json:"logLevel"`
}
