package renders

import "time"

type Config struct {
	MaxDocumentBytes int `conf:"MAX_DOCUMENT_BYTES" default:"2097152"`

	DefaultTimeout time.Duration `conf:"DEFAULT_TIMEOUT" default:"30s"`
	MaxTimeout     time.Duration `conf:"MAX_TIMEOUT" default:"2m"`
}
