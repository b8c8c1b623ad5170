package renders

import (
	"fmt"
	"time"
)

const (
	minScale = 0.1
	maxScale = 2.0

	maxCallIDLength = 128
)

var knownFormats = map[string]bool{
	"":        true,
	"A3":      true,
	"A4":      true,
	"A5":      true,
	"Letter":  true,
	"Legal":   true,
	"Tabloid": true,
}

// ValidateCall rejects calls that must never reach a pool. Dependency and
// identifier-uniqueness checks happen at batch decode, not here.
func ValidateCall(config *Config, call *Call) error {
	if len(call.ID) > maxCallIDLength {
		return fmt.Errorf("%w: call id exceeds %d characters", ErrValidationFailed, maxCallIDLength)
	}

	if call.Document.HTML == "" {
		return fmt.Errorf("%w: document is empty", ErrValidationFailed)
	}

	if len(call.Document.HTML) > config.MaxDocumentBytes {
		return fmt.Errorf(
			"%w: document is %d bytes, limit is %d",
			ErrValidationFailed,
			len(call.Document.HTML),
			config.MaxDocumentBytes,
		)
	}

	if call.Options.Scale != 0 && (call.Options.Scale < minScale || call.Options.Scale > maxScale) {
		return fmt.Errorf(
			"%w: scale %.2f is outside [%.1f, %.1f]",
			ErrValidationFailed,
			call.Options.Scale,
			minScale,
			maxScale,
		)
	}

	if !knownFormats[call.Options.Format] {
		return fmt.Errorf("%w: unknown page format %q", ErrValidationFailed, call.Options.Format)
	}

	return nil
}

// EffectiveTimeout resolves the render timeout for a call: the requested
// value bounded by MaxTimeout, or DefaultTimeout when unset.
func EffectiveTimeout(config *Config, options Options) time.Duration {
	if options.TimeoutMs <= 0 {
		return config.DefaultTimeout
	}

	timeout := time.Duration(options.TimeoutMs) * time.Millisecond
	if timeout > config.MaxTimeout {
		return config.MaxTimeout
	}

	return timeout
}
