package agent

import (
	"fmt"
	"regexp"
)

// DefaultBase64Threshold is the minimum length of a base64 run that
// gets elided before a tool result re-enters model context.
const DefaultBase64Threshold = 1024

// base64Run matches candidate base64 payloads: long unbroken runs of
// the base64 alphabet with optional padding. The minimum length in the
// pattern is a floor; the sanitizer applies its own threshold on top.
var base64Run = regexp.MustCompile(`[A-Za-z0-9+/]{256,}={0,2}`)

// Sanitizer strips oversized binary payloads from tool results before
// they are appended to conversation history. The raw result is still
// what tool:result events carry; only the context copy is filtered.
type Sanitizer struct {
	// Threshold is the base64 run length above which content is
	// replaced. Zero means DefaultBase64Threshold.
	Threshold int
}

// Apply returns the context-safe variant of a tool result's text.
func (s *Sanitizer) Apply(content string) string {
	threshold := s.Threshold
	if threshold <= 0 {
		threshold = DefaultBase64Threshold
	}
	if len(content) < threshold {
		return content
	}

	return base64Run.ReplaceAllStringFunc(content, func(run string) string {
		if len(run) <= threshold {
			return run
		}
		return fmt.Sprintf("[binary data elided: %d bytes]", len(run))
	})
}
