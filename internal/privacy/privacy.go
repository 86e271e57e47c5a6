// Package privacy decides what prompt/response content is allowed to leave
// the process. Each content class (prompts, responses, errors, metadata) has
// a capture level; anything below "full" is summarized or redacted before an
// event is built, so raw user content never reaches the queue or the store.
package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// CaptureLevel controls how much of a piece of content is retained.
type CaptureLevel string

const (
	// CaptureNone suppresses the content entirely.
	CaptureNone CaptureLevel = "none"
	// CaptureMetadata replaces the content with a structured summary.
	CaptureMetadata CaptureLevel = "metadata"
	// CaptureSanitized keeps the content with PII patterns redacted.
	CaptureSanitized CaptureLevel = "sanitized"
	// CaptureFull keeps the content verbatim.
	CaptureFull CaptureLevel = "full"
)

// ContentClass names the kind of content being processed, so each class can
// carry its own capture level.
type ContentClass string

const (
	ClassPrompts   ContentClass = "prompts"
	ClassResponses ContentClass = "responses"
	ClassErrors    ContentClass = "errors"
	ClassMetadata  ContentClass = "metadata"
)

// Sanitizer is an optional user-supplied hook that runs after pattern
// redaction, on the already-redacted text.
type Sanitizer func(content string) string

// Config controls the privacy controller.
type Config struct {
	// DefaultLevel applies to every content class without an override.
	DefaultLevel CaptureLevel
	// Overrides maps a content class to its own capture level.
	Overrides map[ContentClass]CaptureLevel
	// CustomPatterns are additional regex patterns redacted after the
	// builtin set. Invalid patterns are rejected at construction.
	CustomPatterns []string
	// DisableBuiltinPII turns off the builtin PII pattern set.
	DisableBuiltinPII bool
	// CustomSanitizer, when set, post-processes sanitized content.
	CustomSanitizer Sanitizer
	// HashMatches replaces matches with a salted-hash marker instead of
	// [REDACTED]. Requires HashSalt.
	HashMatches bool
	// HashSalt is mixed into the hash so marker values are not reversible
	// via rainbow lookup of common PII.
	HashSalt string
}

// DefaultConfig returns the shipping defaults: sanitize everything with the
// builtin PII patterns enabled.
func DefaultConfig() Config {
	return Config{DefaultLevel: CaptureSanitized}
}

// Controller applies capture levels and redaction. Safe for concurrent use.
type Controller struct {
	cfg     Config
	custom  []*pattern
	builtin []*pattern
}

// NewController compiles the configured patterns and returns a controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = CaptureSanitized
	}
	if !validLevel(cfg.DefaultLevel) {
		return nil, fmt.Errorf("invalid capture level %q", cfg.DefaultLevel)
	}
	for class, level := range cfg.Overrides {
		if !validLevel(level) {
			return nil, fmt.Errorf("invalid capture level %q for class %q", level, class)
		}
	}
	custom, err := compileCustom(cfg.CustomPatterns)
	if err != nil {
		return nil, err
	}
	c := &Controller{cfg: cfg, custom: custom}
	if !cfg.DisableBuiltinPII {
		c.builtin = builtinPatterns
	}
	return c, nil
}

func validLevel(l CaptureLevel) bool {
	switch l {
	case CaptureNone, CaptureMetadata, CaptureSanitized, CaptureFull:
		return true
	}
	return false
}

// LevelFor returns the effective capture level for a content class.
func (c *Controller) LevelFor(class ContentClass) CaptureLevel {
	if l, ok := c.cfg.Overrides[class]; ok {
		return l
	}
	return c.cfg.DefaultLevel
}

// Process applies the class's capture level to content. A nil return means
// the content is suppressed and must not appear on the event.
func (c *Controller) Process(content string, class ContentClass) *string {
	switch c.LevelFor(class) {
	case CaptureNone:
		return nil
	case CaptureMetadata:
		s := summarize(content)
		return &s
	case CaptureFull:
		return &content
	default: // CaptureSanitized
		s := c.sanitize(content)
		return &s
	}
}

// sanitize redacts builtin patterns, then custom patterns, then hands the
// result to the custom sanitizer hook.
func (c *Controller) sanitize(content string) string {
	if content == "" {
		return content
	}
	out := content
	for _, p := range c.builtin {
		out = c.redact(out, p)
	}
	for _, p := range c.custom {
		out = c.redact(out, p)
	}
	if c.cfg.CustomSanitizer != nil {
		out = c.cfg.CustomSanitizer(out)
	}
	return out
}

func (c *Controller) redact(content string, p *pattern) string {
	if c.cfg.HashMatches && c.cfg.HashSalt != "" {
		return p.re.ReplaceAllStringFunc(content, func(match string) string {
			return hashMarker(match, c.cfg.HashSalt)
		})
	}
	return p.re.ReplaceAllString(content, redactedMarker)
}

// ContainsPII reports whether any active pattern matches the content.
func (c *Controller) ContainsPII(content string) bool {
	if content == "" {
		return false
	}
	for _, p := range c.builtin {
		if p.re.MatchString(content) {
			return true
		}
	}
	for _, p := range c.custom {
		if p.re.MatchString(content) {
			return true
		}
	}
	return false
}

const redactedMarker = "[REDACTED]"

// hashMarker produces [HASH:xxxxxxxx] from the first 8 hex chars of
// sha256(match||salt), keeping markers correlatable without being reversible.
func hashMarker(match, salt string) string {
	sum := sha256.Sum256([]byte(match + salt))
	return "[HASH:" + hex.EncodeToString(sum[:])[:8] + "]"
}

// summarize builds the metadata-level structured summary. None of the
// original substrings survive into the marker.
func summarize(content string) string {
	if content == "" {
		return ""
	}
	words := len(strings.Fields(content))
	hasDigits := strings.ContainsAny(content, "0123456789")
	hasSpecial := strings.ContainsAny(content, "!@#$%^&*()[]{}<>/\\|~`")
	sentences := 0
	for _, r := range content {
		if r == '.' || r == '!' || r == '?' {
			sentences++
		}
	}
	if sentences == 0 && words > 0 {
		sentences = 1
	}
	return fmt.Sprintf("[CONTENT: length=%d words=%d digits=%t special=%t sentences=%d]",
		len(content), words, hasDigits, hasSpecial, sentences)
}
