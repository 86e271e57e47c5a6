package privacy

import (
	"fmt"
	"regexp"
)

// pattern pairs a compiled regex with a short name used in logs and tests.
type pattern struct {
	name string
	re   *regexp.Regexp
}

// builtinPatterns is the builtin PII set, applied in this order per
// redaction pass. Ordering matters: key=value secrets run before the URL
// pattern so a token inside a URL is caught as a secret first.
var builtinPatterns = []*pattern{
	{"email", regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
	{"phone", regexp.MustCompile(`\+?1?[-. ]?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`)},
	{"card", regexp.MustCompile(`\b(?:\d[ -]?){15}\d\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"ipv4", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
	{"secret", regexp.MustCompile(`(?i)\b(?:api[_-]?key|token|secret)\b\s*[:=]\s*\S+`)},
	{"url", regexp.MustCompile(`\bhttps?://[^\s]+`)},
}

func compileCustom(exprs []string) ([]*pattern, error) {
	patterns := make([]*pattern, 0, len(exprs))
	for i, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid custom PII pattern %d (%q): %w", i, expr, err)
		}
		patterns = append(patterns, &pattern{name: fmt.Sprintf("custom_%d", i), re: re})
	}
	return patterns, nil
}
