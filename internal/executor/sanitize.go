package executor

import (
	"regexp"
	"strings"
)

const redactedValue = "[REDACTED]"

// sensitiveTermRe matches output key names that must never leave the
// executor unredacted.
var sensitiveTermRe = regexp.MustCompile(`(?i)(password|secret|key|token|credential)`)

// redactOutput returns a copy of the output with values under sensitive
// key names replaced. Nested objects are walked recursively.
func redactOutput(output map[string]any) (map[string]any, int) {
	if output == nil {
		return nil, 0
	}
	redacted := 0
	out := make(map[string]any, len(output))
	for k, v := range output {
		if isSensitiveKey(k) {
			out[k] = redactedValue
			redacted++
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			cleaned, n := redactOutput(nested)
			out[k] = cleaned
			redacted += n
			continue
		}
		out[k] = v
	}
	return out, redacted
}

// isSensitiveKey reports whether a key name matches the redaction pattern.
func isSensitiveKey(name string) bool {
	return sensitiveTermRe.MatchString(strings.TrimSpace(name))
}
