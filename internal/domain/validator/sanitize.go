package validator

import "strings"

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
)

var controlChars = []string{"\x00", "\x08", "\x0c", "\x0e", "\x0f"}

var encodedMarkers = []string{"&lt;", "&gt;", "&amp;", "&quot;", "&#x27;"}

// alreadySanitized detects presence of previously-encoded entities so
// Sanitize stays idempotent: sanitize(sanitize(x)) == sanitize(x).
func alreadySanitized(s string) bool {
	for _, marker := range encodedMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// Sanitize HTML-encodes `<>"'`, strips NUL/control characters, and is a
// no-op (idempotent) on text that already looks encoded.
func Sanitize(s string) string {
	for _, c := range controlChars {
		s = strings.ReplaceAll(s, c, "")
	}
	if alreadySanitized(s) {
		return s
	}
	return htmlEscaper.Replace(s)
}

// SanitizeSkipText applies the same control-character stripping but
// leaves payload.text untouched, for paths where downstream handlers
// expect the raw user string verbatim.
func SanitizeSkipText(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == "text" {
			out[k] = v
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = Sanitize(s)
			continue
		}
		out[k] = v
	}
	return out
}

// SanitizePayload recursively sanitizes every string value in payload,
// including payload.text.
func SanitizePayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch val := v.(type) {
		case string:
			out[k] = Sanitize(val)
		case map[string]any:
			out[k] = SanitizePayload(val)
		default:
			out[k] = v
		}
	}
	return out
}
