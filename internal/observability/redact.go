package observability

import (
	"encoding/json"
	"strings"
)

// Mask replaces the value of every sensitive key.
const Mask = "***"

var sensitiveKeys = map[string]bool{
	"pin":        true,
	"password":   true,
	"auth":       true,
	"faceprint":  true,
	"voiceprint": true,
	"biometric":  true,
	"token":      true,
	"secret":     true,
}

// IsSensitiveKey reports whether values under key are masked.
func IsSensitiveKey(key string) bool {
	return sensitiveKeys[strings.ToLower(key)]
}

// Redact returns a copy of v with sensitive keys masked at any depth. Only
// map[string]any and []any are walked; other values are returned as is.
func Redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if IsSensitiveKey(k) {
				out[k] = Mask
				continue
			}
			out[k] = Redact(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Redact(val)
		}
		return out
	default:
		return v
	}
}

// RedactJSON renders v as JSON with sensitive keys masked, for use as a log
// attribute. Values that cannot be encoded render as null.
func RedactJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return json.RawMessage("null")
	}
	out, err := json.Marshal(Redact(generic))
	if err != nil {
		return json.RawMessage("null")
	}
	return out
}
