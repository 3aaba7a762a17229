package domain

import (
	"encoding/json"
	"time"
)

// KVEntry is a small ad-hoc value addressed by (Namespace, Key). Value is
// kept as the caller's JSON text and never reinterpreted.
type KVEntry struct {
	Namespace string          `json:"namespace"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}
