package handler

import (
	"encoding/json"
	"time"

	"unison-context/internal/domain"
)

type profileRequest struct {
	Profile *domain.Profile `json:"profile"`
}

type dashboardRequest struct {
	Dashboard json.RawMessage `json:"dashboard"`
}

type dashboardBody struct {
	Cards       json.RawMessage `json:"cards"`
	Preferences map[string]any  `json:"preferences"`
}

type sessionRequest struct {
	Messages []domain.Message `json:"messages"`
	Response map[string]any   `json:"response"`
	Summary  string           `json:"summary"`
}

// kvRequest is either one entry (namespace, key, value) or a batch of
// items keyed by "<namespace>:<key>".
type kvRequest struct {
	Namespace string                     `json:"namespace"`
	Key       string                     `json:"key"`
	Value     json.RawMessage            `json:"value"`
	Items     map[string]json.RawMessage `json:"items"`
}

type kvKeyRequest struct {
	Namespace string   `json:"namespace"`
	Key       string   `json:"key"`
	Keys      []string `json:"keys"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

type profileResponse struct {
	OK      bool           `json:"ok"`
	Profile domain.Profile `json:"profile"`
}

type dashboardResponse struct {
	OK        bool             `json:"ok"`
	Dashboard domain.Dashboard `json:"dashboard"`
}

type sessionResponse struct {
	OK bool `json:"ok"`
	domain.Session
}

type writeResponse struct {
	OK        bool   `json:"ok"`
	UpdatedAt string `json:"updated_at"`
}

type deleteResponse struct {
	OK      bool `json:"ok"`
	Deleted bool `json:"deleted"`
}

type kvResponse struct {
	OK        bool            `json:"ok"`
	Namespace string          `json:"namespace"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt string          `json:"updated_at"`
}

type kvBatchPutResponse struct {
	OK        bool   `json:"ok"`
	Count     int    `json:"count"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type kvBatchGetResponse struct {
	OK     bool                       `json:"ok"`
	Values map[string]json.RawMessage `json:"values"`
}

type errorResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
