package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"unison-context/internal/domain"
	"unison-context/internal/policy"
	"unison-context/internal/usecase"
)

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	p, err := h.store.ReadProfile(r.Context(), caller, r.PathValue("person_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{OK: true, Profile: p})
}

func (h *Handler) postProfile(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req profileRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Profile == nil {
		h.writeError(w, r, invalidInput("missing-profile"))
		return
	}
	ts, err := h.store.WriteProfile(r.Context(), caller, r.PathValue("person_id"), *req.Profile)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, writeResponse{OK: true, UpdatedAt: formatTime(ts)})
}

func (h *Handler) getDashboard(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	d, err := h.store.ReadDashboard(r.Context(), caller, r.PathValue("person_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboardResponse{OK: true, Dashboard: d})
}

func (h *Handler) postDashboard(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req dashboardRequest
	if !h.decode(w, r, &req) {
		return
	}
	raw := bytes.TrimSpace(req.Dashboard)
	if len(raw) == 0 || raw[0] != '{' {
		h.writeError(w, r, invalidInput("invalid-dashboard"))
		return
	}
	var body dashboardBody
	if err := decodeStrict(raw, &body); err != nil {
		h.writeError(w, r, invalidInputErr("invalid-dashboard", err))
		return
	}
	cards, err := domain.ParseCards(body.Cards)
	if err != nil {
		h.writeError(w, r, invalidInputErr("invalid-dashboard-cards", err))
		return
	}

	ts, err := h.store.WriteDashboard(r.Context(), caller, r.PathValue("person_id"), domain.Dashboard{
		Cards:       cards,
		Preferences: body.Preferences,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, writeResponse{OK: true, UpdatedAt: formatTime(ts)})
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	s, err := h.store.ReadSession(r.Context(), caller, r.PathValue("person_id"), r.PathValue("session_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{OK: true, Session: s})
}

func (h *Handler) postSession(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req sessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	ts, err := h.store.WriteSession(r.Context(), caller, r.PathValue("person_id"), r.PathValue("session_id"), domain.Session{
		Messages: req.Messages,
		Response: req.Response,
		Summary:  req.Summary,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, writeResponse{OK: true, UpdatedAt: formatTime(ts)})
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteSession(r.Context(), caller, r.PathValue("person_id"), r.PathValue("session_id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{OK: true, Deleted: true})
}

func (h *Handler) kvPut(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req kvRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Items != nil {
		if req.Namespace != "" || req.Key != "" || req.Value != nil {
			h.writeError(w, r, invalidInput("mixed-kv-forms"))
			return
		}
		h.kvPutBatch(w, r, caller, req.Items)
		return
	}
	if len(bytes.TrimSpace(req.Value)) == 0 {
		h.writeError(w, r, invalidInput("missing-value"))
		return
	}
	ts, err := h.store.PutKV(r.Context(), caller, req.Namespace, req.Key, req.Value)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, writeResponse{OK: true, UpdatedAt: formatTime(ts)})
}

// kvPutBatch writes items in name order. Every name is checked before the
// first write; a store error stops the batch and earlier items stay written.
func (h *Handler) kvPutBatch(w http.ResponseWriter, r *http.Request, caller policy.Caller, items map[string]json.RawMessage) {
	names := make([]string, 0, len(items))
	for name := range items {
		if _, _, ok := splitEntryName(name); !ok {
			h.writeError(w, r, invalidInput("invalid-entry-name"))
			return
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var last time.Time
	for _, name := range names {
		namespace, key, _ := splitEntryName(name)
		ts, err := h.store.PutKV(r.Context(), caller, namespace, key, items[name])
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		last = ts
	}

	resp := kvBatchPutResponse{OK: true, Count: len(names)}
	if !last.IsZero() {
		resp.UpdatedAt = formatTime(last)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) kvGet(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req kvKeyRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Keys != nil {
		if req.Namespace != "" || req.Key != "" {
			h.writeError(w, r, invalidInput("mixed-kv-forms"))
			return
		}
		h.kvGetBatch(w, r, caller, req.Keys)
		return
	}
	e, err := h.store.GetKV(r.Context(), caller, req.Namespace, req.Key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, kvResponse{
		OK:        true,
		Namespace: e.Namespace,
		Key:       e.Key,
		Value:     e.Value,
		UpdatedAt: formatTime(e.UpdatedAt),
	})
}

// kvGetBatch returns the entries that exist; missing names are left out of
// values. Any other failure fails the whole request.
func (h *Handler) kvGetBatch(w http.ResponseWriter, r *http.Request, caller policy.Caller, names []string) {
	values := make(map[string]json.RawMessage, len(names))
	for _, name := range names {
		namespace, key, ok := splitEntryName(name)
		if !ok {
			h.writeError(w, r, invalidInput("invalid-entry-name"))
			return
		}
		e, err := h.store.GetKV(r.Context(), caller, namespace, key)
		var ue *usecase.Error
		if errors.As(err, &ue) && ue.Code == usecase.ErrorNotFound {
			continue
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		values[name] = e.Value
	}
	writeJSON(w, http.StatusOK, kvBatchGetResponse{OK: true, Values: values})
}

// splitEntryName splits "<namespace>:<key>" at the last colon.
func splitEntryName(name string) (namespace, key string, ok bool) {
	i := strings.LastIndex(name, ":")
	if i <= 0 || i == len(name)-1 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

func (h *Handler) kvDelete(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req kvKeyRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.store.DeleteKV(r.Context(), caller, req.Namespace, req.Key); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{OK: true, Deleted: true})
}

func invalidInput(reason string) error {
	return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: reason}
}

func invalidInputErr(reason string, err error) error {
	return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: reason, Err: err}
}
