package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"unison-context/internal/observability"
	"unison-context/internal/policy"
	"unison-context/internal/usecase"
)

// unavailableBody is sent for both 403 and 404 so a caller cannot tell a
// denied record from a missing one.
var unavailableBody = errorResponse{OK: false, Error: "UNAVAILABLE"}

const retryAfterSeconds = "1"

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorForbidden:
		return http.StatusForbidden
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		ue = &usecase.Error{Code: usecase.ErrorInternal, Reason: "unexpected", Err: err}
	}
	status := statusFor(ue.Code)
	log := observability.LoggerFromContext(r.Context(), h.logger)

	switch status {
	case http.StatusNotFound, http.StatusForbidden:
		writeJSON(w, status, unavailableBody)
	case http.StatusBadRequest:
		writeJSON(w, status, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: ue.Reason})
	case http.StatusServiceUnavailable:
		log.Warn("storage unavailable", "path", r.URL.Path, "err", ue)
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeJSON(w, status, errorResponse{Error: string(usecase.ErrorStorageUnavailable)})
	default:
		log.Error("request failed", "path", r.URL.Path, "code", ue.Code, "err", ue)
		writeJSON(w, status, errorResponse{Error: string(usecase.ErrorInternal)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads the request body strictly into dst and writes the error
// response itself when it fails.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "body-too-large"})
			return false
		}
		h.writeError(w, r, invalidInputErr("unreadable-body", err))
		return false
	}
	if err := decodeStrict(body, dst); err != nil {
		h.writeError(w, r, invalidInputErr("invalid-json", err))
		return false
	}
	return true
}

// decodeStrict rejects unknown fields and trailing data. Numbers in
// free-form values stay json.Number so they are stored exactly.
func decodeStrict(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// caller reads the identity headers set by the routing layer.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (policy.Caller, bool) {
	scopes, err := policy.ParseScopes(r.Header.Get(headerConsentScopes))
	if err != nil {
		h.writeError(w, r, invalidInputErr("invalid-consent-scopes", err))
		return policy.Caller{}, false
	}
	var roles []string
	for _, role := range strings.Split(r.Header.Get(headerRoles), ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return policy.Caller{
		PersonID: strings.TrimSpace(r.Header.Get(headerPersonID)),
		Roles:    roles,
		Scopes:   scopes,
	}, true
}
