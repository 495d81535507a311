// Package httputil centralizes JSON encoding and domain-error translation for
// HTTP handlers, so every endpoint returns the same error envelope.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "civreg/pkg/domain-errors"
)

// StatusOf maps a domain error code to an HTTP status.
func StatusOf(code dErrors.Code) int {
	switch code {
	case dErrors.CodeValidation, dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeInvariantViolation:
		return http.StatusUnprocessableEntity
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders a coded error as a JSON envelope. Server-side failures
// omit the message so internals never leak to clients.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := StatusOf(code)

	body := map[string]string{"error": string(code)}
	if status < http.StatusInternalServerError {
		var de *dErrors.Error
		if errors.As(err, &de) {
			body["error_description"] = de.Message
		}
	}
	WriteJSON(w, status, body)
}

// WriteJSON renders v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON parses the request body into T. Malformed bodies come back as
// validation errors ready for WriteError.
func DecodeJSON[T any](r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, dErrors.Wrap(err, dErrors.CodeValidation, "malformed JSON body")
	}
	return v, nil
}
