// Package httputil writes JSON responses and translates pipeline errors into HTTP errors.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"demarches/pkg/platform/sentinel"
)

// MaxBodyBytes caps request bodies read by DecodeJSON.
const MaxBodyBytes = 1 << 20

// AddressPrompt is returned with unresolvable addresses so clients can ask for more detail.
const AddressPrompt = "address could not be located: supply a more specific address with street number, postal code and city"

type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto a status code and a stable error code. Internal errors carry no
// description.
func WriteError(w http.ResponseWriter, err error) {
	status, code, description := Classify(err)
	WriteJSON(w, status, ErrorResponse{Error: code, ErrorDescription: description})
}

// Classify returns the status, error code and client-facing description of err.
func Classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, sentinel.ErrUnresolvableAddress):
		return http.StatusUnprocessableEntity, "unresolvable_address", AddressPrompt
	case errors.Is(err, sentinel.ErrUnsupportedJurisdiction):
		return http.StatusUnprocessableEntity, "unsupported_jurisdiction", err.Error()
	case errors.Is(err, sentinel.ErrIncompleteProfile):
		return http.StatusBadRequest, "incomplete_profile", err.Error()
	case errors.Is(err, sentinel.ErrInvalidInput):
		return http.StatusBadRequest, "bad_request", err.Error()
	case errors.Is(err, sentinel.ErrInvalidState):
		return http.StatusConflict, "invalid_state", err.Error()
	case errors.Is(err, sentinel.ErrSimulationFailed):
		return http.StatusBadGateway, "simulation_failed", "the benefit simulator could not evaluate this household"
	case errors.Is(err, sentinel.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "upstream_unavailable", "a public data service is temporarily unavailable, retry later"
	case errors.Is(err, sentinel.ErrNotFound):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", "the request did not complete within its time budget, retry later"
	}
	return http.StatusInternalServerError, "internal_error", ""
}

// DecodeJSON reads one JSON document into v, rejecting unknown fields and trailing data.
// Failures are sentinel.ErrInvalidInput.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", sentinel.ErrInvalidInput, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: request body must contain a single JSON document", sentinel.ErrInvalidInput)
	}
	return nil
}
