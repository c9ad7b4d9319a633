// Package handlers implements dispatchd's HTTP handlers: thin adapters
// that decode requests, call into pkg/registry, pkg/tasks, pkg/folders,
// and pkg/lock, and encode the result as JSON or the error envelope.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cuemby/dispatchd/pkg/dispatcherr"
)

// Problem is dispatchd's error envelope: {code, message, correlation_id,
// details?}. Every response carries a matching X-Correlation-ID header.
type Problem struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id"`
	Details       any    `json:"details,omitempty"`
}

// versionConflictDetails is the shape carried in Details for a
// VersionConflict error, so the caller can reconcile against it.
type versionConflictDetails struct {
	Current any `json:"current"`
}

// statusForCode maps a dispatcherr.Code to the HTTP status spec.md §7
// assigns it.
func statusForCode(code dispatcherr.Code) int {
	switch code {
	case dispatcherr.CodeValidation:
		return http.StatusBadRequest
	case dispatcherr.CodeNotFound:
		return http.StatusNotFound
	case dispatcherr.CodeForbidden:
		return http.StatusForbidden
	case dispatcherr.CodeVersionConflict, dispatcherr.CodeConflict, dispatcherr.CodeInvalidTransition:
		return http.StatusConflict
	case dispatcherr.CodeTransient:
		return http.StatusServiceUnavailable
	case dispatcherr.CodeFatal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WriteError maps err to dispatchd's error envelope and writes it,
// using correlationID threaded from the request's middleware-assigned
// correlation ID.
func WriteError(w http.ResponseWriter, correlationID string, err error) {
	var derr *dispatcherr.Error
	code := dispatcherr.CodeFatal
	message := "internal error"
	var details any

	if errors.As(err, &derr) {
		code = derr.Code
		message = derr.Message
		if derr.Code == dispatcherr.CodeVersionConflict && derr.Current != nil {
			details = versionConflictDetails{Current: derr.Current}
		}
	} else if err != nil {
		message = err.Error()
	}

	WriteJSON(w, statusForCode(code), Problem{
		Code:          string(code),
		Message:       message,
		CorrelationID: correlationID,
		Details:       details,
	})
}

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// DecodeJSONBody decodes the request body into dst, writing a 400
// Problem and returning false on malformed JSON.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, correlationID, dispatcherr.Validation("malformed JSON body: "+err.Error()))
		return false
	}
	return true
}

// validationError is a shorthand for handlers reporting a malformed
// request that never made it to a component call.
func validationError(message string) error {
	return dispatcherr.Validation(message)
}
