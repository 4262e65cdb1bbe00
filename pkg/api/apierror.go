// Package api is the HTTP transport of changegate: JSON handlers over the
// change request service, RFC 7807 error responses and request middleware.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/changegate/pkg/auth"
	"github.com/Mindburn-Labs/changegate/pkg/contracts"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// TraceID echoes the X-Request-ID of the failed request.
	TraceID string `json:"trace_id,omitempty"`
	// Kind is the engine error kind, e.g. "invalid_transition".
	Kind string `json:"kind,omitempty"`
	// Field names the offending input field of a validation error.
	Field string `json:"field,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func problemType(status int) string {
	return fmt.Sprintf("urn:changegate:problem:%d", status)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:   problemType(status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteErrorR writes an RFC 7807 response enriched with request context
// (trace_id from X-Request-ID, instance from the request path).
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:     problemType(status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get(auth.RequestIDHeader),
	})
}

func writeProblem(w http.ResponseWriter, p *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but never exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// WriteServiceError maps an engine error onto its HTTP status. Errors of
// no known kind are logged and reported as 500 without detail.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var title string
	switch {
	case errors.Is(err, contracts.ErrNotFound):
		status, title = http.StatusNotFound, "Not Found"
	case errors.Is(err, contracts.ErrValidation):
		status, title = http.StatusBadRequest, "Validation Failed"
	case errors.Is(err, contracts.ErrInvalidTransition):
		status, title = http.StatusConflict, "Invalid Transition"
	case errors.Is(err, contracts.ErrAmbiguousID):
		status, title = http.StatusConflict, "Ambiguous Identifier"
	case errors.Is(err, contracts.ErrConflict):
		status, title = http.StatusConflict, "Conflict"
	case errors.Is(err, contracts.ErrForbidden):
		status, title = http.StatusForbidden, "Forbidden"
	case errors.Is(err, contracts.ErrConfiguration):
		status, title = http.StatusUnprocessableEntity, "Invalid Configuration"
	default:
		slog.ErrorContext(r.Context(), "internal server error", "error", err, "path", r.URL.Path)
		WriteErrorR(w, r, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
		return
	}

	p := &ProblemDetail{
		Type:     problemType(status),
		Title:    title,
		Status:   status,
		Detail:   err.Error(),
		Instance: r.URL.Path,
		TraceID:  w.Header().Get(auth.RequestIDHeader),
		Kind:     contracts.ErrorKind(err),
	}
	var ve *contracts.ValidationError
	if errors.As(err, &ve) {
		p.Field = ve.Field
	}
	writeProblem(w, p)
}
