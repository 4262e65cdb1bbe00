package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/changegate/pkg/audit"
	"github.com/Mindburn-Labs/changegate/pkg/auth"
	"github.com/Mindburn-Labs/changegate/pkg/changes"
	"github.com/Mindburn-Labs/changegate/pkg/contracts"
)

const maxBodyBytes = 1 << 20

// Handler serves the change request API.
type Handler struct {
	svc    *changes.Service
	roles  auth.RoleProvider
	logger *slog.Logger
}

func NewHandler(svc *changes.Service, roles auth.RoleProvider) *Handler {
	return &Handler{svc: svc, roles: roles, logger: slog.Default().With("component", "api")}
}

// Routes registers the API routes. Every route requires an actor.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/change-requests", h.handleCreate)
	mux.HandleFunc("GET /api/v1/change-requests", h.handleList)
	mux.HandleFunc("GET /api/v1/change-requests/{id}", h.handleGet)
	mux.HandleFunc("PATCH /api/v1/change-requests/{id}", h.handleUpdate)
	mux.HandleFunc("POST /api/v1/change-requests/{id}/submit", h.handleSubmit)
	mux.HandleFunc("POST /api/v1/change-requests/{id}/approve", h.handleApprove)
	mux.HandleFunc("POST /api/v1/change-requests/{id}/reject", h.handleReject)
	mux.HandleFunc("POST /api/v1/change-requests/{id}/start", h.handleStart)
	mux.HandleFunc("POST /api/v1/change-requests/{id}/close", h.handleClose)
	mux.HandleFunc("POST /api/v1/change-requests/{id}/risk-assessment", h.handleRiskAssessment)
	mux.HandleFunc("GET /api/v1/change-requests/{id}/audit", h.handleAudit)
	mux.HandleFunc("GET /api/v1/risk/questions", h.handleGetQuestions)
	mux.HandleFunc("PUT /api/v1/risk/questions", h.handleSetQuestions)
	mux.HandleFunc("GET /api/v1/risk/thresholds", h.handleGetThresholds)
	mux.HandleFunc("PUT /api/v1/risk/thresholds", h.handleSetThresholds)
	return ActorMiddleware(h.roles, mux)
}

// ServerOptions configures NewServer.
type ServerOptions struct {
	RateLimiter    *GlobalRateLimiter
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// NewServer assembles the full HTTP handler: health, metrics and the API
// behind request ids, logging and rate limiting.
func NewServer(h *Handler, opts ServerOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	root := http.NewServeMux()
	root.HandleFunc("GET /health", HandleHealth)
	if opts.MetricsHandler != nil {
		root.Handle("GET /metrics", opts.MetricsHandler)
	}

	apiHandler := h.Routes()
	if opts.RateLimiter != nil {
		apiHandler = opts.RateLimiter.Middleware(apiHandler)
	}
	root.Handle("/api/", apiHandler)

	return auth.RequestIDMiddleware(LoggingMiddleware(logger, root))
}

// HandleHealth reports liveness.
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in changes.CreateInput
	if !decode(w, r, &in) {
		return
	}
	cr, err := h.svc.Create(r.Context(), in, auth.ActorID(r.Context()))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/change-requests/"+cr.ID)
	writeJSON(w, http.StatusCreated, cr)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	f, page, limit, err := parseListQuery(r)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	p, err := h.svc.List(r.Context(), f, page, limit)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	cr, err := h.svc.Get(r.Context(), r.PathValue("id"))
	h.respond(w, r, cr, err)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var in changes.UpdateInput
	if !decode(w, r, &in) {
		return
	}
	cr, err := h.svc.Update(r.Context(), r.PathValue("id"), in, auth.ActorID(r.Context()))
	h.respond(w, r, cr, err)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	cr, err := h.svc.Submit(r.Context(), r.PathValue("id"), auth.ActorID(r.Context()))
	h.respond(w, r, cr, err)
}

type approveRequest struct {
	AssignTo string `json:"assign_to"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	cr, err := h.svc.Approve(r.Context(), r.PathValue("id"), auth.ActorID(r.Context()), req.AssignTo)
	h.respond(w, r, cr, err)
}

type reasonRequest struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decode(w, r, &req) {
		return
	}
	cr, err := h.svc.Reject(r.Context(), r.PathValue("id"), auth.ActorID(r.Context()), req.Reason)
	h.respond(w, r, cr, err)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	cr, err := h.svc.BeginImplementation(r.Context(), r.PathValue("id"), auth.ActorID(r.Context()))
	h.respond(w, r, cr, err)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decode(w, r, &req) {
		return
	}
	cr, err := h.svc.Close(r.Context(), r.PathValue("id"), auth.ActorID(r.Context()), req.Reason, req.Notes)
	h.respond(w, r, cr, err)
}

type assessmentRequest struct {
	Answers []contracts.AssessmentAnswer `json:"answers"`
}

func (h *Handler) handleRiskAssessment(w http.ResponseWriter, r *http.Request) {
	var req assessmentRequest
	if !decode(w, r, &req) {
		return
	}
	cr, err := h.svc.CompleteRiskAssessment(r.Context(), r.PathValue("id"), req.Answers, auth.ActorID(r.Context()))
	h.respond(w, r, cr, err)
}

// AuditResponse is the body of GET .../audit.
type AuditResponse struct {
	ID         string                 `json:"id"`
	Entries    []contracts.AuditEntry `json:"entries"`
	ChainValid bool                   `json:"chain_valid"`
	ChainError string                 `json:"chain_error,omitempty"`
	ChainHead  string                 `json:"chain_head"`
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	cr, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	resp := AuditResponse{ID: cr.ID, Entries: cr.Audit, ChainValid: true, ChainHead: audit.Head(cr.Audit)}
	if err := audit.Verify(cr.Audit); err != nil {
		h.logger.WarnContext(r.Context(), "audit chain verification failed", "id", cr.ID, "error", err)
		resp.ChainValid = false
		resp.ChainError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetQuestions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.RiskQuestions())
}

func (h *Handler) handleSetQuestions(w http.ResponseWriter, r *http.Request) {
	var qs []contracts.RiskAssessmentQuestion
	if !decode(w, r, &qs) {
		return
	}
	if err := h.svc.SetRiskQuestions(r.Context(), qs, auth.ActorID(r.Context())); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.RiskQuestions())
}

func (h *Handler) handleGetThresholds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.RiskThresholds())
}

func (h *Handler) handleSetThresholds(w http.ResponseWriter, r *http.Request) {
	var ts []contracts.RiskThreshold
	if !decode(w, r, &ts) {
		return
	}
	if err := h.svc.SetRiskThresholds(r.Context(), ts, auth.ActorID(r.Context())); err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.RiskThresholds())
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, cr *contracts.ChangeRequest, err error) {
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body of at most 1 MiB. Unknown fields are rejected.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			WriteErrorR(w, r, http.StatusRequestEntityTooLarge, "Request Entity Too Large", "request body exceeds 1 MiB")
		case errors.Is(err, io.EOF):
			WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "request body is required")
		default:
			WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
		}
		return false
	}
	return true
}

// decodeOptional is decode for endpoints whose body may be empty.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decode(w, r, v)
}

// parseListQuery reads status, created_by, assigned_to, from, to, q, page
// and limit. Dates are RFC 3339 timestamps or plain YYYY-MM-DD days.
func parseListQuery(r *http.Request) (changes.Filter, int, int, error) {
	q := r.URL.Query()
	f := changes.Filter{
		CreatedBy:  q.Get("created_by"),
		AssignedTo: q.Get("assigned_to"),
		Search:     q.Get("q"),
	}
	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Statuses = append(f.Statuses, contracts.ChangeStatus(s))
			}
		}
	}
	var err error
	if f.From, err = parseDate("from", q.Get("from"), false); err != nil {
		return f, 0, 0, err
	}
	if f.To, err = parseDate("to", q.Get("to"), true); err != nil {
		return f, 0, 0, err
	}
	page, err := parseInt("page", q.Get("page"))
	if err != nil {
		return f, 0, 0, err
	}
	limit, err := parseInt("limit", q.Get("limit"))
	if err != nil {
		return f, 0, 0, err
	}
	return f, page, limit, nil
}

// parseDate accepts RFC 3339 or a calendar day. A day used as an upper
// bound covers the whole day.
func parseDate(field, raw string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, &contracts.ValidationError{Field: field, Reason: fmt.Sprintf("%q is not an RFC 3339 time or YYYY-MM-DD date", raw)}
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func parseInt(field, raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &contracts.ValidationError{Field: field, Reason: fmt.Sprintf("%q is not a number", raw)}
	}
	return n, nil
}
