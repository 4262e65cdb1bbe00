package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Mindburn-Labs/changegate/pkg/auth"
)

// ActorHeader carries the id of the acting user. Authentication happens in
// front of changegate; the header is trusted as given.
const ActorHeader = "X-Actor-ID"

// ActorMiddleware attaches the caller as an auth.Principal. Requests without
// an actor are rejected with 401.
func ActorMiddleware(roles auth.RoleProvider, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actorID := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actorID == "" {
			WriteUnauthorized(w, "missing "+ActorHeader+" header")
			return
		}
		role, err := roles.RoleOf(r.Context(), actorID)
		if err != nil {
			WriteInternal(w, err)
			return
		}
		ctx := auth.WithPrincipal(r.Context(), &auth.Actor{ID: actorID, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs one line per request.
func LoggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", auth.GetRequestID(r.Context()),
		)
	})
}
