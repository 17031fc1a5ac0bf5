package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Azure/sap-automation-qa/internal/logger"

	"github.com/google/uuid"
)

// CorrelationHeader carries the request id in both directions.
const CorrelationHeader = "X-Correlation-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush keeps streamed log responses flowing through the recorder.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// RequestID stores the caller's correlation id, or a new one, in the request
// context and echoes it back. Requests are logged at start and end except for
// the paths in quiet.
func RequestID(base *slog.Logger, quiet ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(quiet))
	for _, p := range quiet {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(CorrelationHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(CorrelationHeader, id)
			ctx := logger.WithRequestID(r.Context(), id)
			r = r.WithContext(ctx)

			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			log := logger.FromContext(ctx, base)
			start := time.Now()
			log.Info("request started", "method", r.Method, "path", r.URL.Path)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			log.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
