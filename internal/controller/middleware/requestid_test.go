package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Azure/sap-automation-qa/internal/logger"
)

func TestRequestID_PropagatesCallerID(t *testing.T) {
	var seen string
	handler := RequestID(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = logger.RequestIDFromContext(r.Context())
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set(CorrelationHeader, "abc-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen != "abc-123" {
		t.Errorf("got request id %q in context, want %q", seen, "abc-123")
	}
	if got := rr.Header().Get(CorrelationHeader); got != "abc-123" {
		t.Errorf("got response header %q, want %q", got, "abc-123")
	}
}

func TestRequestID_GeneratesID(t *testing.T) {
	handler := RequestID(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))

	if got := rr.Header().Get(CorrelationHeader); len(got) != 36 {
		t.Errorf("expected a generated uuid, got %q", got)
	}
}

func TestRequestID_LogsRequestsExceptQuietPaths(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))
	handler := RequestID(base, "/api/v1/healthz")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/healthz", nil))
	if buf.Len() != 0 {
		t.Fatalf("expected no log lines for health probe, got %q", buf.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", nil)
	req.Header.Set(CorrelationHeader, "req-7")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{"request started", "request completed", "status=409", "request_id=req-7"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}
