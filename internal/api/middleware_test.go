package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestLogRequestsTagsTabRoutes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	router := chi.NewMux()
	router.Use(logRequests(func() *slog.Logger { return logger }))
	router.Get("/api/v1/tabs/{tab_id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	router.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/tabs/T7", nil))
	line := buf.String()
	for _, want := range []string{"level=INFO", "tab_id=T7", "route=/api/v1/tabs/{tab_id}", "status=204"} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %q missing %q", line, want)
		}
	}

	buf.Reset()
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	line = buf.String()
	if !strings.Contains(line, "level=WARN") || strings.Contains(line, "tab_id=") {
		t.Fatalf("log line = %q; want a warning without tab_id", line)
	}
}
