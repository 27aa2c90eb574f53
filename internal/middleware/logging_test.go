package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/members/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	})
	h := RequestID(RequestLogger(logger)(mux))

	req := httptest.NewRequest("GET", "/api/members/7", nil)
	req.RemoteAddr = "192.0.2.9:5555"
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	checks := map[string]any{
		"level":  "WARN",
		"msg":    "request",
		"method": "GET",
		"path":   "/api/members/7",
		"route":  "GET /api/members/{id}",
		"status": float64(404),
		"bytes":  float64(7),
		"remote": "192.0.2.9",
	}
	for k, want := range checks {
		if line[k] != want {
			t.Errorf("%s = %v, want %v", k, line[k], want)
		}
	}
	if id, _ := line["request_id"].(string); id == "" {
		t.Error("missing request_id")
	}
}

func TestRequestLoggerLevels(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusBadRequest, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))
		h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

		var line map[string]any
		if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		if line["level"] != tt.want {
			t.Errorf("status %d logged at %v, want %s", tt.status, line["level"], tt.want)
		}
		if _, ok := line["route"]; ok {
			t.Error("route should be absent without a mux")
		}
	}
}
