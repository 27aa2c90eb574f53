package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/flock/internal/auth"
)

var testSecret = []byte("middleware-test-secret-0123456789")

func issue(t *testing.T, codec *auth.Codec, role string) string {
	t.Helper()
	tok, err := codec.Issue(auth.Identity{UserID: 4, ChurchID: 2, BranchID: 3, Role: role})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func TestRequireAuth(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	codec := auth.NewCodec(testSecret, time.Hour, auth.WithClock(func() time.Time { return now }))
	valid := issue(t, codec, "member")

	handler := RequireAuth(codec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := auth.FromContext(r.Context())
		if !ok {
			t.Fatal("missing auth context")
		}
		if ac.UserID != 4 || ac.ChurchID != 2 || ac.BranchID != 3 || ac.Role != "member" {
			t.Errorf("auth context = %+v", ac)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + valid, http.StatusNoContent},
		{"lowercase scheme", "bearer " + valid, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"tampered", "Bearer " + valid[:len(valid)-2] + "xx", http.StatusUnauthorized},
		{"garbage", "Bearer not.a.jwt", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/members", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && rec.Body.String() != `{"success":false,"error":"unauthorized"}`+"\n" {
				t.Errorf("body = %s", rec.Body.String())
			}
		})
	}
}

func TestRequireAuthExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	codec := auth.NewCodec(testSecret, time.Hour, auth.WithClock(func() time.Time { return now }))
	tok := issue(t, codec, "admin")
	now = now.Add(time.Hour)

	handler := RequireAuth(codec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRoleGates(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name string
		gate func(http.Handler) http.Handler
		role string
		want int
	}{
		{"admin passes admin gate", RequireAdmin, "admin", http.StatusOK},
		{"branch admin fails admin gate", RequireAdmin, "branch_admin", http.StatusForbidden},
		{"member fails admin gate", RequireAdmin, "member", http.StatusForbidden},
		{"branch admin passes staff gate", RequireStaff, "branch_admin", http.StatusOK},
		{"member fails staff gate", RequireStaff, "member", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req = req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{UserID: 1, ChurchID: 1, Role: tt.role}))
			rec := httptest.NewRecorder()
			tt.gate(ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRequestIDAndLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	var seen string
	handler := RequestID(RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if seen == "" {
		t.Fatal("expected a request id in context")
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("header = %q, want %q", got, seen)
	}
	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "status=418") || !strings.Contains(out, "request_id="+seen) {
		t.Errorf("unexpected log line: %s", out)
	}

	// A valid inbound id is kept; junk is replaced.
	const inbound = "6f1c2f0e-8a57-4a43-9d2b-3b8e3f0f9a10"
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, inbound)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != inbound {
		t.Errorf("request id = %q, want inbound %q", seen, inbound)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "<script>")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "<script>" {
		t.Error("malformed inbound id should be replaced")
	}
}
