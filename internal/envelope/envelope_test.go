package envelope

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOK(t *testing.T) {
	rec := httptest.NewRecorder()
	OK(rec, http.StatusCreated, "created", map[string]int{"id": 3})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q", ct)
	}
	want := `{"success":true,"message":"created","data":{"id":3}}` + "\n"
	if rec.Body.String() != want {
		t.Errorf("body = %s, want %s", rec.Body.String(), want)
	}
}

func TestFail(t *testing.T) {
	rec := httptest.NewRecorder()
	Fail(rec, http.StatusUnauthorized, "unauthorized")

	want := `{"success":false,"error":"unauthorized"}` + "\n"
	if rec.Body.String() != want {
		t.Errorf("body = %s, want %s", rec.Body.String(), want)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantSuccess bool
		wantError   string
		wantMessage string
		wantData    string
	}{
		{"current success", `{"success":true,"message":"ok","data":{"a":1}}`, true, "", "ok", `{"a":1}`},
		{"current failure", `{"success":false,"error":"nope"}`, false, "nope", "", ""},
		{"legacy error", `{"error":"Invalid credentials"}`, false, "Invalid credentials", "", ""},
		{"legacy success without flag", `{"message":"sent"}`, true, "", "sent", ""},
		{"legacy hook failure", `{"success":false,"message":"failed"}`, false, "", "failed", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.body))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if env.Success != tt.wantSuccess {
				t.Errorf("success = %v, want %v", env.Success, tt.wantSuccess)
			}
			if env.Error != tt.wantError {
				t.Errorf("error = %q, want %q", env.Error, tt.wantError)
			}
			if env.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", env.Message, tt.wantMessage)
			}
			if string(env.Data) != tt.wantData {
				t.Errorf("data = %s, want %s", env.Data, tt.wantData)
			}
		})
	}
}

func TestDecodeRejectsNonJSON(t *testing.T) {
	if _, err := Decode([]byte("<html>")); err == nil {
		t.Fatal("expected error")
	}
}
