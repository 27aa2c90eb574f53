// Package envelope defines the JSON wrapper every API response uses.
//
// Success: {"success": true, "message": "...", "data": ...}
// Failure: {"success": false, "error": "..."}
package envelope

import (
	"encoding/json"
	"net/http"
)

// InternalError is the only message a 500 response ever carries.
const InternalError = "Internal server error"

type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type success struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// OK writes a success envelope. data may be nil.
func OK(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, success{Success: true, Message: message, Data: data})
}

// Fail writes an error envelope with msg shown verbatim.
func Fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, failure{Success: false, Error: msg})
}

// Decode parses a response body in the current shape or either legacy
// shape: a bare {"error": ...} object, or {success, message, data} without
// an error field. A body with an error field and no success key is a failure.
func Decode(body []byte) (*Envelope, error) {
	var raw struct {
		Success *bool           `json:"success"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
		Error   *string         `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	env := &Envelope{Message: raw.Message, Data: raw.Data}
	switch {
	case raw.Success != nil:
		env.Success = *raw.Success
	default:
		env.Success = raw.Error == nil
	}
	if raw.Error != nil {
		env.Error = *raw.Error
		env.Success = false
	}
	return env, nil
}
