package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/flock/internal/account"
	"github.com/dukerupert/flock/internal/auth"
	"github.com/dukerupert/flock/internal/envelope"
	"github.com/dukerupert/flock/internal/middleware"
	"github.com/dukerupert/flock/internal/store"
)

const maxBodyBytes = 1 << 20

func respondOK(w http.ResponseWriter, status int, message string, data any) {
	envelope.OK(w, status, message, data)
}

func badRequest(w http.ResponseWriter, msg string) {
	envelope.Fail(w, http.StatusBadRequest, msg)
}

func notFound(w http.ResponseWriter) {
	envelope.Fail(w, http.StatusNotFound, "not found")
}

func forbidden(w http.ResponseWriter) {
	envelope.Fail(w, http.StatusForbidden, "forbidden")
}

// respondError is the single place where error kinds become HTTP statuses.
// Anything unrecognised is logged and reported as a generic 500.
func respondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var ve *account.ValidationError
	switch {
	case errors.As(err, &ve):
		envelope.Fail(w, http.StatusBadRequest, ve.Message)
	case errors.Is(err, account.ErrDuplicateEmail):
		envelope.Fail(w, http.StatusConflict, account.ErrDuplicateEmail.Error())
	case errors.Is(err, account.ErrInvalidCredentials):
		envelope.Fail(w, http.StatusUnauthorized, account.ErrInvalidCredentials.Error())
	case errors.Is(err, account.ErrExpiredOrInvalidToken):
		envelope.Fail(w, http.StatusBadRequest, account.ErrExpiredOrInvalidToken.Error())
	case errors.Is(err, account.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		envelope.Fail(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, account.ErrForbidden):
		forbidden(w)
	case errors.Is(err, store.ErrNotFound):
		notFound(w)
	case errors.Is(err, store.ErrDuplicate):
		envelope.Fail(w, http.StatusConflict, "already exists")
	case errors.Is(err, store.ErrInUse):
		badRequest(w, "record is still in use")
	case errors.Is(err, store.ErrPledgeClosed):
		badRequest(w, "pledge is not open")
	default:
		respondInternal(w, r, logger, err)
	}
}

func respondInternal(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	logger.ErrorContext(r.Context(), "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.RequestIDFrom(r.Context()),
		"error", err,
	)
	envelope.Fail(w, http.StatusInternalServerError, envelope.InternalError)
}

// decodeJSON reads a JSON body into dst, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		badRequest(w, "invalid JSON")
		return false
	}
	return true
}

func parseIDParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}

// pathID parses a positive path id, writing a 400 when it is not one.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := parseIDParam(r, name)
	if err != nil || id <= 0 {
		badRequest(w, "invalid "+name)
		return 0, false
	}
	return id, true
}

// queryID parses an optional positive id from the query string.
func queryID(r *http.Request, name string) (*int64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return nil, false
	}
	return &id, true
}

func validDate(s string) bool {
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}
