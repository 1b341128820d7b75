package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"shalomjobs.org/internal/auth"
	"shalomjobs.org/internal/messaging"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorWith(w, r, code, msg, nil)
}

func writeErrorWith(w http.ResponseWriter, r *http.Request, code int, msg string, extra map[string]any) {
	payload := map[string]any{
		"error": msg,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// handleServiceError maps domain errors to HTTP statuses.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		locked   *auth.LockedError
		rejected *auth.RejectedError
		invalid  *auth.ValidationError
	)
	switch {
	case errors.As(err, &locked):
		w.Header().Set("Retry-After", strconv.Itoa(locked.RemainingMinutes*60))
		writeErrorWith(w, r, http.StatusLocked, locked.Error(), map[string]any{
			"remaining_minutes": locked.RemainingMinutes,
			"locked_until":      locked.Until,
		})
	case errors.As(err, &rejected):
		writeErrorWith(w, r, http.StatusUnauthorized, "invalid email or password", map[string]any{
			"remaining_attempts": rejected.RemainingAttempts,
		})
	case errors.As(err, &invalid):
		writeErrorWith(w, r, http.StatusBadRequest, "validation failed", map[string]any{
			"errors": invalid.Problems,
		})
	case errors.Is(err, auth.ErrReservedEmail):
		writeError(w, r, http.StatusConflict, "this email address is reserved")
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "an account with this email already exists")
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, messaging.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), "messaging: "))
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, messaging.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "invalid or expired session")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
