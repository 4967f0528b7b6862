// Package httpapi exposes the account, contact and history REST endpoints
// and mounts the realtime gateway.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"pairchat/internal/domain"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeError maps the domain error taxonomy onto HTTP statuses. Anything
// unrecognised is logged and reported as a 500 with fallback as the body.
func writeError(w http.ResponseWriter, log *slog.Logger, err error, fallback string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeErrorMessage(w, http.StatusBadRequest, verr.Reason)
	case errors.Is(err, domain.ErrUnauthorized):
		writeErrorMessage(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, domain.ErrNotFound):
		writeErrorMessage(w, http.StatusNotFound, "User not found")
	case domain.ConflictField(err) == "email":
		writeErrorMessage(w, http.StatusConflict, "User with this email already exists")
	case errors.Is(err, domain.ErrConflict):
		writeErrorMessage(w, http.StatusConflict, err.Error())
	default:
		log.Error(fallback, "err", err)
		writeErrorMessage(w, http.StatusInternalServerError, fallback)
	}
}

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.Invalid("Invalid request body")
	}
	return nil
}
