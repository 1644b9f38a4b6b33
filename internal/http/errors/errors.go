// Package errors writes JSON error responses and logs the cause with the request id.
package errors

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jw6ventures/planner/internal/logging"
)

type errorBody struct {
	Error string `json:"error"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Write responds with {"error": message}.
func Write(w http.ResponseWriter, status int, message string) {
	JSON(w, status, errorBody{Error: message})
}

func InternalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	LogError(r, message, err)
	// Return generic error to client
	Write(w, http.StatusInternalServerError, "internal server error")
}

func BadRequestError(w http.ResponseWriter, r *http.Request, err error, clientMessage string) {
	logger(r).Warn("bad request", "error", err)
	Write(w, http.StatusBadRequest, clientMessage)
}

func LogError(r *http.Request, message string, err error) {
	logger(r).Error(message, "error", err)
}

func LogInfo(r *http.Request, message string, args ...any) {
	logger(r).Info(message, args...)
}

func logger(r *http.Request) *slog.Logger {
	l := logging.FromContext(r.Context())
	if requestID := middleware.GetReqID(r.Context()); requestID != "" {
		l = l.With("request_id", requestID)
	}
	return l
}
