package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	cerrors "github.com/pliu/rentchat/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, cerrors.ErrUserNotFound), errors.Is(err, cerrors.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, cerrors.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, cerrors.ErrDuplicateUser):
		return http.StatusConflict
	case errors.Is(err, cerrors.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, cerrors.ErrInvalidConversation),
		errors.Is(err, cerrors.ErrMalformedEnvelope),
		errors.Is(err, cerrors.ErrKeyFormat):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
		http.Error(w, "Internal server error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func nopIfNil(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
