package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-batch-sender/internal/errors"
	"github.com/unclebandit/campaign-batch-sender/internal/model"
)

type ErrorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Path    string `json:"path"`
}

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func Error(w http.ResponseWriter, r *http.Request, status int, message, code string) {
	JSON(w, status, ErrorResponse{
		Status:  status,
		Message: message,
		Code:    code,
		Path:    r.URL.Path,
	})
}

// WriteError maps engine errors onto HTTP responses. Unknown errors are
// logged and reported without detail.
func WriteError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, appErrors.ErrAlreadyCompleted):
		JSON(w, http.StatusOK, map[string]any{"success": false, "reason": "already_completed"})
	case appErrors.IsNotFound(err):
		Error(w, r, http.StatusNotFound, err.Error(), "not_found")
	case appErrors.IsInvalidInput(err):
		Error(w, r, http.StatusBadRequest, err.Error(), "invalid_input")
	case appErrors.IsInvalidState(err):
		Error(w, r, http.StatusConflict, err.Error(), "invalid_state")
	case errors.Is(err, appErrors.ErrLockNotAcquired):
		Error(w, r, http.StatusConflict, err.Error(), "campaign_busy")
	case appErrors.IsForbidden(err):
		Error(w, r, http.StatusForbidden, err.Error(), "forbidden")
	default:
		if logger != nil {
			logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		}
		Error(w, r, http.StatusInternalServerError, "internal server error", "")
	}
}

type actorKey struct{}

func WithActor(ctx context.Context, actor model.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the request's actor; requests without one get an actor
// with no permissions.
func ActorFrom(ctx context.Context) model.Actor {
	if actor, ok := ctx.Value(actorKey{}).(model.Actor); ok {
		return actor
	}
	return model.Actor{ID: "anonymous"}
}
