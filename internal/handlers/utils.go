package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/vcmarket/apiserver/internal/services"
	"github.com/vcmarket/apiserver/internal/session"
	"github.com/vcmarket/apiserver/types"
)

type contextKey string

const (
	contextControllerKey contextKey = "controller"
	contextTokenKey      contextKey = "token"
)

const maxJSONBody = 1 << 20

// ErrorResponse is a simple error payload. Error holds the toast text.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse is a simple success payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// ValidationResponse carries per-field messages.
type ValidationResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields"`
}

func withController(ctx context.Context, token string, c *session.Controller) context.Context {
	ctx = context.WithValue(ctx, contextTokenKey, token)
	return context.WithValue(ctx, contextControllerKey, c)
}

func controllerFromContext(ctx context.Context) (*session.Controller, bool) {
	c, ok := ctx.Value(contextControllerKey).(*session.Controller)
	return c, ok && c != nil
}

func tokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(contextTokenKey).(string)
	return token
}

// actorFromContext returns the signed-in profile, or nil for anonymous
// requests.
func actorFromContext(ctx context.Context) *types.User {
	c, ok := controllerFromContext(ctx)
	if !ok {
		return nil
	}
	return c.Actor()
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, MessageResponse{Message: message})
}

// writeServiceError maps a mutation failure to a status and toast.
func writeServiceError(w http.ResponseWriter, err error) {
	var ve *services.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, ValidationResponse{Error: services.Message(err), Fields: ve.Fields})
		return
	}
	writeError(w, serviceStatus(err), services.Message(err))
}

func serviceStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrPermissionDenied),
		errors.Is(err, services.ErrMuted),
		errors.Is(err, services.ErrSelfRating):
		return http.StatusForbidden
	case errors.Is(err, services.ErrItemNotFound),
		errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrCategoryNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrDuplicateCategory):
		return http.StatusConflict
	case errors.Is(err, services.ErrNotConfirmed):
		return http.StatusPreconditionRequired
	case services.IsUploadError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBody))
	return dec.Decode(v)
}

// confirmed reports whether the request carries ?confirm=true.
func confirmed(r *http.Request) bool {
	ok, _ := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get("confirm")))
	return ok
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
