package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vcmarket/apiserver/internal/auth"
	"github.com/vcmarket/apiserver/internal/permissions"
	"github.com/vcmarket/apiserver/internal/session"
	"github.com/vcmarket/apiserver/types"
)

// AuthHandler provides the sign-in endpoints over the session registry.
type AuthHandler struct {
	registry *session.Registry
	limiter  *ipLimiter
	logger   *zap.Logger
}

// NewAuthHandler constructs an AuthHandler. Auth attempts are limited to
// ratePerMinute per client address.
func NewAuthHandler(registry *session.Registry, ratePerMinute int, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		registry: registry,
		limiter:  newIPLimiter(ratePerMinute),
		logger:   logger,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, h *AuthHandler) {
	r.With(h.limiter.middleware).Post("/register", h.Register)
	r.With(h.limiter.middleware).Post("/login", h.Login)
	r.With(h.RequireAuth).Post("/logout", h.Logout)
	r.With(h.RequireAuth).Get("/me", h.Me)
}

// Authenticate resolves a bearer token, when present, to its session
// controller. Requests without a token pass through anonymously.
func (h *AuthHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		c, err := h.registry.Resolve(r.Context(), token)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withController(r.Context(), token, c)))
	})
}

// RequireAuth rejects requests without a signed-in controller.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return h.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := controllerFromContext(r.Context())
		if !ok || c.State() != session.SignedIn {
			writeError(w, http.StatusUnauthorized, session.Message(session.ErrNotSignedIn))
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// Register creates an account and signs it in.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	c, identity, err := h.registry.Register(r.Context(), req.Input, req.Password)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	h.logger.Info("user registered", zap.String("user_id", identity.UserID))
	writeJSON(w, http.StatusCreated, AuthResponse{
		Token:     identity.Token,
		ExpiresAt: identity.ExpiresAt,
		User:      c.Actor(),
		Message:   "Registered! You are now logged in.",
	})
}

// Login verifies credentials and returns a session token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	c, identity, err := h.registry.SignIn(r.Context(), req.Input, req.Password)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{
		Token:     identity.Token,
		ExpiresAt: identity.ExpiresAt,
		User:      c.Actor(),
		Message:   "Logged in!",
	})
}

// Logout revokes the caller's token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.SignOut(r.Context(), tokenFromContext(r.Context())); err != nil {
		writeSessionError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Logged out.")
}

// Me returns the caller's profile and capabilities.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	c, _ := controllerFromContext(r.Context())
	identity, _ := c.Identity()
	actor := c.Actor()
	resp := MeResponse{UserID: identity.UserID, Email: identity.Email, User: actor, Capabilities: []permissions.Capability{}}
	if actor != nil {
		resp.Capabilities = permissions.Capabilities(actor.Role)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeSessionError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var ae *session.AuthError
	switch {
	case errors.Is(err, session.ErrEmptyInput), errors.Is(err, session.ErrInvalidEmail):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrWrongPassword), errors.Is(err, session.ErrNotSignedIn):
		status = http.StatusUnauthorized
	case errors.Is(err, session.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrBanned):
		status = http.StatusForbidden
	case errors.Is(err, session.ErrBusy):
		status = http.StatusConflict
	case errors.As(err, &ae) && ae.Code == auth.CodeEmailAlreadyInUse:
		status = http.StatusConflict
	case errors.As(err, &ae) && ae.Code != "":
		status = http.StatusBadRequest
	}
	writeError(w, status, session.Message(err))
}

// CredentialsRequest is a username-or-email plus password.
type CredentialsRequest struct {
	Input    string `json:"input"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *types.User `json:"user"`
	Message   string      `json:"message"`
}

type MeResponse struct {
	UserID       string                   `json:"uid"`
	Email        string                   `json:"email"`
	User         *types.User              `json:"user"`
	Capabilities []permissions.Capability `json:"capabilities"`
}
