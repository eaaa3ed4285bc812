package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vcmarket/apiserver/internal/catalog"
	"github.com/vcmarket/apiserver/internal/services"
	"github.com/vcmarket/apiserver/internal/upload"
	"github.com/vcmarket/apiserver/types"
)

// UserHandler provides profile and moderation endpoints.
type UserHandler struct {
	catalog *catalog.Store
	users   *services.UserService
}

func NewUserHandler(cat *catalog.Store, users *services.UserService) *UserHandler {
	return &UserHandler{catalog: cat, users: users}
}

// UserRouter registers user routes on the given router.
func UserRouter(r chi.Router, h *UserHandler, requireAuth func(http.Handler) http.Handler) {
	r.With(requireAuth).Get("/", h.Roster)
	r.With(requireAuth).Put("/me", h.UpdateProfile)
	r.With(requireAuth).Post("/me/avatar", h.UploadAvatar)
	r.Get("/{userID}", h.GetUser)
	r.With(requireAuth).Patch("/{userID}", h.AdminUpdate)
}

// Roster returns the most recent user records for the admin dashboard.
func (h *UserHandler) Roster(w http.ResponseWriter, r *http.Request) {
	release, err := h.catalog.WatchRoster(r.Context(), actorFromContext(r.Context()))
	if err != nil {
		if errors.Is(err, catalog.ErrForbidden) {
			writeError(w, http.StatusForbidden, services.Message(services.ErrPermissionDenied))
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load users")
		return
	}
	defer release()

	users := h.catalog.Roster()
	if users == nil {
		users = []types.User{}
	}
	writeJSON(w, http.StatusOK, UserListResponse{Users: users})
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetByID(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// AdminUpdate applies a role, mute or ban change.
func (h *UserHandler) AdminUpdate(w http.ResponseWriter, r *http.Request) {
	var change services.UserChange
	if err := decodeJSON(r, &change); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := h.users.AdminUpdate(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "userID"), change); err != nil {
		writeServiceError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "User updated.")
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var change services.ProfileChange
	if err := decodeJSON(r, &change); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := h.users.UpdateProfile(r.Context(), actorFromContext(r.Context()), change); err != nil {
		writeServiceError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Profile updated!")
}

// UploadAvatar accepts a multipart "avatar" file of at most 2MB.
func (h *UserHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, upload.AvatarLimit+1<<20)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	files := r.MultipartForm.File[formFieldAvatar]
	if len(files) != 1 {
		writeError(w, http.StatusBadRequest, "exactly one avatar file is required")
		return
	}
	local, err := spoolHeader(files[0], upload.AvatarLimit)
	if err != nil {
		writeUploadError(w, err, upload.AvatarLimit)
		return
	}

	url, err := h.users.UploadAvatar(r.Context(), actorFromContext(r.Context()), local)
	if err != nil {
		if services.IsUploadError(err) {
			writeError(w, http.StatusBadRequest, upload.Message(err, upload.AvatarLimit))
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AvatarResponse{ProfilePic: url, Message: "Profile picture updated successfully!"})
}

type UserListResponse struct {
	Users []types.User `json:"users"`
}

type AvatarResponse struct {
	ProfilePic string `json:"profilePic"`
	Message    string `json:"message"`
}
