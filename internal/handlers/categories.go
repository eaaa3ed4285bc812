package handlers

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/vcmarket/apiserver/internal/services"
)

// CategoryHandler manages the category list.
type CategoryHandler struct {
	categories *services.CategoryService
}

func NewCategoryHandler(categories *services.CategoryService) *CategoryHandler {
	return &CategoryHandler{categories: categories}
}

// CategoryRouter registers category routes on the given router.
func CategoryRouter(r chi.Router, h *CategoryHandler, requireAuth func(http.Handler) http.Handler) {
	r.Get("/", h.List)
	r.With(requireAuth).Post("/", h.Add)
	r.With(requireAuth).Delete("/{name}", h.Remove)
}

func (h *CategoryHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CategoriesResponse{Categories: h.categories.List()})
}

func (h *CategoryHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req CategoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	cats, err := h.categories.Add(r.Context(), actorFromContext(r.Context()), req.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CategoriesResponse{Categories: cats})
}

// Remove deletes a category. The client confirms with ?confirm=true.
func (h *CategoryHandler) Remove(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid category name")
		return
	}
	cats, err := h.categories.Remove(r.Context(), actorFromContext(r.Context()), name, confirmed(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CategoriesResponse{Categories: cats})
}

type CategoryRequest struct {
	Name string `json:"name"`
}

type CategoriesResponse struct {
	Categories []string `json:"categories"`
}
