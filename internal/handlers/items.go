package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vcmarket/apiserver/internal/catalog"
	"github.com/vcmarket/apiserver/internal/rating"
	"github.com/vcmarket/apiserver/internal/services"
	"github.com/vcmarket/apiserver/internal/upload"
	"github.com/vcmarket/apiserver/types"
)

const (
	defaultPage        = 1
	maxMultipartMemory = 32 << 20
	maxImagesBody      = (upload.MaxGallery+1)*upload.FormImageLimit + 1<<20
	formFieldCover     = "cover"
	formFieldGallery   = "gallery"
	formFieldAvatar    = "avatar"
)

// ItemHandler provides HTTP handlers for listings.
type ItemHandler struct {
	catalog  *catalog.Store
	items    *services.ItemService
	views    services.ViewCloser
	pageSize int
	logger   *zap.Logger
}

// NewItemHandler constructs a handler over the catalog mirror. views closes
// detail dialogs showing a deleted item; it may be nil.
func NewItemHandler(cat *catalog.Store, items *services.ItemService, views services.ViewCloser, pageSize int, logger *zap.Logger) *ItemHandler {
	if pageSize <= 0 {
		pageSize = catalog.DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemHandler{catalog: cat, items: items, views: views, pageSize: pageSize, logger: logger}
}

// ItemRouter registers item routes on the given router.
func ItemRouter(r chi.Router, h *ItemHandler, requireAuth func(http.Handler) http.Handler) {
	r.Get("/", h.ListItems)
	r.Get("/featured", h.Featured)
	r.With(requireAuth).Post("/", h.CreateItem)
	r.With(requireAuth).Post("/images", h.UploadImages)
	r.Route("/{itemID}", func(r chi.Router) {
		r.Get("/", h.GetItem)
		r.With(requireAuth).Put("/", h.UpdateItem)
		r.With(requireAuth).Delete("/", h.DeleteItem)
		r.With(requireAuth).Post("/feature", h.ToggleFeatured)
		r.With(requireAuth).Put("/rating", h.RateItem)
	})
}

// ListItems returns one page of the filtered, sorted catalog.
func (h *ItemHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	f := catalog.Filter{Search: q.Get("q"), Category: q.Get("cat")}
	view := catalog.BuildView(h.catalog.Items(), f, catalog.ParseSort(q.Get("sort")), page, h.pageSize)
	writeJSON(w, http.StatusOK, view)
}

// Featured returns the featured items, newest first.
func (h *ItemHandler) Featured(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ItemListResponse{Items: h.catalog.Featured()})
}

func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	it, ok := h.catalog.Item(chi.URLParam(r, "itemID"))
	if !ok {
		writeError(w, http.StatusNotFound, services.Message(services.ErrItemNotFound))
		return
	}
	writeJSON(w, http.StatusOK, ItemResponse{Item: it, AverageRating: averageRating(it)})
}

func (h *ItemHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var d services.Draft
	if err := decodeJSON(r, &d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	d.ID = ""
	id, err := h.items.Submit(r.Context(), actorFromContext(r.Context()), d)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SubmitResponse{ID: id, Message: "Posted!"})
}

func (h *ItemHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var d services.Draft
	if err := decodeJSON(r, &d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	d.ID = chi.URLParam(r, "itemID")
	id, err := h.items.Submit(r.Context(), actorFromContext(r.Context()), d)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SubmitResponse{ID: id, Message: "Updated!"})
}

// DeleteItem removes an item. The client confirms with ?confirm=true.
func (h *ItemHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	if err := h.items.Delete(r.Context(), actorFromContext(r.Context()), id, confirmed(r), h.views); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ItemHandler) ToggleFeatured(w http.ResponseWriter, r *http.Request) {
	featured, err := h.items.ToggleFeatured(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "itemID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FeatureResponse{Featured: featured})
}

func (h *ItemHandler) RateItem(w http.ResponseWriter, r *http.Request) {
	var in services.RatingInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := h.items.Rate(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "itemID"), in); err != nil {
		writeServiceError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Review submitted!")
}

// UploadImages accepts a multipart form with an optional "cover" file and
// up to 30 "gallery" files.
func (h *ItemHandler) UploadImages(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImagesBody)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	coverFiles := r.MultipartForm.File[formFieldCover]
	galleryFiles := r.MultipartForm.File[formFieldGallery]
	if len(coverFiles) > 1 {
		writeError(w, http.StatusBadRequest, "only one cover image is allowed")
		return
	}
	if len(coverFiles) == 0 && len(galleryFiles) == 0 {
		writeError(w, http.StatusBadRequest, "no images uploaded")
		return
	}
	if len(galleryFiles) > upload.MaxGallery {
		writeServiceError(w, upload.ErrTooMany)
		return
	}

	var cover *upload.Local
	gallery := make([]*upload.Local, 0, len(galleryFiles))
	release := func() {
		cover.Release()
		for _, l := range gallery {
			l.Release()
		}
	}
	if len(coverFiles) == 1 {
		l, err := spoolHeader(coverFiles[0], upload.FormImageLimit)
		if err != nil {
			writeUploadError(w, err, upload.FormImageLimit)
			return
		}
		cover = l
	}
	for _, fh := range galleryFiles {
		l, err := spoolHeader(fh, upload.FormImageLimit)
		if err != nil {
			release()
			writeUploadError(w, err, upload.FormImageLimit)
			return
		}
		gallery = append(gallery, l)
	}

	imgs, err := h.items.UploadImages(r.Context(), actorFromContext(r.Context()), cover, gallery)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := ImagesResponse{Img: imgs.Cover, Gallery: imgs.Gallery, Failed: []FailedImage{}}
	for _, fe := range imgs.Failed {
		resp.Failed = append(resp.Failed, FailedImage{Name: fe.Name, Error: upload.Message(fe.Err, upload.FormImageLimit)})
	}
	writeJSON(w, http.StatusOK, resp)
}

func spoolHeader(fh *multipart.FileHeader, limit int64) (*upload.Local, error) {
	if fh.Size > limit {
		return nil, upload.ErrTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return upload.Spool(f, fh.Filename, limit)
}

func writeUploadError(w http.ResponseWriter, err error, limit int64) {
	if services.IsUploadError(err) {
		writeError(w, http.StatusBadRequest, upload.Message(err, limit))
		return
	}
	writeError(w, http.StatusInternalServerError, "failed to read upload")
}

func averageRating(it types.Item) float64 {
	return rating.Average(it.Ratings)
}

func parsePage(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("page"))
	if raw == "" {
		return defaultPage, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 0, errors.New("invalid page")
	}
	return page, nil
}

// ItemListResponse is a plain list of items.
type ItemListResponse struct {
	Items []types.Item `json:"items"`
}

// ItemResponse is one item with its aggregated rating.
type ItemResponse struct {
	types.Item
	AverageRating float64 `json:"averageRating"`
}

type SubmitResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type FeatureResponse struct {
	Featured bool `json:"featured"`
}

type ImagesResponse struct {
	Img     string        `json:"img,omitempty"`
	Gallery []string      `json:"gallery"`
	Failed  []FailedImage `json:"failed"`
}

type FailedImage struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}
