package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vcmarket/apiserver/internal/catalog"
	"github.com/vcmarket/apiserver/internal/docstore"
	"github.com/vcmarket/apiserver/internal/permissions"
	"github.com/vcmarket/apiserver/internal/upload"
	"github.com/vcmarket/apiserver/types"
)

// ErrNoImageHost is returned by uploads when no image host is configured.
var ErrNoImageHost = errors.New("no image host configured")

// Changelog entries written by the service.
const (
	InitialVersion = "v1.0"
	InitialText    = "Initial Release"
	UpdateVersion  = "Update"
	UpdateText     = "Updated details"
)

// ItemCatalog is the locally mirrored view mutations check against.
type ItemCatalog interface {
	Item(id string) (types.Item, bool)
	Categories() []string
}

// ViewCloser closes any open detail view showing an item.
type ViewCloser interface {
	CloseIfShowing(itemID string) int
}

// Draft is the submitted upload form. A non-empty ID edits that item.
type Draft struct {
	ID              string   `json:"id,omitempty" validate:"-"`
	Title           string   `json:"title" validate:"min=3"`
	Desc            string   `json:"desc" validate:"min=10"`
	Cat             string   `json:"cat"`
	Link            string   `json:"link" validate:"required,url"`
	YouTube         string   `json:"youtube" validate:"omitempty,url"`
	OriginalCreator string   `json:"originalCreator"`
	Img             string   `json:"img" validate:"omitempty,url"`
	Gallery         []string `json:"gallery" validate:"max=30,dive,url"`
}

// RatingInput is one submitted review.
type RatingInput struct {
	Rating int    `json:"rating" validate:"min=1,max=5"`
	Review string `json:"review" validate:"max=2000"`
}

// ItemService runs listing mutations. Every permission check happens before
// the first write.
type ItemService struct {
	docs     docstore.Store
	catalog  ItemCatalog
	host     upload.Host
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

func NewItemService(docs docstore.Store, cat ItemCatalog, host upload.Host, logger *zap.Logger) *ItemService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemService{
		docs:     docs,
		catalog:  cat,
		host:     host,
		validate: newValidator(),
		logger:   logger,
		now:      time.Now,
	}
}

func itemPath(id string) string {
	return docstore.Join(catalog.ItemsPath, id)
}

func writable(actor *types.User) error {
	if actor == nil {
		return ErrNotAuthenticated
	}
	if actor.Muted {
		return ErrMuted
	}
	return nil
}

// Submit creates an item, or updates d.ID when set. It returns the item id.
func (s *ItemService) Submit(ctx context.Context, actor *types.User, d Draft) (string, error) {
	op := "item_create"
	if d.ID != "" {
		op = "item_update"
	}
	id, err := s.submit(ctx, actor, d)
	return id, record(op, err)
}

// validateDraft reports struct rule failures plus a category outside cats.
func validateDraft(v *validator.Validate, d Draft, cats []string) error {
	err := validateStruct(v, d)
	if d.Cat == "" || slices.Contains(cats, d.Cat) {
		return err
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		if err != nil {
			return err
		}
		ve = &ValidationError{Fields: map[string]string{}}
	}
	ve.Fields["cat"] = categoryMessage
	return ve
}

func (s *ItemService) submit(ctx context.Context, actor *types.User, d Draft) (string, error) {
	if err := writable(actor); err != nil {
		return "", err
	}
	cats := s.catalog.Categories()
	if err := validateDraft(s.validate, d, cats); err != nil {
		return "", err
	}
	if d.Cat == "" && len(cats) > 0 {
		d.Cat = cats[0]
	}
	if d.Gallery == nil {
		d.Gallery = []string{}
	}
	ts := s.now().UnixMilli()

	if d.ID != "" {
		orig, ok := s.catalog.Item(d.ID)
		if !ok {
			return "", ErrItemNotFound
		}
		if !permissions.CanEdit(actor, orig.AuthorID) {
			return "", ErrPermissionDenied
		}
		changelog := make([]types.Changelog, 0, len(orig.Changelog)+1)
		changelog = append(changelog, orig.Changelog...)
		changelog = append(changelog, types.Changelog{Version: UpdateVersion, Text: UpdateText, Timestamp: ts})

		fields := map[string]any{
			"title":           d.Title,
			"desc":            d.Desc,
			"cat":             d.Cat,
			"link":            d.Link,
			"youtube":         d.YouTube,
			"originalCreator": d.OriginalCreator,
			"img":             d.Img,
			"gallery":         d.Gallery,
			"changelog":       changelog,
		}
		if err := s.docs.Update(ctx, itemPath(d.ID), fields); err != nil {
			return "", fmt.Errorf("update item %s: %w", d.ID, err)
		}
		return d.ID, nil
	}

	author := actor.Username
	if author == "" {
		author = "User"
	}
	item := types.Item{
		Title:           d.Title,
		Desc:            d.Desc,
		Cat:             d.Cat,
		Link:            d.Link,
		YouTube:         d.YouTube,
		OriginalCreator: d.OriginalCreator,
		Img:             d.Img,
		Gallery:         d.Gallery,
		AuthorID:        actor.ID,
		Author:          author,
		Changelog:       []types.Changelog{{Version: InitialVersion, Text: InitialText, Timestamp: ts}},
	}
	id, err := s.docs.Push(ctx, catalog.ItemsPath, item)
	if err != nil {
		return "", fmt.Errorf("push item: %w", err)
	}
	s.logger.Info("item created", zap.String("item_id", id), zap.String("author_id", actor.ID))
	return id, nil
}

// Delete removes an item for good. confirm must be set; views showing the
// item are closed once the write lands.
func (s *ItemService) Delete(ctx context.Context, actor *types.User, id string, confirm bool, views ViewCloser) error {
	return record("item_delete", s.delete(ctx, actor, id, confirm, views))
}

func (s *ItemService) delete(ctx context.Context, actor *types.User, id string, confirm bool, views ViewCloser) error {
	if actor == nil {
		return ErrNotAuthenticated
	}
	item, ok := s.catalog.Item(id)
	if !ok {
		return ErrItemNotFound
	}
	if !permissions.CanEdit(actor, item.AuthorID) {
		return ErrPermissionDenied
	}
	if !confirm {
		return ErrNotConfirmed
	}
	if err := s.docs.Delete(ctx, itemPath(id)); err != nil {
		return fmt.Errorf("delete item %s: %w", id, err)
	}
	if views != nil {
		if n := views.CloseIfShowing(id); n > 0 {
			s.logger.Debug("closed detail views of deleted item", zap.String("item_id", id), zap.Int("views", n))
		}
	}
	s.logger.Info("item deleted", zap.String("item_id", id), zap.String("actor_id", actor.ID))
	return nil
}

// ToggleFeatured flips the featured flag and returns the new value.
func (s *ItemService) ToggleFeatured(ctx context.Context, actor *types.User, id string) (bool, error) {
	featured, err := s.toggleFeatured(ctx, actor, id)
	return featured, record("item_feature", err)
}

func (s *ItemService) toggleFeatured(ctx context.Context, actor *types.User, id string) (bool, error) {
	if !permissions.HasPermission(actor, permissions.FeaturePosts) {
		if actor == nil {
			return false, ErrNotAuthenticated
		}
		return false, ErrPermissionDenied
	}
	item, ok := s.catalog.Item(id)
	if !ok {
		return false, ErrItemNotFound
	}
	featured := !item.Featured
	if err := s.docs.Update(ctx, itemPath(id), map[string]any{"featured": featured}); err != nil {
		return false, fmt.Errorf("feature item %s: %w", id, err)
	}
	return featured, nil
}

// Rate writes the actor's review of an item, replacing any earlier one.
//
// The author check runs against the mirrored item only. The document store
// does not enforce it, so it is best-effort against clients that write
// directly.
func (s *ItemService) Rate(ctx context.Context, actor *types.User, id string, in RatingInput) error {
	return record("item_rate", s.rate(ctx, actor, id, in))
}

func (s *ItemService) rate(ctx context.Context, actor *types.User, id string, in RatingInput) error {
	if err := writable(actor); err != nil {
		return err
	}
	item, ok := s.catalog.Item(id)
	if !ok {
		return ErrItemNotFound
	}
	if item.AuthorID == actor.ID {
		return ErrSelfRating
	}
	if err := validateStruct(s.validate, in); err != nil {
		return err
	}
	username := actor.Username
	if username == "" {
		username = "User"
	}
	r := types.Rating{
		UserID:    actor.ID,
		Username:  username,
		Rating:    in.Rating,
		Review:    in.Review,
		Timestamp: s.now().UnixMilli(),
	}
	path := docstore.Join(catalog.ItemsPath, id, "ratings", actor.ID)
	if err := s.docs.Write(ctx, path, r); err != nil {
		return fmt.Errorf("write rating: %w", err)
	}
	return nil
}

// Images holds the uploaded form images.
type Images struct {
	Cover   string             `json:"img,omitempty"`
	Gallery []string           `json:"gallery"`
	Failed  []upload.FileError `json:"-"`
}

// UploadImages pushes a cover and gallery images to the image host
// concurrently. Every local file is released before it returns. Failures are
// reported per file in Failed while the successful URLs are kept; a failed
// cover carries Index -1.
func (s *ItemService) UploadImages(ctx context.Context, actor *types.User, cover *upload.Local, gallery []*upload.Local) (Images, error) {
	defer func() {
		cover.Release()
		for _, l := range gallery {
			l.Release()
		}
	}()
	if err := writable(actor); err != nil {
		return Images{}, err
	}
	if s.host == nil {
		return Images{}, ErrNoImageHost
	}
	if len(gallery) > upload.MaxGallery {
		return Images{}, upload.ErrTooMany
	}

	files := make([]upload.File, 0, len(gallery))
	for _, l := range gallery {
		f, err := l.File()
		if err != nil {
			return Images{}, err
		}
		files = append(files, f)
	}

	var (
		out      Images
		coverErr error
		res      upload.GalleryResult
	)
	g, gctx := errgroup.WithContext(ctx)
	if cover != nil {
		g.Go(func() error {
			var slot upload.Slot
			defer slot.Close()
			url, err := slot.Upload(gctx, s.host, cover)
			if err != nil {
				coverErr = err
				return nil
			}
			out.Cover = url
			return nil
		})
	}
	if len(files) > 0 {
		g.Go(func() error {
			var err error
			res, err = upload.UploadGallery(gctx, s.host, files)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Images{}, err
	}

	if coverErr != nil {
		s.logger.Warn("cover image failed", zap.String("name", cover.Name), zap.Error(coverErr))
		out.Failed = append(out.Failed, upload.FileError{Index: -1, Name: cover.Name, Err: coverErr})
	}
	out.Gallery = res.URLs
	if out.Gallery == nil {
		out.Gallery = []string{}
	}
	for _, fe := range res.Failed {
		s.logger.Warn("gallery image failed", zap.String("name", fe.Name), zap.Error(fe.Err))
	}
	out.Failed = append(out.Failed, res.Failed...)
	return out, nil
}

var _ ItemCatalog = (*catalog.Store)(nil)
