package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vcmarket/apiserver/internal/catalog"
	"github.com/vcmarket/apiserver/internal/docstore"
	"github.com/vcmarket/apiserver/internal/permissions"
	"github.com/vcmarket/apiserver/types"
)

// CategoryList is the current category list.
type CategoryList interface {
	Categories() []string
}

// CategoryService edits the category list. Items keep their category value
// when it is removed from the list.
type CategoryService struct {
	docs   docstore.Store
	list   CategoryList
	logger *zap.Logger
}

func NewCategoryService(docs docstore.Store, list CategoryList, logger *zap.Logger) *CategoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CategoryService{docs: docs, list: list, logger: logger}
}

// List returns the current categories.
func (s *CategoryService) List() []string {
	return s.list.Categories()
}

// Add appends name and returns the new list. Names are trimmed and compared
// case-sensitively.
func (s *CategoryService) Add(ctx context.Context, actor *types.User, name string) ([]string, error) {
	cats, err := s.add(ctx, actor, name)
	return cats, record("category_add", err)
}

func (s *CategoryService) add(ctx context.Context, actor *types.User, name string) ([]string, error) {
	if err := canManageCategories(actor); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name", "Category name is required.")
	}
	cur := s.list.Categories()
	for _, c := range cur {
		if c == name {
			return nil, ErrDuplicateCategory
		}
	}
	next := append(append(make([]string, 0, len(cur)+1), cur...), name)
	if err := s.docs.Write(ctx, catalog.CategoriesPath, next); err != nil {
		return nil, fmt.Errorf("write categories: %w", err)
	}
	s.logger.Info("category added", zap.String("name", name), zap.String("actor_id", actor.ID))
	return next, nil
}

// Remove drops name from the list once confirm is set.
func (s *CategoryService) Remove(ctx context.Context, actor *types.User, name string, confirm bool) ([]string, error) {
	cats, err := s.remove(ctx, actor, name, confirm)
	return cats, record("category_remove", err)
}

func (s *CategoryService) remove(ctx context.Context, actor *types.User, name string, confirm bool) ([]string, error) {
	if err := canManageCategories(actor); err != nil {
		return nil, err
	}
	cur := s.list.Categories()
	next := make([]string, 0, len(cur))
	for _, c := range cur {
		if c != name {
			next = append(next, c)
		}
	}
	if len(next) == len(cur) {
		return nil, ErrCategoryNotFound
	}
	if !confirm {
		return nil, ErrNotConfirmed
	}
	if err := s.docs.Write(ctx, catalog.CategoriesPath, next); err != nil {
		return nil, fmt.Errorf("write categories: %w", err)
	}
	s.logger.Info("category removed", zap.String("name", name), zap.String("actor_id", actor.ID))
	return next, nil
}

func canManageCategories(actor *types.User) error {
	if actor == nil {
		return ErrNotAuthenticated
	}
	if !permissions.HasPermission(actor, permissions.ManageCategories) {
		return ErrPermissionDenied
	}
	return nil
}
