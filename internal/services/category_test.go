package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcmarket/apiserver/types"
)

func TestCategory_AddTrimsAndRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	s := NewCategoryService(f.docs, f.catalog, nil)
	admin := user("root", types.RoleAdmin)

	_, err := s.Add(context.Background(), user("mod", types.RoleStaff), "Skins")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	cats, err := s.Add(context.Background(), admin, "  Skins ")
	require.NoError(t, err)
	assert.Equal(t, []string{"Maps", "Mods", "Skins"}, cats)
	assert.Equal(t, cats, f.catalog.Categories())

	_, err = s.Add(context.Background(), admin, "Skins")
	assert.ErrorIs(t, err, ErrDuplicateCategory)

	cats, err = s.Add(context.Background(), admin, "skins")
	require.NoError(t, err, "comparison is case-sensitive")
	assert.Len(t, cats, 4)

	var ve *ValidationError
	_, err = s.Add(context.Background(), admin, "   ")
	assert.ErrorAs(t, err, &ve)
}

func TestCategory_RemoveNeedsConfirmAndDoesNotCascade(t *testing.T) {
	f := newFixture(t)
	s := NewCategoryService(f.docs, f.catalog, nil)
	admin := user("root", types.RoleAdmin)
	id := f.seedItem(t, types.Item{Title: "Map", Cat: "Maps"})

	_, err := s.Remove(context.Background(), admin, "Maps", false)
	assert.ErrorIs(t, err, ErrNotConfirmed)
	assert.Zero(t, f.docs.count())

	cats, err := s.Remove(context.Background(), admin, "Maps", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mods"}, cats)
	assert.Equal(t, "Maps", f.item(t, id).Cat)

	_, err = s.Remove(context.Background(), admin, "Maps", true)
	assert.ErrorIs(t, err, ErrCategoryNotFound)
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "Permission denied.", Message(ErrPermissionDenied))
	assert.Equal(t, "You cannot rate your own creation.", Message(ErrSelfRating))
	assert.Equal(t, "Please fix the highlighted fields.", Message(&ValidationError{Fields: map[string]string{"a": "x", "b": "y"}}))
	assert.Equal(t, "Something went wrong.", Message(assert.AnError))
	assert.Empty(t, Message(nil))
}
