package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcmarket/apiserver/internal/catalog"
	"github.com/vcmarket/apiserver/internal/services"
	"github.com/vcmarket/apiserver/types"
)

func draft(title string) services.Draft {
	return services.Draft{
		Title: title,
		Desc:  "A long enough description.",
		Cat:   "Mods",
		Link:  "https://example.com/download",
	}
}

func TestItems_CreateUpdateDelete(t *testing.T) {
	env := newTestEnv(t)
	token, uid := env.register(t, "alice")

	created := env.do(t, http.MethodPost, "/items", token, draft("Rocket Mod"))
	require.Equal(t, http.StatusCreated, created.StatusCode)
	id := decode[SubmitResponse](t, created).ID
	require.NotEmpty(t, id)

	got := env.do(t, http.MethodGet, "/items/"+id, "", nil)
	require.Equal(t, http.StatusOK, got.StatusCode)
	item := decode[ItemResponse](t, got)
	assert.Equal(t, "Rocket Mod", item.Title)
	assert.Equal(t, uid, item.AuthorID)
	assert.Equal(t, "alice", item.Author)
	require.Len(t, item.Changelog, 1)
	assert.Equal(t, "Initial Release", item.Changelog[0].Text)

	updated := env.do(t, http.MethodPut, "/items/"+id, token, draft("Rocket Mod II"))
	require.Equal(t, http.StatusOK, updated.StatusCode)
	it, ok := env.catalog.Item(id)
	require.True(t, ok)
	assert.Equal(t, "Rocket Mod II", it.Title)
	assert.Len(t, it.Changelog, 2)

	unconfirmed := env.do(t, http.MethodDelete, "/items/"+id, token, nil)
	assert.Equal(t, http.StatusPreconditionRequired, unconfirmed.StatusCode)

	deleted := env.do(t, http.MethodDelete, "/items/"+id+"?confirm=true", token, nil)
	assert.Equal(t, http.StatusNoContent, deleted.StatusCode)

	missing := env.do(t, http.MethodGet, "/items/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	assert.Equal(t, "Item not found.", decode[ErrorResponse](t, missing).Error)
}

func TestItems_CreateRequiresLogin(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/items", "", draft("Rocket Mod"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestItems_ValidationFields(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register(t, "alice")

	resp := env.do(t, http.MethodPost, "/items", token, services.Draft{Title: "ab", Desc: "A long enough description.", Link: "https://example.com"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[ValidationResponse](t, resp)
	assert.Equal(t, "Title must be at least 3 characters.", body.Error)
	assert.Contains(t, body.Fields, "title")
}

func TestItems_OthersCannotEdit(t *testing.T) {
	env := newTestEnv(t)
	owner, _ := env.register(t, "alice")
	other, otherID := env.register(t, "bob")

	id := decode[SubmitResponse](t, env.do(t, http.MethodPost, "/items", owner, draft("Rocket Mod"))).ID

	resp := env.do(t, http.MethodPut, "/items/"+id, other, draft("Hijacked"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Permission denied.", decode[ErrorResponse](t, resp).Error)

	env.setRole(t, otherID, types.RoleStaff)
	resp = env.do(t, http.MethodDelete, "/items/"+id+"?confirm=true", other, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestItems_ListFiltersSortsAndPages(t *testing.T) {
	env := newTestEnv(t)
	env.seedItem(t, types.Item{Title: "Alpha Map", Cat: "Maps", Changelog: []types.Changelog{{Timestamp: 1}}})
	env.seedItem(t, types.Item{Title: "Beta Mod", Cat: "Mods", Changelog: []types.Changelog{{Timestamp: 2}}})
	env.seedItem(t, types.Item{Title: "Gamma Map", Cat: "Maps", Changelog: []types.Changelog{{Timestamp: 3}}})

	first := decode[catalog.View](t, env.do(t, http.MethodGet, "/items", "", nil))
	assert.Equal(t, 3, first.Total)
	assert.Equal(t, 2, first.TotalPages)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "Gamma Map", first.Items[0].Title)

	maps := decode[catalog.View](t, env.do(t, http.MethodGet, "/items?cat=Maps&sort=title_asc", "", nil))
	require.Len(t, maps.Items, 2)
	assert.Equal(t, "Alpha Map", maps.Items[0].Title)

	search := decode[catalog.View](t, env.do(t, http.MethodGet, "/items?q=BETA", "", nil))
	require.Len(t, search.Items, 1)
	assert.Equal(t, "Beta Mod", search.Items[0].Title)

	bad := env.do(t, http.MethodGet, "/items?page=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestItems_FeatureAndRate(t *testing.T) {
	env := newTestEnv(t)
	author, _ := env.register(t, "alice")
	rater, _ := env.register(t, "bob")
	admin, adminID := env.register(t, "root")
	env.setRole(t, adminID, types.RoleAdmin)

	id := decode[SubmitResponse](t, env.do(t, http.MethodPost, "/items", author, draft("Rocket Mod"))).ID

	denied := env.do(t, http.MethodPost, "/items/"+id+"/feature", rater, nil)
	assert.Equal(t, http.StatusForbidden, denied.StatusCode)

	feat := env.do(t, http.MethodPost, "/items/"+id+"/feature", admin, nil)
	require.Equal(t, http.StatusOK, feat.StatusCode)
	assert.True(t, decode[FeatureResponse](t, feat).Featured)

	featured := decode[ItemListResponse](t, env.do(t, http.MethodGet, "/items/featured", "", nil))
	require.Len(t, featured.Items, 1)
	assert.Equal(t, id, featured.Items[0].ID)

	self := env.do(t, http.MethodPut, "/items/"+id+"/rating", author, services.RatingInput{Rating: 5})
	assert.Equal(t, http.StatusForbidden, self.StatusCode)
	assert.Equal(t, "You cannot rate your own creation.", decode[ErrorResponse](t, self).Error)

	rated := env.do(t, http.MethodPut, "/items/"+id+"/rating", rater, services.RatingInput{Rating: 4, Review: "nice"})
	require.Equal(t, http.StatusOK, rated.StatusCode)
	adminRated := env.do(t, http.MethodPut, "/items/"+id+"/rating", admin, services.RatingInput{Rating: 1})
	require.Equal(t, http.StatusOK, adminRated.StatusCode)

	item := decode[ItemResponse](t, env.do(t, http.MethodGet, "/items/"+id, "", nil))
	assert.InDelta(t, 2.5, item.AverageRating, 0.001)
	assert.Len(t, item.Ratings, 2)
}

func TestItems_UploadImages(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register(t, "alice")

	resp := env.upload(t, "/items/images", token,
		[3]string{formFieldCover, "cover.png", string(png)},
		[3]string{formFieldGallery, "g1.png", string(png)},
		[3]string{formFieldGallery, "notes.txt", "plain text"},
	)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Please select an image file.", decode[ErrorResponse](t, resp).Error)

	resp = env.upload(t, "/items/images", token,
		[3]string{formFieldCover, "cover.png", string(png)},
		[3]string{formFieldGallery, "g1.png", string(png)},
		[3]string{formFieldGallery, "g2.png", string(png)},
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[ImagesResponse](t, resp)
	assert.True(t, strings.HasPrefix(body.Img, "https://img.test/"))
	assert.True(t, strings.HasSuffix(body.Img, "cover.png"))
	require.Len(t, body.Gallery, 2)
	assert.True(t, strings.HasSuffix(body.Gallery[0], "g1.png"))
	assert.True(t, strings.HasSuffix(body.Gallery[1], "g2.png"))
	assert.Empty(t, body.Failed)
}

func TestItems_UploadImagesRequiresFiles(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.register(t, "alice")

	resp := env.upload(t, "/items/images", token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
