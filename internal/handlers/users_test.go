package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcmarket/apiserver/internal/services"
	"github.com/vcmarket/apiserver/types"
)

func ptr[T any](v T) *T { return &v }

func TestUsers_GetAndUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	token, uid := env.register(t, "alice")

	resp := env.do(t, http.MethodPut, "/users/me", token, services.ProfileChange{
		Bio:           ptr("Builder of rockets."),
		ProfileBorder: ptr("gold"),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := env.do(t, http.MethodGet, "/users/"+uid, "", nil)
	require.Equal(t, http.StatusOK, got.StatusCode)
	u := decode[types.User](t, got)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "Builder of rockets.", u.Bio)
	assert.Equal(t, "gold", u.ProfileBorder)

	bad := env.do(t, http.MethodPut, "/users/me", token, services.ProfileChange{ProfileBorder: ptr("rainbow")})
	require.Equal(t, http.StatusBadRequest, bad.StatusCode)
	assert.Equal(t, "Unknown border.", decode[ValidationResponse](t, bad).Fields["profileBorder"])

	missing := env.do(t, http.MethodGet, "/users/nobody", "", nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestUsers_AdminUpdate(t *testing.T) {
	env := newTestEnv(t)
	adminToken, adminID := env.register(t, "root")
	env.setRole(t, adminID, types.RoleAdmin)
	userToken, uid := env.register(t, "alice")

	denied := env.do(t, http.MethodPatch, "/users/"+adminID, userToken, services.UserChange{Muted: ptr(true)})
	assert.Equal(t, http.StatusForbidden, denied.StatusCode)

	self := env.do(t, http.MethodPatch, "/users/"+adminID, adminToken, services.UserChange{Role: ptr(types.RoleUser)})
	assert.Equal(t, http.StatusForbidden, self.StatusCode)

	promote := env.do(t, http.MethodPatch, "/users/"+uid, adminToken, services.UserChange{Role: ptr(types.RoleStaff), Muted: ptr(true)})
	require.Equal(t, http.StatusOK, promote.StatusCode)

	me := decode[MeResponse](t, env.do(t, http.MethodGet, "/auth/me", userToken, nil))
	require.NotNil(t, me.User)
	assert.Equal(t, types.RoleStaff, me.User.Role)
	assert.True(t, me.User.Muted)

	muted := env.do(t, http.MethodPost, "/items", userToken, draft("Rocket Mod"))
	assert.Equal(t, http.StatusForbidden, muted.StatusCode)
	assert.Equal(t, "You are muted.", decode[ErrorResponse](t, muted).Error)

	ban := env.do(t, http.MethodPatch, "/users/"+uid, adminToken, services.UserChange{Banned: ptr(true)})
	require.Equal(t, http.StatusOK, ban.StatusCode)
	after := env.do(t, http.MethodGet, "/auth/me", userToken, nil)
	assert.Equal(t, http.StatusUnauthorized, after.StatusCode)
}

func TestUsers_Roster(t *testing.T) {
	env := newTestEnv(t)
	userToken, _ := env.register(t, "alice")
	staffToken, staffID := env.register(t, "mod")
	env.setRole(t, staffID, types.RoleStaff)

	denied := env.do(t, http.MethodGet, "/users", userToken, nil)
	assert.Equal(t, http.StatusForbidden, denied.StatusCode)

	resp := env.do(t, http.MethodGet, "/users", staffToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	roster := decode[UserListResponse](t, resp)
	names := make([]string, 0, len(roster.Users))
	for _, u := range roster.Users {
		names = append(names, u.Username)
	}
	assert.ElementsMatch(t, []string{"alice", "mod"}, names)
	assert.Nil(t, env.catalog.Roster(), "roster released after the request")
}

func TestUsers_UploadAvatar(t *testing.T) {
	env := newTestEnv(t)
	token, uid := env.register(t, "alice")

	resp := env.upload(t, "/users/me/avatar", token, [3]string{formFieldAvatar, "me.png", string(png)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[AvatarResponse](t, resp)
	assert.True(t, strings.HasPrefix(body.ProfilePic, "https://img.test/"))

	u := decode[types.User](t, env.do(t, http.MethodGet, "/users/"+uid, "", nil))
	assert.Equal(t, body.ProfilePic, u.ProfilePic)

	big := strings.Repeat("x", 3<<20)
	tooLarge := env.upload(t, "/users/me/avatar", token, [3]string{formFieldAvatar, "big.png", string(png) + big})
	assert.Equal(t, http.StatusBadRequest, tooLarge.StatusCode)

	none := env.upload(t, "/users/me/avatar", token)
	assert.Equal(t, http.StatusBadRequest, none.StatusCode)
}
