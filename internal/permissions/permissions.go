// Package permissions maps roles to capabilities and decides editing rights.
//
// Every check is a pure function of its arguments so the same predicate can
// gate both what a view shows and what a write path accepts.
package permissions

import "github.com/vcmarket/apiserver/types"

// Capability is a named permission an actor may hold.
type Capability string

const (
	// ManageRoles allows promoting and demoting other users.
	ManageRoles Capability = "manage_roles"
	// ModerateUsers allows banning and muting users.
	ModerateUsers Capability = "moderate_users"
	// ManageContent allows editing and deleting any listing.
	ManageContent Capability = "manage_content"
	// FeaturePosts allows toggling a listing's featured flag.
	FeaturePosts Capability = "feature_posts"
	// ManageCategories allows adding and removing categories.
	ManageCategories Capability = "manage_categories"
	// ViewAdminDashboard allows reading the user roster.
	ViewAdminDashboard Capability = "view_admin_dashboard"
)

// All lists every capability in a stable order.
var All = []Capability{
	ManageRoles,
	ModerateUsers,
	ManageContent,
	FeaturePosts,
	ManageCategories,
	ViewAdminDashboard,
}

var roleCapabilities = map[types.Role][]Capability{
	types.RoleOwner: All,
	types.RoleAdmin: All,
	types.RoleStaff: {
		ModerateUsers,
		ManageContent,
		ViewAdminDashboard,
	},
	types.RoleUser: {},
}

// Capabilities returns the capability set of role. Unknown roles hold none.
func Capabilities(role types.Role) []Capability {
	caps := roleCapabilities[role]
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out
}

// HasPermission reports whether u holds c. A nil user holds nothing.
func HasPermission(u *types.User, c Capability) bool {
	if u == nil {
		return false
	}
	for _, held := range roleCapabilities[u.Role] {
		if held == c {
			return true
		}
	}
	return false
}

// CanEdit reports whether u may edit or delete an item owned by authorID:
// either u is the author, or u holds ManageContent.
func CanEdit(u *types.User, authorID string) bool {
	if u == nil {
		return false
	}
	if u.ID != "" && u.ID == authorID {
		return true
	}
	return HasPermission(u, ManageContent)
}
