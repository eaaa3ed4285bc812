package types

// Role indicates a user's authorization level within the marketplace.
type Role string

// Supported roles, from least to most privileged.
const (
	RoleUser  Role = "user"
	RoleStaff Role = "staff"
	RoleAdmin Role = "admin"
	RoleOwner Role = "owner"
)

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleStaff, RoleAdmin, RoleOwner:
		return true
	default:
		return false
	}
}

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DefaultProfilePic is the placeholder avatar assigned at registration.
const DefaultProfilePic = "https://raw.githubusercontent.com/RakaMC2/Marketplace/main/images/nopfp.png"

// DefaultBorder is the cosmetic border assigned at registration.
const DefaultBorder = "default"

// User represents an account's public profile record as stored at
// users/{id} in the document store.
type User struct {
	// ID is the identifier issued by the auth service at registration.
	// It is the record's key; writers clear it before storing the document.
	ID string `json:"id,omitempty"`

	// Username is the display name chosen at registration.
	Username string `json:"username"`

	// Role determines the user's capability set.
	Role Role `json:"role"`

	// Banned forces session termination wherever it is observed.
	Banned bool `json:"banned"`

	// Muted blocks uploads and ratings but not reads.
	Muted bool `json:"muted"`

	// ProfilePic is the avatar URL.
	ProfilePic string `json:"profilePic,omitempty"`

	// ProfileBorder is a key into the Borders catalog.
	ProfileBorder string `json:"profileBorder,omitempty"`

	// CustomColor is only used when ProfileBorder is "custom".
	CustomColor string `json:"customColor,omitempty"`

	Bio     string   `json:"bio,omitempty"`
	Socials *Socials `json:"socials,omitempty"`
}

// Socials holds optional social handles shown on a profile.
type Socials struct {
	Discord  string `json:"discord,omitempty"`
	YouTube  string `json:"youtube,omitempty"`
	WhatsApp string `json:"whatsapp,omitempty"`
}

// NewUser returns the default profile written when an account registers.
func NewUser(id, username string) User {
	return User{
		ID:            id,
		Username:      username,
		Role:          RoleUser,
		ProfilePic:    DefaultProfilePic,
		ProfileBorder: DefaultBorder,
	}
}

// Border describes one entry of the cosmetic profile border catalog.
type Border struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Borders is the fixed catalog of profile borders, in display order.
var Borders = []Border{
	{Key: "default", Name: "Default"},
	{Key: "custom", Name: "CUSTOM"},
	{Key: "gold", Name: "Gold"},
	{Key: "fire", Name: "Fire"},
	{Key: "diamond", Name: "Diamond"},
	{Key: "ruby", Name: "Ruby"},
	{Key: "emerald", Name: "Emerald"},
	{Key: "ice", Name: "Ice"},
	{Key: "neon_purple", Name: "Neon Purple"},
	{Key: "neon_red", Name: "Neon Red"},
	{Key: "neon_green", Name: "Neon Green"},
	{Key: "galaxy", Name: "Galaxy"},
	{Key: "glitch", Name: "Glitch"},
	{Key: "ghost", Name: "Ghost"},
	{Key: "lightning", Name: "Lightning"},
	{Key: "toxic", Name: "Toxic"},
	{Key: "cyber_blue", Name: "Cyber Blue"},
	{Key: "magma", Name: "Magma"},
	{Key: "plasma", Name: "Plasma"},
	{Key: "aurora", Name: "Aurora"},
	{Key: "rainbow", Name: "Rainbow"},
	{Key: "void", Name: "Void"},
	{Key: "matrix", Name: "Matrix"},
	{Key: "hologram", Name: "Hologram"},
	{Key: "inferno", Name: "Inferno"},
	{Key: "frostbite", Name: "Frostbite"},
	{Key: "pulse_wave", Name: "Pulse Wave"},
	{Key: "cosmic_spin", Name: "Cosmic Spin"},
	{Key: "static_noise", Name: "Static"},
	{Key: "lightning_discord", Name: "Lightning Discord"},
}

// IsBorder reports whether key names an entry of the Borders catalog.
func IsBorder(key string) bool {
	for _, b := range Borders {
		if b.Key == key {
			return true
		}
	}
	return false
}
