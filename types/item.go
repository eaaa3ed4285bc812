package types

// Item represents a marketplace listing stored at items/{id}.
type Item struct {
	// ID is assigned by the document store when the item is pushed.
	// It is the record's key; writers clear it before storing the document.
	ID string `json:"id,omitempty"`

	Title string `json:"title"`

	// Desc is the markdown description.
	Desc string `json:"desc"`

	// Cat is the category value. It references the category list by value,
	// so renaming or removing a category does not touch existing items.
	Cat string `json:"cat"`

	// Link is the external download URL.
	Link string `json:"link"`

	YouTube         string   `json:"youtube,omitempty"`
	OriginalCreator string   `json:"originalCreator,omitempty"`
	Img             string   `json:"img,omitempty"`
	Gallery         []string `json:"gallery,omitempty"`

	// AuthorID references the owning User and never changes after creation.
	AuthorID string `json:"authorId"`

	// Author is the username snapshot taken at creation. It is not kept in
	// sync with later username changes.
	Author string `json:"author"`

	// Changelog is append-only; the first entry is written at upload.
	Changelog []Changelog `json:"changelog,omitempty"`

	// Ratings is keyed by rater user id, so each user has at most one.
	Ratings map[string]Rating `json:"ratings,omitempty"`

	Featured bool `json:"featured"`
}

// Changelog is one immutable version entry of an item.
type Changelog struct {
	Version   string `json:"version"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Rating is a single user's review of an item.
type Rating struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Rating    int    `json:"rating"`
	Review    string `json:"review,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// FirstChange returns the timestamp of the first changelog entry, or 0.
func (i Item) FirstChange() int64 {
	if len(i.Changelog) == 0 {
		return 0
	}
	return i.Changelog[0].Timestamp
}

// LastChange returns the timestamp of the last changelog entry, or 0.
func (i Item) LastChange() int64 {
	if len(i.Changelog) == 0 {
		return 0
	}
	return i.Changelog[len(i.Changelog)-1].Timestamp
}

// DefaultCategories seeds the category list before the first snapshot
// arrives from the document store.
var DefaultCategories = []string{
	"[Bedrock] Add-On",
	"[Bedrock] Map",
	"[Bedrock] Texture-Pack",
	"[Bedrock] Skins",
	"[Bedrock] Shaders",
	"[Java] Mods",
	"[Java] Texture-Pack",
	"[Java] MCModels",
	"[Java] Map",
	"[Java] Plugins",
	"[Java] Shaders",
}
