package upload

import (
	"context"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/vcmarket/apiserver/internal/storage"
)

const objectPrefix = "images/"

// ObjectHost stores images in the configured bucket and serves them from
// baseURL.
type ObjectHost struct {
	store   *storage.Storage
	baseURL string
}

// NewObjectHost builds a host over st. An empty baseURL serves keys from
// the bucket root path.
func NewObjectHost(st *storage.Storage, baseURL string) *ObjectHost {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "/" + st.Bucket()
	}
	return &ObjectHost{store: st, baseURL: baseURL}
}

func (h *ObjectHost) Upload(ctx context.Context, f File) (string, error) {
	key := objectPrefix + uuid.NewString()
	if mt := mimetype.Lookup(f.ContentType); mt != nil {
		key += mt.Extension()
	}
	err := h.store.Put(ctx, storage.Object{
		Key:         key,
		Body:        f.Reader,
		Size:        f.Size,
		ContentType: f.ContentType,
		Metadata:    map[string]string{"original-name": f.Name},
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return ToHTTPS(h.baseURL + "/" + key), nil
}
