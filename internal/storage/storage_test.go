package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBackend struct {
	puts []Object
	err  error
}

func (r *recordingBackend) EnsureBucket(context.Context) error { return r.err }

func (r *recordingBackend) Put(_ context.Context, obj Object) error {
	if r.err != nil {
		return r.err
	}
	r.puts = append(r.puts, obj)
	return nil
}

func (r *recordingBackend) Bucket() string { return "vcm-images" }

func TestPut_DefaultsCacheControl(t *testing.T) {
	backend := &recordingBackend{}
	s := NewStorage(backend)

	require.NoError(t, s.Put(context.Background(), Object{Key: "/images/a.png", ContentType: "image/png"}))
	require.NoError(t, s.Put(context.Background(), Object{Key: "images/b.png", CacheControl: "no-store"}))

	require.Len(t, backend.puts, 2)
	assert.Equal(t, "images/a.png", backend.puts[0].Key)
	assert.Equal(t, ImageCacheControl, backend.puts[0].CacheControl)
	assert.Equal(t, "no-store", backend.puts[1].CacheControl)
}

func TestPut_RejectsEmptyKey(t *testing.T) {
	backend := &recordingBackend{}
	err := NewStorage(backend).Put(context.Background(), Object{Key: "/"})
	assert.ErrorIs(t, err, ErrEmptyKey)
	assert.Empty(t, backend.puts)
}

func TestEnsureBucket_PassesThrough(t *testing.T) {
	backend := &recordingBackend{err: errors.New("denied")}
	s := NewStorage(backend)
	assert.ErrorIs(t, s.EnsureBucket(context.Background()), backend.err)
	assert.Equal(t, "vcm-images", s.Bucket())
}
