// Package upload validates user images, hands them to an image host and
// tracks in-flight uploads so only the latest one for a slot takes effect.
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Size ceilings for uploaded images.
const (
	AvatarLimit    int64 = 2 << 20
	FormImageLimit int64 = 5 << 20
)

// MaxGallery is the most gallery images one listing may carry.
const MaxGallery = 30

var (
	ErrNotImage   = errors.New("upload: not an image")
	ErrTooLarge   = errors.New("upload: image too large")
	ErrTooMany    = fmt.Errorf("upload: more than %d gallery images", MaxGallery)
	ErrNoURL      = errors.New("upload: no image URL returned")
	ErrSuperseded = errors.New("upload: superseded by a newer upload")
	ErrSlotClosed = errors.New("upload: slot closed")
	ErrEmpty      = errors.New("upload: empty file")
)

// CheckImage sniffs header and enforces limit. It returns the detected MIME
// type.
func CheckImage(header []byte, size, limit int64) (string, error) {
	if size > limit {
		return "", ErrTooLarge
	}
	if size == 0 || len(header) == 0 {
		return "", ErrEmpty
	}
	mt := mimetype.Detect(header)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", ErrNotImage
	}
	return mt.String(), nil
}

// Message returns the toast shown for an upload failure.
func Message(err error, limit int64) string {
	switch {
	case errors.Is(err, ErrTooLarge):
		return fmt.Sprintf("Image too large. Max %dMB.", limit>>20)
	case errors.Is(err, ErrNotImage), errors.Is(err, ErrEmpty):
		return "Please select an image file."
	case errors.Is(err, ErrTooMany):
		return fmt.Sprintf("You can upload at most %d gallery images.", MaxGallery)
	case errors.Is(err, ErrSuperseded):
		return "A newer upload replaced this one."
	case errors.Is(err, ErrNoURL):
		return "No image URL returned from the image host."
	case err != nil:
		var he *HostError
		if errors.As(err, &he) && he.Message != "" {
			return he.Message
		}
		return "Failed to upload image. Please try again."
	default:
		return ""
	}
}

// Local is an image spooled to a temporary file while it uploads. It must be
// released once the upload settles.
type Local struct {
	Name        string
	ContentType string
	Size        int64

	f *os.File
}

// Spool copies r into a temp file, reading at most limit bytes, and checks
// that the content is an image.
func Spool(r io.Reader, name string, limit int64) (*Local, error) {
	f, err := os.CreateTemp("", "vcm-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	l := &Local{Name: name, f: f}

	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	if err != nil {
		l.Release()
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	l.Size = n

	header := make([]byte, 3072)
	hn, err := f.ReadAt(header, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		l.Release()
		return nil, fmt.Errorf("read spool header: %w", err)
	}
	ct, err := CheckImage(header[:hn], n, limit)
	if err != nil {
		l.Release()
		return nil, err
	}
	l.ContentType = ct
	return l, nil
}

// File returns a reader over the spooled content from the start.
func (l *Local) File() (File, error) {
	if l.f == nil {
		return File{}, os.ErrClosed
	}
	return File{
		Name:        l.Name,
		ContentType: l.ContentType,
		Size:        l.Size,
		Reader:      io.NewSectionReader(l.f, 0, l.Size),
	}, nil
}

// Release closes and removes the temp file. It is safe to call repeatedly.
func (l *Local) Release() {
	if l == nil || l.f == nil {
		return
	}
	name := l.f.Name()
	_ = l.f.Close()
	_ = os.Remove(name)
	l.f = nil
}

// Released reports whether Release has run.
func (l *Local) Released() bool {
	return l == nil || l.f == nil
}
