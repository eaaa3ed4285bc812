package upload

import (
	"context"
	"io"
	"strings"
)

// File is one image handed to a Host.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// Host stores an image and returns its public URL.
type Host interface {
	Upload(ctx context.Context, f File) (string, error)
}

// HostError carries the message an image host returned with a failure.
type HostError struct {
	Status  int
	Message string
}

func (e *HostError) Error() string {
	if e.Message == "" {
		return "upload: image host failed"
	}
	return "upload: " + e.Message
}

// ToHTTPS rewrites a leading http: scheme to https:.
func ToHTTPS(u string) string {
	if strings.HasPrefix(u, "http:") {
		return "https:" + strings.TrimPrefix(u, "http:")
	}
	return u
}
