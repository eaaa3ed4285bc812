package upload

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/vcmarket/apiserver/internal/metrics"
)

const galleryConcurrency = 4

// FileError reports one gallery file that failed to upload.
type FileError struct {
	Index int
	Name  string
	Err   error
}

func (e FileError) Error() string {
	return e.Name + ": " + e.Err.Error()
}

// GalleryResult is the settled outcome of a gallery upload.
type GalleryResult struct {
	// URLs holds the successful uploads in input order.
	URLs   []string
	Failed []FileError
}

// UploadGallery uploads files concurrently and waits for every one to
// settle. One failure does not stop the others.
func UploadGallery(ctx context.Context, host Host, files []File) (GalleryResult, error) {
	if len(files) > MaxGallery {
		return GalleryResult{}, ErrTooMany
	}

	urls := make([]string, len(files))
	errs := make([]error, len(files))

	var g errgroup.Group
	g.SetLimit(galleryConcurrency)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			url, err := host.Upload(ctx, f)
			metrics.RecordUpload(err)
			urls[i], errs[i] = ToHTTPS(url), err
			return nil
		})
	}
	_ = g.Wait()

	res := GalleryResult{URLs: make([]string, 0, len(files))}
	for i := range files {
		if errs[i] != nil {
			res.Failed = append(res.Failed, FileError{Index: i, Name: files[i].Name, Err: errs[i]})
			continue
		}
		res.URLs = append(res.URLs, urls[i])
	}
	return res, ctx.Err()
}
