package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/vcmarket/apiserver/config"
)

const maxHostResponse = 1 << 20

// urlPaths are tried in order on a successful response.
var urlPaths = []string{"data.image.url", "data.url", "data.display_url"}

// HTTPHost posts images as multipart form data to an ImgBB-style endpoint.
type HTTPHost struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPHost(cfg config.ImageHostConfig, client *http.Client) *HTTPHost {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPHost{endpoint: cfg.Endpoint, apiKey: cfg.APIKey, client: client}
}

func (h *HTTPHost) Upload(ctx context.Context, f File) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", f.Name)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f.Reader); err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	endpoint, err := url.Parse(h.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse image host endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("key", h.apiKey)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post image: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxHostResponse))
	if err != nil {
		return "", fmt.Errorf("read image host response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(raw, "error.message").String()
		if msg == "" {
			msg = "Failed to upload image to the image host"
		}
		return "", &HostError{Status: resp.StatusCode, Message: msg}
	}

	for _, path := range urlPaths {
		if u := gjson.GetBytes(raw, path).String(); u != "" {
			return ToHTTPS(u), nil
		}
	}
	return "", ErrNoURL
}
