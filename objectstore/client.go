// Package objectstore uploads clips and thumbnails to a bucket-style object
// storage HTTP API.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// DefaultTimeout bounds an upload when ctx carries no deadline.
const DefaultTimeout = 2 * time.Minute

// ErrNotConfigured is returned by Upload when no endpoint is set.
var ErrNotConfigured = errors.New("object store not configured")

// Client uploads files to <BaseURL>/storage/v1/object/<Bucket>/<key>.
type Client struct {
	BaseURL string
	Bucket  string
	APIKey  string
	Timeout time.Duration

	http *fasthttp.Client
}

// New creates a client; an empty baseURL yields a client whose uploads fail
// with ErrNotConfigured.
func New(baseURL, bucket, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Bucket:  bucket,
		APIKey:  apiKey,
		Timeout: DefaultTimeout,
		http: &fasthttp.Client{
			Name:                "lookout",
			MaxConnsPerHost:     4,
			ReadTimeout:         DefaultTimeout,
			WriteTimeout:        DefaultTimeout,
			MaxIdleConnDuration: 30 * time.Second,
		},
	}
}

// Configured reports whether uploads can be attempted.
func (c *Client) Configured() bool {
	return c != nil && c.BaseURL != "" && c.Bucket != ""
}

// Upload sends the file at path under key and returns its public URL. An
// existing object with the same key is not overwritten.
func (c *Client) Upload(ctx context.Context, key, contentType, path string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.objectURL(key))
	req.Header.SetContentType(contentType)
	req.Header.Set("x-upsert", "false")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
		req.Header.Set("apikey", c.APIKey)
	}
	req.SetBodyStream(f, int(info.Size()))

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout())
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	if status := resp.StatusCode(); status < 200 || status > 299 {
		return "", fmt.Errorf("upload %s: status %d: %s", key, status, excerpt(resp.Body(), 200))
	}
	return c.PublicURL(key), nil
}

// PublicURL returns the public download URL of key.
func (c *Client) PublicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.BaseURL, url.PathEscape(c.Bucket), escapeKey(key))
}

func (c *Client) objectURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", c.BaseURL, url.PathEscape(c.Bucket), escapeKey(key))
}

func (c *Client) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// ClipKey is the object key for a clip created at t.
func ClipKey(t time.Time, ext string) string {
	if ext == "" {
		ext = ".mp4"
	}
	return fmt.Sprintf("clips/clip_%d%s", t.UnixMilli(), ext)
}

// ThumbnailKey is the object key for a thumbnail created at t.
func ThumbnailKey(t time.Time) string {
	return fmt.Sprintf("thumbnails/thumb_%d.jpg", t.UnixMilli())
}

// ContentType guesses the upload content type from a file extension.
func ContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp4":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".mjpeg":
		return "video/x-motion-jpeg"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func excerpt(body []byte, n int) string {
	s := strings.TrimSpace(string(body))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
