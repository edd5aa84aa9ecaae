// Package storage talks to the file service that keeps uploaded photos and
// generated artifacts.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	httpclient "inspection-export/internal/common/http"
)

var ErrUploadRejected = errors.New("upload rejected")

// Config locates the upload and retrieval endpoints.
type Config struct {
	UploadURL string
	FilesURL  string
	Timeout   time.Duration
	MaxBytes  int64
}

type uploadResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Client uploads files and builds their retrieval URLs.
type Client struct {
	cfg  Config
	http *httpclient.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, http: httpclient.NewClient(cfg.Timeout)}
}

// Upload sends data under filename as a multipart form. The service answers
// with a JSON body carrying a success flag.
func (c *Client) Upload(ctx context.Context, filename string, data []byte, contentType string) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("filename", filename); err != nil {
		return err
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.UploadURL, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", filename, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("upload %s: read response: %w", filename, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s: status %d", ErrUploadRejected, filename, resp.StatusCode)
	}

	var out uploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("%w: %s: invalid response: %v", ErrUploadRejected, filename, err)
	}
	if !out.Success {
		return fmt.Errorf("%w: %s: %s", ErrUploadRejected, filename, out.Message)
	}
	return nil
}

// FileURL is the absolute retrieval URL of a stored file.
func (c *Client) FileURL(name string) string {
	if c.cfg.FilesURL == "" || name == "" {
		return ""
	}
	return strings.TrimRight(c.cfg.FilesURL, "/") + "/" + url.PathEscape(name)
}

// Fetch downloads a stored file.
func (c *Client) Fetch(ctx context.Context, name string) ([]byte, error) {
	u := c.FileURL(name)
	if u == "" {
		return nil, fmt.Errorf("no files endpoint configured for %s", name)
	}
	data, _, err := c.http.GetBytes(ctx, u, c.cfg.MaxBytes)
	return data, err
}

// ImageFetcher reads stored files through Fetch and hands every other URL
// to Fallback.
type ImageFetcher struct {
	Files    *Client
	Fallback interface {
		Fetch(ctx context.Context, url string) ([]byte, error)
	}
}

func (f *ImageFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if name, ok := f.Files.storedName(rawURL); ok {
		return f.Files.Fetch(ctx, name)
	}
	if f.Fallback == nil {
		return nil, fmt.Errorf("%s is not a stored file", rawURL)
	}
	return f.Fallback.Fetch(ctx, rawURL)
}

// storedName returns the file name of a URL directly under the files
// endpoint.
func (c *Client) storedName(rawURL string) (string, bool) {
	if c.cfg.FilesURL == "" {
		return "", false
	}
	prefix := strings.TrimRight(c.cfg.FilesURL, "/") + "/"
	if !strings.HasPrefix(rawURL, prefix) {
		return "", false
	}
	name, err := url.PathUnescape(rawURL[len(prefix):])
	if err != nil || name == "" || strings.ContainsAny(name, "/?#") {
		return "", false
	}
	return name, true
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
