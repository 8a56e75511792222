// Package blobstore stores generated product files on the local filesystem and serves them
// under a public base URL.
package blobstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FS writes blobs beneath Dir and addresses them as BaseURL/<path>
type FS struct {
	Dir     string
	BaseURL string
}

// New creates the directory if needed
func New(dir, baseURL string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FS{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Upload writes data at the relative path and returns its URL. The content type is implied by
// the file extension when served.
func (s *FS) Upload(ctx context.Context, p string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := cleanPath(p)
	if err != nil {
		return "", err
	}

	full := filepath.Join(s.Dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return s.URL(clean), nil
}

// URL returns the public URL of a stored path
func (s *FS) URL(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.BaseURL + "/" + strings.Join(segments, "/")
}

// Handler serves the stored files
func (s *FS) Handler() http.Handler {
	return http.FileServer(http.Dir(s.Dir))
}

func cleanPath(p string) (string, error) {
	clean := path.Clean("/" + p)[1:]
	if clean == "" || clean != strings.TrimPrefix(p, "/") {
		return "", fmt.Errorf("invalid blob path %q", p)
	}
	return clean, nil
}
