package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/emersion/go-webdav"
)

// WebDAVConfig configures a WebDAV storage backend.
type WebDAVConfig struct {
	Endpoint string
	Username string
	Password string
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// WebDAV stores files on a remote WebDAV server.
type WebDAV struct {
	client *webdav.Client
}

// NewWebDAV creates a WebDAV-backed file system.
func NewWebDAV(cfg WebDAVConfig) (*WebDAV, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	var hc webdav.HTTPClient = httpClient
	if cfg.Username != "" {
		hc = webdav.HTTPClientWithBasicAuth(httpClient, cfg.Username, cfg.Password)
	}

	client, err := webdav.NewClient(hc, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}
	return &WebDAV{client: client}, nil
}

func davPath(location string) (string, error) {
	cleaned, err := Clean(location)
	if err != nil {
		return "", err
	}
	return "/" + cleaned, nil
}

// Create uploads r to location, creating parent collections as needed.
func (w *WebDAV) Create(ctx context.Context, location string, r io.Reader) error {
	p, err := davPath(location)
	if err != nil {
		return err
	}
	if err := w.ensureParents(ctx, p); err != nil {
		return err
	}

	dst, err := w.client.Create(ctx, p)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", location, err)
	}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		return fmt.Errorf("failed to upload %s: %w", location, err)
	}
	return dst.Close()
}

func (w *WebDAV) ensureParents(ctx context.Context, p string) error {
	dir := path.Dir(p)
	if dir == "/" || dir == "." {
		return nil
	}
	current := ""
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		current += "/" + part
		if _, err := w.client.Stat(ctx, current); err == nil {
			continue
		}
		if err := w.client.Mkdir(ctx, current); err != nil {
			return fmt.Errorf("failed to create collection %s: %w", current, err)
		}
	}
	return nil
}

// Open downloads location.
func (w *WebDAV) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	p, err := davPath(location)
	if err != nil {
		return nil, err
	}
	rc, err := w.client.Open(ctx, p)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, location)
		}
		return nil, err
	}
	return rc, nil
}

// Remove deletes location.
func (w *WebDAV) Remove(ctx context.Context, location string) error {
	p, err := davPath(location)
	if err != nil {
		return err
	}
	if err := w.client.RemoveAll(ctx, p); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotExist, location)
		}
		return err
	}
	return nil
}

// Exists reports whether location exists.
func (w *WebDAV) Exists(ctx context.Context, location string) (bool, error) {
	p, err := davPath(location)
	if err != nil {
		return false, err
	}
	_, err = w.client.Stat(ctx, p)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// isNotFound matches the client's HTTP 404 error, which is not exported.
func isNotFound(err error) bool {
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	return strings.Contains(err.Error(), fmt.Sprintf("%d %s", http.StatusNotFound, http.StatusText(http.StatusNotFound)))
}
