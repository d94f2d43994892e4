package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is wrapped by a FetchError when the repository has no such file.
var ErrNotFound = errors.New("model file not found")

// FetchError reports a model file that could not be fetched.
type FetchError struct {
	File       string
	Source     string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s from %s: status %d", e.File, e.Source, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s from %s: %v", e.File, e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Repository serves model files by name.
type Repository interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// LocalRepository is a Repository whose files can be used in place.
type LocalRepository interface {
	Repository
	LocalDir() string
}

// DirRepository serves model files from a local directory.
type DirRepository struct {
	Dir string
}

// NewDirRepository creates a repository over dir.
func NewDirRepository(dir string) *DirRepository {
	return &DirRepository{Dir: dir}
}

// Open opens a model file.
func (r *DirRepository) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(r.Dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			err = ErrNotFound
		}
		return nil, &FetchError{File: name, Source: r.Dir, Err: err}
	}
	return f, nil
}

// LocalDir returns the directory files are served from.
func (r *DirRepository) LocalDir() string {
	return r.Dir
}

// HTTPRepository serves model files below a base URL.
type HTTPRepository struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPRepository creates a repository over baseURL.
func NewHTTPRepository(baseURL string) *HTTPRepository {
	return &HTTPRepository{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

// Open fetches a model file. The caller must close the body.
func (r *HTTPRepository) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	fileURL := r.BaseURL + "/" + url.PathEscape(name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, &FetchError{File: name, Source: r.BaseURL, Err: err}
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{File: name, Source: r.BaseURL, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		fe := &FetchError{File: name, Source: r.BaseURL, StatusCode: resp.StatusCode}
		if resp.StatusCode == http.StatusNotFound {
			fe.Err = ErrNotFound
		}
		return nil, fe
	}
	return resp.Body, nil
}

// NewRepository picks an HTTP repository when baseURL is set, else dir.
func NewRepository(baseURL, dir string) Repository {
	if baseURL != "" {
		return NewHTTPRepository(baseURL)
	}
	return NewDirRepository(dir)
}
