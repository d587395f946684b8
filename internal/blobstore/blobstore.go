// Package blobstore defines the pluggable byte-level storage backend (SPEC_FULL
// §4.A): write/read/exists/list/delete over local disk, in-memory, or a
// future object store. Backends never interpret file format.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// Info describes a stored object.
type Info struct {
	Size  int64
	Mtime time.Time
}

// Backend is the byte-level storage contract. Paths are backend-relative
// (e.g. "artifacts/<hash>"); URI-scheme selection happens at construction
// time via Open, not per-call.
type Backend interface {
	WriteStream(ctx context.Context, path string, r io.Reader) error
	ReadStream(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Info(ctx context.Context, path string) (Info, error)
}

// Open selects a backend by the URI scheme of uri (file://, memory://,
// s3://, ...). Only file and memory are implemented in-process; other
// schemes are a configuration error until a matching backend is registered.
func Open(uri string) (Backend, error) {
	if uri == "" {
		return nil, fmt.Errorf("blobstore: empty backend URI")
	}
	if !strings.Contains(uri, "://") {
		// Bare filesystem path, treated as file:// for config ergonomics
		// (storage.base_path in SPEC_FULL §8 is typically just a path).
		return NewLocal(uri), nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("blobstore: parse backend URI: %w", err)
	}
	switch u.Scheme {
	case "file":
		return NewLocal(u.Path), nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("blobstore: unsupported backend scheme %q", u.Scheme)
	}
}
