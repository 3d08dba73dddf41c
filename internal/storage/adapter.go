package storage

import (
	"context"
	"io"
)

// Adapter defines the interface for storage backends. Paths are
// forward-slash relative keys, e.g. "books/<id>/manifest.json".
type Adapter interface {
	// Put stores data at the given path, replacing any existing object.
	// Implementations make the replacement atomic: readers never observe a
	// partially written object.
	Put(ctx context.Context, path string, data io.Reader) error

	// Get retrieves data from the given path
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes data at the given path
	Delete(ctx context.Context, path string) error

	// DeletePrefix removes every object under the given prefix
	DeletePrefix(ctx context.Context, prefix string) error

	// Exists checks if data exists at the given path
	Exists(ctx context.Context, path string) (bool, error)

	// List returns paths matching the given prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Close cleans up any resources
	Close() error
}
