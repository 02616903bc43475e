// Package grid talks to the remote storage grid that holds the raw image
// archives. A Connection is one authenticated session; the SessionPool
// hands sessions out to workers with reference-counted checkouts.
package grid

import (
	"context"
	"time"
)

// AccessLevel is the grid's three-level permission model.
type AccessLevel string

const (
	AccessRead   AccessLevel = "read"
	AccessUpload AccessLevel = "upload"
	AccessOwn    AccessLevel = "own"
)

// DefaultDownloadExpiry bounds how long a generated download link stays
// valid.
const DefaultDownloadExpiry = 15 * time.Minute

// Connection is one authenticated session against the storage grid. A
// Connection is owned by a single worker at a time; concurrent use of one
// Connection is not supported.
type Connection interface {
	// Mkdir creates a grid collection (folder) at path, including missing
	// parents. Creating an existing collection is not an error.
	Mkdir(ctx context.Context, path string) error

	// Put uploads the local file to remotePath on the grid.
	Put(ctx context.Context, localPath, remotePath string) error

	// List returns the paths stored under prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// SetAccess grants username the given access level on path.
	SetAccess(ctx context.Context, path, username string, level AccessLevel) error

	// DownloadURL generates a time-limited link for fetching one stored
	// file without going through the engine.
	DownloadURL(ctx context.Context, remotePath string, expires time.Duration) (string, error)

	// Close ends the session. A closed Connection must not be reused.
	Close() error
}

// DialFunc opens a fresh authenticated session.
type DialFunc func(ctx context.Context) (Connection, error)
