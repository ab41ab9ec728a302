// Package cache stores rendered artifacts so that re-uploading an identical
// archive with identical render settings skips extraction and rendering.
//
// Three backends are provided:
//   - NullCache: caching disabled
//   - FileCache: one file per entry below a directory, for the CLI
//   - RedisCache: shared cache for several server instances
//
// Keys come from a Keyer; ScopedKeyer prefixes them for isolation.
package cache

import (
	"context"
	"time"
)

// TTLArtifact is how long rendered artifacts are kept.
const TTLArtifact = 7 * 24 * time.Hour

// Cache is a byte-oriented key/value store with expiry.
type Cache interface {
	// Get returns the value for key and whether it was found.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores data under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases backend resources.
	Close() error
}

// ArtifactKeyOpts holds everything besides the archive content that changes
// the rendered image.
type ArtifactKeyOpts struct {
	ResizeWidth      int
	Density          int
	CompressionLevel int
	Layers           []string // role=path pairs in spec order
}

// Keyer generates cache keys.
type Keyer interface {
	ArtifactKey(archiveHash string, opts ArtifactKeyOpts) string
}

// DefaultKeyer hashes key components into fixed-length keys.
type DefaultKeyer struct{}

// NewDefaultKeyer creates the default keyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// ArtifactKey generates a key for a rendered artifact.
func (DefaultKeyer) ArtifactKey(archiveHash string, opts ArtifactKeyOpts) string {
	return hashKey("artifact", archiveHash, opts)
}
