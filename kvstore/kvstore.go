// Package kvstore defines the byte-ordered map contract the interning tables
// are built on, and provides the in-memory reference implementation.
package kvstore

import (
	"context"
	"errors"
	"regexp"
)

var (
	ErrDBClosed   = errors.New("kvstore: db is closed")
	ErrBadMapName = errors.New("kvstore: bad map name")
)

var mapNameRE = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ValidMapName reports whether name is usable as a map name. Backends embed
// map names in table names and file names, so the shape is strict.
func ValidMapName(name string) bool {
	return mapNameRE.MatchString(name)
}

// Map is a single byte-keyed, byte-ordered map. Implementations guarantee
// atomicity per key only. A caller that Inserts a key must observe that key
// in its own subsequent reads (read-your-writes); no ordering is guaranteed
// between callers.
type Map interface {
	// Get returns the value stored under key. ok is false when the key is
	// absent. The returned slice is owned by the caller.
	Get(ctx context.Context, key []byte) (value []byte, ok bool, err error)

	// Insert stores value under key, replacing any previous value. Keys and
	// values are copied, the caller may reuse its slices.
	Insert(ctx context.Context, key, value []byte) error

	// MultiGet returns one result per key, positionally aligned with keys.
	// Absent keys yield a nil slot. Present empty values are non-nil.
	MultiGet(ctx context.Context, keys [][]byte) ([][]byte, error)

	// Range calls fn for every entry in ascending byte order of key. A non-nil
	// return from fn stops the walk and is returned to the caller. fn may call
	// back into the map; entries inserted during the walk may or may not be
	// visited.
	Range(ctx context.Context, fn func(key, value []byte) error) error
}

// DB hands out the named maps of one store. Map creates the named map on
// first use and returns the same instance for the same name thereafter.
type DB interface {
	Map(name string) (Map, error)
	Close() error
}
