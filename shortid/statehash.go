package shortid

import (
	"context"
	"fmt"
)

// GetOrCreateShortStateHash interns an opaque state hash, typically a sha256
// over a room's state set. The bool reports whether the hash was already
// interned, callers use it to skip rebuilding state groups they have seen.
// State hashes are looked up once when a state set is built and essentially
// never again, so this path is deliberately uncached.
func (s *Store) GetOrCreateShortStateHash(ctx context.Context, stateHash []byte) (ShortID, bool, error) {
	if len(stateHash) == 0 {
		return 0, false, fmt.Errorf("%w: state hash is empty", ErrInvalidIdentifier)
	}
	short, created, err := s.getOrCreate(ctx, &s.stateHashes, stateHash)
	if err != nil {
		return 0, false, err
	}
	return short, !created, nil
}
