package shortid

import (
	"context"
	"fmt"
)

// GetShortStateKey looks up the short id for an (event type, state key) pair
// without creating one. The bool reports whether the pair is interned.
func (s *Store) GetShortStateKey(ctx context.Context, eventType EventType, stateKey string) (ShortID, bool, error) {
	key, err := EncodeStateKey(eventType, stateKey)
	if err != nil {
		return 0, false, err
	}
	if short, ok := s.cachedShortStateKey(eventType, stateKey); ok {
		return short, true, nil
	}
	short, ok, err := s.lookupShort(ctx, &s.stateKeys, key)
	if err != nil || !ok {
		return 0, false, err
	}
	s.cacheStateKey(eventType, stateKey, short)
	return short, true, nil
}

// GetOrCreateShortStateKey returns the short id interning the pair, minting
// one on first sight.
func (s *Store) GetOrCreateShortStateKey(ctx context.Context, eventType EventType, stateKey string) (ShortID, error) {
	key, err := EncodeStateKey(eventType, stateKey)
	if err != nil {
		return 0, err
	}
	if short, ok := s.cachedShortStateKey(eventType, stateKey); ok {
		return short, nil
	}
	short, _, err := s.getOrCreate(ctx, &s.stateKeys, key)
	if err != nil {
		return 0, err
	}
	s.cacheStateKey(eventType, stateKey, short)
	return short, nil
}

// GetStateKeyFromShort resolves a short id back to its (event type, state
// key) pair. A short id with no reverse entry, or an entry that does not
// split into a valid pair, fails with ErrCorruptData.
func (s *Store) GetStateKeyFromShort(ctx context.Context, short ShortID) (EventType, string, error) {
	if s.caches != nil {
		if eventType, stateKey, ok := s.caches.GetStateKey(short); ok {
			s.metrics.lookupInc(MapShortToStateKey, true)
			return eventType, stateKey, nil
		}
	}
	v, ok, err := s.stateKeys.rev.Get(ctx, short.Bytes())
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", MapShortToStateKey, err)
	}
	if !ok {
		s.metrics.corruptInc(MapShortToStateKey)
		return "", "", fmt.Errorf(
			"%w: %s has no entry for %d", ErrCorruptData, MapShortToStateKey, short)
	}
	eventType, stateKey, err := DecodeStateKey(v)
	if err != nil {
		s.metrics.corruptInc(MapShortToStateKey)
		return "", "", fmt.Errorf("%s entry for %d: %w", MapShortToStateKey, short, err)
	}
	s.metrics.lookupInc(MapShortToStateKey, true)
	s.cacheStateKey(eventType, stateKey, short)
	return eventType, stateKey, nil
}

func (s *Store) cachedShortStateKey(eventType EventType, stateKey string) (ShortID, bool) {
	if s.caches == nil {
		return 0, false
	}
	short, ok := s.caches.GetShortStateKey(eventType, stateKey)
	if ok {
		s.metrics.lookupInc(MapStateKeyToShort, true)
	}
	return short, ok
}

func (s *Store) cacheStateKey(eventType EventType, stateKey string, short ShortID) {
	if s.caches != nil {
		s.caches.StoreStateKey(eventType, stateKey, short)
	}
}
