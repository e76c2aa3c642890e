package shortid

import (
	"context"
	"fmt"
)

// GetOrCreateShortEventID returns the short id interning eventID, assigning
// the next counter value on first sight. Repeated calls for the same id
// always return the same value.
func (s *Store) GetOrCreateShortEventID(ctx context.Context, eventID EventID) (ShortID, error) {
	if err := eventID.Validate(); err != nil {
		return 0, err
	}
	if short, ok := s.cachedShortEventID(eventID); ok {
		return short, nil
	}
	short, _, err := s.getOrCreate(ctx, &s.eventIDs, []byte(eventID))
	if err != nil {
		return 0, err
	}
	s.cacheEventID(eventID, short)
	return short, nil
}

// GetOrCreateShortEventIDs interns a batch in one pass: one MultiGet for the
// misses, then creates under a single hold of the table lock. The result is
// positionally aligned with eventIDs, and duplicate positions within the
// batch collapse to one mint. Any invalid id fails the whole batch before
// anything is written.
func (s *Store) GetOrCreateShortEventIDs(ctx context.Context, eventIDs []EventID) ([]ShortID, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	for _, id := range eventIDs {
		if err := id.Validate(); err != nil {
			return nil, err
		}
	}

	shorts := make([]ShortID, len(eventIDs))
	resolved := make([]bool, len(eventIDs))
	if s.caches != nil {
		for i, id := range eventIDs {
			if short, ok := s.caches.GetShortEventID(id); ok {
				shorts[i] = short
				resolved[i] = true
				s.metrics.lookupInc(MapEventIDToShort, true)
			}
		}
	}

	t := &s.eventIDs
	t.mu.Lock()
	defer t.mu.Unlock()

	var keys [][]byte
	var idx []int
	for i, id := range eventIDs {
		if !resolved[i] {
			keys = append(keys, []byte(id))
			idx = append(idx, i)
		}
	}
	if len(keys) == 0 {
		return shorts, nil
	}

	values, err := t.fwd.MultiGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.name, err)
	}

	// A duplicate id later in the batch must reuse the id minted for its
	// first occurrence, the MultiGet snapshot predates that mint.
	created := make(map[EventID]ShortID)
	for j, v := range values {
		i := idx[j]
		id := eventIDs[i]
		if v != nil {
			short, err := ParseShortID(v)
			if err != nil {
				s.metrics.corruptInc(t.name)
				return nil, fmt.Errorf("%s: %w", t.name, err)
			}
			s.metrics.lookupInc(t.name, true)
			shorts[i] = short
			s.cacheEventID(id, short)
			continue
		}
		if short, ok := created[id]; ok {
			shorts[i] = short
			continue
		}
		s.metrics.lookupInc(t.name, false)
		short, err := s.createLocked(ctx, t, keys[j])
		if err != nil {
			return nil, err
		}
		created[id] = short
		shorts[i] = short
		s.cacheEventID(id, short)
	}
	return shorts, nil
}

// GetEventIDFromShort resolves a short id back to the event id it interns.
// A short id with no reverse entry, or one resolving to malformed bytes,
// fails with ErrCorruptData.
func (s *Store) GetEventIDFromShort(ctx context.Context, short ShortID) (EventID, error) {
	if s.caches != nil {
		if id, ok := s.caches.GetEventID(short); ok {
			s.metrics.lookupInc(MapShortToEventID, true)
			return id, nil
		}
	}
	v, ok, err := s.eventIDs.rev.Get(ctx, short.Bytes())
	if err != nil {
		return "", fmt.Errorf("%s: %w", MapShortToEventID, err)
	}
	if !ok {
		s.metrics.corruptInc(MapShortToEventID)
		return "", fmt.Errorf(
			"%w: %s has no entry for %d", ErrCorruptData, MapShortToEventID, short)
	}
	id, err := ParseEventID(string(v))
	if err != nil {
		s.metrics.corruptInc(MapShortToEventID)
		return "", fmt.Errorf(
			"%w: %s entry for %d is not a valid event id", ErrCorruptData, MapShortToEventID, short)
	}
	s.metrics.lookupInc(MapShortToEventID, true)
	s.cacheEventID(id, short)
	return id, nil
}

func (s *Store) cachedShortEventID(id EventID) (ShortID, bool) {
	if s.caches == nil {
		return 0, false
	}
	short, ok := s.caches.GetShortEventID(id)
	if ok {
		s.metrics.lookupInc(MapEventIDToShort, true)
	}
	return short, ok
}

func (s *Store) cacheEventID(id EventID, short ShortID) {
	if s.caches != nil {
		s.caches.StoreEventID(id, short)
	}
}
