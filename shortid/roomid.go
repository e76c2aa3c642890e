package shortid

import (
	"context"
)

// GetShortRoomID looks up the short id for roomID without creating one. The
// bool reports whether the room is interned. Rooms keep no reverse map,
// nothing resolves a short room id back to the verbose form.
func (s *Store) GetShortRoomID(ctx context.Context, roomID RoomID) (ShortID, bool, error) {
	if err := roomID.Validate(); err != nil {
		return 0, false, err
	}
	if short, ok := s.cachedShortRoomID(roomID); ok {
		return short, true, nil
	}
	short, ok, err := s.lookupShort(ctx, &s.roomIDs, []byte(roomID))
	if err != nil || !ok {
		return 0, false, err
	}
	s.cacheRoomID(roomID, short)
	return short, true, nil
}

// GetOrCreateShortRoomID returns the short id interning roomID, minting one
// on first sight.
func (s *Store) GetOrCreateShortRoomID(ctx context.Context, roomID RoomID) (ShortID, error) {
	if err := roomID.Validate(); err != nil {
		return 0, err
	}
	if short, ok := s.cachedShortRoomID(roomID); ok {
		return short, nil
	}
	short, _, err := s.getOrCreate(ctx, &s.roomIDs, []byte(roomID))
	if err != nil {
		return 0, err
	}
	s.cacheRoomID(roomID, short)
	return short, nil
}

func (s *Store) cachedShortRoomID(id RoomID) (ShortID, bool) {
	if s.caches == nil {
		return 0, false
	}
	short, ok := s.caches.GetShortRoomID(id)
	if ok {
		s.metrics.lookupInc(MapRoomIDToShort, true)
	}
	return short, ok
}

func (s *Store) cacheRoomID(id RoomID, short ShortID) {
	if s.caches != nil {
		s.caches.StoreShortRoomID(id, short)
	}
}
