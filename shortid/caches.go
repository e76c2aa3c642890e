package shortid

// Caches is an optional read-through layer over the interned mappings. A
// mapping never changes once created, so entries are valid forever and the
// implementation only decides retention. Store methods fill both directions
// of two way tables at once.
//
// State hashes are deliberately absent: callers look each hash up once while
// building a state group, so cached entries would almost never be hit again.
type Caches interface {
	GetShortEventID(eventID EventID) (ShortID, bool)
	GetEventID(short ShortID) (EventID, bool)
	StoreEventID(eventID EventID, short ShortID)

	GetShortStateKey(eventType EventType, stateKey string) (ShortID, bool)
	GetStateKey(short ShortID) (EventType, string, bool)
	StoreStateKey(eventType EventType, stateKey string, short ShortID)

	GetShortRoomID(roomID RoomID) (ShortID, bool)
	StoreShortRoomID(roomID RoomID, short ShortID)
}
