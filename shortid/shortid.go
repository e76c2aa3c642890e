// Package shortid interns verbose chat identifiers as dense 8 byte integers.
//
// Event ids, state key pairs, room ids and state hashes are long. They appear
// in hot indexes many times over, so the store assigns each distinct
// identifier a small monotonic id on first sight and resolves it back on
// demand. Assignment is first come first served from a shared counter and an
// identifier keeps its short id forever: the forward maps are append only and
// two way tables always agree with their reverse.
package shortid

import (
	"encoding/binary"
	"fmt"
)

// ShortID is the interned form of an identifier. Ids are allocated from a
// shared counter, so they are unique across all tables, not just within one.
// Zero is never allocated.
type ShortID uint64

// ShortIDBytes is the stored width of a ShortID.
const ShortIDBytes = 8

// Bytes returns the big endian stored form of the id.
func (s ShortID) Bytes() []byte {
	b := make([]byte, ShortIDBytes)
	binary.BigEndian.PutUint64(b, uint64(s))
	return b
}

// ParseShortID decodes a stored short id value. Any width other than
// ShortIDBytes fails with ErrCorruptData.
func ParseShortID(b []byte) (ShortID, error) {
	if len(b) != ShortIDBytes {
		return 0, fmt.Errorf(
			"%w: short value is %d bytes, expected %d", ErrCorruptData, len(b), ShortIDBytes)
	}
	return ShortID(binary.BigEndian.Uint64(b)), nil
}

// The kvstore map names used by the store. The stored counter lives in its
// own map, see the counter package.
const (
	MapEventIDToShort   = "eventid_shorteventid"
	MapShortToEventID   = "shorteventid_eventid"
	MapStateKeyToShort  = "statekey_shortstatekey"
	MapShortToStateKey  = "shortstatekey_statekey"
	MapRoomIDToShort    = "roomid_shortroomid"
	MapStateHashToShort = "statehash_shortstatehash"
)

// MapNames returns the names of all maps the store reads and writes, in a
// stable order. Snapshot and inspection tooling iterate this rather than
// hard coding the set.
func MapNames() []string {
	return []string{
		MapEventIDToShort,
		MapShortToEventID,
		MapStateKeyToShort,
		MapShortToStateKey,
		MapRoomIDToShort,
		MapStateHashToShort,
	}
}
