package shortid

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// EventID is the canonical identifier of an event: a '$' sigil followed by an
// opaque, non empty localpart. Older identifier formats carry a ':servername'
// suffix; the store treats everything after the sigil as opaque.
type EventID string

// RoomID is the canonical identifier of a room: '!localpart:servername' with
// both parts non empty.
type RoomID string

// EventType names the schema of a state event, "m.room.member" and friends.
// Custom types are arbitrary non empty utf-8.
type EventType string

const (
	eventIDSigil = '$'
	roomIDSigil  = '!'
)

// ParseEventID validates s and returns it as an EventID.
func ParseEventID(s string) (EventID, error) {
	id := EventID(s)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Validate fails with ErrInvalidIdentifier unless the id has the event sigil,
// a non empty localpart, and is valid utf-8.
func (id EventID) Validate() error {
	if len(id) < 2 || id[0] != eventIDSigil {
		return fmt.Errorf(
			"%w: event id %q must be a '$' sigil followed by a localpart",
			ErrInvalidIdentifier, string(id))
	}
	if !utf8.ValidString(string(id)) {
		return fmt.Errorf("%w: event id is not valid utf-8", ErrInvalidIdentifier)
	}
	return nil
}

// ParseRoomID validates s and returns it as a RoomID.
func ParseRoomID(s string) (RoomID, error) {
	id := RoomID(s)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Validate fails with ErrInvalidIdentifier unless the id is
// '!localpart:servername' with both parts non empty and valid utf-8.
func (id RoomID) Validate() error {
	s := string(id)
	if len(s) < 4 || s[0] != roomIDSigil {
		return fmt.Errorf(
			"%w: room id %q must be '!localpart:servername'", ErrInvalidIdentifier, s)
	}
	colon := strings.IndexByte(s, ':')
	if colon < 2 || colon == len(s)-1 {
		return fmt.Errorf(
			"%w: room id %q must be '!localpart:servername'", ErrInvalidIdentifier, s)
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: room id is not valid utf-8", ErrInvalidIdentifier)
	}
	return nil
}

// Validate fails with ErrInvalidIdentifier unless the type is non empty and
// valid utf-8. Valid utf-8 can never contain the 0xff delimiter byte, so a
// valid type composes safely into a state key entry.
func (et EventType) Validate() error {
	if len(et) == 0 {
		return fmt.Errorf("%w: event type is empty", ErrInvalidIdentifier)
	}
	if !utf8.ValidString(string(et)) {
		return fmt.Errorf("%w: event type is not valid utf-8", ErrInvalidIdentifier)
	}
	return nil
}
