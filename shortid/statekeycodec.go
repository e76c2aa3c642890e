package shortid

// A state entry is addressed by the pair (event type, state key). The pair is
// flattened into a single map key with a delimiter byte:
//
//	| event type       | 0xff | state key        |
//	| utf-8, >= 1 byte |  1   | utf-8, may be "" |
//
// Valid utf-8 never contains 0xff, so the first 0xff in a stored key is
// always the delimiter and both segments decode unambiguously.

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

const stateKeyDelim = byte(0xff)

// EncodeStateKey flattens an (event type, state key) pair into the composite
// form used as the statekey map key. The type must validate and the state key
// must be utf-8; the state key may be empty, most state events use "".
func EncodeStateKey(eventType EventType, stateKey string) ([]byte, error) {
	if err := eventType.Validate(); err != nil {
		return nil, err
	}
	if !utf8.ValidString(stateKey) {
		return nil, fmt.Errorf("%w: state key is not valid utf-8", ErrInvalidIdentifier)
	}
	b := make([]byte, 0, len(eventType)+1+len(stateKey))
	b = append(b, eventType...)
	b = append(b, stateKeyDelim)
	b = append(b, stateKey...)
	return b, nil
}

// DecodeStateKey splits a stored composite key back into its pair. The split
// is at the first 0xff byte. Damage fails with ErrCorruptData.
func DecodeStateKey(b []byte) (EventType, string, error) {
	i := bytes.IndexByte(b, stateKeyDelim)
	if i < 0 {
		return "", "", fmt.Errorf("%w: state key entry has no delimiter", ErrCorruptData)
	}
	et, sk := b[:i], b[i+1:]
	if len(et) == 0 || !utf8.Valid(et) {
		return "", "", fmt.Errorf("%w: state key entry has an invalid event type", ErrCorruptData)
	}
	if !utf8.Valid(sk) {
		return "", "", fmt.Errorf("%w: state key entry has an invalid state key", ErrCorruptData)
	}
	return EventType(et), string(sk), nil
}
