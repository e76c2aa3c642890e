package shortid

import (
	"errors"
)

var (
	// ErrCorruptData marks stored bytes that fail to decode: a short id value
	// with the wrong width, a reverse entry that is absent or refers back to a
	// different key, or a state key entry with no delimiter. The mapping is
	// append only, so these never arise from API use; they indicate the
	// backing store was damaged or written by something else.
	ErrCorruptData = errors.New("corrupt data")

	// ErrInvalidIdentifier marks caller supplied identifiers that fail
	// validation before any store access happens.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)
