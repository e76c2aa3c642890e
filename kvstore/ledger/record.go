package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// A ledger file is a fixed header followed by append-only records. Replaying
// the records in file order reproduces the map, last write wins per key.
//
// Header:
//
//	| magic | version | reserved |
//	| 0..3  |  4..5   |   6..7   |
//
// Record:
//
//	| klen | vlen |   key    | value  | crc32 |
//	| 0..3 | 4..7 | 8..8+k-1 | ..+v-1 |  ..+3 |
//
// The crc covers everything before it in the record. A record that fails its
// crc, or a tail shorter than its declared frame, stops replay with an error;
// the store refuses to open rather than guess at the damage.

const (
	HeaderMagic   = uint32(0x5349444c) // "SIDL"
	HeaderVersion = uint16(1)

	HeaderMagicStart   = 0
	HeaderMagicEnd     = HeaderMagicStart + 4
	HeaderVersionStart = HeaderMagicEnd
	HeaderVersionEnd   = HeaderVersionStart + 2
	HeaderBytes        = 8

	RecordKeyLenStart   = 0
	RecordKeyLenEnd     = RecordKeyLenStart + 4
	RecordValueLenStart = RecordKeyLenEnd
	RecordValueLenEnd   = RecordValueLenStart + 4
	RecordKeyStart      = RecordValueLenEnd
	RecordCRCBytes      = 4

	// Frame bytes that are not key or value.
	RecordFixedBytes = RecordKeyStart + RecordCRCBytes

	// Interned identifiers are short strings and short ids are 8 bytes. The
	// caps exist so a corrupt length field cannot demand an absurd allocation
	// during replay.
	MaxKeyBytes   = 1 << 16
	MaxValueBytes = 1 << 16
)

var (
	ErrBadHeader = errors.New("ledger: bad file header")
	ErrBadRecord = errors.New("ledger: bad record")
	ErrTruncated = errors.New("ledger: truncated record tail")
	ErrTooLarge  = errors.New("ledger: key or value exceeds size cap")
)

// EncodeHeader returns the 8 byte file header.
func EncodeHeader() []byte {
	b := make([]byte, HeaderBytes)
	binary.BigEndian.PutUint32(b[HeaderMagicStart:HeaderMagicEnd], HeaderMagic)
	binary.BigEndian.PutUint16(b[HeaderVersionStart:HeaderVersionEnd], HeaderVersion)
	return b
}

// DecodeHeader validates b as a ledger file header.
func DecodeHeader(b []byte) error {
	if len(b) < HeaderBytes {
		return fmt.Errorf("%w: %d bytes", ErrBadHeader, len(b))
	}
	if binary.BigEndian.Uint32(b[HeaderMagicStart:HeaderMagicEnd]) != HeaderMagic {
		return fmt.Errorf("%w: bad magic", ErrBadHeader)
	}
	if v := binary.BigEndian.Uint16(b[HeaderVersionStart:HeaderVersionEnd]); v != HeaderVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrBadHeader, v)
	}
	return nil
}

// EncodeRecord frames one key value pair.
func EncodeRecord(key, value []byte) ([]byte, error) {
	if len(key) > MaxKeyBytes || len(value) > MaxValueBytes {
		return nil, fmt.Errorf("%w: klen=%d vlen=%d", ErrTooLarge, len(key), len(value))
	}
	b := make([]byte, RecordKeyStart+len(key)+len(value)+RecordCRCBytes)
	binary.BigEndian.PutUint32(b[RecordKeyLenStart:RecordKeyLenEnd], uint32(len(key)))
	binary.BigEndian.PutUint32(b[RecordValueLenStart:RecordValueLenEnd], uint32(len(value)))
	copy(b[RecordKeyStart:], key)
	copy(b[RecordKeyStart+len(key):], value)
	crc := crc32.ChecksumIEEE(b[:len(b)-RecordCRCBytes])
	binary.BigEndian.PutUint32(b[len(b)-RecordCRCBytes:], crc)
	return b, nil
}

// DecodeRecord reads one record from the front of b. It returns the key, the
// value, and the number of bytes consumed. A cleanly exhausted input returns
// n = 0 and no error; a partial frame returns ErrTruncated.
func DecodeRecord(b []byte) (key []byte, value []byte, n int, err error) {
	if len(b) == 0 {
		return nil, nil, 0, nil
	}
	if len(b) < RecordKeyStart {
		return nil, nil, 0, fmt.Errorf("%w: %d bytes remain", ErrTruncated, len(b))
	}
	klen := binary.BigEndian.Uint32(b[RecordKeyLenStart:RecordKeyLenEnd])
	vlen := binary.BigEndian.Uint32(b[RecordValueLenStart:RecordValueLenEnd])
	if klen > MaxKeyBytes || vlen > MaxValueBytes {
		return nil, nil, 0, fmt.Errorf("%w: klen=%d vlen=%d", ErrBadRecord, klen, vlen)
	}
	total := RecordKeyStart + int(klen) + int(vlen) + RecordCRCBytes
	if len(b) < total {
		return nil, nil, 0, fmt.Errorf("%w: want %d bytes, have %d", ErrTruncated, total, len(b))
	}
	want := binary.BigEndian.Uint32(b[total-RecordCRCBytes : total])
	if got := crc32.ChecksumIEEE(b[:total-RecordCRCBytes]); got != want {
		return nil, nil, 0, fmt.Errorf("%w: crc mismatch", ErrBadRecord)
	}
	key = b[RecordKeyStart : RecordKeyStart+int(klen)]
	value = b[RecordKeyStart+int(klen) : RecordKeyStart+int(klen)+int(vlen)]
	return key, value, total, nil
}
