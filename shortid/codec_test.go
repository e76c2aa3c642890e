package shortid

import (
	"bytes"
	"errors"
	"testing"
)

func TestShortIDBytes(t *testing.T) {
	// check the expected locations for the serialization given the big
	// endian encoding
	tests := []struct {
		name  string
		short ShortID
		want  []byte
	}{
		{"one", ShortID(1), []byte{0, 0, 0, 0, 0, 0, 0, 1}},
		{"distinct bytes", ShortID(0x0102030405060708), []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{"max", ShortID(0xffffffffffffffff), bytes.Repeat([]byte{0xff}, 8)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.short.Bytes()
			if !bytes.Equal(b, tt.want) {
				t.Errorf("Bytes() = %x, want %x", b, tt.want)
			}
			back, err := ParseShortID(b)
			if err != nil {
				t.Errorf("ParseShortID() unexpected error: %v", err)
			}
			if back != tt.short {
				t.Errorf("ParseShortID() = %d, want %d", back, tt.short)
			}
		})
	}
}

func TestParseShortIDRejectsWidths(t *testing.T) {
	for _, n := range []int{0, 1, 4, 7, 9, 16} {
		if _, err := ParseShortID(make([]byte, n)); !errors.Is(err, ErrCorruptData) {
			t.Errorf("ParseShortID(%d bytes) err = %v, want ErrCorruptData", n, err)
		}
	}
}

func TestStateKeyCodecRoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		eventType EventType
		stateKey  string
	}{
		{"member", "m.room.member", "@alice:example.org"},
		{"empty state key", "m.room.create", ""},
		{"custom type", "org.parlor.topic_history", "v2"},
		{"unicode", "m.room.member", "@ålice:example.org"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := EncodeStateKey(tt.eventType, tt.stateKey)
			if err != nil {
				t.Fatalf("EncodeStateKey() unexpected error: %v", err)
			}
			wantLen := len(tt.eventType) + 1 + len(tt.stateKey)
			if len(b) != wantLen {
				t.Errorf("encoded length = %d, want %d", len(b), wantLen)
			}
			if b[len(tt.eventType)] != 0xff {
				t.Errorf("delimiter byte = %x, want ff", b[len(tt.eventType)])
			}
			eventType, stateKey, err := DecodeStateKey(b)
			if err != nil {
				t.Fatalf("DecodeStateKey() unexpected error: %v", err)
			}
			if eventType != tt.eventType || stateKey != tt.stateKey {
				t.Errorf("DecodeStateKey() = (%q, %q), want (%q, %q)",
					eventType, stateKey, tt.eventType, tt.stateKey)
			}
		})
	}
}

func TestEncodeStateKeyRejects(t *testing.T) {
	tests := []struct {
		name      string
		eventType EventType
		stateKey  string
	}{
		{"empty type", "", "x"},
		{"type with delimiter byte", EventType("m.room\xffmember"), ""},
		{"type bad utf-8", EventType("m.room.\xc3"), ""},
		{"state key bad utf-8", "m.room.member", "\xff\xfe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeStateKey(tt.eventType, tt.stateKey); !errors.Is(err, ErrInvalidIdentifier) {
				t.Errorf("EncodeStateKey() err = %v, want ErrInvalidIdentifier", err)
			}
		})
	}
}

func TestDecodeStateKeyRejects(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
	}{
		{"no delimiter", []byte("m.room.member")},
		{"empty", nil},
		{"empty type segment", []byte("\xffkey")},
		{"type segment bad utf-8", []byte("m.\xc3\xff")},
		{"state key segment bad utf-8", []byte("m.room.member\xff\xfe")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeStateKey(tt.b); !errors.Is(err, ErrCorruptData) {
				t.Errorf("DecodeStateKey() err = %v, want ErrCorruptData", err)
			}
		})
	}
}

func TestParseEventID(t *testing.T) {
	for _, good := range []string{"$abc", "$x:example.org", "$0123_-~"} {
		if _, err := ParseEventID(good); err != nil {
			t.Errorf("ParseEventID(%q) unexpected error: %v", good, err)
		}
	}
	for _, bad := range []string{"", "$", "abc", "!abc", "$\xff\xfe"} {
		if _, err := ParseEventID(bad); !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("ParseEventID(%q) err = %v, want ErrInvalidIdentifier", bad, err)
		}
	}
}

func TestParseRoomID(t *testing.T) {
	for _, good := range []string{"!a:b", "!room:example.org", "!x:server:8448"} {
		if _, err := ParseRoomID(good); err != nil {
			t.Errorf("ParseRoomID(%q) unexpected error: %v", good, err)
		}
	}
	for _, bad := range []string{"", "!", "!abc", "!:example.org", "!room:", "room:example.org", "!a:b\xff"} {
		if _, err := ParseRoomID(bad); !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("ParseRoomID(%q) err = %v, want ErrInvalidIdentifier", bad, err)
		}
	}
}
