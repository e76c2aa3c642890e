package ledger

import (
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	b := EncodeHeader()
	// check the expected locations for the serialization given the big endian
	// encoding
	want := []byte{0x53, 0x49, 0x44, 0x4c, 0x00, 0x01, 0x00, 0x00}
	if !reflect.DeepEqual(b, want) {
		t.Errorf("EncodeHeader() = %x, want %x", b, want)
	}
	if err := DecodeHeader(b); err != nil {
		t.Errorf("DecodeHeader() = %v, want nil", err)
	}
}

func TestDecodeHeaderRejects(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
	}{
		{"short", []byte{0x53, 0x49}},
		{"bad magic", []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01, 0x00, 0x00}},
		{"bad version", []byte{0x53, 0x49, 0x44, 0x4c, 0x00, 0x02, 0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := DecodeHeader(tt.b); !errors.Is(err, ErrBadHeader) {
				t.Errorf("DecodeHeader() = %v, want ErrBadHeader", err)
			}
		})
	}
}

func TestRecordRoundTrip(t *testing.T) {
	type args struct {
		key   []byte
		value []byte
	}
	tests := []struct {
		name string
		args args
	}{
		{"small", args{[]byte("k"), []byte{0x01, 0x02}}},
		{"empty value", args{[]byte("key-only"), []byte{}}},
		{"nil value", args{[]byte("nil-value"), nil}},
		{"binary key", args{[]byte{0x00, 0xff, 0x00}, []byte{0xff}}},
		{"short id shaped", args{[]byte("$event:example.org"), []byte{0, 0, 0, 0, 0, 0, 0, 42}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := EncodeRecord(tt.args.key, tt.args.value)
			if err != nil {
				t.Fatalf("EncodeRecord() = %v", err)
			}

			// check the frame fields land at the expected offsets
			if got := binary.BigEndian.Uint32(b[RecordKeyLenStart:RecordKeyLenEnd]); got != uint32(len(tt.args.key)) {
				t.Errorf("klen = %d, want %d", got, len(tt.args.key))
			}
			if got := binary.BigEndian.Uint32(b[RecordValueLenStart:RecordValueLenEnd]); got != uint32(len(tt.args.value)) {
				t.Errorf("vlen = %d, want %d", got, len(tt.args.value))
			}
			if got := len(b); got != RecordFixedBytes+len(tt.args.key)+len(tt.args.value) {
				t.Errorf("frame length = %d", got)
			}

			key, value, n, err := DecodeRecord(b)
			if err != nil {
				t.Fatalf("DecodeRecord() = %v", err)
			}
			if n != len(b) {
				t.Errorf("consumed %d, want %d", n, len(b))
			}
			if !reflect.DeepEqual(key, tt.args.key) {
				t.Errorf("key = %x, want %x", key, tt.args.key)
			}
			if len(value) != len(tt.args.value) {
				t.Errorf("value = %x, want %x", value, tt.args.value)
			}
			if value == nil {
				t.Error("decoded value must be non nil for a present record")
			}
		})
	}
}

func TestDecodeRecordEmptyInput(t *testing.T) {
	key, value, n, err := DecodeRecord(nil)
	if key != nil || value != nil || n != 0 || err != nil {
		t.Errorf("DecodeRecord(nil) = %x %x %d %v, want clean exhaustion", key, value, n, err)
	}
}

func TestDecodeRecordDamage(t *testing.T) {
	good, err := EncodeRecord([]byte("damaged"), []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("truncated frame", func(t *testing.T) {
		_, _, _, err := DecodeRecord(good[:5])
		if !errors.Is(err, ErrTruncated) {
			t.Errorf("got %v, want ErrTruncated", err)
		}
	})

	t.Run("truncated body", func(t *testing.T) {
		_, _, _, err := DecodeRecord(good[:len(good)-3])
		if !errors.Is(err, ErrTruncated) {
			t.Errorf("got %v, want ErrTruncated", err)
		}
	})

	t.Run("flipped key byte", func(t *testing.T) {
		bad := append([]byte{}, good...)
		bad[RecordKeyStart] ^= 0x01
		_, _, _, err := DecodeRecord(bad)
		if !errors.Is(err, ErrBadRecord) {
			t.Errorf("got %v, want ErrBadRecord", err)
		}
	})

	t.Run("flipped crc byte", func(t *testing.T) {
		bad := append([]byte{}, good...)
		bad[len(bad)-1] ^= 0x01
		_, _, _, err := DecodeRecord(bad)
		if !errors.Is(err, ErrBadRecord) {
			t.Errorf("got %v, want ErrBadRecord", err)
		}
	})

	t.Run("absurd length", func(t *testing.T) {
		bad := append([]byte{}, good...)
		binary.BigEndian.PutUint32(bad[RecordKeyLenStart:RecordKeyLenEnd], 1<<30)
		_, _, _, err := DecodeRecord(bad)
		if !errors.Is(err, ErrBadRecord) {
			t.Errorf("got %v, want ErrBadRecord", err)
		}
	})
}

func TestEncodeRecordSizeCap(t *testing.T) {
	_, err := EncodeRecord(make([]byte, MaxKeyBytes+1), nil)
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("got %v, want ErrTooLarge", err)
	}
	_, err = EncodeRecord([]byte("k"), make([]byte, MaxValueBytes+1))
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("got %v, want ErrTooLarge", err)
	}
}
