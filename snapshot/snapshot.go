// Package snapshot captures a complete copy of the interning maps for
// backup, migration between backends, and seeding replicas. A snapshot is a
// single deterministically encoded CBOR document: a header followed by one
// record per map, each record carrying the map's entries in byte order.
//
// Restoring into a live store is the one place the append only discipline
// can be subverted, so RestoreTo refuses a target that already has data
// unless it is forced, and the stored counter travels with the maps so a
// restored store cannot re-mint ids it already handed out.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	dtcbor "github.com/datatrails/go-datatrails-common/cbor"

	"github.com/parlorchat/go-parlor-shortid/counter"
	"github.com/parlorchat/go-parlor-shortid/kvstore"
	"github.com/parlorchat/go-parlor-shortid/shortid"
)

var (
	ErrBadSnapshot      = errors.New("snapshot: malformed snapshot")
	ErrSnapshotExists   = errors.New("snapshot: snapshot already exists")
	ErrSnapshotNotFound = errors.New("snapshot: snapshot not found")
	ErrTargetNotEmpty   = errors.New("snapshot: restore target is not empty")
)

// SnapshotVersion is the format version written into the header. Decoders
// refuse anything else.
const SnapshotVersion = 1

type Header struct {
	Version uint32 `cbor:"1,keyasint"`
	// CreatedMS is the unix time (milliseconds) read at capture.
	CreatedMS int64  `cbor:"2,keyasint"`
	MapCount  uint32 `cbor:"3,keyasint"`
}

type MapRecord struct {
	Name  string `cbor:"1,keyasint"`
	Count uint32 `cbor:"2,keyasint"`
	// Entries alternate key, value. The length is always 2*Count and the
	// keys appear in byte order, so equal stores encode to equal bytes.
	Entries [][]byte `cbor:"3,keyasint"`
}

type Snapshot struct {
	Header Header      `cbor:"1,keyasint"`
	Maps   []MapRecord `cbor:"2,keyasint"`
}

func NewSnapshotCodec() (dtcbor.CBORCodec, error) {
	codec, err := dtcbor.NewCBORCodec(
		dtcbor.NewDeterministicEncOpts(),
		dtcbor.NewDeterministicDecOpts(),
	)
	if err != nil {
		return dtcbor.CBORCodec{}, err
	}
	return codec, nil
}

// DefaultMapNames is everything a complete backup carries: the interning
// maps plus the stored counter.
func DefaultMapNames() []string {
	return append(shortid.MapNames(), counter.StoredCounterMap)
}

// Capture walks the named maps and collects their contents. The walk of each
// map is a consistent view of that map; captures taken while writers are
// active are still decodable but may split a forward entry from its reverse.
// Quiesce writers for a backup that must verify clean.
func Capture(ctx context.Context, db kvstore.DB, mapNames []string) (*Snapshot, error) {
	snap := &Snapshot{
		Header: Header{
			Version:   SnapshotVersion,
			CreatedMS: time.Now().UnixMilli(),
			MapCount:  uint32(len(mapNames)),
		},
	}
	for _, name := range mapNames {
		m, err := db.Map(name)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		rec := MapRecord{Name: name}
		err = m.Range(ctx, func(key, value []byte) error {
			rec.Entries = append(rec.Entries, bytes.Clone(key), bytes.Clone(value))
			rec.Count++
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", name, err)
		}
		snap.Maps = append(snap.Maps, rec)
	}
	return snap, nil
}

// Write captures db with the default map set and writes the encoded
// snapshot to w.
func Write(ctx context.Context, db kvstore.DB, w io.Writer) error {
	snap, err := Capture(ctx, db, DefaultMapNames())
	if err != nil {
		return err
	}
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func Encode(snap *Snapshot) ([]byte, error) {
	codec, err := NewSnapshotCodec()
	if err != nil {
		return nil, err
	}
	return codec.MarshalCBOR(snap)
}

// Read consumes r fully and decodes the snapshot.
func Read(r io.Reader) (*Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

func Decode(data []byte) (*Snapshot, error) {
	codec, err := NewSnapshotCodec()
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{}
	if err = codec.UnmarshalInto(data, snap); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadSnapshot, err.Error())
	}
	if err = snap.validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Snapshot) validate() error {
	if s.Header.Version != SnapshotVersion {
		return fmt.Errorf("%w: version %d is not supported", ErrBadSnapshot, s.Header.Version)
	}
	if int(s.Header.MapCount) != len(s.Maps) {
		return fmt.Errorf("%w: header names %d maps, body carries %d",
			ErrBadSnapshot, s.Header.MapCount, len(s.Maps))
	}
	for _, rec := range s.Maps {
		if !kvstore.ValidMapName(rec.Name) {
			return fmt.Errorf("%w: bad map name %q", ErrBadSnapshot, rec.Name)
		}
		if len(rec.Entries) != 2*int(rec.Count) {
			return fmt.Errorf("%w: map %s carries %d segments for %d entries",
				ErrBadSnapshot, rec.Name, len(rec.Entries), rec.Count)
		}
	}
	return nil
}

// EntryCount is the total number of entries across all maps.
func (s *Snapshot) EntryCount() int {
	n := 0
	for _, rec := range s.Maps {
		n += int(rec.Count)
	}
	return n
}

type RestoreOptions struct {
	force bool
}

type RestoreOption func(*RestoreOptions)

// WithForce lets RestoreTo write into a target that already has data.
// Existing entries for the same keys are overwritten.
func WithForce() RestoreOption {
	return func(o *RestoreOptions) {
		o.force = true
	}
}

var errWalkStop = errors.New("walk stopped")

// RestoreTo writes every captured entry into db. Unless forced it fails
// with ErrTargetNotEmpty before writing anything if any destination map has
// data, restoring over an active store is how interned ids get reassigned.
func (s *Snapshot) RestoreTo(ctx context.Context, db kvstore.DB, opts ...RestoreOption) error {
	options := RestoreOptions{}
	for _, o := range opts {
		o(&options)
	}
	if err := s.validate(); err != nil {
		return err
	}

	if !options.force {
		for _, rec := range s.Maps {
			m, err := db.Map(rec.Name)
			if err != nil {
				return fmt.Errorf("open %s: %w", rec.Name, err)
			}
			err = m.Range(ctx, func(key, value []byte) error {
				return errWalkStop
			})
			if err == nil {
				continue
			}
			if errors.Is(err, errWalkStop) {
				return fmt.Errorf("%w: %s", ErrTargetNotEmpty, rec.Name)
			}
			return fmt.Errorf("walk %s: %w", rec.Name, err)
		}
	}

	for _, rec := range s.Maps {
		m, err := db.Map(rec.Name)
		if err != nil {
			return fmt.Errorf("open %s: %w", rec.Name, err)
		}
		for i := 0; i+1 < len(rec.Entries); i += 2 {
			if err = m.Insert(ctx, rec.Entries[i], rec.Entries[i+1]); err != nil {
				return fmt.Errorf("restore %s: %w", rec.Name, err)
			}
		}
	}
	return nil
}
