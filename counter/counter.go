// Package counter provides the id sources the interning tables draw from.
// Every implementation guarantees NextCount never returns a value it has
// returned before. Values are unique and increasing; they carry no other
// meaning.
package counter

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/parlorchat/go-parlor-shortid/kvstore"
)

// Counter mints values for new short ids. An allocated value that is never
// used is simply burned; implementations must never hand it out again.
type Counter interface {
	NextCount(ctx context.Context) (uint64, error)
}

const (
	// StoredCounterMap and StoredCounterKey locate the persisted high-water
	// mark of the Stored counter. The map name is part of the durable layout.
	StoredCounterMap = "global"
	StoredCounterKey = "counter"
)

var ErrCorruptCounter = errors.New("counter: stored counter is not 8 bytes")

// Sequential is a plain in-process counter: first, first+1, first+2. It is
// the deterministic substrate for tests and suits single process deployments
// that do not need the mark to survive a restart.
type Sequential struct {
	n atomic.Uint64
}

func NewSequential(first uint64) *Sequential {
	s := &Sequential{}
	s.n.Store(first - 1)
	return s
}

func (s *Sequential) NextCount(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.n.Add(1), nil
}

// Last returns the most recently allocated value. Tests use it to assert how
// many ids an operation minted.
func (s *Sequential) Last() uint64 {
	return s.n.Load()
}

// Stored persists its high-water mark in the store itself, under
// global/"counter" as 8 bytes big endian, so allocation survives restarts.
// Every allocation is written through before it is returned; a crash can burn
// the value just written but can never lead to a repeat.
type Stored struct {
	log logger.Logger

	mu     sync.Mutex
	m      kvstore.Map
	last   uint64
	loaded bool
}

func NewStored(log logger.Logger, db kvstore.DB) (*Stored, error) {
	m, err := db.Map(StoredCounterMap)
	if err != nil {
		return nil, fmt.Errorf("open counter map: %w", err)
	}
	return &Stored{log: log, m: m}, nil
}

func (s *Stored) NextCount(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		if err := s.load(ctx); err != nil {
			return 0, err
		}
	}

	next := s.last + 1
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], next)
	if err := s.m.Insert(ctx, []byte(StoredCounterKey), b[:]); err != nil {
		return 0, fmt.Errorf("persist counter: %w", err)
	}
	s.last = next
	return next, nil
}

func (s *Stored) load(ctx context.Context) error {
	v, ok, err := s.m.Get(ctx, []byte(StoredCounterKey))
	if err != nil {
		return fmt.Errorf("load counter: %w", err)
	}
	if ok {
		if len(v) != 8 {
			return fmt.Errorf("%w: %d", ErrCorruptCounter, len(v))
		}
		s.last = binary.BigEndian.Uint64(v)
	}
	s.loaded = true
	s.log.Debugf("counter: loaded high-water mark %d", s.last)
	return nil
}
