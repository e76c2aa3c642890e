// Package ledger stores interning maps as append-only log files, one file per
// map, with the whole map held as an in-memory index rebuilt by replay at
// open. The format is deliberately dumb: a fixed header then crc-framed
// records. Nothing is ever rewritten in place, which matches the append-only
// nature of the data it holds.
package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/gofrs/flock"

	"github.com/parlorchat/go-parlor-shortid/kvstore"
)

var ErrLocked = errors.New("ledger: store is locked by another process")

const (
	lockFileName  = "LOCK"
	logFileSuffix = ".log"
)

type Options struct {
	// UnsyncedWrites skips the fsync after each insert. Bulk loads (snapshot
	// restore) use it; everything else should not.
	UnsyncedWrites bool
}

type Option func(*Options)

func WithUnsyncedWrites() Option {
	return func(o *Options) { o.UnsyncedWrites = true }
}

// DB is a directory of ledger files. A directory-wide flock excludes other
// processes for the lifetime of the handle.
type DB struct {
	log  logger.Logger
	dir  string
	opts Options

	flk *flock.Flock

	mu     sync.Mutex
	maps   map[string]*Map
	closed bool
}

// Open creates dir if necessary and takes the directory lock. It fails with
// ErrLocked if another process holds the store.
func Open(log logger.Logger, dir string, opts ...Option) (*DB, error) {
	options := Options{}
	for _, o := range opts {
		o(&options)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	flk := flock.New(filepath.Join(dir, lockFileName))
	locked, err := flk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
	}

	return &DB{
		log:  log,
		dir:  dir,
		opts: options,
		flk:  flk,
		maps: map[string]*Map{},
	}, nil
}

func (d *DB) Map(name string) (kvstore.Map, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, kvstore.ErrDBClosed
	}
	if !kvstore.ValidMapName(name) {
		return nil, fmt.Errorf("%w: %q", kvstore.ErrBadMapName, name)
	}
	if m, ok := d.maps[name]; ok {
		return m, nil
	}

	m, err := openMap(d.log, filepath.Join(d.dir, name+logFileSuffix), d.opts)
	if err != nil {
		return nil, err
	}
	d.maps[name] = m
	return m, nil
}

func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var firstErr error
	for _, m := range d.maps {
		if err := m.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := d.flk.Unlock(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("release store lock: %w", err)
	}
	return firstErr
}

// Map is one ledger file and its replayed index.
type Map struct {
	log  logger.Logger
	path string
	sync bool

	mu    sync.RWMutex
	f     *os.File
	index map[string][]byte
}

func openMap(log logger.Logger, path string, opts Options) (*Map, error) {
	// Write only and append only. Replay reads the file independently.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}

	m := &Map{
		log:   log,
		path:  path,
		sync:  !opts.UnsyncedWrites,
		f:     f,
		index: map[string][]byte{},
	}
	if err = m.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return m, nil
}

// replay loads the whole file, validates the header, and applies every record
// to the index. Damage anywhere fails the open; an interning store must not
// serve a map it cannot fully account for.
func (m *Map) replay() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read ledger %s: %w", m.path, err)
	}

	if len(data) == 0 {
		header := EncodeHeader()
		if _, err = m.f.Write(header); err != nil {
			return fmt.Errorf("write ledger header %s: %w", m.path, err)
		}
		if err = m.f.Sync(); err != nil {
			return fmt.Errorf("sync ledger header %s: %w", m.path, err)
		}
		return nil
	}

	if err = DecodeHeader(data); err != nil {
		return fmt.Errorf("%s: %w", m.path, err)
	}

	records := 0
	rest := data[HeaderBytes:]
	for len(rest) > 0 {
		key, value, n, err := DecodeRecord(rest)
		if err != nil {
			return fmt.Errorf("%s at offset %d: %w", m.path, len(data)-len(rest), err)
		}
		if n == 0 {
			break
		}
		m.index[string(key)] = bytes.Clone(value)
		records++
		rest = rest[n:]
	}
	m.log.Debugf("ledger: replayed %d records, %d live keys from %s", records, len(m.index), m.path)
	return nil
}

func (m *Map) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	err := m.f.Close()
	m.f = nil
	return err
}

func (m *Map) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.index[string(key)]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (m *Map) Insert(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	record, err := EncodeRecord(key, value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return kvstore.ErrDBClosed
	}

	// Single append then optional sync. If the write tears, the index is not
	// updated and the damage is caught by replay at next open.
	if _, err = m.f.Write(record); err != nil {
		return fmt.Errorf("append ledger %s: %w", m.path, err)
	}
	if m.sync {
		if err = m.f.Sync(); err != nil {
			return fmt.Errorf("sync ledger %s: %w", m.path, err)
		}
	}

	v := bytes.Clone(value)
	if v == nil {
		v = []byte{}
	}
	m.index[string(key)] = v
	return nil
}

func (m *Map) MultiGet(ctx context.Context, keys [][]byte) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([][]byte, len(keys))
	for i, key := range keys {
		if v, ok := m.index[string(key)]; ok {
			results[i] = bytes.Clone(v)
		}
	}
	return results, nil
}

func (m *Map) Range(ctx context.Context, fn func(key, value []byte) error) error {
	m.mu.RLock()
	keys := make([]string, 0, len(m.index))
	for k := range m.index {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = bytes.Clone(m.index[k])
	}
	m.mu.RUnlock()

	for i, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn([]byte(k), values[i]); err != nil {
			return err
		}
	}
	return nil
}
