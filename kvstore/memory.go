package kvstore

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// MemDB is the in-memory DB. It is the reference implementation for the Map
// contract and the substrate for most of the test suites. Contents do not
// survive the process.
type MemDB struct {
	mu     sync.Mutex
	maps   map[string]*MemMap
	closed bool
}

func NewMemDB() *MemDB {
	return &MemDB{maps: map[string]*MemMap{}}
}

func (d *MemDB) Map(name string) (Map, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDBClosed
	}
	if !ValidMapName(name) {
		return nil, ErrBadMapName
	}
	m, ok := d.maps[name]
	if !ok {
		m = &MemMap{entries: map[string][]byte{}}
		d.maps[name] = m
	}
	return m, nil
}

func (d *MemDB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// MemMap is a mutex guarded byte map. Keys and values are copied on both the
// insert and lookup paths so stored bytes are never aliased by callers.
type MemMap struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func (m *MemMap) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[string(key)]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (m *MemMap) Insert(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := bytes.Clone(value)
	if v == nil {
		// A stored key is always distinguishable from an absent one.
		v = []byte{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[string(key)] = v
	return nil
}

func (m *MemMap) MultiGet(ctx context.Context, keys [][]byte) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([][]byte, len(keys))
	for i, key := range keys {
		if v, ok := m.entries[string(key)]; ok {
			results[i] = bytes.Clone(v)
		}
	}
	return results, nil
}

func (m *MemMap) Range(ctx context.Context, fn func(key, value []byte) error) error {
	// Walk a snapshot so fn is free to call back into the map.
	m.mu.RLock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = bytes.Clone(m.entries[k])
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
