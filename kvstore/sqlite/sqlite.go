// Package sqlite stores interning maps in a single SQLite database file, one
// table per map. WAL mode keeps readers unblocked while the single write
// connection serializes mutations, which is all the per-key atomicity the Map
// contract asks for.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/datatrails/go-datatrails-common/logger"
	_ "github.com/mattn/go-sqlite3"

	"github.com/parlorchat/go-parlor-shortid/kvstore"
)

type DB struct {
	log logger.Logger

	mu     sync.Mutex
	db     *sql.DB
	maps   map[string]*Map
	closed bool
}

// Open creates or opens the database at path. Safe to call for an existing
// store; tables are created on first use of each map.
func Open(log logger.Logger, path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// SQLite supports one writer at a time. A single pooled connection avoids
	// SQLITE_BUSY on the write path and gives read-your-writes for free.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err = db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	return &DB{log: log, db: db, maps: map[string]*Map{}}, nil
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

	// name is constrained by mapNameRE, direct interpolation is safe.
	table := "kv_" + name
	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %q (k BLOB PRIMARY KEY, v BLOB NOT NULL) WITHOUT ROWID`,
		table)
	if _, err := d.db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("create table %s: %w", table, err)
	}

	m := &Map{db: d.db, table: table}
	d.maps[name] = m
	d.log.Debugf("sqlite: opened map %s", name)
	return m, nil
}

func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}

// Map is one kv table. BLOB primary keys compare memcmp, so the clustered
// order of the table is exactly the ascending byte order Range promises.
type Map struct {
	db    *sql.DB
	table string
}

func (m *Map) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	q := fmt.Sprintf(`SELECT v FROM %q WHERE k = ?`, m.table)
	var value []byte
	err := m.db.QueryRowContext(ctx, q, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", m.table, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

func (m *Map) Insert(ctx context.Context, key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	q := fmt.Sprintf(
		`INSERT INTO %q (k, v) VALUES (?, ?) ON CONFLICT (k) DO UPDATE SET v = excluded.v`,
		m.table)
	if _, err := m.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("insert %s: %w", m.table, err)
	}
	return nil
}

func (m *Map) MultiGet(ctx context.Context, keys [][]byte) ([][]byte, error) {
	results := make([][]byte, len(keys))
	for i, key := range keys {
		value, ok, err := m.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			results[i] = value
		}
	}
	return results, nil
}

const rangeBatchSize = 1024

// Range pages through the table in key order, closing the cursor between
// batches. fn is never called with a cursor held, so it may issue its own
// statements against the single pooled connection without deadlocking.
func (m *Map) Range(ctx context.Context, fn func(key, value []byte) error) error {
	var after []byte
	for {
		keys, values, err := m.rangeBatch(ctx, after)
		if err != nil {
			return err
		}
		for i := range keys {
			if err = fn(keys[i], values[i]); err != nil {
				return err
			}
		}
		if len(keys) < rangeBatchSize {
			return nil
		}
		after = keys[len(keys)-1]
	}
}

func (m *Map) rangeBatch(ctx context.Context, after []byte) ([][]byte, [][]byte, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		q := fmt.Sprintf(`SELECT k, v FROM %q ORDER BY k LIMIT ?`, m.table)
		rows, err = m.db.QueryContext(ctx, q, rangeBatchSize)
	} else {
		q := fmt.Sprintf(`SELECT k, v FROM %q WHERE k > ? ORDER BY k LIMIT ?`, m.table)
		rows, err = m.db.QueryContext(ctx, q, after, rangeBatchSize)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("range %s: %w", m.table, err)
	}
	defer rows.Close()

	var keys, values [][]byte
	for rows.Next() {
		var key, value []byte
		if err = rows.Scan(&key, &value); err != nil {
			return nil, nil, fmt.Errorf("range %s: %w", m.table, err)
		}
		if value == nil {
			value = []byte{}
		}
		keys = append(keys, key)
		values = append(values, value)
	}
	if err = rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("range %s: %w", m.table, err)
	}
	return keys, values, nil
}
