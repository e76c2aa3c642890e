// Package kvstoretest provides the conformance suite every DB implementation
// must pass. Backend test files call RunDBContract with a factory for a fresh,
// empty store.
package kvstoretest

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/parlorchat/go-parlor-shortid/kvstore"
)

// Factory returns a fresh empty DB. Cleanup is the factory's business,
// typically via t.Cleanup or t.TempDir.
type Factory func(t *testing.T) kvstore.DB

var errStopWalk = errors.New("stop walk")

// RunDBContract exercises the Map/DB contract against one backend.
func RunDBContract(t *testing.T, newDB Factory) {
	t.Run("GetMissing", func(t *testing.T) {
		ctx := context.Background()
		m := openMap(t, newDB(t), "contract")
		v, ok, err := m.Get(ctx, []byte("absent"))
		assert.NilError(t, err)
		assert.Equal(t, false, ok)
		assert.Assert(t, v == nil)
	})

	t.Run("InsertGetRoundTrip", func(t *testing.T) {
		ctx := context.Background()
		m := openMap(t, newDB(t), "contract")

		key := []byte("k1")
		value := []byte{0xde, 0xad, 0xbe, 0xef}
		assert.NilError(t, m.Insert(ctx, key, value))

		// Mutating the caller's slices must not reach the store.
		key[0] = 'x'
		value[0] = 0x00

		got, ok, err := m.Get(ctx, []byte("k1"))
		assert.NilError(t, err)
		assert.Equal(t, true, ok)
		assert.DeepEqual(t, []byte{0xde, 0xad, 0xbe, 0xef}, got)
	})

	t.Run("LastWriteWins", func(t *testing.T) {
		ctx := context.Background()
		m := openMap(t, newDB(t), "contract")
		assert.NilError(t, m.Insert(ctx, []byte("k"), []byte("old")))
		assert.NilError(t, m.Insert(ctx, []byte("k"), []byte("new")))
		got, ok, err := m.Get(ctx, []byte("k"))
		assert.NilError(t, err)
		assert.Equal(t, true, ok)
		assert.DeepEqual(t, []byte("new"), got)
	})

	t.Run("EmptyValuePresent", func(t *testing.T) {
		ctx := context.Background()
		m := openMap(t, newDB(t), "contract")
		assert.NilError(t, m.Insert(ctx, []byte("empty"), nil))
		got, ok, err := m.Get(ctx, []byte("empty"))
		assert.NilError(t, err)
		assert.Equal(t, true, ok)
		assert.Assert(t, got != nil)
		assert.Equal(t, 0, len(got))

		results, err := m.MultiGet(ctx, [][]byte{[]byte("empty"), []byte("absent")})
		assert.NilError(t, err)
		assert.Assert(t, results[0] != nil)
		assert.Assert(t, results[1] == nil)
	})

	t.Run("MultiGetPositional", func(t *testing.T) {
		ctx := context.Background()
		m := openMap(t, newDB(t), "contract")
		assert.NilError(t, m.Insert(ctx, []byte("a"), []byte("va")))
		assert.NilError(t, m.Insert(ctx, []byte("c"), []byte("vc")))

		results, err := m.MultiGet(ctx, [][]byte{
			[]byte("a"), []byte("b"), []byte("c"), []byte("a"),
		})
		assert.NilError(t, err)
		assert.Equal(t, 4, len(results))
		assert.DeepEqual(t, []byte("va"), results[0])
		assert.Assert(t, results[1] == nil)
		assert.DeepEqual(t, []byte("vc"), results[2])
		assert.DeepEqual(t, []byte("va"), results[3])
	})

	t.Run("ReadYourWrites", func(t *testing.T) {
		ctx := context.Background()
		m := openMap(t, newDB(t), "contract")
		for i := range 32 {
			key := []byte{byte(i)}
			assert.NilError(t, m.Insert(ctx, key, []byte{byte(i), byte(i)}))
			got, ok, err := m.Get(ctx, key)
			assert.NilError(t, err)
			assert.Equal(t, true, ok)
			assert.DeepEqual(t, []byte{byte(i), byte(i)}, got)
		}
	})

	t.Run("RangeByteOrder", func(t *testing.T) {
		ctx := context.Background()
		m := openMap(t, newDB(t), "contract")

		// Deliberately includes a key that is a prefix of another.
		unordered := [][]byte{{0x02}, {0x01, 0x00}, {0x01}, {0xff}, {0x00}}
		for _, k := range unordered {
			assert.NilError(t, m.Insert(ctx, k, k))
		}

		var walked [][]byte
		err := m.Range(ctx, func(key, value []byte) error {
			walked = append(walked, bytes.Clone(key))
			return nil
		})
		assert.NilError(t, err)
		assert.DeepEqual(t, [][]byte{{0x00}, {0x01}, {0x01, 0x00}, {0x02}, {0xff}}, walked)
	})

	t.Run("RangeStopsOnError", func(t *testing.T) {
		ctx := context.Background()
		m := openMap(t, newDB(t), "contract")
		for i := range 8 {
			assert.NilError(t, m.Insert(ctx, []byte{byte(i)}, []byte{byte(i)}))
		}
		steps := 0
		err := m.Range(ctx, func(key, value []byte) error {
			steps++
			if steps == 3 {
				return errStopWalk
			}
			return nil
		})
		assert.Assert(t, errors.Is(err, errStopWalk))
		assert.Equal(t, 3, steps)
	})

	t.Run("MapsAreIsolated", func(t *testing.T) {
		ctx := context.Background()
		db := newDB(t)
		left := openMap(t, db, "left")
		right := openMap(t, db, "right")
		assert.NilError(t, left.Insert(ctx, []byte("k"), []byte("left")))

		_, ok, err := right.Get(ctx, []byte("k"))
		assert.NilError(t, err)
		assert.Equal(t, false, ok)
	})

	t.Run("MapByNameIsStable", func(t *testing.T) {
		ctx := context.Background()
		db := newDB(t)
		first := openMap(t, db, "stable")
		assert.NilError(t, first.Insert(ctx, []byte("k"), []byte("v")))

		second := openMap(t, db, "stable")
		got, ok, err := second.Get(ctx, []byte("k"))
		assert.NilError(t, err)
		assert.Equal(t, true, ok)
		assert.DeepEqual(t, []byte("v"), got)
	})

	t.Run("ClosedDBRefusesMaps", func(t *testing.T) {
		db := newDB(t)
		assert.NilError(t, db.Close())
		_, err := db.Map("after")
		assert.Assert(t, err != nil)
	})
}

func openMap(t *testing.T, db kvstore.DB, name string) kvstore.Map {
	t.Helper()
	m, err := db.Map(name)
	assert.NilError(t, err)
	return m
}
