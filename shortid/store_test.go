package shortid

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorchat/go-parlor-shortid/counter"
	"github.com/parlorchat/go-parlor-shortid/kvstore"
)

func newTestLog(t *testing.T) logger.Logger {
	t.Helper()
	logger.New("NOOP")
	return logger.Sugar.WithServiceName("shortidtest")
}

func newTestStore(t *testing.T, opts ...StoreOption) (*Store, kvstore.DB, *counter.Sequential) {
	t.Helper()
	db := kvstore.NewMemDB()
	cnt := counter.NewSequential(1)
	s, err := NewStore(newTestLog(t), db, cnt, opts...)
	require.NoError(t, err)
	return s, db, cnt
}

func TestEventIDRoundTrip(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	ids := []EventID{"$first", "$second:example.org", "$third"}
	for _, id := range ids {
		short, err := s.GetOrCreateShortEventID(ctx, id)
		require.NoError(t, err)
		back, err := s.GetEventIDFromShort(ctx, short)
		require.NoError(t, err)
		assert.Equal(t, id, back)
	}
}

func TestGetOrCreateShortEventIDIsIdempotent(t *testing.T) {
	s, _, cnt := newTestStore(t)
	ctx := context.Background()

	first, err := s.GetOrCreateShortEventID(ctx, "$abc")
	require.NoError(t, err)
	for range 5 {
		again, err := s.GetOrCreateShortEventID(ctx, "$abc")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, uint64(1), cnt.Last(), "repeat calls must not mint")
}

func TestDistinctEventIDsGetDistinctShortIDs(t *testing.T) {
	s, _, cnt := newTestStore(t)
	ctx := context.Background()

	seen := map[ShortID]EventID{}
	for _, id := range []EventID{"$a", "$b", "$c", "$d"} {
		short, err := s.GetOrCreateShortEventID(ctx, id)
		require.NoError(t, err)
		prev, dup := seen[short]
		require.False(t, dup, "short %d assigned to both %s and %s", short, prev, id)
		seen[short] = id
	}
	assert.Equal(t, uint64(4), cnt.Last())
}

func TestConcurrentGetOrCreateMintsOnce(t *testing.T) {
	s, _, cnt := newTestStore(t)
	ctx := context.Background()

	const workers = 16
	shorts := make([]ShortID, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shorts[w], errs[w] = s.GetOrCreateShortEventID(ctx, "$contended")
		}()
	}
	wg.Wait()

	for w := range workers {
		require.NoError(t, errs[w])
		assert.Equal(t, shorts[0], shorts[w])
	}
	assert.Equal(t, uint64(1), cnt.Last(), "exactly one id must be minted")
}

func TestConcurrentDistinctCreates(t *testing.T) {
	s, _, cnt := newTestStore(t)
	ctx := context.Background()

	ids := make([]EventID, 50)
	for i := range ids {
		ids[i] = EventID("$event-" + string(rune('a'+i%26)) + string(rune('0'+i/26)))
	}

	const workers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, id := range ids {
				if _, err := s.GetOrCreateShortEventID(ctx, id); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	// every id interned exactly once regardless of the interleaving
	assert.Equal(t, uint64(len(ids)), cnt.Last())
	seen := map[ShortID]bool{}
	for _, id := range ids {
		short, err := s.GetOrCreateShortEventID(ctx, id)
		require.NoError(t, err)
		require.False(t, seen[short])
		seen[short] = true
	}
}

func TestBatchAlignsAndCollapsesDuplicates(t *testing.T) {
	s, _, cnt := newTestStore(t)
	ctx := context.Background()

	shorts, err := s.GetOrCreateShortEventIDs(ctx, []EventID{"$a", "$b", "$a"})
	require.NoError(t, err)
	require.Len(t, shorts, 3)
	assert.Equal(t, shorts[0], shorts[2], "duplicate positions must collapse to one id")
	assert.NotEqual(t, shorts[0], shorts[1])
	assert.Equal(t, uint64(2), cnt.Last(), "a duplicate must not mint twice")

	// positions align with inputs
	for i, id := range []EventID{"$a", "$b", "$a"} {
		single, err := s.GetOrCreateShortEventID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, single, shorts[i], "position %d", i)
	}
}

func TestBatchMixesHitsAndCreates(t *testing.T) {
	s, _, cnt := newTestStore(t)
	ctx := context.Background()

	existing, err := s.GetOrCreateShortEventID(ctx, "$b")
	require.NoError(t, err)

	shorts, err := s.GetOrCreateShortEventIDs(ctx, []EventID{"$c", "$b", "$a", "$c"})
	require.NoError(t, err)
	assert.Equal(t, existing, shorts[1])
	assert.Equal(t, shorts[0], shorts[3])
	assert.Equal(t, uint64(3), cnt.Last(), "only $c and $a mint")
}

func TestBatchEmptyAndInvalid(t *testing.T) {
	s, db, cnt := newTestStore(t)
	ctx := context.Background()

	shorts, err := s.GetOrCreateShortEventIDs(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, shorts)

	_, err = s.GetOrCreateShortEventIDs(ctx, []EventID{"$ok", "not-an-event-id"})
	require.ErrorIs(t, err, ErrInvalidIdentifier)
	assert.Equal(t, uint64(0), cnt.Last(), "an invalid member must fail the batch before any mint")

	m, err := db.Map(MapEventIDToShort)
	require.NoError(t, err)
	_, ok, err := m.Get(ctx, []byte("$ok"))
	require.NoError(t, err)
	assert.False(t, ok, "an invalid member must fail the batch before any write")
}

func TestInvalidIdentifiersRejected(t *testing.T) {
	s, _, cnt := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetOrCreateShortEventID(ctx, "no-sigil")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
	_, err = s.GetOrCreateShortRoomID(ctx, "!missing-server")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
	_, _, err = s.GetShortRoomID(ctx, "room:example.org")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
	_, err = s.GetOrCreateShortStateKey(ctx, "", "x")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
	_, _, err = s.GetOrCreateShortStateHash(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	assert.Equal(t, uint64(0), cnt.Last(), "validation failures must not mint")
}

func TestCorruptForwardValue(t *testing.T) {
	s, db, _ := newTestStore(t)
	ctx := context.Background()

	m, err := db.Map(MapEventIDToShort)
	require.NoError(t, err)
	require.NoError(t, m.Insert(ctx, []byte("$damaged"), []byte{1, 2, 3, 4}))

	_, err = s.GetOrCreateShortEventID(ctx, "$damaged")
	assert.ErrorIs(t, err, ErrCorruptData)

	_, err = s.GetOrCreateShortEventIDs(ctx, []EventID{"$damaged"})
	assert.ErrorIs(t, err, ErrCorruptData)

	// pure lookups report the same way
	rm, err := db.Map(MapRoomIDToShort)
	require.NoError(t, err)
	require.NoError(t, rm.Insert(ctx, []byte("!damaged:example.org"), []byte{1, 2, 3, 4}))
	_, _, err = s.GetShortRoomID(ctx, "!damaged:example.org")
	assert.ErrorIs(t, err, ErrCorruptData)
}

func TestDanglingShortIDs(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetEventIDFromShort(ctx, 999)
	assert.ErrorIs(t, err, ErrCorruptData)
	_, _, err = s.GetStateKeyFromShort(ctx, 999)
	assert.ErrorIs(t, err, ErrCorruptData)
}

func TestCorruptReverseValues(t *testing.T) {
	s, db, _ := newTestStore(t)
	ctx := context.Background()

	rev, err := db.Map(MapShortToEventID)
	require.NoError(t, err)
	require.NoError(t, rev.Insert(ctx, ShortID(7).Bytes(), []byte("not an event id")))
	_, err = s.GetEventIDFromShort(ctx, 7)
	assert.ErrorIs(t, err, ErrCorruptData)

	skRev, err := db.Map(MapShortToStateKey)
	require.NoError(t, err)
	require.NoError(t, skRev.Insert(ctx, ShortID(8).Bytes(), []byte("no delimiter here")))
	_, _, err = s.GetStateKeyFromShort(ctx, 8)
	assert.ErrorIs(t, err, ErrCorruptData)
}

type failingCounter struct {
	err error
}

func (c failingCounter) NextCount(ctx context.Context) (uint64, error) {
	return 0, c.err
}

func TestCounterFailureAbortsBeforeWrites(t *testing.T) {
	db := kvstore.NewMemDB()
	s, err := NewStore(newTestLog(t), db, failingCounter{err: errors.New("allocator down")})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.GetOrCreateShortEventID(ctx, "$abc")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCorruptData)
	assert.NotErrorIs(t, err, ErrInvalidIdentifier)

	m, err := db.Map(MapEventIDToShort)
	require.NoError(t, err)
	_, ok, err := m.Get(ctx, []byte("$abc"))
	require.NoError(t, err)
	assert.False(t, ok, "counter failure must abort before any write")
}

// breakableMap lets a test fail writes to one map while the rest of the
// store keeps working.
type breakableMap struct {
	kvstore.Map
	fail bool
}

func (m *breakableMap) Insert(ctx context.Context, key, value []byte) error {
	if m.fail {
		return errors.New("disk full")
	}
	return m.Map.Insert(ctx, key, value)
}

type breakableDB struct {
	kvstore.DB
	maps map[string]*breakableMap
}

func newBreakableDB() *breakableDB {
	return &breakableDB{DB: kvstore.NewMemDB(), maps: map[string]*breakableMap{}}
}

func (d *breakableDB) Map(name string) (kvstore.Map, error) {
	if m, ok := d.maps[name]; ok {
		return m, nil
	}
	m, err := d.DB.Map(name)
	if err != nil {
		return nil, err
	}
	b := &breakableMap{Map: m}
	d.maps[name] = b
	return b, nil
}

func TestFailedForwardWriteBurnsTheID(t *testing.T) {
	db := newBreakableDB()
	cnt := counter.NewSequential(1)
	s, err := NewStore(newTestLog(t), db, cnt)
	require.NoError(t, err)
	ctx := context.Background()

	db.maps[MapEventIDToShort].fail = true
	_, err = s.GetOrCreateShortEventID(ctx, "$abc")
	require.Error(t, err)
	require.Equal(t, uint64(1), cnt.Last(), "the id was allocated before the write failed")

	db.maps[MapEventIDToShort].fail = false
	short, err := s.GetOrCreateShortEventID(ctx, "$abc")
	require.NoError(t, err)
	assert.Equal(t, ShortID(2), short, "the burned id must never be reused")
}

func TestFailedReverseWriteIsDetectable(t *testing.T) {
	db := newBreakableDB()
	cnt := counter.NewSequential(1)
	s, err := NewStore(newTestLog(t), db, cnt)
	require.NoError(t, err)
	ctx := context.Background()

	db.maps[MapShortToEventID].fail = true
	_, err = s.GetOrCreateShortEventID(ctx, "$abc")
	require.Error(t, err)

	// The forward entry landed before the reverse write failed, so the
	// identifier keeps the id it was given.
	db.maps[MapShortToEventID].fail = false
	short, err := s.GetOrCreateShortEventID(ctx, "$abc")
	require.NoError(t, err)
	assert.Equal(t, ShortID(1), short)

	// The missing reverse entry surfaces as corruption, and Verify sees it.
	_, err = s.GetEventIDFromShort(ctx, short)
	assert.ErrorIs(t, err, ErrCorruptData)
	report, err := Verify(ctx, db)
	require.NoError(t, err)
	assert.False(t, report.Clean())
}

func TestMetricsCountLookupsAndCreates(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, _, _ := newTestStore(t, WithMetricsRegisterer(reg))
	ctx := context.Background()

	_, err := s.GetOrCreateShortEventID(ctx, "$abc")
	require.NoError(t, err)
	_, err = s.GetOrCreateShortEventID(ctx, "$abc")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.creates.WithLabelValues(MapEventIDToShort)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.lookups.WithLabelValues(MapEventIDToShort, "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.lookups.WithLabelValues(MapEventIDToShort, "hit")))
	assert.Equal(t, 0.0, testutil.ToFloat64(s.metrics.burned.WithLabelValues(MapEventIDToShort)))
}

// recordingCaches is a Caches that remembers everything and counts traffic.
type recordingCaches struct {
	mu       sync.Mutex
	events   map[EventID]ShortID
	eventRev map[ShortID]EventID
	hits     int
	stores   int
}

func newRecordingCaches() *recordingCaches {
	return &recordingCaches{
		events:   map[EventID]ShortID{},
		eventRev: map[ShortID]EventID{},
	}
}

func (c *recordingCaches) GetShortEventID(id EventID) (ShortID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	short, ok := c.events[id]
	if ok {
		c.hits++
	}
	return short, ok
}

func (c *recordingCaches) GetEventID(short ShortID) (EventID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.eventRev[short]
	if ok {
		c.hits++
	}
	return id, ok
}

func (c *recordingCaches) StoreEventID(id EventID, short ShortID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[id] = short
	c.eventRev[short] = id
	c.stores++
}

func (c *recordingCaches) GetShortStateKey(EventType, string) (ShortID, bool) { return 0, false }
func (c *recordingCaches) GetStateKey(ShortID) (EventType, string, bool)      { return "", "", false }
func (c *recordingCaches) StoreStateKey(EventType, string, ShortID)           {}
func (c *recordingCaches) GetShortRoomID(RoomID) (ShortID, bool)              { return 0, false }
func (c *recordingCaches) StoreShortRoomID(RoomID, ShortID)                   {}

func TestCachesShortCircuitTheStore(t *testing.T) {
	caches := newRecordingCaches()
	s, db, _ := newTestStore(t, WithCaches(caches))
	ctx := context.Background()

	short, err := s.GetOrCreateShortEventID(ctx, "$abc")
	require.NoError(t, err)
	require.Greater(t, caches.stores, 0, "a create must fill the cache")

	// Damage the stored forward entry. A cache hit never touches it.
	m, err := db.Map(MapEventIDToShort)
	require.NoError(t, err)
	require.NoError(t, m.Insert(ctx, []byte("$abc"), []byte{1}))

	again, err := s.GetOrCreateShortEventID(ctx, "$abc")
	require.NoError(t, err)
	assert.Equal(t, short, again)
	assert.Greater(t, caches.hits, 0)

	back, err := s.GetEventIDFromShort(ctx, short)
	require.NoError(t, err)
	assert.Equal(t, EventID("$abc"), back)
}
