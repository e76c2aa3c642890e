package shortid

import (
	"context"
	"fmt"
	"sync"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/parlorchat/go-parlor-shortid/counter"
	"github.com/parlorchat/go-parlor-shortid/kvstore"
)

type StoreOptions struct {
	caches     Caches
	registerer prometheus.Registerer
}

type StoreOption func(*StoreOptions)

// WithCaches attaches a read-through cache layer. Without it every lookup
// goes to the backing store.
func WithCaches(c Caches) StoreOption {
	return func(o *StoreOptions) {
		o.caches = c
	}
}

// WithMetricsRegisterer registers the store's counters with r. Without it no
// metrics are created or updated.
func WithMetricsRegisterer(r prometheus.Registerer) StoreOption {
	return func(o *StoreOptions) {
		o.registerer = r
	}
}

// table pairs a forward map with its optional reverse map. mu serializes the
// check-then-create path so concurrent creates for one identifier cannot
// mint twice. Pure reads never take it.
type table struct {
	name    string
	revName string
	fwd     kvstore.Map
	rev     kvstore.Map
	mu      sync.Mutex
}

func (t *table) init(db kvstore.DB, name, revName string) error {
	t.name = name
	t.revName = revName
	var err error
	if t.fwd, err = db.Map(name); err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	if revName != "" {
		if t.rev, err = db.Map(revName); err != nil {
			return fmt.Errorf("open %s: %w", revName, err)
		}
	}
	return nil
}

// Store interns identifiers over a kvstore.DB. All methods are safe for
// concurrent use. Ids come from the supplied counter; with a persistent
// counter and a persistent store the assignment survives restart.
type Store struct {
	log     logger.Logger
	counter counter.Counter
	caches  Caches
	metrics *storeMetrics

	eventIDs    table
	stateKeys   table
	roomIDs     table
	stateHashes table
}

// NewStore opens all mapping tables on db. The counter must be the only
// allocator writing to this store; ids it returns must never repeat.
func NewStore(log logger.Logger, db kvstore.DB, cnt counter.Counter, opts ...StoreOption) (*Store, error) {
	options := StoreOptions{}
	for _, o := range opts {
		o(&options)
	}

	s := &Store{
		log:     log,
		counter: cnt,
		caches:  options.caches,
	}
	if options.registerer != nil {
		s.metrics = newStoreMetrics(options.registerer)
	}

	if err := s.eventIDs.init(db, MapEventIDToShort, MapShortToEventID); err != nil {
		return nil, err
	}
	if err := s.stateKeys.init(db, MapStateKeyToShort, MapShortToStateKey); err != nil {
		return nil, err
	}
	if err := s.roomIDs.init(db, MapRoomIDToShort, ""); err != nil {
		return nil, err
	}
	if err := s.stateHashes.init(db, MapStateHashToShort, ""); err != nil {
		return nil, err
	}
	return s, nil
}

// lookupShort reads and decodes the forward entry for key. It takes no lock,
// the forward maps are append only so a concurrent create can only turn an
// absent result into a present one.
func (s *Store) lookupShort(ctx context.Context, t *table, key []byte) (ShortID, bool, error) {
	v, ok, err := t.fwd.Get(ctx, key)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", t.name, err)
	}
	if !ok {
		s.metrics.lookupInc(t.name, false)
		return 0, false, nil
	}
	short, err := ParseShortID(v)
	if err != nil {
		s.metrics.corruptInc(t.name)
		return 0, false, fmt.Errorf("%s: %w", t.name, err)
	}
	s.metrics.lookupInc(t.name, true)
	return short, true, nil
}

// createLocked allocates the next id and writes the forward entry, then the
// reverse entry when the table has one. The caller must hold t.mu. There is
// no rollback: once NextCount returns, a failed write burns the id. An id is
// wasted rather than ever reused, a reused id could end up shared by two
// identifiers.
func (s *Store) createLocked(ctx context.Context, t *table, key []byte) (ShortID, error) {
	next, err := s.counter.NextCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("next count: %w", err)
	}
	short := ShortID(next)

	if err = t.fwd.Insert(ctx, key, short.Bytes()); err != nil {
		s.burned(t, short, err)
		return 0, fmt.Errorf("%s: %w", t.name, err)
	}
	if t.rev != nil {
		if err = t.rev.Insert(ctx, short.Bytes(), key); err != nil {
			s.burned(t, short, err)
			return 0, fmt.Errorf("%s: %w", t.revName, err)
		}
	}
	s.metrics.createInc(t.name)
	return short, nil
}

func (s *Store) burned(t *table, short ShortID, err error) {
	s.metrics.burnedInc(t.name)
	s.log.Debugf("burned short id %d for %s: %v", short, t.name, err)
}

// getOrCreate returns the short id for key, minting one if the table has
// none. The bool reports whether this call created it.
func (s *Store) getOrCreate(ctx context.Context, t *table, key []byte) (ShortID, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	short, ok, err := s.lookupShort(ctx, t, key)
	if err != nil {
		return 0, false, err
	}
	if ok {
		return short, false, nil
	}
	short, err = s.createLocked(ctx, t, key)
	if err != nil {
		return 0, false, err
	}
	return short, true, nil
}
