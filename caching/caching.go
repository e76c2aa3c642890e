// Package caching provides the in memory read-through caches for interned
// identifiers. A mapping never changes once minted, so entries are valid
// forever and the caches only bound memory, by LRU eviction.
//
// Event ids and state keys are cached in both directions, room ids forward
// only, there is nothing to resolve a short room id back to. State hashes
// are not cached at all, each one is looked up once while its state group is
// built and then addressed by short id.
package caching

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/parlorchat/go-parlor-shortid/shortid"
)

// Config sizes each cache in entries. Zero or negative fields take the
// defaults.
type Config struct {
	EventIDEntries  int
	StateKeyEntries int
	RoomIDEntries   int
}

const (
	DefaultEventIDEntries  = 64 * 1024
	DefaultStateKeyEntries = 16 * 1024
	DefaultRoomIDEntries   = 4 * 1024
)

type stateKeyPair struct {
	eventType shortid.EventType
	stateKey  string
}

// Caches satisfies shortid.Caches over a fixed set of LRUs.
type Caches struct {
	shortEventIDs  *lru.Cache[shortid.EventID, shortid.ShortID]
	eventIDs       *lru.Cache[shortid.ShortID, shortid.EventID]
	shortStateKeys *lru.Cache[stateKeyPair, shortid.ShortID]
	stateKeys      *lru.Cache[shortid.ShortID, stateKeyPair]
	shortRoomIDs   *lru.Cache[shortid.RoomID, shortid.ShortID]
}

func New(cfg Config) (*Caches, error) {
	if cfg.EventIDEntries <= 0 {
		cfg.EventIDEntries = DefaultEventIDEntries
	}
	if cfg.StateKeyEntries <= 0 {
		cfg.StateKeyEntries = DefaultStateKeyEntries
	}
	if cfg.RoomIDEntries <= 0 {
		cfg.RoomIDEntries = DefaultRoomIDEntries
	}

	c := &Caches{}
	var err error
	if c.shortEventIDs, err = lru.New[shortid.EventID, shortid.ShortID](cfg.EventIDEntries); err != nil {
		return nil, fmt.Errorf("event id cache: %w", err)
	}
	if c.eventIDs, err = lru.New[shortid.ShortID, shortid.EventID](cfg.EventIDEntries); err != nil {
		return nil, fmt.Errorf("event id reverse cache: %w", err)
	}
	if c.shortStateKeys, err = lru.New[stateKeyPair, shortid.ShortID](cfg.StateKeyEntries); err != nil {
		return nil, fmt.Errorf("state key cache: %w", err)
	}
	if c.stateKeys, err = lru.New[shortid.ShortID, stateKeyPair](cfg.StateKeyEntries); err != nil {
		return nil, fmt.Errorf("state key reverse cache: %w", err)
	}
	if c.shortRoomIDs, err = lru.New[shortid.RoomID, shortid.ShortID](cfg.RoomIDEntries); err != nil {
		return nil, fmt.Errorf("room id cache: %w", err)
	}
	return c, nil
}

func (c *Caches) GetShortEventID(eventID shortid.EventID) (shortid.ShortID, bool) {
	return c.shortEventIDs.Get(eventID)
}

func (c *Caches) GetEventID(short shortid.ShortID) (shortid.EventID, bool) {
	return c.eventIDs.Get(short)
}

func (c *Caches) StoreEventID(eventID shortid.EventID, short shortid.ShortID) {
	c.shortEventIDs.Add(eventID, short)
	c.eventIDs.Add(short, eventID)
}

func (c *Caches) GetShortStateKey(eventType shortid.EventType, stateKey string) (shortid.ShortID, bool) {
	return c.shortStateKeys.Get(stateKeyPair{eventType: eventType, stateKey: stateKey})
}

func (c *Caches) GetStateKey(short shortid.ShortID) (shortid.EventType, string, bool) {
	pair, ok := c.stateKeys.Get(short)
	if !ok {
		return "", "", false
	}
	return pair.eventType, pair.stateKey, true
}

func (c *Caches) StoreStateKey(eventType shortid.EventType, stateKey string, short shortid.ShortID) {
	pair := stateKeyPair{eventType: eventType, stateKey: stateKey}
	c.shortStateKeys.Add(pair, short)
	c.stateKeys.Add(short, pair)
}

func (c *Caches) GetShortRoomID(roomID shortid.RoomID) (shortid.ShortID, bool) {
	return c.shortRoomIDs.Get(roomID)
}

func (c *Caches) StoreShortRoomID(roomID shortid.RoomID, short shortid.ShortID) {
	c.shortRoomIDs.Add(roomID, short)
}
