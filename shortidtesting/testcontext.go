// Package shortidtesting provides the shared scaffolding for tests that need
// a populated interning store: an in memory backend, a deterministic counter,
// and generators for well formed random identifiers.
package shortidtesting

import (
	"context"
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/parlorchat/go-parlor-shortid/counter"
	"github.com/parlorchat/go-parlor-shortid/kvstore"
	"github.com/parlorchat/go-parlor-shortid/shortid"
)

type TestConfig struct {
	TestLabelPrefix string
	// Domain is the servername used in generated room ids, defaulted when "".
	Domain string
}

type TestContext struct {
	Log     logger.Logger
	DB      kvstore.DB
	Counter *counter.Sequential
	Store   *shortid.Store
	T       *testing.T
	Cfg     TestConfig
}

func NewTestContext(t *testing.T, cfg TestConfig, opts ...shortid.StoreOption) TestContext {
	c := TestContext{T: t, Cfg: cfg}
	logger.New("NOOP")
	c.Log = logger.Sugar.WithServiceName(cfg.TestLabelPrefix)
	if c.Cfg.Domain == "" {
		c.Cfg.Domain = "parlor.example"
	}

	c.DB = kvstore.NewMemDB()
	c.Counter = counter.NewSequential(1)

	var err error
	c.Store, err = shortid.NewStore(c.Log, c.DB, c.Counter, opts...)
	require.NoError(t, err)
	return c
}

func (c *TestContext) GetLog() logger.Logger { return c.Log }

// NewEventID returns a fresh well formed event id, unique per call.
func (c *TestContext) NewEventID() shortid.EventID {
	return shortid.EventID("$" + uuid.New().String())
}

// NewRoomID returns a fresh well formed room id on the configured domain.
func (c *TestContext) NewRoomID() shortid.RoomID {
	return shortid.RoomID(fmt.Sprintf("!%s:%s", uuid.New().String(), c.Cfg.Domain))
}

// NewStateHash returns a fresh 32 byte hash.
func (c *TestContext) NewStateHash() []byte {
	h := sha256.Sum256([]byte(uuid.New().String()))
	return h[:]
}

// Populated records what Populate interned so tests can assert against it.
type Populated struct {
	EventIDs  []shortid.EventID
	RoomIDs   []shortid.RoomID
	StateKeys []StateKeyPair
	Hashes    [][]byte
}

type StateKeyPair struct {
	EventType shortid.EventType
	StateKey  string
}

// Populate interns nEvents event ids and, per room, a room id, a create and
// a member state key, and a state hash. Everything minted is returned.
func (c *TestContext) Populate(ctx context.Context, nEvents, nRooms int) Populated {
	var p Populated

	for range nEvents {
		id := c.NewEventID()
		_, err := c.Store.GetOrCreateShortEventID(ctx, id)
		require.NoError(c.T, err)
		p.EventIDs = append(p.EventIDs, id)
	}
	for i := range nRooms {
		roomID := c.NewRoomID()
		_, err := c.Store.GetOrCreateShortRoomID(ctx, roomID)
		require.NoError(c.T, err)
		p.RoomIDs = append(p.RoomIDs, roomID)

		pairs := []StateKeyPair{
			{EventType: "m.room.create", StateKey: ""},
			{EventType: "m.room.member", StateKey: fmt.Sprintf("@user-%d:%s", i, c.Cfg.Domain)},
		}
		for _, pair := range pairs {
			_, err = c.Store.GetOrCreateShortStateKey(ctx, pair.EventType, pair.StateKey)
			require.NoError(c.T, err)
			p.StateKeys = append(p.StateKeys, pair)
		}

		hash := c.NewStateHash()
		_, _, err = c.Store.GetOrCreateShortStateHash(ctx, hash)
		require.NoError(c.T, err)
		p.Hashes = append(p.Hashes, hash)
	}
	return p
}
