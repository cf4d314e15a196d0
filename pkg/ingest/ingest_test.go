package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cairoindex/chainindexer/pkg/decoder"
	"github.com/cairoindex/chainindexer/pkg/model"
	"github.com/cairoindex/chainindexer/pkg/rpcclient"
)

const testABI = `[
  {
    "type": "event",
    "name": "myapp::events::Transfer",
    "kind": "struct",
    "members": [
      {"name": "from", "type": "core::starknet::ContractAddress", "kind": "key"},
      {"name": "to", "type": "core::starknet::ContractAddress", "kind": "key"},
      {"name": "value", "type": "core::integer::u256", "kind": "data"}
    ]
  }
]`

// fakeClient is a ChainClient whose tip and event set are set up by the
// test, and which records every window it was asked to fetch.
type fakeClient struct {
	mu       sync.Mutex
	current  uint64
	classABI string
	events   []rpcclient.RawEvent

	windowsFetched [][2]uint64
	errSeq         []error // consumed in order, one per GetEvents call
}

func (f *fakeClient) CurrentBlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeClient) GetClassAt(ctx context.Context, block rpcclient.BlockSelector, address model.Address) (string, error) {
	return f.classABI, nil
}

func blockNumber(b rpcclient.BlockSelector) uint64 {
	data, err := b.MarshalJSON()
	if err != nil {
		panic(err)
	}
	var obj struct {
		BlockNumber *uint64 `json:"block_number"`
	}
	if err := json.Unmarshal(data, &obj); err != nil || obj.BlockNumber == nil {
		panic(fmt.Sprintf("not a block-number selector: %s", data))
	}
	return *obj.BlockNumber
}

func (f *fakeClient) GetEvents(
	ctx context.Context,
	address model.Address,
	fromBlock, toBlock rpcclient.BlockSelector,
	chunkSize uint64,
	continuationToken string,
) (rpcclient.EventsPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	from, to := blockNumber(fromBlock), blockNumber(toBlock)
	f.windowsFetched = append(f.windowsFetched, [2]uint64{from, to})

	if len(f.errSeq) > 0 {
		err := f.errSeq[0]
		f.errSeq = f.errSeq[1:]
		if err != nil {
			return rpcclient.EventsPage{}, err
		}
	}

	var page []rpcclient.RawEvent
	for _, e := range f.events {
		if e.BlockNumber >= from && e.BlockNumber <= to {
			page = append(page, e)
		}
	}
	return rpcclient.EventsPage{Events: page}, nil
}

// fakeStore is an in-memory Store recording every cursor write and
// upserted batch, in order.
type fakeStore struct {
	mu            sync.Mutex
	cursor        uint64
	hasCursor     bool
	cursorWrites  []uint64
	upsertBatches [][]*model.DecodedEvent
}

func (s *fakeStore) ReadCursor(ctx context.Context, address model.Address) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, s.hasCursor, nil
}

func (s *fakeStore) WriteCursor(ctx context.Context, address model.Address, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = block
	s.hasCursor = true
	s.cursorWrites = append(s.cursorWrites, block)
	return nil
}

func (s *fakeStore) UpsertEvents(ctx context.Context, batch []*model.DecodedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]*model.DecodedEvent, len(batch))
	copy(cp, batch)
	s.upsertBatches = append(s.upsertBatches, cp)
	return nil
}

// fakeBus is a Bus recording every published event.
type fakeBus struct {
	mu        sync.Mutex
	published []*model.DecodedEvent
}

func (b *fakeBus) Publish(event *model.DecodedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
}

func newEngine(t *testing.T, client ChainClient, store Store, bus Bus, cfg *Config) *Engine {
	t.Helper()
	e, err := New(client, store, bus, cfg)
	require.NoError(t, err)
	return e
}

func TestColdStartEmptyChain(t *testing.T) {
	// S1 — start_block=0, current_block=0: cursor written to 0, zero
	// events, and the engine reaches the tailing phase.
	t.Parallel()

	client := &fakeClient{current: 0, classABI: testABI}
	store := &fakeStore{}
	bus := &fakeBus{}
	cfg := DefaultConfig("0xabc")

	e := newEngine(t, client, store, bus, cfg)
	dict, err := e.bootstrap(context.Background())
	require.NoError(t, err)

	dec := decoder.New(dict)
	require.NoError(t, e.catchUp(context.Background(), dec))

	require.Equal(t, []uint64{0}, store.cursorWrites)
	require.Len(t, store.upsertBatches, 1)
	require.Empty(t, store.upsertBatches[0])

	e.setPhase(phaseTailing)
	status := e.Status()
	require.Equal(t, StatusFullySynced, status.State)
	require.Equal(t, uint64(0), status.LastSyncedBlock)
}

func TestHistoricalBackfillThreeChunks(t *testing.T) {
	// S2 — start_block=0, current_block=5000, chunk_size=2000 fetches
	// exactly the windows [0,2000], [2001,4000], [4001,5000], and every
	// decoded event's block number lies within [0, 5000].
	t.Parallel()

	events := []rpcclient.RawEvent{
		{BlockNumber: 10, TransactionHash: "0xt1", Keys: []model.FieldElement{"0xnotaselector", "0xAA", "0xBB"}, Data: []model.FieldElement{"0x1"}},
		{BlockNumber: 2500, TransactionHash: "0xt2", Keys: []model.FieldElement{"0xnotaselector", "0xAA", "0xBB"}, Data: []model.FieldElement{"0x2"}},
		{BlockNumber: 4999, TransactionHash: "0xt3", Keys: []model.FieldElement{"0xnotaselector", "0xAA", "0xBB"}, Data: []model.FieldElement{"0x3"}},
	}
	client := &fakeClient{current: 5000, classABI: testABI, events: events}
	store := &fakeStore{}
	bus := &fakeBus{}
	cfg := DefaultConfig("0xabc")
	cfg.ChunkSize = 2000

	e := newEngine(t, client, store, bus, cfg)
	dict, err := e.bootstrap(context.Background())
	require.NoError(t, err)
	dec := decoder.New(dict)
	require.NoError(t, e.catchUp(context.Background(), dec))

	require.Equal(t, [][2]uint64{{0, 2000}, {2001, 4000}, {4001, 5000}}, client.windowsFetched)
	require.Equal(t, []uint64{2000, 4000, 5000}, store.cursorWrites)

	var total int
	for _, batch := range store.upsertBatches {
		for _, ev := range batch {
			require.LessOrEqual(t, ev.BlockNumber, uint64(5000))
			total++
		}
	}
	require.Equal(t, 3, total)

	status := e.Status()
	require.Equal(t, uint64(5000), status.LastSyncedBlock)
	require.Equal(t, StatusFullySynced, status.State)
}

func TestWindowRetriesTransientErrorsWithoutAdvancingCursor(t *testing.T) {
	// Two transient failures followed by success: the window eventually
	// completes and the cursor is written exactly once, to the window's
	// end block, only after the successful call.
	t.Parallel()

	events := []rpcclient.RawEvent{
		{BlockNumber: 0, TransactionHash: "0xt1", Keys: []model.FieldElement{"0xnotaselector", "0xAA", "0xBB"}, Data: []model.FieldElement{"0x2a"}},
	}
	client := &fakeClient{
		current:  0,
		classABI: testABI,
		events:   events,
		errSeq:   []error{fmt.Errorf("rate limited"), fmt.Errorf("rate limited")},
	}
	store := &fakeStore{}
	bus := &fakeBus{}
	cfg := DefaultConfig("0xabc")
	cfg.MaxRetries = 3

	e := newEngine(t, client, store, bus, cfg)
	dict, err := e.bootstrap(context.Background())
	require.NoError(t, err)
	dec := decoder.New(dict)

	start := time.Now()
	require.NoError(t, e.processWindow(context.Background(), dec, 0, 0, false))
	require.GreaterOrEqual(t, time.Since(start), 4*time.Second)

	require.Equal(t, []uint64{0}, store.cursorWrites)
	require.Len(t, store.upsertBatches[0], 1)
}

func TestFilterSoundness(t *testing.T) {
	// Invariant #6 — an event-type filter admits only events of that
	// type; nothing else is ever persisted.
	t.Parallel()

	events := []rpcclient.RawEvent{
		{BlockNumber: 1, TransactionHash: "0xt1", Keys: []model.FieldElement{"0xnotaselector", "0xAA", "0xBB"}, Data: []model.FieldElement{"0x1"}},
	}
	client := &fakeClient{current: 1, classABI: testABI, events: events}
	store := &fakeStore{}
	bus := &fakeBus{}
	cfg := DefaultConfig("0xabc")
	cfg.ChunkSize = 10
	err := WithEventTypes([]string{"Mint"})(cfg)
	require.NoError(t, err)

	e := newEngine(t, client, store, bus, cfg)
	dict, decErr := e.bootstrap(context.Background())
	require.NoError(t, decErr)
	dec := decoder.New(dict)
	require.NoError(t, e.catchUp(context.Background(), dec))

	for _, batch := range store.upsertBatches {
		require.Empty(t, batch, "Transfer events must be filtered out when only Mint is allowed")
	}
}

func TestOrderingWithinContract(t *testing.T) {
	// Invariant #8 — events from the same transaction are assigned
	// strictly increasing log indices in the order the chain returned
	// them.
	t.Parallel()

	events := []rpcclient.RawEvent{
		{BlockNumber: 1, TransactionHash: "0xtx", Keys: []model.FieldElement{"0xnotaselector", "0xAA", "0xBB"}, Data: []model.FieldElement{"0x1"}},
		{BlockNumber: 1, TransactionHash: "0xtx", Keys: []model.FieldElement{"0xnotaselector", "0xCC", "0xDD"}, Data: []model.FieldElement{"0x2"}},
	}
	client := &fakeClient{current: 1, classABI: testABI, events: events}
	store := &fakeStore{}
	bus := &fakeBus{}
	cfg := DefaultConfig("0xabc")
	cfg.ChunkSize = 10

	e := newEngine(t, client, store, bus, cfg)
	dict, err := e.bootstrap(context.Background())
	require.NoError(t, err)
	dec := decoder.New(dict)
	require.NoError(t, e.catchUp(context.Background(), dec))

	require.Len(t, store.upsertBatches, 1)
	batch := store.upsertBatches[0]
	require.Len(t, batch, 2)
	require.Equal(t, uint32(0), batch[0].LogIndex)
	require.Equal(t, uint32(1), batch[1].LogIndex)
	require.Equal(t, "0xtx:0", batch[0].ID)
	require.Equal(t, "0xtx:1", batch[1].ID)
}

func TestTailBroadcastsToSubscriptionBus(t *testing.T) {
	t.Parallel()

	events := []rpcclient.RawEvent{
		{BlockNumber: 1, TransactionHash: "0xtx", Keys: []model.FieldElement{"0xnotaselector", "0xAA", "0xBB"}, Data: []model.FieldElement{"0x1"}},
	}
	client := &fakeClient{current: 0, classABI: testABI}
	store := &fakeStore{}
	bus := &fakeBus{}
	cfg := DefaultConfig("0xabc")

	e := newEngine(t, client, store, bus, cfg)
	dict, err := e.bootstrap(context.Background())
	require.NoError(t, err)
	dec := decoder.New(dict)
	require.NoError(t, e.catchUp(context.Background(), dec))
	require.Empty(t, bus.published, "catch-up must not broadcast")

	client.mu.Lock()
	client.current = 1
	client.events = events
	client.mu.Unlock()

	require.NoError(t, e.processWindow(context.Background(), dec, 1, 1, true))
	require.Len(t, bus.published, 1)
	require.Equal(t, "Transfer", bus.published[0].EventType)
}
