package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cairoindex/chainindexer/pkg/eventstore"
	"github.com/cairoindex/chainindexer/pkg/model"
)

// fakeStore is a Store backed by an in-memory event list, enough to
// exercise Surface's pagination/merge/cursor logic without a real DB.
type fakeStore struct {
	events map[model.Address][]*model.DecodedEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{events: map[model.Address][]*model.DecodedEvent{}}
}

func (f *fakeStore) add(address model.Address, events ...*model.DecodedEvent) {
	f.events[address] = append(f.events[address], events...)
}

func (f *fakeStore) Query(
	ctx context.Context,
	address model.Address,
	filter eventstore.Filter,
	pagination eventstore.Pagination,
	ordering eventstore.Ordering,
) (eventstore.Page, error) {
	all := f.events[address]
	filtered := make([]*model.DecodedEvent, 0, len(all))
	for _, e := range all {
		if len(filter.EventTypes) > 0 {
			match := false
			for _, t := range filter.EventTypes {
				if e.EventType == t {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		filtered = append(filtered, e)
	}
	sortEvents(filtered, ordering)

	total := len(filtered)
	start := pagination.Offset
	if start > total {
		start = total
	}
	end := start + pagination.Limit
	if end > total {
		end = total
	}
	page := filtered[start:end]
	return eventstore.Page{
		Events:      page,
		Total:       total,
		HasNextPage: start+len(page) < total,
	}, nil
}

func (f *fakeStore) Count(ctx context.Context, address model.Address, eventTypes []string) (uint64, error) {
	return uint64(len(f.events[address])), nil
}

func (f *fakeStore) DistinctContracts(ctx context.Context) ([]model.Address, error) {
	out := make([]model.Address, 0, len(f.events))
	for addr := range f.events {
		out = append(out, addr)
	}
	return out, nil
}

func (f *fakeStore) Stats(ctx context.Context, address model.Address) (eventstore.ContractStats, error) {
	n := len(f.events[address])
	return eventstore.ContractStats{Total: uint64(n), HasAnyEvents: n > 0}, nil
}

func evAt(address model.Address, block uint64, logIndex uint32, eventType string) *model.DecodedEvent {
	return &model.DecodedEvent{
		ID:              model.NewEventID("0xtx", logIndex),
		ContractAddress: address,
		EventType:       eventType,
		BlockNumber:     block,
		LogIndex:        logIndex,
		Timestamp:       time.Unix(int64(block), 0).UTC(),
	}
}

func TestSingleContractPaginationCursor(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	addr := model.Address("0xabc")
	for i := uint64(0); i < 5; i++ {
		store.add(addr, evAt(addr, i, 0, "Transfer"))
	}
	surface := New(store)

	page1, err := surface.SingleContract(context.Background(), addr, eventstore.Filter{}, 2, "", eventstore.Ordering{})
	require.NoError(t, err)
	require.Len(t, page1.Events, 2)
	require.Equal(t, uint64(0), page1.Events[0].BlockNumber)
	require.Equal(t, "2", page1.EndCursor)
	require.True(t, page1.HasNextPage)

	page2, err := surface.SingleContract(context.Background(), addr, eventstore.Filter{}, 2, page1.EndCursor, eventstore.Ordering{})
	require.NoError(t, err)
	require.Len(t, page2.Events, 2)
	require.Equal(t, uint64(2), page2.Events[0].BlockNumber)
	require.True(t, page2.HasNextPage)

	page3, err := surface.SingleContract(context.Background(), addr, eventstore.Filter{}, 2, page2.EndCursor, eventstore.Ordering{})
	require.NoError(t, err)
	require.Len(t, page3.Events, 1)
	require.False(t, page3.HasNextPage)
}

func TestSingleContractInvalidCursor(t *testing.T) {
	t.Parallel()

	surface := New(newFakeStore())
	_, err := surface.SingleContract(context.Background(), "0xabc", eventstore.Filter{}, 10, "not-a-number", eventstore.Ordering{})
	require.Error(t, err)
}

func TestMultiContractMergeOrdering(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	addrA := model.Address("0xa")
	addrB := model.Address("0xb")
	store.add(addrA, evAt(addrA, 1, 0, "Transfer"), evAt(addrA, 4, 0, "Transfer"))
	store.add(addrB, evAt(addrB, 2, 0, "Transfer"), evAt(addrB, 3, 0, "Transfer"))
	surface := New(store)

	page, err := surface.MultiContract(context.Background(), []model.Address{addrA, addrB}, eventstore.Filter{}, 10, "", eventstore.Ordering{})
	require.NoError(t, err)
	require.Len(t, page.Events, 4)
	require.Equal(t, uint64(1), page.Events[0].BlockNumber)
	require.Equal(t, uint64(2), page.Events[1].BlockNumber)
	require.Equal(t, uint64(3), page.Events[2].BlockNumber)
	require.Equal(t, uint64(4), page.Events[3].BlockNumber)
	require.Equal(t, 4, page.TotalCount)
	require.False(t, page.HasNextPage)
}

func TestMultiContractRespectsPageSize(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	addrA := model.Address("0xa")
	addrB := model.Address("0xb")
	store.add(addrA, evAt(addrA, 1, 0, "Transfer"), evAt(addrA, 3, 0, "Transfer"))
	store.add(addrB, evAt(addrB, 2, 0, "Transfer"), evAt(addrB, 4, 0, "Transfer"))
	surface := New(store)

	page, err := surface.MultiContract(context.Background(), []model.Address{addrA, addrB}, eventstore.Filter{}, 2, "", eventstore.Ordering{})
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	require.Equal(t, uint64(1), page.Events[0].BlockNumber)
	require.Equal(t, uint64(2), page.Events[1].BlockNumber)
	require.True(t, page.HasNextPage)
}
