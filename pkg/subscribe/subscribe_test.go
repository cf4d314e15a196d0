package subscribe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cairoindex/chainindexer/pkg/model"
)

func TestSubscribeFiltersByEventType(t *testing.T) {
	// S6 — a subscriber filtered to {Transfer} only ever receives
	// Transfer events, even when a Mint is published on the same
	// contract.
	t.Parallel()

	bus := New(0)
	_, ch := bus.Subscribe(model.SubscriptionFilter{
		ContractAddress: "0xabc",
		EventTypes:      map[string]struct{}{"Transfer": {}},
	})

	bus.Publish(&model.DecodedEvent{ID: "t1", ContractAddress: "0xabc", EventType: "Transfer"})
	bus.Publish(&model.DecodedEvent{ID: "m1", ContractAddress: "0xabc", EventType: "Mint"})
	bus.Publish(&model.DecodedEvent{ID: "t2", ContractAddress: "0xabc", EventType: "Transfer"})

	select {
	case ev := <-ch:
		require.Equal(t, "t1", ev.ID)
	case <-time.After(time.Second):
		t.Fatal("expected first matching event")
	}
	select {
	case ev := <-ch:
		require.Equal(t, "t2", ev.ID)
	case <-time.After(time.Second):
		t.Fatal("expected second matching event")
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra delivery: %+v", ev)
	default:
	}
}

func TestSubscribeIgnoresOtherContracts(t *testing.T) {
	t.Parallel()

	bus := New(0)
	_, ch := bus.Subscribe(model.SubscriptionFilter{ContractAddress: "0xabc"})

	bus.Publish(&model.DecodedEvent{ID: "other", ContractAddress: "0xdef", EventType: "Transfer"})

	select {
	case ev := <-ch:
		t.Fatalf("did not expect delivery for a different contract: %+v", ev)
	default:
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	// Invariant #7 — publishing never blocks the caller, even when a
	// subscriber's channel is saturated and no one is draining it.
	t.Parallel()

	bus := New(1)
	_, ch := bus.Subscribe(model.SubscriptionFilter{ContractAddress: "0xabc"})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(&model.DecodedEvent{ID: "x", ContractAddress: "0xabc", EventType: "Transfer"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}

	stats := bus.Stats()
	require.Equal(t, uint64(10), stats.Published)
	require.Greater(t, stats.Dropped, uint64(0))
	require.Len(t, ch, 1)
}

func TestUnsubscribeClosesChannelAndStopsDelivery(t *testing.T) {
	t.Parallel()

	bus := New(0)
	id, ch := bus.Subscribe(model.SubscriptionFilter{ContractAddress: "0xabc"})
	require.Equal(t, 1, bus.Count())

	bus.Unsubscribe(id)
	require.Equal(t, 0, bus.Count())

	_, ok := <-ch
	require.False(t, ok, "channel should be closed after unsubscribe")

	// Unsubscribing an unknown id is a no-op, not a panic.
	bus.Unsubscribe(id)
}
