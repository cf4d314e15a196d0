package rpcclient

import (
	"context"
	"fmt"

	"github.com/cairoindex/chainindexer/pkg/model"
)

// BlockSelector is a block reference as the chain's JSON-RPC expects
// it: either the literal "latest"/"pending" or {"block_number": n}.
type BlockSelector struct {
	literal string
	number  *uint64
}

// BlockLatest selects the most recent accepted block.
func BlockLatest() BlockSelector { return BlockSelector{literal: "latest"} }

// BlockPending selects the pending block.
func BlockPending() BlockSelector { return BlockSelector{literal: "pending"} }

// BlockNumber selects a specific block height.
func BlockNumber(n uint64) BlockSelector { return BlockSelector{number: &n} }

// MarshalJSON encodes the selector the way the chain's JSON-RPC expects.
func (b BlockSelector) MarshalJSON() ([]byte, error) {
	if b.number != nil {
		return []byte(fmt.Sprintf(`{"block_number":%d}`, *b.number)), nil
	}
	return []byte(`"` + b.literal + `"`), nil
}

// CurrentBlockNumber returns the chain's current block height.
func (c *Client) CurrentBlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	if err := c.Call(ctx, &n, "starknet_blockNumber"); err != nil {
		return 0, err
	}
	return n, nil
}

type getClassAtResult struct {
	ABI string `json:"abi"`
}

// GetClassAt fetches the contract class at the given address and
// returns the embedded ABI as a raw JSON string (ready for pkg/abi.Parse).
func (c *Client) GetClassAt(ctx context.Context, block BlockSelector, address model.Address) (string, error) {
	var res getClassAtResult
	if err := c.Call(ctx, &res, "starknet_getClassAt", block, string(address)); err != nil {
		return "", err
	}
	return res.ABI, nil
}

// EventsFilter is the starknet_getEvents request filter.
type EventsFilter struct {
	Address           model.Address `json:"address"`
	FromBlock         BlockSelector `json:"from_block,omitempty"`
	ToBlock           BlockSelector `json:"to_block,omitempty"`
	ChunkSize         uint64        `json:"chunk_size"`
	ContinuationToken string        `json:"continuation_token,omitempty"`
}

// RawEvent is one event item as returned by starknet_getEvents.
type RawEvent struct {
	FromAddress     model.Address        `json:"from_address"`
	Keys            []model.FieldElement `json:"keys"`
	Data            []model.FieldElement `json:"data"`
	BlockNumber     uint64               `json:"block_number"`
	TransactionHash string               `json:"transaction_hash"`
}

// EventsPage is one page of the starknet_getEvents response.
type EventsPage struct {
	Events            []RawEvent `json:"events"`
	ContinuationToken string     `json:"continuation_token"`
}

// GetEvents fetches one page of events for address in [fromBlock,
// toBlock]. Callers that need every event in the window must loop,
// feeding the returned ContinuationToken back in until it is empty —
// this call does not loop on your behalf (see pkg/ingest, which does).
func (c *Client) GetEvents(
	ctx context.Context,
	address model.Address,
	fromBlock, toBlock BlockSelector,
	chunkSize uint64,
	continuationToken string,
) (EventsPage, error) {
	filter := EventsFilter{
		Address:           address,
		FromBlock:         fromBlock,
		ToBlock:           toBlock,
		ChunkSize:         chunkSize,
		ContinuationToken: continuationToken,
	}
	var page EventsPage
	if err := c.Call(ctx, &page, "starknet_getEvents", filter); err != nil {
		return EventsPage{}, err
	}
	return page, nil
}
