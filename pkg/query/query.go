// Package query is the C7 component: a read-only surface over
// pkg/eventstore that external readers (the schema-typed query server,
// out of scope here per spec §1) call into for filtered, paginated,
// ordered event pages, multi-contract merges, and per-contract stats.
// It owns no wire protocol of its own.
package query

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/cairoindex/chainindexer/pkg/eventstore"
	"github.com/cairoindex/chainindexer/pkg/model"
)

// DefaultPageSize is used when a caller passes first <= 0.
const DefaultPageSize = 100

// Store is the subset of pkg/eventstore.Store the query surface reads
// from.
type Store interface {
	Query(ctx context.Context, address model.Address, filter eventstore.Filter,
		pagination eventstore.Pagination, ordering eventstore.Ordering) (eventstore.Page, error)
	Count(ctx context.Context, address model.Address, eventTypes []string) (uint64, error)
	DistinctContracts(ctx context.Context) ([]model.Address, error)
	Stats(ctx context.Context, address model.Address) (eventstore.ContractStats, error)
}

// Surface is the C7 query surface, bound to one Store.
type Surface struct {
	store Store
}

// New returns a Surface reading from store.
func New(store Store) *Surface {
	return &Surface{store: store}
}

// Page is one page of decoded events plus the pagination metadata spec
// §4.7 calls for: an opaque (base-10 offset) end cursor and whether a
// further page exists.
type Page struct {
	Events      []*model.DecodedEvent
	EndCursor   string
	HasNextPage bool
	TotalCount  int
}

// decodeCursor parses the opaque "after" cursor — a base-10 integer
// offset, per spec §4.7 — defaulting to 0 (the first page) when empty.
func decodeCursor(after string) (int, error) {
	if after == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(after)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("invalid pagination cursor %q", after)
	}
	return offset, nil
}

func pageSize(first int) int {
	if first <= 0 {
		return DefaultPageSize
	}
	return first
}

// SingleContract returns one page of address's events satisfying
// filter, ordered by ordering, starting after the opaque cursor.
func (s *Surface) SingleContract(
	ctx context.Context,
	address model.Address,
	filter eventstore.Filter,
	first int,
	after string,
	ordering eventstore.Ordering,
) (Page, error) {
	offset, err := decodeCursor(after)
	if err != nil {
		return Page{}, err
	}
	limit := pageSize(first)

	result, err := s.store.Query(ctx, address, filter, eventstore.Pagination{Offset: offset, Limit: limit}, ordering)
	if err != nil {
		return Page{}, fmt.Errorf("querying events: %w", err)
	}

	return Page{
		Events:      result.Events,
		EndCursor:   strconv.Itoa(offset + len(result.Events)),
		HasNextPage: result.HasNextPage,
		TotalCount:  result.Total,
	}, nil
}

// MultiContract merges events across addresses, sorted by ordering's
// column (block_number or timestamp) with ties broken by log_index, in
// ordering's direction, and returns one
// page of the merged stream. Each underlying contract is queried for
// enough rows to satisfy the merged window (offset+limit), merged in
// memory, then sliced — a reasonable approach given the per-contract
// event volumes this indexer targets; a store-level k-way merge would
// be needed to scale past that.
func (s *Surface) MultiContract(
	ctx context.Context,
	addresses []model.Address,
	filter eventstore.Filter,
	first int,
	after string,
	ordering eventstore.Ordering,
) (Page, error) {
	offset, err := decodeCursor(after)
	if err != nil {
		return Page{}, err
	}
	limit := pageSize(first)
	need := offset + limit

	var merged []*model.DecodedEvent
	total := 0
	for _, addr := range addresses {
		result, err := s.store.Query(ctx, addr, filter, eventstore.Pagination{Offset: 0, Limit: need}, ordering)
		if err != nil {
			return Page{}, fmt.Errorf("querying contract %s: %w", addr, err)
		}
		merged = append(merged, result.Events...)
		total += result.Total
	}

	sortEvents(merged, ordering)

	if offset > len(merged) {
		offset = len(merged)
	}
	end := offset + limit
	if end > len(merged) {
		end = len(merged)
	}
	page := merged[offset:end]

	return Page{
		Events:      page,
		EndCursor:   strconv.Itoa(offset + len(page)),
		HasNextPage: offset+len(page) < total,
		TotalCount:  total,
	}, nil
}

func sortEvents(events []*model.DecodedEvent, ordering eventstore.Ordering) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		var less bool
		switch ordering.By {
		case eventstore.OrderByTimestamp:
			if a.Timestamp.Equal(b.Timestamp) {
				less = a.LogIndex < b.LogIndex
			} else {
				less = a.Timestamp.Before(b.Timestamp)
			}
		default:
			if a.BlockNumber == b.BlockNumber {
				less = a.LogIndex < b.LogIndex
			} else {
				less = a.BlockNumber < b.BlockNumber
			}
		}
		if ordering.Descending {
			return !less
		}
		return less
	})
}

// Stats returns address's per-contract statistics.
func (s *Surface) Stats(ctx context.Context, address model.Address) (eventstore.ContractStats, error) {
	return s.store.Stats(ctx, address)
}

// DistinctContracts returns every contract with at least one stored
// event.
func (s *Surface) DistinctContracts(ctx context.Context) ([]model.Address, error) {
	return s.store.DistinctContracts(ctx)
}
