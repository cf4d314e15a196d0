// Package ingest is the C5 component: the per-contract ingestion
// engine that reconciles a persistent cursor with the chain tip,
// fetches log ranges in bounded windows, decodes them against the
// contract's ABI, persists them transactionally, and then tails new
// blocks — publishing to the live subscription bus only once it has
// caught up, per spec §4.5/§9.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cairoindex/chainindexer/pkg/abi"
	"github.com/cairoindex/chainindexer/pkg/decoder"
	indexererrors "github.com/cairoindex/chainindexer/pkg/errors"
	"github.com/cairoindex/chainindexer/pkg/model"
	"github.com/cairoindex/chainindexer/pkg/rpcclient"
)

// phase is the engine's position in the state machine spec §4.5 draws:
// INITIALIZING -> (cursor + ABI ready) -> CATCHING_UP <-> TAILING, with
// an unrecoverable FAULTED sink.
type phase int

const (
	phaseInitializing phase = iota
	phaseCatchingUp
	phaseTailing
	phaseFaulted
)

// windowSleep is the pause between successive catch-up windows, per
// spec §4.5 step 6.
const windowSleep = 500 * time.Millisecond

// ChainClient is the subset of pkg/rpcclient.Client the engine depends
// on; an interface here lets tests substitute a fake chain.
type ChainClient interface {
	CurrentBlockNumber(ctx context.Context) (uint64, error)
	GetClassAt(ctx context.Context, block rpcclient.BlockSelector, address model.Address) (string, error)
	GetEvents(
		ctx context.Context,
		address model.Address,
		fromBlock, toBlock rpcclient.BlockSelector,
		chunkSize uint64,
		continuationToken string,
	) (rpcclient.EventsPage, error)
}

// Store is the subset of pkg/eventstore.Store the engine depends on.
type Store interface {
	ReadCursor(ctx context.Context, address model.Address) (uint64, bool, error)
	WriteCursor(ctx context.Context, address model.Address, block uint64) error
	UpsertEvents(ctx context.Context, batch []*model.DecodedEvent) error
}

// Bus is the subset of pkg/subscribe.Bus the engine depends on.
type Bus interface {
	Publish(event *model.DecodedEvent)
}

// Engine drives historical catch-up and steady-state tailing for a
// single contract. One Engine owns exactly one cursor row; it is the
// row's only writer (spec §5).
type Engine struct {
	client ChainClient
	store  Store
	bus    Bus
	config *Config
	log    zerolog.Logger
	mx     *engineMetrics

	mu              sync.RWMutex
	ph              phase
	currentBlock    uint64
	nextBlock       uint64
	lastSyncedBlock uint64
	bootstrapped    bool
}

// New builds an Engine for config.ContractAddress. The ABI is not
// fetched until Run is called.
func New(client ChainClient, store Store, bus Bus, config *Config) (*Engine, error) {
	if config.ContractAddress == "" {
		return nil, &indexererrors.ConfigError{Field: "contract_address", Reason: "must not be empty"}
	}
	mx, err := newEngineMetrics(string(config.ContractAddress))
	if err != nil {
		return nil, fmt.Errorf("initializing metrics: %s", err)
	}
	log := logger.With().
		Str("component", "ingest").
		Str("contract_address", string(config.ContractAddress)).
		Logger()
	return &Engine{
		client: client,
		store:  store,
		bus:    bus,
		config: config,
		log:    log,
		mx:     mx,
		ph:     phaseInitializing,
	}, nil
}

// Status returns a point-in-time sync report, suitable for spec §7's
// status endpoint.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return computeStatus(e.bootstrapped, e.ph, e.currentBlock, e.lastSyncedBlock, e.config.ChunkSize)
}

// Run bootstraps the engine's cursor and ABI dictionary, then blocks
// running historical catch-up followed by steady-state tailing until
// ctx is canceled. Run is not safe to call twice concurrently for the
// same Engine.
func (e *Engine) Run(ctx context.Context) error {
	dict, err := e.bootstrap(ctx)
	if err != nil {
		e.setPhase(phaseFaulted)
		return fmt.Errorf("bootstrapping: %s", err)
	}
	dec := decoder.New(dict)

	e.setPhase(phaseCatchingUp)
	if err := e.catchUp(ctx, dec); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		e.setPhase(phaseFaulted)
		return fmt.Errorf("catching up: %s", err)
	}

	e.setPhase(phaseTailing)
	e.tail(ctx, dec)
	return nil
}

// bootstrap reads the persisted cursor (falling back to StartBlock when
// absent), reads the chain tip, and fetches+parses the contract's ABI
// once for the lifetime of the engine.
func (e *Engine) bootstrap(ctx context.Context) (*abi.Dictionary, error) {
	cursor, ok, err := e.store.ReadCursor(ctx, e.config.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("reading cursor: %s", err)
	}

	// next is the first block not yet fetched: one past a persisted
	// cursor, or StartBlock itself when nothing has been persisted —
	// StartBlock is the first block in scope, not the last one already
	// synced, so it must not be skipped (spec S1/S2).
	next := e.config.StartBlock
	lastSynced := uint64(0)
	if ok && cursor+1 > next {
		next = cursor + 1
		lastSynced = cursor
	}

	current, err := e.client.CurrentBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading current block: %s", err)
	}

	rawABI, err := e.client.GetClassAt(ctx, rpcclient.BlockLatest(), e.config.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("fetching class: %s", err)
	}
	dict, err := abi.Parse(rawABI)
	if err != nil {
		return nil, fmt.Errorf("parsing abi: %s", err)
	}

	e.mu.Lock()
	e.nextBlock = next
	e.lastSyncedBlock = lastSynced
	e.currentBlock = current
	e.bootstrapped = true
	e.mu.Unlock()

	return dict, nil
}

// catchUp drives historical backfill: windows of ChunkSize blocks,
// fetched, decoded, filtered, and persisted transactionally, with the
// cursor advanced only after a window's batch commits. It returns once
// the cursor reaches the chain tip as observed at loop start.
func (e *Engine) catchUp(ctx context.Context, dec *decoder.Decoder) error {
	for {
		e.mu.RLock()
		from, current := e.nextBlock, e.currentBlock
		e.mu.RUnlock()

		if from > current {
			return nil
		}
		// Windows align to ChunkSize-block boundaries on a fixed grid
		// (0, ChunkSize, 2*ChunkSize, ...) rather than starting a fresh
		// span at every cursor position, so a given block always falls
		// in the same window regardless of where catch-up resumed from.
		to := ((from / e.config.ChunkSize) + 1) * e.config.ChunkSize
		if to > current {
			to = current
		}

		if err := e.processWindow(ctx, dec, from, to, false); err != nil {
			e.log.Error().Err(err).Uint64("from", from).Uint64("to", to).Msg("catch-up window failed, will retry")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(windowSleep):
		}
	}
}

// tail drives steady-state tailing: every SyncInterval, re-reads the
// chain tip and, if it has advanced, fetches+persists the delta and
// broadcasts newly-persisted events to the subscription bus.
func (e *Engine) tail(ctx context.Context, dec *decoder.Decoder) {
	ticker := time.NewTicker(e.config.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := e.client.CurrentBlockNumber(ctx)
			if err != nil {
				e.log.Warn().Err(err).Msg("reading current block during tail")
				continue
			}
			e.mu.Lock()
			e.currentBlock = current
			from := e.nextBlock
			e.mu.Unlock()

			if current < from {
				continue
			}
			if err := e.processWindow(ctx, dec, from, current, true); err != nil {
				e.log.Error().Err(err).Uint64("from", from).Uint64("to", current).Msg("tail window failed, will retry next tick")
			}
		}
	}
}

// processWindow fetches every log in [from, to] (looping on the chain's
// continuation token until exhausted, per spec §9's resolved Open
// Question), decodes and filters them, persists the surviving batch in
// one transaction, advances the cursor, and — when broadcast is true —
// publishes each surviving event to the subscription bus. The cursor is
// left untouched on any failure.
func (e *Engine) processWindow(ctx context.Context, dec *decoder.Decoder, from, to uint64, broadcast bool) error {
	start := time.Now()
	rawEvents, err := e.fetchWindow(ctx, from, to)
	if err != nil {
		return fmt.Errorf("fetching window: %w", err)
	}

	// starknet_getEvents doesn't hand back an explicit log index, only
	// an ordered stream per transaction; the position within that
	// per-transaction stream is used as log_index, matching how most
	// Starknet indexers synthesize it.
	txLogIndex := make(map[string]uint32, len(rawEvents))
	decoded := make([]*model.DecodedEvent, 0, len(rawEvents))
	for _, re := range rawEvents {
		idx := txLogIndex[re.TransactionHash]
		txLogIndex[re.TransactionHash] = idx + 1

		log := model.RawLog{
			ContractAddress: e.config.ContractAddress,
			BlockNumber:     re.BlockNumber,
			TransactionHash: re.TransactionHash,
			LogIndex:        idx,
			Keys:            re.Keys,
			Data:            re.Data,
		}
		event := dec.Decode(log, time.Now().UTC())
		if !e.passesFilters(event) {
			continue
		}
		decoded = append(decoded, event)
	}

	if err := e.store.UpsertEvents(ctx, decoded); err != nil {
		return &indexererrors.StoreFailure{Err: err}
	}
	if err := e.store.WriteCursor(ctx, e.config.ContractAddress, to); err != nil {
		return &indexererrors.StoreFailure{Err: err}
	}

	e.mu.Lock()
	e.lastSyncedBlock = to
	e.nextBlock = to + 1
	e.mu.Unlock()

	for _, ev := range decoded {
		e.mx.decodedCounter.Add(ctx, 1, append([]attribute.KeyValue{attribute.String("event_type", ev.EventType)}, e.mx.baseAttrs...)...)
		if broadcast {
			e.bus.Publish(ev)
		}
	}
	e.mx.windowHistogram.Record(ctx, time.Since(start).Milliseconds(), e.mx.baseAttrs...)

	return nil
}

// passesFilters applies the configured event-type/event-key allowlists,
// per spec §4.5 step 4: an event survives only if every configured
// filter (when set) admits it.
func (e *Engine) passesFilters(event *model.DecodedEvent) bool {
	if len(e.config.EventTypes) > 0 {
		if _, ok := e.config.EventTypes[event.EventType]; !ok {
			return false
		}
	}
	if len(e.config.EventKeys) > 0 {
		matched := false
		for _, k := range event.RawKeys {
			if _, ok := e.config.EventKeys[k]; ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// fetchWindow retrieves every event in [from, to], looping on the
// chain's continuation token until it is absent, retrying each
// individual call up to MaxRetries times with a 2s backoff before
// giving up on the whole window.
func (e *Engine) fetchWindow(ctx context.Context, from, to uint64) ([]rpcclient.RawEvent, error) {
	var all []rpcclient.RawEvent
	token := ""
	for {
		page, err := e.getEventsWithRetry(ctx, from, to, token)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Events...)
		if page.ContinuationToken == "" {
			return all, nil
		}
		token = page.ContinuationToken
	}
}

func (e *Engine) getEventsWithRetry(ctx context.Context, from, to uint64, token string) (rpcclient.EventsPage, error) {
	var lastErr error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		page, err := e.client.GetEvents(
			ctx,
			e.config.ContractAddress,
			rpcclient.BlockNumber(from), rpcclient.BlockNumber(to),
			e.config.FetchChunkSize,
			token,
		)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if attempt == e.config.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return rpcclient.EventsPage{}, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return rpcclient.EventsPage{}, lastErr
}

func (e *Engine) setPhase(p phase) {
	e.mu.Lock()
	e.ph = p
	e.mu.Unlock()
}
