package ingest

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/cairoindex/chainindexer/pkg/model"
)

// Manager runs one Engine per configured contract concurrently and
// exposes their combined status, the way a multi-contract deployment
// of this indexer is expected to be driven from cmd/indexer.
type Manager struct {
	engines map[model.Address]*Engine
}

// NewManager wraps a set of already-constructed engines, keyed by their
// own contract address.
func NewManager(engines ...*Engine) *Manager {
	m := &Manager{engines: make(map[model.Address]*Engine, len(engines))}
	for _, e := range engines {
		m.engines[e.config.ContractAddress] = e
	}
	return m
}

// Run starts every engine and blocks until ctx is canceled or one
// engine returns a non-nil, non-context error, in which case the
// others are canceled too.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, e := range m.engines {
		e := e
		g.Go(func() error {
			return e.Run(ctx)
		})
	}
	return g.Wait()
}

// Status returns every managed contract's current sync status.
func (m *Manager) Status() map[model.Address]Status {
	out := make(map[model.Address]Status, len(m.engines))
	for addr, e := range m.engines {
		out[addr] = e.Status()
	}
	return out
}

// StatusFor returns address's current sync status, and false if it
// isn't managed by this Manager.
func (m *Manager) StatusFor(address model.Address) (Status, bool) {
	e, ok := m.engines[address]
	if !ok {
		return Status{}, false
	}
	return e.Status(), true
}
