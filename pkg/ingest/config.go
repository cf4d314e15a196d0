package ingest

import (
	"fmt"
	"time"

	"github.com/cairoindex/chainindexer/pkg/model"
)

// Config holds the per-contract options spec §6 enumerates for the
// ingestion engine. One Config drives exactly one Engine/contract.
type Config struct {
	ContractAddress model.Address
	StartBlock      uint64
	ChunkSize       uint64
	FetchChunkSize  uint64
	SyncInterval    time.Duration
	MaxRetries      int
	EventKeys       map[model.FieldElement]struct{}
	EventTypes      map[string]struct{}
}

// DefaultConfig returns a Config for address with every spec §6 default
// applied: ChunkSize 2000, per-call FetchChunkSize 1000, SyncInterval
// 2s, MaxRetries 3, StartBlock 0, no event filters.
func DefaultConfig(address model.Address) *Config {
	return &Config{
		ContractAddress: address,
		StartBlock:      0,
		ChunkSize:       2000,
		FetchChunkSize:  1000,
		SyncInterval:    2 * time.Second,
		MaxRetries:      3,
	}
}

// Option modifies a Config attribute.
type Option func(*Config) error

// WithStartBlock sets the floor cursor used when no prior state exists.
func WithStartBlock(n uint64) Option {
	return func(c *Config) error {
		c.StartBlock = n
		return nil
	}
}

// WithChunkSize overrides the block-range span per fetch window.
func WithChunkSize(n uint64) Option {
	return func(c *Config) error {
		if n == 0 {
			return fmt.Errorf("chunk size must be positive")
		}
		c.ChunkSize = n
		return nil
	}
}

// WithSyncInterval overrides the steady-state tail poll interval.
func WithSyncInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("sync interval must be positive")
		}
		c.SyncInterval = d
		return nil
	}
}

// WithMaxRetries overrides the per-window RPC retry count.
func WithMaxRetries(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return fmt.Errorf("max retries must be non-negative")
		}
		c.MaxRetries = n
		return nil
	}
}

// WithEventTypes restricts persisted events to those whose short name is
// in types. An empty/nil set (the default) persists every event type.
func WithEventTypes(types []string) Option {
	return func(c *Config) error {
		if len(types) == 0 {
			return nil
		}
		c.EventTypes = make(map[string]struct{}, len(types))
		for _, t := range types {
			c.EventTypes[t] = struct{}{}
		}
		return nil
	}
}

// WithEventKeys restricts persisted events to those whose raw keys
// intersect keys. An empty/nil set (the default) persists regardless of
// key content.
func WithEventKeys(keys []model.FieldElement) Option {
	return func(c *Config) error {
		if len(keys) == 0 {
			return nil
		}
		c.EventKeys = make(map[model.FieldElement]struct{}, len(keys))
		for _, k := range keys {
			c.EventKeys[k] = struct{}{}
		}
		return nil
	}
}
