// Package errors holds the small set of error values that callers across
// the indexer need to branch on, instead of matching on formatted strings.
package errors

import "fmt"

// TransportFailure is returned by the RPC client wrapper when the chain
// node responds with a network error or a non-2xx, non-429 status.
type TransportFailure struct {
	Status int
	Body   string
}

func (e *TransportFailure) Error() string {
	return fmt.Sprintf("transport failure: status %d: %s", e.Status, e.Body)
}

// ProtocolFailure is returned when the chain node responds with a 2xx
// status but a body that isn't parseable JSON-RPC.
type ProtocolFailure struct {
	Body string
	Err  error
}

func (e *ProtocolFailure) Error() string {
	return fmt.Sprintf("protocol failure: %s: body=%s", e.Err, e.Body)
}

func (e *ProtocolFailure) Unwrap() error { return e.Err }

// RateLimited is returned by the RPC client wrapper when a call is
// still answered with HTTP 429 after every retry has been spent.
type RateLimited struct {
	Attempt int
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("rate limited (attempt %d)", e.Attempt)
}

// StoreFailure wraps an underlying storage error so ingestion callers can
// recognize "the window wasn't committed" without string matching.
type StoreFailure struct {
	Err error
}

func (e *StoreFailure) Error() string {
	return fmt.Sprintf("store failure: %s", e.Err)
}

func (e *StoreFailure) Unwrap() error { return e.Err }

// ConfigError is returned at start-up for a rejected configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Reason)
}
