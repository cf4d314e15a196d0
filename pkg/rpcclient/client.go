// Package rpcclient is the C1 component: a thin, retrying wrapper
// around the chain node's JSON-RPC 2.0 endpoint. It never decodes
// events itself — that's pkg/abi and pkg/decoder's job — it only
// issues calls and classifies failures.
package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	ethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"

	indexererrors "github.com/cairoindex/chainindexer/pkg/errors"
)

// Config holds the retry policy for the wrapper. The chain node's own
// HTTP transport timeout is left to ethrpc.Client's defaults, per
// spec §5 ("no per-window deadline").
type Config struct {
	MaxRetries int
}

// DefaultConfig returns the spec default of 3 retries.
func DefaultConfig() *Config {
	return &Config{MaxRetries: 3}
}

// Option modifies a Config attribute.
type Option func(*Config) error

// WithMaxRetries overrides the default retry count for 429 responses.
func WithMaxRetries(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return fmt.Errorf("max retries must be non-negative")
		}
		c.MaxRetries = n
		return nil
	}
}

// Client wraps an underlying generic JSON-RPC transport with the
// rate-limit-aware retry policy described in spec §4.1.
type Client struct {
	rpc    *ethrpc.Client
	config *Config
	log    zerolog.Logger
}

// New dials the chain node's JSON-RPC endpoint and returns a ready
// Client.
func New(ctx context.Context, rpcURL string, opts ...Option) (*Client, error) {
	config := DefaultConfig()
	for _, o := range opts {
		if err := o(config); err != nil {
			return nil, fmt.Errorf("applying option: %s", err)
		}
	}
	rc, err := ethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dialing rpc endpoint: %s", err)
	}
	log := logger.With().Str("component", "rpcclient").Logger()
	return &Client{rpc: rc, config: config, log: log}, nil
}

// Close releases the underlying transport.
func (c *Client) Close() {
	c.rpc.Close()
}

// Call issues a single JSON-RPC method call, retrying on HTTP 429 with
// exponential backoff capped at 30s, and decodes the result into out.
func (c *Client) Call(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		err := c.rpc.CallContext(ctx, out, method, params...)
		if err == nil {
			return nil
		}

		var httpErr ethrpc.HTTPError
		if errors.As(err, &httpErr) {
			if httpErr.StatusCode == 429 {
				lastErr = &indexererrors.RateLimited{Attempt: attempt}
				if attempt == c.config.MaxRetries {
					return lastErr
				}
				delay := time.Duration(math.Min(math.Pow(2, float64(attempt+1)), 30)) * time.Second
				c.log.Warn().Int("attempt", attempt).
					Dur("delay", delay).Msg("rate limited, backing off")
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}
			return &indexererrors.TransportFailure{Status: httpErr.StatusCode, Body: string(httpErr.Body)}
		}

		var syntaxErr *json.SyntaxError
		var unmarshalErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &unmarshalErr) {
			return &indexererrors.ProtocolFailure{Err: err}
		}

		// Anything else (connection refused, DNS failure, timeout) is a
		// transport failure with no HTTP status to report.
		return &indexererrors.TransportFailure{Status: 0, Body: err.Error()}
	}
	return lastErr
}
