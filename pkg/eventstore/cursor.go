package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cairoindex/chainindexer/pkg/model"
)

// ReadCursor returns the last synced block for address, and false if
// no cursor row exists yet.
func (s *Store) ReadCursor(ctx context.Context, address model.Address) (uint64, bool, error) {
	var lastSynced uint64
	err := s.DB.QueryRowContext(ctx,
		`SELECT last_synced_block FROM indexer_state WHERE contract_address = ?`,
		string(address),
	).Scan(&lastSynced)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading cursor: %w", err)
	}
	return lastSynced, true, nil
}

// WriteCursor upserts the cursor for address to block. Callers are
// responsible for monotonicity (spec invariant #2); the store does
// not itself reject a regression.
func (s *Store) WriteCursor(ctx context.Context, address model.Address, block uint64) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO indexer_state (contract_address, last_synced_block, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (contract_address) DO UPDATE SET
			last_synced_block = excluded.last_synced_block,
			updated_at = excluded.updated_at
	`, string(address), block, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing cursor: %w", err)
	}
	return nil
}

// Cursor returns the full cursor row for address, and false if none
// exists.
func (s *Store) Cursor(ctx context.Context, address model.Address) (model.Cursor, bool, error) {
	var cur model.Cursor
	cur.ContractAddress = address
	err := s.DB.QueryRowContext(ctx,
		`SELECT last_synced_block, updated_at FROM indexer_state WHERE contract_address = ?`,
		string(address),
	).Scan(&cur.LastSyncedBlock, &cur.UpdatedAt)
	if err == sql.ErrNoRows {
		return model.Cursor{}, false, nil
	}
	if err != nil {
		return model.Cursor{}, false, fmt.Errorf("reading cursor: %w", err)
	}
	return cur, true, nil
}
