package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cairoindex/chainindexer/pkg/model"
)

// ContractStats is the per-contract statistics summary spec §4.7's
// query surface exposes: total event count, a breakdown by event type,
// and the observed block/timestamp ranges.
type ContractStats struct {
	Total         uint64
	CountByType   map[string]uint64
	MinBlock      uint64
	MaxBlock      uint64
	MinTimestamp  time.Time
	MaxTimestamp  time.Time
	HasAnyEvents  bool
}

// Stats computes ContractStats for address. When address has no stored
// events, HasAnyEvents is false and the remaining fields are zero
// values.
func (s *Store) Stats(ctx context.Context, address model.Address) (ContractStats, error) {
	stats := ContractStats{CountByType: map[string]uint64{}}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM events WHERE contract_address = ? GROUP BY event_type`,
		string(address),
	)
	if err != nil {
		return ContractStats{}, fmt.Errorf("counting by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var eventType string
		var count uint64
		if err := rows.Scan(&eventType, &count); err != nil {
			return ContractStats{}, fmt.Errorf("scanning count-by-type row: %w", err)
		}
		stats.CountByType[eventType] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return ContractStats{}, fmt.Errorf("iterating count-by-type rows: %w", err)
	}

	if stats.Total == 0 {
		return stats, nil
	}
	stats.HasAnyEvents = true

	var minTS, maxTS sql.NullTime
	err = s.DB.QueryRowContext(ctx, `
		SELECT MIN(block_number), MAX(block_number), MIN(timestamp), MAX(timestamp)
		FROM events WHERE contract_address = ?
	`, string(address)).Scan(&stats.MinBlock, &stats.MaxBlock, &minTS, &maxTS)
	if err != nil {
		return ContractStats{}, fmt.Errorf("reading block/time range: %w", err)
	}
	if minTS.Valid {
		stats.MinTimestamp = minTS.Time
	}
	if maxTS.Valid {
		stats.MaxTimestamp = maxTS.Time
	}

	return stats, nil
}
