package eventstore

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
)

// snapshotLine is one row of the newline-delimited export: a
// contract's cursor alongside its event count, used for operational
// spot-checks of store health without a full SQLite backup.
type snapshotLine struct {
	ContractAddress string `json:"contract_address"`
	LastSyncedBlock uint64 `json:"last_synced_block"`
	EventCount      uint64 `json:"event_count"`
}

// ExportSnapshot writes a newline-delimited JSON snapshot of the cursor
// and event count of every contract that has stored events and a
// cursor row to destPath, zstd-compressed. It's
// operational tooling for inspecting store health; it never runs on
// the ingestion hot path.
func (s *Store) ExportSnapshot(ctx context.Context, destPath string) error {
	contracts, err := s.DistinctContracts(ctx)
	if err != nil {
		return fmt.Errorf("listing contracts: %w", err)
	}

	lines := make([]snapshotLine, 0, len(contracts))
	for _, addr := range contracts {
		cursor, ok, err := s.Cursor(ctx, addr)
		if err != nil {
			return fmt.Errorf("reading cursor for %s: %w", addr, err)
		}
		if !ok {
			continue
		}
		count, err := s.Count(ctx, addr, nil)
		if err != nil {
			return fmt.Errorf("counting events for %s: %w", addr, err)
		}
		lines = append(lines, snapshotLine{
			ContractAddress: string(addr),
			LastSyncedBlock: cursor.LastSyncedBlock,
			EventCount:      count,
		})
	}

	return writeCompressed(destPath, lines)
}

func writeCompressed(destPath string, lines []snapshotLine) (err error) {
	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating snapshot file: %w", err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing snapshot file: %w", cerr)
		}
	}()

	pr, pw := io.Pipe()
	zw, err := zstd.NewWriter(pw)
	if err != nil {
		return fmt.Errorf("new zstd writer: %w", err)
	}

	errs := errgroup.Group{}
	errs.Go(func() error {
		for _, line := range lines {
			b, err := jsonAPI.Marshal(line)
			if err != nil {
				return fmt.Errorf("marshaling snapshot line: %w", err)
			}
			if _, err := zw.Write(append(b, '\n')); err != nil {
				return fmt.Errorf("writing to zstd writer: %w", err)
			}
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("closing zstd writer: %w", err)
		}
		return pw.Close()
	})

	bw := bufio.NewWriter(out)
	if _, err := io.Copy(bw, pr); err != nil {
		return fmt.Errorf("copying compressed snapshot: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing snapshot file: %w", err)
	}
	if err := errs.Wait(); err != nil {
		return fmt.Errorf("compressing snapshot: %w", err)
	}
	return nil
}
