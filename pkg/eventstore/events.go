package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cairoindex/chainindexer/pkg/model"
)

// UpsertEvents idempotently inserts batch in a single transaction,
// keyed on id. Re-applying the same batch is a no-op on the stored
// rows (spec invariant #5).
func (s *Store) UpsertEvents(ctx context.Context, batch []*model.DecodedEvent) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("opening db tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.log.Error().Err(err).Msg("upsert events rollback txn")
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO events
			(id, contract_address, event_type, block_number, transaction_hash,
			 log_index, timestamp, decoded_data, raw_data, raw_keys)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range batch {
		decodedJSON, rawDataJSON, rawKeysJSON, err := encodeEventJSON(e)
		if err != nil {
			return fmt.Errorf("encoding event %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, string(e.ContractAddress), e.EventType, e.BlockNumber, e.TransactionHash,
			e.LogIndex, e.Timestamp, decodedJSON, rawDataJSON, rawKeysJSON,
		); err != nil {
			return fmt.Errorf("inserting event %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit db tx: %w", err)
	}
	return nil
}

func encodeEventJSON(e *model.DecodedEvent) (decoded, rawData, rawKeys []byte, err error) {
	decodedMap, err := e.DecodedJSON()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("building decoded json: %w", err)
	}
	decoded, err = jsonAPI.Marshal(decodedMap)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshaling decoded_data: %w", err)
	}
	rawData, err = jsonAPI.Marshal(fieldElementStrings(e.RawData))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshaling raw_data: %w", err)
	}
	rawKeys, err = jsonAPI.Marshal(fieldElementStrings(e.RawKeys))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshaling raw_keys: %w", err)
	}
	return decoded, rawData, rawKeys, nil
}

func fieldElementStrings(elements []model.FieldElement) []string {
	out := make([]string, len(elements))
	for i, e := range elements {
		out[i] = string(e)
	}
	return out
}

// Filter narrows Query to events satisfying every non-empty predicate.
type Filter struct {
	EventTypes      []string
	EventKeys       []model.FieldElement
	BlockFrom       *uint64
	BlockTo         *uint64
	TimestampFrom   *time.Time
	TimestampTo     *time.Time
	TransactionHash string
}

// OrderField is a column Query results may be sorted by.
type OrderField int

// The two sortable columns a query may order by.
const (
	OrderByBlockNumber OrderField = iota
	OrderByTimestamp
)

// Ordering controls Query's ORDER BY clause. Ties are always broken by
// log_index in the same direction as By, per spec §4.4.
type Ordering struct {
	By         OrderField
	Descending bool
}

// Pagination is the offset/limit pair backing the base-10 opaque
// cursor described in spec §4.7.
type Pagination struct {
	Offset int
	Limit  int
}

// Page is one page of a Query call.
type Page struct {
	Events      []*model.DecodedEvent
	Total       int
	HasNextPage bool
}

// Query returns events for address satisfying filter, ordered and
// paginated as given.
func (s *Store) Query(
	ctx context.Context,
	address model.Address,
	filter Filter,
	pagination Pagination,
	ordering Ordering,
) (Page, error) {
	where, args := buildWhere(address, filter)

	total, err := s.countWhere(ctx, where, args)
	if err != nil {
		return Page{}, err
	}

	orderSQL := orderByClause(ordering)
	limit := pagination.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT id, contract_address, event_type, block_number, transaction_hash,
		       log_index, timestamp, decoded_data, raw_data, raw_keys
		FROM events
		WHERE %s
		ORDER BY %s
		LIMIT ? OFFSET ?
	`, where, orderSQL)

	rows, err := s.DB.QueryContext(ctx, query, append(append([]interface{}{}, args...), limit, pagination.Offset)...)
	if err != nil {
		return Page{}, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return Page{}, err
	}

	return Page{
		Events:      events,
		Total:       total,
		HasNextPage: pagination.Offset+len(events) < total,
	}, nil
}

// Count returns the number of events for address, optionally narrowed
// to a set of event types.
func (s *Store) Count(ctx context.Context, address model.Address, eventTypes []string) (uint64, error) {
	where, args := buildWhere(address, Filter{EventTypes: eventTypes})
	n, err := s.countWhere(ctx, where, args)
	return uint64(n), err
}

func (s *Store) countWhere(ctx context.Context, where string, args []interface{}) (int, error) {
	var total int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM events WHERE %s`, where)
	if err := s.DB.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return total, nil
}

// DistinctContracts returns every contract address with at least one
// stored event.
func (s *Store) DistinctContracts(ctx context.Context) ([]model.Address, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT contract_address FROM events`)
	if err != nil {
		return nil, fmt.Errorf("querying distinct contracts: %w", err)
	}
	defer rows.Close()

	var addresses []model.Address
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scanning contract address: %w", err)
		}
		addresses = append(addresses, model.Address(addr))
	}
	return addresses, rows.Err()
}

func buildWhere(address model.Address, filter Filter) (string, []interface{}) {
	clauses := []string{"contract_address = ?"}
	args := []interface{}{string(address)}

	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, t := range filter.EventTypes {
			placeholders[i] = "?"
			args = append(args, t)
		}
		clauses = append(clauses, fmt.Sprintf("event_type IN (%s)", strings.Join(placeholders, ",")))
	}

	if len(filter.EventKeys) > 0 {
		keyClauses := make([]string, len(filter.EventKeys))
		for i, k := range filter.EventKeys {
			keyClauses[i] = "raw_keys LIKE ?"
			args = append(args, "%\""+string(k)+"\"%")
		}
		clauses = append(clauses, "("+strings.Join(keyClauses, " OR ")+")")
	}

	if filter.BlockFrom != nil {
		clauses = append(clauses, "block_number >= ?")
		args = append(args, *filter.BlockFrom)
	}
	if filter.BlockTo != nil {
		clauses = append(clauses, "block_number <= ?")
		args = append(args, *filter.BlockTo)
	}
	if filter.TimestampFrom != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, *filter.TimestampFrom)
	}
	if filter.TimestampTo != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, *filter.TimestampTo)
	}
	if filter.TransactionHash != "" {
		clauses = append(clauses, "transaction_hash = ?")
		args = append(args, filter.TransactionHash)
	}

	return strings.Join(clauses, " AND "), args
}

func orderByClause(ordering Ordering) string {
	column := "block_number"
	if ordering.By == OrderByTimestamp {
		column = "timestamp"
	}
	direction := "ASC"
	if ordering.Descending {
		direction = "DESC"
	}
	return fmt.Sprintf("%s %s, log_index %s", column, direction, direction)
}

func scanEvents(rows *sql.Rows) ([]*model.DecodedEvent, error) {
	var events []*model.DecodedEvent
	for rows.Next() {
		var (
			e                                    model.DecodedEvent
			contractAddress                      string
			decodedJSON, rawDataJSON, rawKeysJSON []byte
		)
		if err := rows.Scan(
			&e.ID, &contractAddress, &e.EventType, &e.BlockNumber, &e.TransactionHash,
			&e.LogIndex, &e.Timestamp, &decodedJSON, &rawDataJSON, &rawKeysJSON,
		); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		e.ContractAddress = model.Address(contractAddress)

		var rawData, rawKeys []string
		if err := jsonAPI.Unmarshal(rawDataJSON, &rawData); err != nil {
			return nil, fmt.Errorf("unmarshaling raw_data: %w", err)
		}
		if err := jsonAPI.Unmarshal(rawKeysJSON, &rawKeys); err != nil {
			return nil, fmt.Errorf("unmarshaling raw_keys: %w", err)
		}
		e.RawData = toFieldElements(rawData)
		e.RawKeys = toFieldElements(rawKeys)

		var decodedRaw map[string]interface{}
		if len(decodedJSON) > 0 {
			if err := jsonAPI.Unmarshal(decodedJSON, &decodedRaw); err != nil {
				return nil, fmt.Errorf("unmarshaling decoded_data: %w", err)
			}
		}
		e.Decoded = decodedValueMap(decodedRaw)

		events = append(events, &e)
	}
	return events, rows.Err()
}

func toFieldElements(strs []string) []model.FieldElement {
	out := make([]model.FieldElement, len(strs))
	for i, s := range strs {
		out[i] = model.FieldElement(s)
	}
	return out
}

// decodedValueMap turns the plain-JSON decoded_data column back into
// FieldValues for callers that want the typed form. Since the wire
// representation carries no kind tag, every round-tripped value comes
// back as a string, a boolean, or a decimal-preserving integer, per
// FieldValue.UnmarshalJSON's documented limitation.
func decodedValueMap(raw map[string]interface{}) map[string]model.FieldValue {
	if raw == nil {
		return nil
	}
	out := make(map[string]model.FieldValue, len(raw))
	for k, v := range raw {
		switch k {
		case "_keys", "_raw_data":
			continue
		}
		b, err := jsonAPI.Marshal(v)
		if err != nil {
			continue
		}
		var fv model.FieldValue
		if err := fv.UnmarshalJSON(b); err != nil {
			continue
		}
		out[k] = fv
	}
	return out
}
