package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// FieldElement is the chain's native word: an opaque hex string of at
// most 64 hex digits (plus an optional "0x" prefix).
type FieldElement string

// RawLog is the raw (keys, data) tuple the chain node hands back for a
// single emitted event, before any ABI-driven decoding.
type RawLog struct {
	ContractAddress Address        `json:"contract_address"`
	BlockNumber     uint64         `json:"block_number"`
	TransactionHash string         `json:"transaction_hash"`
	LogIndex        uint32         `json:"log_index"`
	Keys            []FieldElement `json:"keys"`
	Data            []FieldElement `json:"data"`
}

// UnknownEventType is the sentinel event_type used when no ABI schema
// entry could be matched to a raw log.
const UnknownEventType = "Unknown"

// DecodedEvent is a raw log after C3 decoding: a canonical identity, the
// chain coordinates it was observed at, and the typed field map (empty
// for an event with no members).
type DecodedEvent struct {
	ID              string
	ContractAddress Address
	EventType       string
	BlockNumber     uint64
	TransactionHash string
	LogIndex        uint32
	Timestamp       time.Time
	Decoded         map[string]FieldValue
	RawKeys         []FieldElement
	RawData         []FieldElement
}

// DecodedJSON builds the JSON object persisted in the events table's
// decoded_data column: every decoded member value alongside the raw
// "_keys"/"_raw_data" arrays, matching the shape external readers see
// regardless of which event type (or the Unknown fallback) produced
// it.
func (e *DecodedEvent) DecodedJSON() (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(e.Decoded)+2)
	for name, v := range e.Decoded {
		b, err := v.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("marshaling field %q: %w", name, err)
		}
		var raw interface{}
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, fmt.Errorf("round-tripping field %q: %w", name, err)
		}
		out[name] = raw
	}
	out["_keys"] = fieldElementStrings(e.RawKeys)
	out["_raw_data"] = fieldElementStrings(e.RawData)
	return out, nil
}

func fieldElementStrings(elements []FieldElement) []string {
	out := make([]string, len(elements))
	for i, e := range elements {
		out[i] = string(e)
	}
	return out
}

// NewEventID builds the canonical id used by spec invariant #1:
// transaction_hash + ":" + log_index.
func NewEventID(txHash string, logIndex uint32) string {
	return fmt.Sprintf("%s:%d", txHash, logIndex)
}

// Cursor is the per-contract ingestion watermark. Every block at or
// below LastSyncedBlock has had its events fetched and persisted (or is
// known to contain none for this contract).
type Cursor struct {
	ContractAddress Address
	LastSyncedBlock uint64
	UpdatedAt       time.Time
}

// FieldValueKind tags the dynamic shape of a decoded member value.
type FieldValueKind int

// The tagged-sum kinds a decoded field value may hold. The decoder
// never emits anything outside this set; nested struct/array/option
// members fall back to Unknown (see pkg/decoder's TODO on recursive
// layout-driven decoding).
const (
	KindString FieldValueKind = iota
	KindInteger
	KindBigInteger
	KindBoolean
	KindBytes
	KindUnknown
)

// FieldValue is the tagged sum type a decoded event member is modeled
// as: String | Integer | BigInteger | Boolean | Bytes | Unknown(hex).
// It serializes to plain JSON at the store/query boundary — the kind
// tag itself is never written out, only the underlying value.
type FieldValue struct {
	Kind    FieldValueKind
	Str     string
	Int     int64
	BigInt  string // decimal string, used when the value overflows int64
	Bool    bool
	Bytes   string // hex
	Unknown string // raw hex passthrough
}

// StringValue, IntegerValue, BigIntegerValue, BooleanValue, and
// UnknownValue are the constructors used by pkg/decoder's coercion
// table.
func StringValue(s string) FieldValue    { return FieldValue{Kind: KindString, Str: s} }
func IntegerValue(i int64) FieldValue    { return FieldValue{Kind: KindInteger, Int: i} }
func BigIntegerValue(s string) FieldValue {
	return FieldValue{Kind: KindBigInteger, BigInt: s}
}
func BooleanValue(b bool) FieldValue { return FieldValue{Kind: KindBoolean, Bool: b} }
func UnknownValue(hex string) FieldValue {
	return FieldValue{Kind: KindUnknown, Unknown: hex}
}

// MarshalJSON implements json.Marshaler, emitting only the underlying
// value — never the kind discriminant — matching how the store and
// query surface expose decoded fields as plain JSON.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindInteger:
		return json.Marshal(v.Int)
	case KindBigInteger:
		return json.Marshal(v.BigInt)
	case KindBoolean:
		return json.Marshal(v.Bool)
	case KindBytes:
		return json.Marshal(v.Bytes)
	default:
		return json.Marshal(v.Unknown)
	}
}

// UnmarshalJSON implements json.Unmarshaler. Since the wire
// representation carries no kind tag, round-tripped values decode back
// as a String, a Boolean, or — for numbers — a BigInteger holding the
// original decimal text (to avoid silent precision loss); callers that
// need the original kind should keep the value in memory rather than
// round-tripping through JSON.
func (v *FieldValue) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v.Kind = KindString
		v.Str = s
		return nil
	}
	var flag bool
	if err := json.Unmarshal(b, &flag); err == nil {
		v.Kind = KindBoolean
		v.Bool = flag
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("decoding field value: %s", err)
	}
	v.Kind = KindBigInteger
	v.BigInt = n.String()
	return nil
}
