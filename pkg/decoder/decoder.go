// Package decoder turns a raw (keys, data) log plus an ABI Dictionary
// into a DecodedEvent with typed fields. Decoding is pure and
// thread-safe: a Dictionary built once by pkg/abi can be shared across
// every log decoded for that contract without locking.
package decoder

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cairoindex/chainindexer/pkg/abi"
	"github.com/cairoindex/chainindexer/pkg/model"
)

// Decoder applies one contract's ABI Dictionary to its raw logs.
type Decoder struct {
	dict *abi.Dictionary
}

// New returns a Decoder bound to dict.
func New(dict *abi.Dictionary) *Decoder {
	return &Decoder{dict: dict}
}

// Decode turns a raw log into a DecodedEvent. It never returns an
// error: a log that can't be matched to a known event still produces
// a DecodedEvent — with EventType == model.UnknownEventType and the
// raw keys/data preserved — and a matched event's members that can't
// be coerced are kept as Unknown(raw hex) values, rather than failing
// ingestion for the whole window.
func (d *Decoder) Decode(log model.RawLog, blockTimestamp time.Time) *model.DecodedEvent {
	event := &model.DecodedEvent{
		ID:              model.NewEventID(log.TransactionHash, log.LogIndex),
		ContractAddress: log.ContractAddress,
		BlockNumber:     log.BlockNumber,
		TransactionHash: log.TransactionHash,
		LogIndex:        log.LogIndex,
		Timestamp:       blockTimestamp,
		RawKeys:         log.Keys,
		RawData:         log.Data,
	}

	def, keyOffset, ok := d.selectEvent(log)
	if !ok {
		event.EventType = model.UnknownEventType
		event.Decoded = unknownFields(log.Data)
		return event
	}

	event.EventType = def.Name
	event.Decoded = decodeMembers(def, log.Keys[keyOffset:], log.Data)
	return event
}

// selectEvent picks the StructDef a log should be decoded against, and
// how many leading key slots to skip before the event's own key
// members begin.
//
// keys[0] is treated as the event selector and looked up directly
// against the dictionary's selector index. When that misses — an ABI
// whose selector derivation this package can't reproduce, or a log
// whose first key is something else entirely — the dictionary is
// scanned for the one event whose member arity is compatible with the
// observed (keys, data) lengths once its own key-skip width is
// accounted for.
func (d *Decoder) selectEvent(log model.RawLog) (abi.StructDef, int, bool) {
	if len(log.Keys) > 0 {
		if name, ok := d.dict.EventBySelector(string(log.Keys[0])); ok {
			def := d.dict.Events[name]
			return def, keySkip(def, len(log.Keys)), true
		}
	}

	var match abi.StructDef
	matches := 0
	for _, def := range d.dict.Events {
		skip := keySkip(def, len(log.Keys))
		if len(log.Keys)-skip != countKeyMembers(def) {
			continue
		}
		if len(log.Data) != len(def.Members)-countKeyMembers(def) {
			continue
		}
		match = def
		matches++
	}
	if matches == 1 {
		return match, keySkip(match, len(log.Keys)), true
	}
	return abi.StructDef{}, 0, false
}

// keySkip implements the prefix-skipping rule: when the log carries
// more keys than the candidate event declares key members for (plus
// the one selector slot every event has), the chain emitted an extra
// leading key for enum-variant indirection, and both leading slots are
// skipped instead of one.
func keySkip(def abi.StructDef, keyCount int) int {
	if keyCount > countKeyMembers(def)+1 {
		return 2
	}
	return 1
}

func countKeyMembers(def abi.StructDef) int {
	n := 0
	for _, m := range def.Members {
		if m.IsKey {
			n++
		}
	}
	return n
}

// decodeMembers walks def's ordered members, pulling key members from
// keys and data members from data in the order each list presents
// them, coercing each raw hex field element to its declared Cairo
// type.
func decodeMembers(def abi.StructDef, keys, data []model.FieldElement) map[string]model.FieldValue {
	decoded := make(map[string]model.FieldValue, len(def.Members))
	keyIdx, dataIdx := 0, 0
	for _, member := range def.Members {
		var raw model.FieldElement
		if member.IsKey {
			if keyIdx >= len(keys) {
				continue
			}
			raw = keys[keyIdx]
			keyIdx++
		} else {
			if dataIdx >= len(data) {
				continue
			}
			raw = data[dataIdx]
			dataIdx++
		}
		decoded[member.Name] = coerce(member.TypeName, raw)
	}
	return decoded
}

// unknownFields builds the field_0, field_1, ... map emitted when a
// log can't be matched to any ABI event at all: each data element is
// surfaced verbatim, keyed by its position.
func unknownFields(data []model.FieldElement) map[string]model.FieldValue {
	decoded := make(map[string]model.FieldValue, len(data))
	for i, raw := range data {
		decoded[fmt.Sprintf("field_%d", i)] = model.UnknownValue(string(raw))
	}
	return decoded
}

// coerce converts a single raw hex field element into the FieldValue
// shape its declared Cairo type calls for. Types this table doesn't
// recognize — nested structs, arrays, Option<T>, and anything else
// requiring recursive layout-driven decoding — pass through as
// Unknown(raw hex) rather than erroring; recursive decoding is a known
// gap (see the TODO below), not a silent bug: callers can tell a
// passthrough apart from a decoded primitive by inspecting the type
// name against this same table.
func coerce(typeName string, raw model.FieldElement) model.FieldValue {
	hexDigits := strings.TrimPrefix(strings.TrimPrefix(string(raw), "0x"), "0X")
	if hexDigits == "" {
		hexDigits = "0"
	}

	switch baseType(typeName) {
	case "felt252", "felt":
		return coerceFelt(hexDigits)
	case "u8", "u16", "u32", "u64", "u128":
		return coerceUint(hexDigits)
	case "u256":
		return coerceU256(hexDigits)
	case "i8", "i16", "i32", "i64", "i128":
		return coerceSignedInt(hexDigits)
	case "bool":
		return model.BooleanValue(hexDigits != "0")
	case "contractaddress", "classhash":
		return model.StringValue("0x" + hexDigits)
	case "bytearray":
		return coerceFelt(hexDigits)
	default:
		return model.UnknownValue("0x" + hexDigits)
	}
}

// baseType normalizes a Cairo type name for the coercion switch:
// lowercased and stripped of its module path, so
// "core::starknet::ContractAddress" matches "contractaddress".
func baseType(typeName string) string {
	parts := strings.Split(typeName, "::")
	return strings.ToLower(parts[len(parts)-1])
}

// coerceFelt applies the felt252 heuristic: values whose big-endian
// byte payload is entirely printable ASCII and longer than one
// character are treated as short-strings (Cairo's common encoding for
// strings under 32 characters); otherwise the value is surfaced as an
// integer when it fits in an int64, or as a decimal BigInteger string
// otherwise.
func coerceFelt(hexDigits string) model.FieldValue {
	n, ok := new(big.Int).SetString(hexDigits, 16)
	if !ok {
		return model.UnknownValue("0x" + hexDigits)
	}
	if s, ok := asShortString(n); ok {
		return model.StringValue(s)
	}
	if n.IsInt64() {
		return model.IntegerValue(n.Int64())
	}
	return model.BigIntegerValue(n.String())
}

// asShortString decodes n as a Cairo short-string (big-endian ASCII
// bytes packed into a felt) when it has more than one byte and every
// byte is printable ASCII.
func asShortString(n *big.Int) (string, bool) {
	if n.Sign() == 0 {
		return "", false
	}
	b := n.Bytes()
	if len(b) <= 1 || len(b) > 31 {
		return "", false
	}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return "", false
		}
	}
	return string(b), true
}

func coerceUint(hexDigits string) model.FieldValue {
	n, ok := new(big.Int).SetString(hexDigits, 16)
	if !ok {
		return model.UnknownValue("0x" + hexDigits)
	}
	if n.IsInt64() {
		return model.IntegerValue(n.Int64())
	}
	return model.BigIntegerValue(n.String())
}

// coerceU256 surfaces a value within int64 range as an Integer (per
// spec §4.3's table: "parse to unsigned integer"), and falls back to a
// decimal BigInteger string once it exceeds the int64 range (2^63-1)
// so precision is never lost.
func coerceU256(hexDigits string) model.FieldValue {
	n, ok := new(big.Int).SetString(hexDigits, 16)
	if !ok {
		return model.UnknownValue("0x" + hexDigits)
	}
	if n.IsInt64() {
		return model.IntegerValue(n.Int64())
	}
	return model.BigIntegerValue(n.String())
}

// coerceSignedInt interprets hexDigits as a two's-complement signed
// value, using the hex digit count (nibble-aligned) to locate the sign
// bit.
func coerceSignedInt(hexDigits string) model.FieldValue {
	n, ok := new(big.Int).SetString(hexDigits, 16)
	if !ok {
		return model.UnknownValue("0x" + hexDigits)
	}
	bitLen := len(hexDigits) * 4
	if bitLen > 0 && n.Bit(bitLen-1) == 1 {
		max := new(big.Int).Lsh(big.NewInt(1), uint(bitLen))
		n.Sub(n, max)
	}
	if n.IsInt64() {
		return model.IntegerValue(n.Int64())
	}
	return model.BigIntegerValue(n.String())
}

// TODO: nested struct, array, and Option<T> members currently pass
// through coerce's default branch as Unknown(raw hex) instead of being
// recursively decoded against their own StructDef. Wiring this needs a
// packing-length table per Cairo type so decodeMembers knows how many
// data slots a nested value consumes, which this package doesn't have
// yet.
