// Package abi turns a contract's raw Cairo ABI JSON into the ordered
// type and event dictionaries pkg/decoder needs to turn raw logs into
// typed fields. Parsing is pure: no I/O, no network, no mutable
// package state, and the same input always yields the same
// Dictionary.
package abi

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Member is one field of a struct, enum variant, or event: its name,
// its Cairo type name, and whether it's a key (indexed) member.
type Member struct {
	Name     string
	TypeName string
	IsKey    bool
}

// StructDef is an ordered list of members under a short (unqualified)
// name. Order matters: it's the order keys/data are packed in on the
// wire, and decoding depends on it.
type StructDef struct {
	Name    string
	Members []Member
}

// Dictionary is the result of parsing one contract's ABI: every
// struct/enum type the ABI defines, every event the ABI defines, and
// a selector index built once so lookups in the hot decode path don't
// recompute it per log.
type Dictionary struct {
	Types           map[string]StructDef
	Events          map[string]StructDef
	eventBySelector map[string]string // selector hex -> short event name
}

type abiItem struct {
	Type    string      `json:"type"`
	Name    string      `json:"name"`
	Kind    string      `json:"kind"`
	Members []abiMember `json:"members"`
	Variants []abiMember `json:"variants"`
}

type abiMember struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Kind string `json:"kind"` // "key" or "data", on event members only
}

// Parse decodes a contract's raw ABI JSON (the "abi" field of
// starknet_getClassAt's result) into a Dictionary.
//
// Parsing is two-pass: the first pass registers every struct and enum
// definition the ABI carries, by their short name, so event members
// that reference a nested type can be resolved later by pkg/decoder.
// The second pass registers every top-level "event" item of
// kind=="struct" under its own short name, using the event's declared
// members (each tagged key or data per the ABI's own "kind" field).
func Parse(rawABI string) (*Dictionary, error) {
	var items []abiItem
	if err := json.Unmarshal([]byte(rawABI), &items); err != nil {
		return nil, fmt.Errorf("decoding abi json: %w", err)
	}

	dict := &Dictionary{
		Types:  map[string]StructDef{},
		Events: map[string]StructDef{},
	}

	// Pass 1: struct and enum type definitions.
	for _, item := range items {
		if item.Type != "struct" && item.Type != "enum" {
			continue
		}
		name := shortName(item.Name)
		src := item.Members
		if item.Type == "enum" {
			src = item.Variants
		}
		members := make([]Member, 0, len(src))
		for _, m := range src {
			members = append(members, Member{Name: m.Name, TypeName: m.Type})
		}
		dict.Types[name] = StructDef{Name: name, Members: members}
	}

	// Pass 2: event definitions. Only kind=="struct" events carry a
	// flat member list we can decode positionally; kind=="enum" events
	// (the wrapper Cairo emits for #[event] enums) are skipped here and
	// registered nowhere, so logs they tag are left to the decoder's
	// arity fallback.
	for _, item := range items {
		if item.Type != "event" || item.Kind != "struct" {
			continue
		}
		name := shortName(item.Name)
		members := make([]Member, 0, len(item.Members))
		for _, m := range item.Members {
			members = append(members, Member{
				Name:     m.Name,
				TypeName: m.Type,
				IsKey:    m.Kind == "key",
			})
		}
		dict.Events[name] = StructDef{Name: name, Members: members}
	}

	dict.buildSelectorIndex()
	return dict, nil
}

// buildSelectorIndex computes the starknet_keccak selector for every
// registered event's short name once, so pkg/decoder can look an
// incoming log's first key up in O(1) instead of scanning the whole
// dictionary per log.
func (d *Dictionary) buildSelectorIndex() {
	d.eventBySelector = make(map[string]string, len(d.Events))
	for name := range d.Events {
		d.eventBySelector[selector(name)] = name
	}
}

// EventBySelector returns the short event name registered for a
// selector hex string, and whether one was found.
func (d *Dictionary) EventBySelector(selectorHex string) (string, bool) {
	name, ok := d.eventBySelector[normalizeSelector(selectorHex)]
	return name, ok
}

// shortName returns the last "::"-separated segment of a Cairo
// fully-qualified path, e.g. "myapp::events::Transfer" -> "Transfer".
func shortName(fullName string) string {
	parts := strings.Split(fullName, "::")
	return parts[len(parts)-1]
}

// mask250 is 2^250 - 1: starknet_keccak truncates the keccak256 digest
// to 250 bits.
var mask250 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))

// selector computes the starknet_keccak selector of an event's short
// name: keccak256 of the name's ASCII bytes, masked to 250 bits, the
// same derivation Cairo's compiler uses for #[event] variant keys.
// Events declared inside an enum wrapper carry a selector derived from
// a different, unexported name the ABI doesn't expose, so an index
// miss there is still expected and the decoder falls back to arity
// matching (pkg/decoder's selectEvent) rather than treating it as an
// error.
func selector(name string) string {
	sum := crypto.Keccak256([]byte(name))
	n := new(big.Int).SetBytes(sum)
	n.And(n, mask250)
	return normalizeSelector(n.Text(16))
}

func normalizeSelector(s string) string {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strings.ToLower(strings.TrimLeft(s, "0"))
}
