package model

import "strings"

// Address is a canonicalized contract address: "0x" followed by exactly
// 64 hex digits, leading zeros included. All indexing, lookup, and
// equality in the indexer use this canonical form.
type Address string

// NormalizeAddress canonicalizes a contract address by stripping "0x",
// dropping leading zeros, left-padding to 64 hex digits, and
// re-prefixing "0x". Inputs that don't start with "0x" are returned
// unchanged — the caller is responsible for rejecting those upstream.
func NormalizeAddress(raw string) Address {
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		return Address(raw)
	}
	hex := strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	hex = strings.TrimLeft(hex, "0")
	if len(hex) > 64 {
		hex = hex[len(hex)-64:]
	}
	if len(hex) < 64 {
		hex = strings.Repeat("0", 64-len(hex)) + hex
	}
	return Address("0x" + strings.ToLower(hex))
}

// String implements fmt.Stringer.
func (a Address) String() string { return string(a) }
