package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want Address
	}{
		{"already canonical", "0x" + repeat("0", 63) + "1", Address("0x" + repeat("0", 63) + "1")},
		{"short hex gets left-padded", "0xabc", Address("0x" + repeat("0", 61) + "abc")},
		{"leading zeros dropped before re-pad", "0x00abc", Address("0x" + repeat("0", 61) + "abc")},
		{"uppercase prefix", "0XABC", Address("0x" + repeat("0", 61) + "abc")},
		{"non-hex-prefixed passes through", "not-hex", Address("not-hex")},
		{"empty string passes through", "", Address("")},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, NormalizeAddress(tc.in))
		})
	}
}

func TestNormalizeAddressIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{"0xabc", "0x0", "0x" + repeat("f", 64), "not-hex"}
	for _, in := range inputs {
		once := NormalizeAddress(in)
		twice := NormalizeAddress(string(once))
		require.Equal(t, once, twice)
	}
}

func TestNormalizeAddressLength(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"0x1", "0xabcdef", "0x" + repeat("9", 64)} {
		got := NormalizeAddress(in)
		require.Len(t, string(got), 66)
	}
}

func repeat(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
