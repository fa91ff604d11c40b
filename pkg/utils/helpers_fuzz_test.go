package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// FuzzNormalizeAddress checks NormalizeAddress never panics and that any
// accepted input normalizes to a stable lowercase form.
// Run with: go test -fuzz=FuzzNormalizeAddress -fuzztime=30s ./pkg/utils/
func FuzzNormalizeAddress(f *testing.F) {
	f.Add("")
	f.Add("0x")
	f.Add("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	f.Add("5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	f.Add("0xGGGG")
	f.Add("0x" + string(make([]byte, 1000)))

	f.Fuzz(func(t *testing.T, input string) {
		got, err := NormalizeAddress(input)
		if err != nil {
			return
		}
		require.Len(t, got, 42)
		require.Equal(t, strings.ToLower(got), got)

		again, err := NormalizeAddress(got)
		require.NoError(t, err)
		require.Equal(t, got, again)
	})
}

// FuzzParseTxHash checks ParseTxHash never panics on arbitrary input.
// Run with: go test -fuzz=FuzzParseTxHash -fuzztime=30s ./pkg/utils/
func FuzzParseTxHash(f *testing.F) {
	f.Add("")
	f.Add("0x")
	f.Add("0x88df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b")
	f.Add("0xzz")

	f.Fuzz(func(t *testing.T, input string) {
		h, err := ParseTxHash(input)
		if err == nil {
			require.True(t, strings.EqualFold(strings.TrimSpace(input), h.Hex()))
		}
	})
}
