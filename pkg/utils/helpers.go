package utils

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ava-labs/libevm/common"
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidTxHash  = errors.New("invalid transaction hash")
)

// NormalizeAddress validates a hex account address (with or without 0x prefix)
// and returns it in the lowercase 0x-prefixed form used as a ranking member.
func NormalizeAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return AddressKey(common.HexToAddress(s)), nil
}

// AddressKey renders an address as a ranking member.
func AddressKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// ParseTxHash parses a 0x-prefixed 32-byte transaction hash.
func ParseTxHash(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Hash{}, fmt.Errorf("%w: missing 0x prefix", ErrInvalidTxHash)
	}
	if len(s) != 2+2*common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: expected %d hex characters, got %d", ErrInvalidTxHash, 2*common.HashLength, len(s)-2)
	}
	for _, r := range s[2:] {
		if !isHexRune(r) {
			return common.Hash{}, fmt.Errorf("%w: non-hex character %q", ErrInvalidTxHash, r)
		}
	}
	return common.HexToHash(s), nil
}

// ParseInt64 parses a base-10 integer stored as a string value, as written by
// the store for watermarks and the epoch anchor.
func ParseInt64(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse int64 %q: %w", s, err)
	}
	return v, nil
}

func isHexRune(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
