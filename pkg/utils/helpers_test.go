package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "checksummed with 0x prefix",
			input: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
			want:  "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		},
		{
			name:  "without 0x prefix",
			input: "5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
			want:  "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		},
		{
			name:  "surrounding whitespace",
			input: "  0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED ",
			want:  "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		},
		{
			name:    "too short",
			input:   "0x1234",
			wantErr: true,
		},
		{
			name:    "invalid hex",
			input:   "0xGGaeb6053f3e94c9b9a09f33669435e7ef1beaed",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeAddress(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidAddress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTxHash(t *testing.T) {
	t.Parallel()
	valid := "0x88df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b"

	h, err := ParseTxHash(valid)
	require.NoError(t, err)
	assert.Equal(t, valid, h.Hex())

	_, err = ParseTxHash(valid[2:])
	require.ErrorIs(t, err, ErrInvalidTxHash)

	_, err = ParseTxHash(valid[:len(valid)-2])
	require.ErrorIs(t, err, ErrInvalidTxHash)

	_, err = ParseTxHash("0x" + "zz" + valid[4:])
	require.ErrorIs(t, err, ErrInvalidTxHash)
}

func TestParseInt64(t *testing.T) {
	t.Parallel()
	v, err := ParseInt64(" 1717171717 ")
	require.NoError(t, err)
	assert.Equal(t, int64(1717171717), v)

	v, err = ParseInt64("-1")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), v)

	_, err = ParseInt64("abc")
	require.Error(t, err)
}

func TestNewSugaredLogger(t *testing.T) {
	t.Parallel()
	for _, verbose := range []bool{true, false} {
		l, err := NewSugaredLogger(verbose)
		require.NoError(t, err)
		require.NotNil(t, l)
	}
}
