package agentpay

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHumanToAtomic(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1.50", 1_500_000},
		{"0.000001", 1},
		{"1.00", 1_000_000},
		{"0.01", 10_000},
		{"250", 250_000_000},
	}
	for _, tc := range cases {
		got, err := HumanToAtomic(tc.in, 6)
		require.NoError(t, err, tc.in)
		assert.Equal(t, big.NewInt(tc.want), got, tc.in)
	}
}

func TestHumanToAtomicRejectsExcessPrecision(t *testing.T) {
	// More fractional digits than the asset carries must not be silently
	// rounded.
	_, err := HumanToAtomic("0.0000001", 6)
	require.Error(t, err)

	_, err = HumanToAtomic("1.1234567", 6)
	require.Error(t, err)
}

func TestHumanToAtomicRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "1.5.0", "-1.50"} {
		_, err := HumanToAtomic(in, 6)
		assert.Error(t, err, in)
	}
}

func TestAtomicToHuman(t *testing.T) {
	assert.Equal(t, "1.500000", AtomicToHuman(big.NewInt(1_500_000), 6))
	assert.Equal(t, "0.000001", AtomicToHuman(big.NewInt(1), 6))
	assert.Equal(t, "0.000000", AtomicToHuman(big.NewInt(0), 6))
}

func TestAmountRoundTrip(t *testing.T) {
	// atomic -> human -> atomic is exact for every value.
	for _, v := range []int64{1, 10_000, 1_500_000, 999_999_999} {
		human := AtomicToHuman(big.NewInt(v), 6)
		back, err := HumanToAtomic(human, 6)
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(v), back)
	}
}
