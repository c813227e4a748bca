package provider

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatUnits(t *testing.T) {
	tests := []struct {
		value    *big.Int
		decimals uint
		want     string
	}{
		{big.NewInt(0), 18, "0.0"},
		{new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil), 18, "1.0"},
		{big.NewInt(1), 18, "0.000000000000000001"},
		{big.NewInt(1_234_500), 6, "1.2345"},
		{big.NewInt(-1_500_000), 6, "-1.5"},
		{big.NewInt(42), 0, "42.0"},
		{nil, 18, "0.0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatUnits(tt.value, tt.decimals))
	}
}
