package provider

import (
	"math/big"
	"strings"
)

// FormatUnits renders a base-unit integer as a decimal string with the
// given precision, always keeping at least one fractional digit
// (1e18 wei with 18 decimals is "1.0").
func FormatUnits(value *big.Int, decimals uint) string {
	if value == nil {
		return "0.0"
	}
	negative := value.Sign() < 0
	abs := new(big.Int).Abs(value)
	base := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(abs, base, new(big.Int))

	fraction := frac.String()
	if pad := int(decimals) - len(fraction); pad > 0 {
		fraction = strings.Repeat("0", pad) + fraction
	}
	fraction = strings.TrimRight(fraction, "0")
	if fraction == "" {
		fraction = "0"
	}

	out := whole.String() + "." + fraction
	if negative {
		return "-" + out
	}
	return out
}
