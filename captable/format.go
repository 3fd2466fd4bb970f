package captable

import (
	"math/big"
	"strings"

	"github.com/BiscuitNick/chainequity-sub000/token"
)

// ZeroAddress is the canonical stored form of the burn/mint address.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// isMintSide reports whether a stored transfer side marks a mint or burn:
// either absent or the zero address.
func isMintSide(addr string) bool {
	return addr == "" || addr == ZeroAddress
}

// FormatUnits renders a raw token amount as a decimal string, dividing by
// 10^decimals and trimming trailing zeros from the fractional part.
func FormatUnits(raw *big.Int, decimals uint8) string {
	if raw == nil {
		return "0"
	}
	if raw.Sign() < 0 {
		return "-" + FormatUnits(new(big.Int).Neg(raw), decimals)
	}
	if decimals == 0 {
		return raw.String()
	}
	div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	quo, rem := new(big.Int).QuoRem(raw, div, new(big.Int))
	if rem.Sign() == 0 {
		return quo.String()
	}
	frac := rem.String()
	if pad := int(decimals) - len(frac); pad > 0 {
		frac = strings.Repeat("0", pad) + frac
	}
	frac = strings.TrimRight(frac, "0")
	return quo.String() + "." + frac
}

// percentage returns 100 * raw / total, or 0 for an empty total.
func percentage(raw, total *big.Int) float64 {
	if total == nil || total.Sign() == 0 {
		return 0
	}
	share, _ := new(big.Float).Quo(
		new(big.Float).SetInt(raw),
		new(big.Float).SetInt(total),
	).Float64()
	return share * 100
}

// splitRatio converts a basis-point cumulative multiplier to its display
// ratio: 10000 basis points is 1.
func splitRatio(multiplier *big.Int) float64 {
	ratio, _ := new(big.Float).Quo(
		new(big.Float).SetInt(multiplier),
		new(big.Float).SetInt(token.BasisPointsBig),
	).Float64()
	return ratio
}
