// Package analytics derives ownership-concentration metrics from cap-table
// snapshots: distribution buckets, median and mean balances, top-10
// concentration, HHI, Gini, and a composite decentralization score. Every
// function is pure.
package analytics

import (
	"math/big"
	"sort"

	"github.com/BiscuitNick/chainequity-sub000/captable"
)

// Bucket aggregates holders whose ownership falls inside one percentage
// interval.
type Bucket struct {
	Range               string  `json:"range"`
	Holders             int     `json:"holders"`
	OwnershipPercentage float64 `json:"ownershipPercentage"`
}

// bucketBounds are the lower bounds of the distribution intervals, largest
// first. Each bucket is [bound, next) except the first, which is unbounded
// above.
var bucketBounds = []struct {
	label string
	min   float64
}{
	{"10%+", 10},
	{"1-10%", 1},
	{"0.1-1%", 0.1},
	{"0.01-0.1%", 0.01},
	{"<0.01%", 0},
}

// Buckets groups a snapshot's holders into ownership intervals.
func Buckets(snap *captable.Snapshot) []Bucket {
	out := make([]Bucket, len(bucketBounds))
	for i, b := range bucketBounds {
		out[i] = Bucket{Range: b.label}
	}
	for _, h := range snap.Holders {
		for i, b := range bucketBounds {
			if h.OwnershipPercentage >= b.min {
				out[i].Holders++
				out[i].OwnershipPercentage += h.OwnershipPercentage
				break
			}
		}
	}
	return out
}

// MedianBalance returns the median raw balance. Even-length snapshots take
// the integer mean of the two middle balances.
func MedianBalance(snap *captable.Snapshot) *big.Int {
	balances := rawBalances(snap)
	n := len(balances)
	if n == 0 {
		return new(big.Int)
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Cmp(balances[j]) < 0 })
	if n%2 == 1 {
		return balances[n/2]
	}
	mid := new(big.Int).Add(balances[n/2-1], balances[n/2])
	return mid.Quo(mid, big.NewInt(2))
}

// MeanBalance returns the integer mean raw balance.
func MeanBalance(snap *captable.Snapshot) *big.Int {
	balances := rawBalances(snap)
	if len(balances) == 0 {
		return new(big.Int)
	}
	sum := new(big.Int)
	for _, b := range balances {
		sum.Add(sum, b)
	}
	return sum.Quo(sum, big.NewInt(int64(len(balances))))
}

// Top10Concentration sums the ownership of the snapshot's first ten holders.
// Snapshots order holders by balance descending.
func Top10Concentration(snap *captable.Snapshot) float64 {
	total := 0.0
	for i, h := range snap.Holders {
		if i >= 10 {
			break
		}
		total += h.OwnershipPercentage
	}
	return total
}

// HHI computes the Herfindahl-Hirschman index over ownership shares in
// [0,1]. 1 means a single holder owns everything.
func HHI(snap *captable.Snapshot) float64 {
	sum := 0.0
	for _, h := range snap.Holders {
		share := h.OwnershipPercentage / 100
		sum += share * share
	}
	return sum
}

// Gini computes the Gini coefficient over ascending raw balances:
// G = (2 * sum(i * x_i)) / (n * sum(x_i)) - (n+1)/n, 1-indexed. Zero for
// empty snapshots or zero supply.
func Gini(snap *captable.Snapshot) float64 {
	balances := rawBalances(snap)
	n := len(balances)
	if n == 0 {
		return 0
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Cmp(balances[j]) < 0 })

	total := new(big.Float)
	weighted := new(big.Float)
	for i, x := range balances {
		xf := new(big.Float).SetInt(x)
		total.Add(total, xf)
		weighted.Add(weighted, new(big.Float).Mul(xf, big.NewFloat(float64(i+1))))
	}
	if total.Sign() == 0 {
		return 0
	}
	nf := float64(n)
	ratio, _ := new(big.Float).Quo(weighted, total).Float64()
	return (2*ratio)/nf - (nf+1)/nf
}

// DecentralizationScore composes HHI, Gini, and holder count into a 0-100
// score. Few holders cap the score through the n/100 term.
func DecentralizationScore(hhi, gini float64, holders int) float64 {
	scale := float64(holders) / 100
	if scale > 1 {
		scale = 1
	}
	score := 100 * (1 - hhi) * (1 - gini) * scale
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// ConcentrationCategory maps an HHI value onto the conventional low,
// moderate, high bands.
func ConcentrationCategory(hhi float64) string {
	switch {
	case hhi < 0.15:
		return "low"
	case hhi < 0.25:
		return "moderate"
	default:
		return "high"
	}
}

func rawBalances(snap *captable.Snapshot) []*big.Int {
	out := make([]*big.Int, 0, len(snap.Holders))
	for _, h := range snap.Holders {
		if raw, ok := new(big.Int).SetString(h.Balance, 10); ok {
			out = append(out, raw)
		}
	}
	return out
}
