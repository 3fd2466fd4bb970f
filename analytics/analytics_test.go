package analytics

import (
	"math"
	"math/big"
	"testing"

	"github.com/BiscuitNick/chainequity-sub000/captable"
)

func snapshotOf(balances ...int64) *captable.Snapshot {
	total := int64(0)
	for _, b := range balances {
		total += b
	}
	holders := make([]captable.Holder, len(balances))
	for i, b := range balances {
		pct := 0.0
		if total > 0 {
			pct = 100 * float64(b) / float64(total)
		}
		holders[i] = captable.Holder{
			Balance:             big.NewInt(b).String(),
			OwnershipPercentage: pct,
		}
	}
	return &captable.Snapshot{
		TotalSupply: big.NewInt(total).String(),
		HolderCount: len(holders),
		Holders:     holders,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestHHI(t *testing.T) {
	tests := []struct {
		name     string
		balances []int64
		want     float64
	}{
		{"empty", nil, 0},
		{"single holder", []int64{1000}, 1},
		{"75/25", []int64{750, 250}, 0.625},
		{"four equal", []int64{25, 25, 25, 25}, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HHI(snapshotOf(tt.balances...)); !almostEqual(got, tt.want) {
				t.Errorf("HHI = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGini(t *testing.T) {
	tests := []struct {
		name     string
		balances []int64
		want     float64
	}{
		{"empty", nil, 0},
		{"single holder", []int64{1000}, 0},
		{"equal holders", []int64{100, 100, 100, 100}, 0},
		{"75/25", []int64{750, 250}, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Gini(snapshotOf(tt.balances...)); !almostEqual(got, tt.want) {
				t.Errorf("Gini = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGiniLargeBalances(t *testing.T) {
	// 18 decimal balances must not overflow the computation.
	exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	holders := []captable.Holder{
		{Balance: new(big.Int).Mul(big.NewInt(750), exp).String(), OwnershipPercentage: 75},
		{Balance: new(big.Int).Mul(big.NewInt(250), exp).String(), OwnershipPercentage: 25},
	}
	snap := &captable.Snapshot{Holders: holders, HolderCount: 2}
	if got := Gini(snap); !almostEqual(got, 0.25) {
		t.Errorf("Gini = %v, want 0.25", got)
	}
}

func TestMedianBalance(t *testing.T) {
	tests := []struct {
		name     string
		balances []int64
		want     int64
	}{
		{"empty", nil, 0},
		{"odd", []int64{10, 30, 20}, 20},
		{"even", []int64{10, 20, 30, 40}, 25},
		{"even truncates", []int64{10, 15}, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MedianBalance(snapshotOf(tt.balances...))
			if got.Int64() != tt.want {
				t.Errorf("MedianBalance = %s, want %d", got, tt.want)
			}
		})
	}
}

func TestMeanBalance(t *testing.T) {
	if got := MeanBalance(snapshotOf(10, 20, 40)).Int64(); got != 23 {
		t.Errorf("MeanBalance = %d, want 23", got)
	}
	if got := MeanBalance(snapshotOf()).Int64(); got != 0 {
		t.Errorf("MeanBalance(empty) = %d, want 0", got)
	}
}

func TestTop10Concentration(t *testing.T) {
	// 12 equal holders: the top 10 hold 10/12 of the supply.
	balances := make([]int64, 12)
	for i := range balances {
		balances[i] = 100
	}
	got := Top10Concentration(snapshotOf(balances...))
	if !almostEqual(got, 100*10.0/12.0) {
		t.Errorf("Top10Concentration = %v", got)
	}

	if got := Top10Concentration(snapshotOf(1000)); !almostEqual(got, 100) {
		t.Errorf("single holder concentration = %v, want 100", got)
	}
}

func TestBuckets(t *testing.T) {
	// Percentages: 50, 30, 5, 0.5, 0.05, 0.005 of total 10000... constructed
	// directly so the intervals are unambiguous.
	holders := []captable.Holder{
		{OwnershipPercentage: 50},
		{OwnershipPercentage: 30},
		{OwnershipPercentage: 10}, // boundary: lands in 10%+
		{OwnershipPercentage: 5},
		{OwnershipPercentage: 1}, // boundary: lands in 1-10%
		{OwnershipPercentage: 0.5},
		{OwnershipPercentage: 0.05},
		{OwnershipPercentage: 0.005},
	}
	snap := &captable.Snapshot{Holders: holders, HolderCount: len(holders)}

	buckets := Buckets(snap)
	if len(buckets) != 5 {
		t.Fatalf("buckets = %d", len(buckets))
	}

	wantCounts := []int{3, 2, 1, 1, 1}
	for i, want := range wantCounts {
		if buckets[i].Holders != want {
			t.Errorf("bucket %s holders = %d, want %d", buckets[i].Range, buckets[i].Holders, want)
		}
	}
	if !almostEqual(buckets[0].OwnershipPercentage, 90) {
		t.Errorf("10%%+ ownership = %v, want 90", buckets[0].OwnershipPercentage)
	}
	if !almostEqual(buckets[4].OwnershipPercentage, 0.005) {
		t.Errorf("<0.01%% ownership = %v, want 0.005", buckets[4].OwnershipPercentage)
	}
}

func TestBucketsEmpty(t *testing.T) {
	buckets := Buckets(&captable.Snapshot{Holders: []captable.Holder{}})
	for _, b := range buckets {
		if b.Holders != 0 || b.OwnershipPercentage != 0 {
			t.Errorf("empty snapshot bucket %s = %+v", b.Range, b)
		}
	}
}

func TestDecentralizationScore(t *testing.T) {
	tests := []struct {
		name    string
		hhi     float64
		gini    float64
		holders int
		want    float64
	}{
		{"single holder", 1, 0, 1, 0},
		{"two holders 75/25", 0.625, 0.25, 2, 0.5625},
		{"wide distribution", 0.01, 0.2, 500, 79.2},
		{"clip low", 1.5, 0, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecentralizationScore(tt.hhi, tt.gini, tt.holders)
			if !almostEqual(got, tt.want) {
				t.Errorf("score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConcentrationCategory(t *testing.T) {
	tests := []struct {
		hhi  float64
		want string
	}{
		{0, "low"},
		{0.149, "low"},
		{0.15, "moderate"},
		{0.249, "moderate"},
		{0.25, "high"},
		{1, "high"},
	}
	for _, tt := range tests {
		if got := ConcentrationCategory(tt.hhi); got != tt.want {
			t.Errorf("ConcentrationCategory(%v) = %q, want %q", tt.hhi, got, tt.want)
		}
	}
}
