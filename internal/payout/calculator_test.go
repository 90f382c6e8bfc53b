package payout

import (
	"testing"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/policy"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name       string
		maxPayout  int64
		deductible int64
		wantNet    int64
	}{
		{"full coverage no deductible", 100000, 0, 100000},
		{"deductible subtracted", 100000, 5000, 95000},
		{"deductible equals coverage", 1000, 1000, 0},
		{"deductible exceeds coverage floors at zero", 1000, 2500, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &policy.Policy{
				Coverage: policy.CoverageDetails{
					MaxPayout:  tt.maxPayout,
					Deductible: tt.deductible,
					Currency:   "USD",
				},
			}
			calc := Calculate(p)
			if calc.NetPayout != tt.wantNet {
				t.Fatalf("net payout = %d, want %d", calc.NetPayout, tt.wantNet)
			}
			if calc.BasePayout != tt.maxPayout || calc.Deductible != tt.deductible {
				t.Fatalf("calculation does not echo the coverage terms: %+v", calc)
			}
			if calc.Adjustments == nil {
				t.Fatal("adjustments must be an empty list, not nil")
			}
		})
	}
}

func TestSplitWaterfall(t *testing.T) {
	reins := &policy.ReinsuranceDetails{ReinsurerID: "rei_1", RetentionLimit: 80000}

	tests := []struct {
		name        string
		net         int64
		reinsurance *policy.ReinsuranceDetails
		wantPool    int64
		wantCession int64
	}{
		{"no reinsurance", 100000, nil, 100000, 0},
		{"within retention", 50000, reins, 50000, 0},
		{"at retention", 80000, reins, 80000, 0},
		{"above retention", 100000, reins, 80000, 20000},
		{"zero retention treated as uncapped", 100000, &policy.ReinsuranceDetails{ReinsurerID: "rei_1"}, 100000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poolAmount, cessionAmount := splitWaterfall(tt.net, tt.reinsurance)
			if poolAmount != tt.wantPool || cessionAmount != tt.wantCession {
				t.Fatalf("split = (%d, %d), want (%d, %d)",
					poolAmount, cessionAmount, tt.wantPool, tt.wantCession)
			}
			if poolAmount+cessionAmount != tt.net {
				t.Fatalf("legs must sum to the net payout: %d + %d != %d",
					poolAmount, cessionAmount, tt.net)
			}
		})
	}
}
