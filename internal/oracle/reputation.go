package oracle

import "math"

// Voting weight formula constants. The base weight of 1.0 means a brand-new
// oracle with no history still carries a full vote; accuracy, uptime and
// stake add up to at most 1.0 on top of that.
const (
	baseWeight     = 1.0
	accuracyFactor = 0.5
	uptimeFactor   = 0.3
	stakeUnit      = 100000
	stakeBonusCap  = 0.2
)

// Weight maps an oracle's reputation to its consensus voting weight:
//
//	1.0 + 0.5*accuracy + 0.3*uptime + min(stake/100000, 0.2)
//
// Accuracy and uptime are clamped to [0,1]; the stake bonus caps at 0.2
// regardless of stake size. Malformed reputation data (NaN, negative stake)
// degrades to the base weight of 1.0 rather than erroring.
func Weight(o *Oracle) float64 {
	if o == nil {
		return baseWeight
	}

	accuracy := clamp01(o.Reputation.AccuracyRate)
	uptime := clamp01(o.Reputation.Uptime)

	stakeBonus := float64(o.Reputation.StakingAmount) / stakeUnit
	if math.IsNaN(stakeBonus) || stakeBonus < 0 {
		stakeBonus = 0
	}
	if stakeBonus > stakeBonusCap {
		stakeBonus = stakeBonusCap
	}

	return baseWeight + accuracyFactor*accuracy + uptimeFactor*uptime + stakeBonus
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
