package policy

// Premium allocation shares. The split is a documented business rule:
// 70% capitalizes the risk pool, 25% pays the reinsurer, 5% is the
// platform fee.
const (
	PremiumPoolShare      = 0.70
	PremiumReinsurerShare = 0.25
	PremiumPlatformShare  = 0.05
)

// PremiumSplit is one premium divided between its three recipients.
type PremiumSplit struct {
	PoolShare      int64 `json:"poolShare"`
	ReinsurerShare int64 `json:"reinsurerShare"`
	PlatformFee    int64 `json:"platformFee"`
}

// SplitPremium divides a premium amount per the allocation shares.
// Integer truncation remainders go to the platform fee so the three
// parts always sum to the input.
func SplitPremium(premium int64) PremiumSplit {
	if premium <= 0 {
		return PremiumSplit{}
	}

	poolShare := int64(float64(premium) * PremiumPoolShare)
	reinsurerShare := int64(float64(premium) * PremiumReinsurerShare)
	return PremiumSplit{
		PoolShare:      poolShare,
		ReinsurerShare: reinsurerShare,
		PlatformFee:    premium - poolShare - reinsurerShare,
	}
}
