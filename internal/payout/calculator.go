package payout

import "github.com/llLeco/parametric-ecosphere-sub000/internal/policy"

// Adjustment is a named correction applied to a payout. The list is
// reserved for future rating rules and is currently always empty.
type Adjustment struct {
	Label  string `json:"label"`
	Amount int64  `json:"amount"`
}

// Calculation is the payout math for one claim.
type Calculation struct {
	BasePayout  int64        `json:"basePayout"`
	Deductible  int64        `json:"deductible"`
	Adjustments []Adjustment `json:"adjustments"`
	NetPayout   int64        `json:"netPayout"`
	Currency    string       `json:"currency"`
}

// Calculate derives the net payout from a policy's coverage terms.
// Parametric coverage pays the full maxPayout less the deductible,
// floored at zero; there is no loss adjustment step.
func Calculate(p *policy.Policy) Calculation {
	net := p.Coverage.MaxPayout - p.Coverage.Deductible
	if net < 0 {
		net = 0
	}
	return Calculation{
		BasePayout:  p.Coverage.MaxPayout,
		Deductible:  p.Coverage.Deductible,
		Adjustments: []Adjustment{},
		NetPayout:   net,
		Currency:    p.Coverage.Currency,
	}
}
