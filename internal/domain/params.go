package domain

import "github.com/holiman/uint256"

const (
	DefaultQuorumThreshold = 3
	DefaultRevealDelay     = 10
	// ForceConfirmReason is the reason attached to governance confirmations.
	ForceConfirmReason = "Governance Force Block"
)

// DefaultMinTokenBalance is 1000 tokens with 18 decimals.
var DefaultMinTokenBalance = uint256.MustFromDecimal("1000000000000000000000")

// Params are the tunable protocol constants.
type Params struct {
	QuorumThreshold uint64
	RevealDelay     uint64
	MinTokenBalance *uint256.Int
	// MinTotalRiskScore is an optional second condition for confirmation. Zero
	// keeps confirmation purely count based.
	MinTotalRiskScore uint64
}

// ParamsSource returns the parameters in force for the next transition.
type ParamsSource func() Params

func DefaultParams() Params {
	return Params{
		QuorumThreshold: DefaultQuorumThreshold,
		RevealDelay:     DefaultRevealDelay,
		MinTokenBalance: new(uint256.Int).Set(DefaultMinTokenBalance),
	}
}

// Normalized fills zero values that would make the protocol degenerate.
func (p Params) Normalized() Params {
	if p.QuorumThreshold == 0 {
		p.QuorumThreshold = 1
	}
	if p.MinTokenBalance == nil {
		p.MinTokenBalance = uint256.NewInt(0)
	}
	return p
}

func StaticParams(p Params) ParamsSource {
	return func() Params { return p }
}
