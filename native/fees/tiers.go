package fees

import (
	"errors"
	"math"
)

// Tier labels reported alongside the computed platform fee. Enterprise amounts
// are never priced here: anything above the premium ceiling requires an
// off-band custom agreement and is rejected outright.
const (
	TierStandard = "standard"
	TierPremium  = "premium"
)

// Tier ceilings in base units.
const (
	TierStandardMax uint64 = 10_000_000
	TierPremiumMax  uint64 = 100_000_000
)

// Fee rates in basis points.
const (
	standardBps uint64 = 200
	premiumBps  uint64 = 150
	bpsDenom    uint64 = 10_000
)

var (
	// ErrZeroAmount is returned when the principal is zero.
	ErrZeroAmount = errors.New("fees: amount must be positive")
	// ErrTierExceeded is returned for amounts above the premium ceiling.
	ErrTierExceeded = errors.New("fees: amount exceeds premium tier ceiling")
	// ErrAmountOverflow is returned when the fee computation would overflow.
	ErrAmountOverflow = errors.New("fees: fee computation overflow")
)

// Calculate maps a principal amount onto the progressive fee schedule and
// returns the platform fee together with the tier label. Division truncates
// toward zero; the remainder stays inside the deposit and is the caller's
// concern.
func Calculate(amount uint64) (uint64, string, error) {
	if amount == 0 {
		return 0, "", ErrZeroAmount
	}
	var (
		bps  uint64
		tier string
	)
	switch {
	case amount <= TierStandardMax:
		bps, tier = standardBps, TierStandard
	case amount <= TierPremiumMax:
		bps, tier = premiumBps, TierPremium
	default:
		return 0, "", ErrTierExceeded
	}
	if amount > math.MaxUint64/bps {
		return 0, "", ErrAmountOverflow
	}
	return amount * bps / bpsDenom, tier, nil
}
