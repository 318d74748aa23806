package fees

import (
	"errors"
	"testing"
)

func TestCalculateStandardTier(t *testing.T) {
	fee, tier, err := Calculate(1000)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if fee != 20 {
		t.Fatalf("expected fee 20, got %d", fee)
	}
	if tier != TierStandard {
		t.Fatalf("expected standard tier, got %s", tier)
	}
}

func TestCalculateTierBoundaries(t *testing.T) {
	fee, tier, err := Calculate(TierStandardMax)
	if err != nil {
		t.Fatalf("calculate at standard ceiling: %v", err)
	}
	if tier != TierStandard {
		t.Fatalf("standard ceiling should price as standard, got %s", tier)
	}
	if want := TierStandardMax * 200 / 10_000; fee != want {
		t.Fatalf("expected fee %d at standard ceiling, got %d", want, fee)
	}

	fee, tier, err = Calculate(TierStandardMax + 1)
	if err != nil {
		t.Fatalf("calculate just above standard ceiling: %v", err)
	}
	if tier != TierPremium {
		t.Fatalf("expected premium tier just above standard ceiling, got %s", tier)
	}
	if want := (TierStandardMax + 1) * 150 / 10_000; fee != want {
		t.Fatalf("expected fee %d, got %d", want, fee)
	}

	if _, _, err := Calculate(TierPremiumMax + 1); !errors.Is(err, ErrTierExceeded) {
		t.Fatalf("expected ErrTierExceeded above premium ceiling, got %v", err)
	}
}

func TestCalculateZeroAmount(t *testing.T) {
	if _, _, err := Calculate(0); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
}

func TestCalculateTruncatesDust(t *testing.T) {
	// 2% of 99 is 1.98; integer division leaves the dust inside the deposit.
	fee, _, err := Calculate(99)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if fee != 1 {
		t.Fatalf("expected truncated fee 1, got %d", fee)
	}
}
