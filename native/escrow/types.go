package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// Status represents the lifecycle states of a custody escrow. Transitions are
// one-directional: Active moves to Released, Refunded or Disputed, and a
// Disputed escrow settles to Released or Refunded through arbitration.
// Released and Refunded are terminal.
type Status uint8

const (
	StatusActive Status = iota + 1
	StatusReleased
	StatusRefunded
	StatusDisputed
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusReleased, StatusRefunded, StatusDisputed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusReleased:
		return "released"
	case StatusRefunded:
		return "refunded"
	case StatusDisputed:
		return "disputed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

const (
	// MaxSigners bounds the authorized signer set per escrow.
	MaxSigners = 20
	// MaxDescriptionLen bounds the free-form escrow description.
	MaxDescriptionLen = 500
)

// Escrow captures a single fund-custody agreement. Identifiers are sequential
// and 1-based; zero is reserved as "absent". All monetary fields are fixed at
// creation: TotalDeposit equals Principal plus PlatformFee exactly and is
// never recomputed.
type Escrow struct {
	ID                 uint64
	Buyer              [20]byte
	Seller             [20]byte
	Principal          uint64
	PlatformFee        uint64
	TotalDeposit       uint64
	FeeTier            string
	ContractRef        string
	Description        string
	BookingRef         string
	Signers            [][20]byte
	Signed             []bool
	SignatureCount     uint32
	RequiredSignatures uint32
	CreatedAt          int64
	ResolvedAt         int64
	Status             Status
	EmergencyFlag      bool
	DisputeReason      string
}

// Clone returns a deep copy of the escrow so callers can safely mutate the
// copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Signers = make([][20]byte, len(e.Signers))
	copy(clone.Signers, e.Signers)
	clone.Signed = make([]bool, len(e.Signed))
	copy(clone.Signed, e.Signed)
	return &clone
}

// SignerIndex returns the position of addr in the signer set, or -1 when the
// address is not an authorized signer.
func (e *Escrow) SignerIndex(addr [20]byte) int {
	if e == nil {
		return -1
	}
	for i, signer := range e.Signers {
		if signer == addr {
			return i
		}
	}
	return -1
}

// IsSigner reports whether addr belongs to the escrow's signer set.
func (e *Escrow) IsSigner(addr [20]byte) bool { return e.SignerIndex(addr) >= 0 }

// HasSigned reports whether addr has already contributed its signature.
func (e *Escrow) HasSigned(addr [20]byte) bool {
	idx := e.SignerIndex(addr)
	if idx < 0 || idx >= len(e.Signed) {
		return false
	}
	return e.Signed[idx]
}

// SanitizeEscrow validates the structural invariants of an escrow record and
// returns a normalised clone. The function does not mutate the original value.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("escrow: nil record")
	}
	clone := e.Clone()
	if clone.ID == 0 {
		return nil, fmt.Errorf("escrow: id must be non-zero")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid status %d", clone.Status)
	}
	if clone.TotalDeposit != clone.Principal+clone.PlatformFee {
		return nil, fmt.Errorf("escrow: deposit does not equal principal plus fee")
	}
	count := len(clone.Signers)
	if count == 0 || count > MaxSigners {
		return nil, fmt.Errorf("escrow: signer count %d out of range", count)
	}
	if len(clone.Signed) != count {
		return nil, fmt.Errorf("escrow: signature flags out of sync with signer set")
	}
	if clone.RequiredSignatures == 0 || clone.RequiredSignatures > uint32(count) {
		return nil, fmt.Errorf("escrow: required signatures %d out of range", clone.RequiredSignatures)
	}
	signed := uint32(0)
	for _, flag := range clone.Signed {
		if flag {
			signed++
		}
	}
	if signed != clone.SignatureCount {
		return nil, fmt.Errorf("escrow: signature count %d does not match flags", clone.SignatureCount)
	}
	if clone.SignatureCount > clone.RequiredSignatures {
		return nil, fmt.Errorf("escrow: signature count exceeds threshold")
	}
	clone.ContractRef = strings.TrimSpace(clone.ContractRef)
	if clone.ContractRef == "" {
		return nil, fmt.Errorf("escrow: contract reference required")
	}
	clone.Description = strings.TrimSpace(clone.Description)
	clone.BookingRef = strings.TrimSpace(clone.BookingRef)
	clone.DisputeReason = strings.TrimSpace(clone.DisputeReason)
	return clone, nil
}

// TreasuryConfig is the global mutable state owned by the escrow ledger:
// control-plane identities, the accumulated fee balance, the pause gate and
// the monotonic id counter.
type TreasuryConfig struct {
	Admin              [20]byte
	FeeCollector       [20]byte
	TotalFeesCollected *big.Int
	Paused             bool
	NextEscrowID       uint64
}

// Clone returns a deep copy of the config with a duplicated fee accumulator.
func (c *TreasuryConfig) Clone() *TreasuryConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.TotalFeesCollected != nil {
		clone.TotalFeesCollected = new(big.Int).Set(c.TotalFeesCollected)
	} else {
		clone.TotalFeesCollected = big.NewInt(0)
	}
	return &clone
}

// SanitizeConfig normalises a treasury config, guaranteeing a non-nil,
// non-negative fee accumulator and a 1-based id counter.
func SanitizeConfig(c *TreasuryConfig) (*TreasuryConfig, error) {
	if c == nil {
		return nil, fmt.Errorf("escrow: nil treasury config")
	}
	clone := c.Clone()
	if clone.TotalFeesCollected.Sign() < 0 {
		return nil, fmt.Errorf("escrow: fee accumulator must be non-negative")
	}
	if clone.NextEscrowID == 0 {
		clone.NextEscrowID = 1
	}
	return clone, nil
}
