package escrow

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"escrowd/core/events"
	"escrowd/native/fees"
)

type mockState struct {
	escrows  map[uint64]*Escrow
	bookings map[string]uint64
	cfg      *TreasuryConfig
}

func newMockState() *mockState {
	return &mockState{
		escrows:  make(map[uint64]*Escrow),
		bookings: make(map[string]uint64),
	}
}

func (m *mockState) EscrowPut(e *Escrow) error {
	sanitized, err := SanitizeEscrow(e)
	if err != nil {
		return err
	}
	m.escrows[sanitized.ID] = sanitized.Clone()
	return nil
}

func (m *mockState) EscrowGet(id uint64) (*Escrow, bool) {
	esc, ok := m.escrows[id]
	if !ok {
		return nil, false
	}
	return esc.Clone(), true
}

func (m *mockState) EscrowDelete(id uint64) error {
	delete(m.escrows, id)
	return nil
}

func (m *mockState) ConfigPut(cfg *TreasuryConfig) error {
	sanitized, err := SanitizeConfig(cfg)
	if err != nil {
		return err
	}
	m.cfg = sanitized.Clone()
	return nil
}

func (m *mockState) ConfigGet() (*TreasuryConfig, bool) {
	if m.cfg == nil {
		return nil, false
	}
	return m.cfg.Clone(), true
}

func (m *mockState) BookingPut(ref string, id uint64) error {
	if _, ok := m.bookings[ref]; ok {
		return fmt.Errorf("booking taken")
	}
	m.bookings[ref] = id
	return nil
}

func (m *mockState) BookingGet(ref string) (uint64, bool) {
	id, ok := m.bookings[ref]
	return id, ok
}

func (m *mockState) BookingDelete(ref string) error {
	delete(m.bookings, ref)
	return nil
}

type transferRecord struct {
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

type mockSettlement struct {
	transfers []transferRecord
	balances  map[[20]byte]*big.Int
	failOn    int
	calls     int
}

func newMockSettlement() *mockSettlement {
	return &mockSettlement{balances: make(map[[20]byte]*big.Int)}
}

func (m *mockSettlement) credit(addr [20]byte, amount int64) {
	m.balances[addr] = new(big.Int).Add(m.balanceOf(addr), big.NewInt(amount))
}

func (m *mockSettlement) balanceOf(addr [20]byte) *big.Int {
	if bal, ok := m.balances[addr]; ok {
		return bal
	}
	return big.NewInt(0)
}

func (m *mockSettlement) Transfer(from, to [20]byte, amount *big.Int) (string, error) {
	m.calls++
	if m.failOn != 0 && m.calls == m.failOn {
		return "", fmt.Errorf("settlement unavailable")
	}
	m.balances[from] = new(big.Int).Sub(m.balanceOf(from), amount)
	m.balances[to] = new(big.Int).Add(m.balanceOf(to), amount)
	m.transfers = append(m.transfers, transferRecord{From: from, To: to, Amount: new(big.Int).Set(amount)})
	return fmt.Sprintf("xfer-%d", m.calls), nil
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

var (
	adminAddr     = testAddr(0xA0)
	collectorAddr = testAddr(0xC0)
	vaultAddr     = testAddr(0xF0)
	treasuryAddr  = testAddr(0xF1)
	buyerAddr     = testAddr(0x01)
	sellerAddr    = testAddr(0x02)
)

func newTestEngine(t *testing.T) (*Engine, *mockState, *mockSettlement, *events.CaptureEmitter) {
	t.Helper()
	state := newMockState()
	settlement := newMockSettlement()
	capture := &events.CaptureEmitter{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetSettlement(settlement)
	engine.SetVault(vaultAddr)
	engine.SetFeeTreasury(treasuryAddr)
	engine.SetEmitter(capture)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	if err := engine.Bootstrap(adminAddr, collectorAddr); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return engine, state, settlement, capture
}

func defaultCreateInput() CreateInput {
	return CreateInput{
		Buyer:              buyerAddr,
		Seller:             sellerAddr,
		DepositAmount:      1000,
		Signers:            [][20]byte{buyerAddr, sellerAddr},
		RequiredSignatures: 2,
		ContractRef:        "ipfs://bafy-contract",
		Description:        "wedding photography package",
	}
}

func TestCreateComputesFeeAndPersists(t *testing.T) {
	engine, state, settlement, capture := newTestEngine(t)

	esc, err := engine.Create(defaultCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if esc.ID != 1 {
		t.Fatalf("expected id 1, got %d", esc.ID)
	}
	if esc.PlatformFee != 20 || esc.Principal != 980 || esc.TotalDeposit != 1000 {
		t.Fatalf("unexpected amounts: fee=%d principal=%d total=%d", esc.PlatformFee, esc.Principal, esc.TotalDeposit)
	}
	if esc.Status != StatusActive {
		t.Fatalf("expected active status, got %s", esc.Status)
	}
	if esc.FeeTier != fees.TierStandard {
		t.Fatalf("expected standard tier, got %s", esc.FeeTier)
	}
	if state.cfg.NextEscrowID != 2 {
		t.Fatalf("expected id counter 2, got %d", state.cfg.NextEscrowID)
	}
	if len(settlement.transfers) != 1 {
		t.Fatalf("expected one deposit transfer, got %d", len(settlement.transfers))
	}
	deposit := settlement.transfers[0]
	if deposit.From != buyerAddr || deposit.To != vaultAddr || deposit.Amount.Int64() != 1000 {
		t.Fatalf("unexpected deposit transfer: %+v", deposit)
	}
	evts := capture.Events()
	if len(evts) != 1 || evts[0].Type != EventTypeCreated {
		t.Fatalf("expected created event, got %+v", evts)
	}
	if evts[0].Attributes["totalDeposit"] != "1000" {
		t.Fatalf("unexpected created attributes: %v", evts[0].Attributes)
	}
}

func TestCreateValidationOrder(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)

	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"zero seller", func(in *CreateInput) { in.Seller = [20]byte{} }},
		{"seller equals buyer", func(in *CreateInput) { in.Seller = in.Buyer }},
		{"zero deposit", func(in *CreateInput) { in.DepositAmount = 0 }},
		{"no signers", func(in *CreateInput) { in.Signers = nil }},
		{"too many signers", func(in *CreateInput) {
			in.Signers = make([][20]byte, MaxSigners+1)
			for i := range in.Signers {
				in.Signers[i] = testAddr(byte(i + 1))
			}
		}},
		{"zero signer", func(in *CreateInput) { in.Signers = [][20]byte{buyerAddr, {}} }},
		{"duplicate signer", func(in *CreateInput) { in.Signers = [][20]byte{buyerAddr, buyerAddr} }},
		{"zero threshold", func(in *CreateInput) { in.RequiredSignatures = 0 }},
		{"threshold above signers", func(in *CreateInput) { in.RequiredSignatures = 3 }},
		{"empty contract ref", func(in *CreateInput) { in.ContractRef = "  " }},
		{"empty description", func(in *CreateInput) { in.Description = "" }},
		{"description too long", func(in *CreateInput) { in.Description = string(bytes.Repeat([]byte{'x'}, MaxDescriptionLen+1)) }},
	}
	for _, tc := range cases {
		input := defaultCreateInput()
		tc.mutate(&input)
		if _, err := engine.Create(input); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
	if state.cfg.NextEscrowID != 1 {
		t.Fatalf("failed creations must not consume ids, counter=%d", state.cfg.NextEscrowID)
	}
	if len(state.escrows) != 0 {
		t.Fatalf("failed creations must not persist records")
	}
}

func TestCreateRejectsEnterpriseAmounts(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	input := defaultCreateInput()
	input.DepositAmount = 150_000_000
	if _, err := engine.Create(input); !errors.Is(err, fees.ErrTierExceeded) {
		t.Fatalf("expected tier exceeded, got %v", err)
	}
	if state.cfg.NextEscrowID != 1 {
		t.Fatalf("rejected creation consumed an id")
	}
}

func TestCreateBookingReferenceUnique(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	input := defaultCreateInput()
	input.BookingRef = "booking-77"
	if _, err := engine.Create(input); err != nil {
		t.Fatalf("create: %v", err)
	}
	input.Description = "second attempt"
	if _, err := engine.Create(input); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected booking reuse to fail validation, got %v", err)
	}
	esc, err := engine.GetByBooking("booking-77")
	if err != nil {
		t.Fatalf("get by booking: %v", err)
	}
	if esc.ID != 1 {
		t.Fatalf("booking resolves to wrong escrow: %d", esc.ID)
	}
}

func TestCreateUnwindsOnDepositFailure(t *testing.T) {
	engine, state, settlement, capture := newTestEngine(t)
	settlement.failOn = 1
	input := defaultCreateInput()
	input.BookingRef = "booking-1"
	if _, err := engine.Create(input); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
	if len(state.escrows) != 0 {
		t.Fatalf("record survived a failed deposit")
	}
	if _, ok := state.bookings["booking-1"]; ok {
		t.Fatalf("booking survived a failed deposit")
	}
	if state.cfg.NextEscrowID != 1 {
		t.Fatalf("id counter advanced despite rollback")
	}
	if len(capture.Events()) != 0 {
		t.Fatalf("no events should fire for a rolled-back creation")
	}
}

func TestSignReleaseThresholdExactness(t *testing.T) {
	engine, state, settlement, capture := newTestEngine(t)
	esc, err := engine.Create(defaultCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	outcome, err := engine.SignRelease(esc.ID, buyerAddr)
	if err != nil {
		t.Fatalf("first signature: %v", err)
	}
	if outcome.Released || outcome.SignatureCount != 1 {
		t.Fatalf("first signature must not release: %+v", outcome)
	}
	stored, _ := state.EscrowGet(esc.ID)
	if stored.Status != StatusActive {
		t.Fatalf("below-threshold signing must stay active, got %s", stored.Status)
	}
	if len(settlement.transfers) != 1 {
		t.Fatalf("below-threshold signing moved funds")
	}

	outcome, err = engine.SignRelease(esc.ID, sellerAddr)
	if err != nil {
		t.Fatalf("second signature: %v", err)
	}
	if !outcome.Released || outcome.SignatureCount != 2 {
		t.Fatalf("threshold signature must release: %+v", outcome)
	}
	stored, _ = state.EscrowGet(esc.ID)
	if stored.Status != StatusReleased {
		t.Fatalf("expected released, got %s", stored.Status)
	}
	if stored.ResolvedAt == 0 {
		t.Fatalf("release must stamp resolvedAt")
	}
	if state.cfg.TotalFeesCollected.Int64() != 20 {
		t.Fatalf("fee accumulator expected 20, got %s", state.cfg.TotalFeesCollected)
	}

	// deposit + fee leg + principal leg
	if len(settlement.transfers) != 3 {
		t.Fatalf("expected 3 transfers, got %d", len(settlement.transfers))
	}
	feeLeg, principalLeg := settlement.transfers[1], settlement.transfers[2]
	if feeLeg.To != treasuryAddr || feeLeg.Amount.Int64() != 20 {
		t.Fatalf("unexpected fee leg: %+v", feeLeg)
	}
	if principalLeg.To != sellerAddr || principalLeg.Amount.Int64() != 980 {
		t.Fatalf("unexpected principal leg: %+v", principalLeg)
	}
	if got := new(big.Int).Add(feeLeg.Amount, principalLeg.Amount); got.Int64() != 1000 {
		t.Fatalf("fund conservation violated: paid out %s of 1000", got)
	}

	var sawReleased bool
	for _, evt := range capture.Events() {
		if evt.Type == EventTypeReleased {
			sawReleased = true
		}
	}
	if !sawReleased {
		t.Fatalf("released event missing")
	}
}

func TestSignReleaseRejectsDoubleSigning(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	input := defaultCreateInput()
	input.Signers = [][20]byte{buyerAddr, sellerAddr, testAddr(0x03)}
	input.RequiredSignatures = 3
	esc, err := engine.Create(input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.SignRelease(esc.ID, buyerAddr); err != nil {
		t.Fatalf("first signature: %v", err)
	}
	if _, err := engine.SignRelease(esc.ID, buyerAddr); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected double-sign rejection, got %v", err)
	}
	stored, _ := state.EscrowGet(esc.ID)
	if stored.SignatureCount != 1 {
		t.Fatalf("double sign mutated the count: %d", stored.SignatureCount)
	}
}

func TestSignReleaseRejectsOutsiders(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	esc, err := engine.Create(defaultCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.SignRelease(esc.ID, testAddr(0x99)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := engine.SignRelease(404, buyerAddr); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSignReleaseRollsBackOnTransferFailure(t *testing.T) {
	engine, state, settlement, _ := newTestEngine(t)
	esc, err := engine.Create(defaultCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.SignRelease(esc.ID, buyerAddr); err != nil {
		t.Fatalf("first signature: %v", err)
	}

	// Fail the principal leg (call 1 was the deposit, call 2 the fee leg,
	// call 3 the principal leg).
	settlement.failOn = 3
	if _, err := engine.SignRelease(esc.ID, sellerAddr); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}

	stored, _ := state.EscrowGet(esc.ID)
	if stored.Status != StatusActive {
		t.Fatalf("failed release must restore active status, got %s", stored.Status)
	}
	if stored.SignatureCount != 1 || stored.HasSigned(sellerAddr) {
		t.Fatalf("failed release must restore signature state: count=%d", stored.SignatureCount)
	}
	if state.cfg.TotalFeesCollected.Sign() != 0 {
		t.Fatalf("failed release must not accrue fees, got %s", state.cfg.TotalFeesCollected)
	}
	// The fee leg settled before the principal leg failed; the engine must
	// have clawed it back into the vault.
	if settlement.balanceOf(treasuryAddr).Sign() != 0 {
		t.Fatalf("treasury kept fee from failed release: %s", settlement.balanceOf(treasuryAddr))
	}
	if settlement.balanceOf(vaultAddr).Int64() != 1000 {
		t.Fatalf("vault should still hold the deposit, got %s", settlement.balanceOf(vaultAddr))
	}

	// The escrow remains releasable once settlement recovers.
	settlement.failOn = 0
	outcome, err := engine.SignRelease(esc.ID, sellerAddr)
	if err != nil || !outcome.Released {
		t.Fatalf("retry after recovery failed: %+v %v", outcome, err)
	}
}

func TestRefundReturnsFullDeposit(t *testing.T) {
	engine, state, settlement, capture := newTestEngine(t)
	input := defaultCreateInput()
	input.DepositAmount = 5000
	esc, err := engine.Create(input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := engine.Refund(esc.ID, testAddr(0x99)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized refund, got %v", err)
	}
	if err := engine.Refund(esc.ID, sellerAddr); err != nil {
		t.Fatalf("refund: %v", err)
	}

	stored, _ := state.EscrowGet(esc.ID)
	if stored.Status != StatusRefunded {
		t.Fatalf("expected refunded, got %s", stored.Status)
	}
	last := settlement.transfers[len(settlement.transfers)-1]
	if last.To != buyerAddr || last.Amount.Int64() != 5000 {
		t.Fatalf("refund must return the full deposit to the buyer: %+v", last)
	}
	if state.cfg.TotalFeesCollected.Sign() != 0 {
		t.Fatalf("refund must not earn fees")
	}
	var sawRefunded bool
	for _, evt := range capture.Events() {
		if evt.Type == EventTypeRefunded {
			sawRefunded = true
		}
	}
	if !sawRefunded {
		t.Fatalf("refunded event missing")
	}

	// Terminal states stay terminal.
	if err := engine.Refund(esc.ID, sellerAddr); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected refund on refunded escrow to fail, got %v", err)
	}
	if _, err := engine.SignRelease(esc.ID, buyerAddr); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected signing a refunded escrow to fail, got %v", err)
	}
}

func TestRefundByAdmin(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	esc, err := engine.Create(defaultCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.Refund(esc.ID, adminAddr); err != nil {
		t.Fatalf("admin refund: %v", err)
	}
	stored, _ := state.EscrowGet(esc.ID)
	if stored.Status != StatusRefunded {
		t.Fatalf("expected refunded, got %s", stored.Status)
	}
}

func TestDisputeLifecycleFavorBuyer(t *testing.T) {
	engine, state, settlement, _ := newTestEngine(t)
	input := defaultCreateInput()
	input.DepositAmount = 10_000
	esc, err := engine.Create(input)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := engine.RaiseDispute(esc.ID, buyerAddr, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected empty reason rejection, got %v", err)
	}
	if err := engine.RaiseDispute(esc.ID, testAddr(0x99), "late delivery"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected outsider dispute rejection, got %v", err)
	}
	if err := engine.RaiseDispute(esc.ID, buyerAddr, "late delivery"); err != nil {
		t.Fatalf("raise dispute: %v", err)
	}

	stored, _ := state.EscrowGet(esc.ID)
	if stored.Status != StatusDisputed {
		t.Fatalf("expected disputed, got %s", stored.Status)
	}
	// Disputed freezes release and refund.
	if _, err := engine.SignRelease(esc.ID, buyerAddr); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("dispute must freeze signing, got %v", err)
	}
	if err := engine.Refund(esc.ID, sellerAddr); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("dispute must freeze refund, got %v", err)
	}

	if err := engine.ResolveDispute(esc.ID, buyerAddr, true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected non-admin resolve rejection, got %v", err)
	}
	if err := engine.ResolveDispute(esc.ID, adminAddr, true); err != nil {
		t.Fatalf("resolve dispute: %v", err)
	}
	stored, _ = state.EscrowGet(esc.ID)
	if stored.Status != StatusRefunded {
		t.Fatalf("favor-buyer resolution must refund, got %s", stored.Status)
	}
	last := settlement.transfers[len(settlement.transfers)-1]
	if last.To != buyerAddr || last.Amount.Int64() != 10_000 {
		t.Fatalf("favor-buyer resolution pays the full deposit: %+v", last)
	}
	if state.cfg.TotalFeesCollected.Sign() != 0 {
		t.Fatalf("favor-buyer resolution must not earn fees")
	}
}

func TestDisputeResolutionFavorSeller(t *testing.T) {
	engine, state, settlement, _ := newTestEngine(t)
	esc, err := engine.Create(defaultCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.RaiseDispute(esc.ID, sellerAddr, "buyer unresponsive"); err != nil {
		t.Fatalf("raise dispute: %v", err)
	}
	if err := engine.ResolveDispute(esc.ID, adminAddr, false); err != nil {
		t.Fatalf("resolve dispute: %v", err)
	}
	stored, _ := state.EscrowGet(esc.ID)
	if stored.Status != StatusReleased {
		t.Fatalf("favor-seller resolution must release, got %s", stored.Status)
	}
	if state.cfg.TotalFeesCollected.Int64() != 20 {
		t.Fatalf("favor-seller resolution must accrue the fee")
	}
	if settlement.balanceOf(sellerAddr).Int64() != 980 {
		t.Fatalf("seller expected 980, got %s", settlement.balanceOf(sellerAddr))
	}
	// Resolving twice is rejected.
	if err := engine.ResolveDispute(esc.ID, adminAddr, false); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected second resolve to fail, got %v", err)
	}
}

func TestEmergencyTimeoutWindow(t *testing.T) {
	engine, state, settlement, _ := newTestEngine(t)
	base := int64(1_700_000_000)
	esc, err := engine.Create(defaultCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := engine.CanEmergencyTimeout(esc.ID)
	if err != nil || ok {
		t.Fatalf("window must be closed at creation: %v %v", ok, err)
	}
	if err := engine.EmergencyTimeout(esc.ID, buyerAddr); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected early timeout rejection, got %v", err)
	}

	engine.SetNowFunc(func() int64 { return base + 181*24*60*60 })
	ok, err = engine.CanEmergencyTimeout(esc.ID)
	if err != nil || !ok {
		t.Fatalf("window must be open after 181 days: %v %v", ok, err)
	}
	if err := engine.EmergencyTimeout(esc.ID, testAddr(0x99)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected outsider timeout rejection, got %v", err)
	}

	before := len(settlement.transfers)
	if err := engine.EmergencyTimeout(esc.ID, buyerAddr); err != nil {
		t.Fatalf("emergency timeout: %v", err)
	}
	stored, _ := state.EscrowGet(esc.ID)
	if stored.Status != StatusDisputed || !stored.EmergencyFlag {
		t.Fatalf("timeout must mark disputed+emergency: status=%s flag=%v", stored.Status, stored.EmergencyFlag)
	}
	if len(settlement.transfers) != before {
		t.Fatalf("emergency timeout must not move funds")
	}
	// The only way out is admin arbitration.
	if err := engine.ResolveDispute(esc.ID, adminAddr, true); err != nil {
		t.Fatalf("resolve after timeout: %v", err)
	}
}

func TestEmergencyTimeoutExactBoundary(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	base := int64(1_700_000_000)
	esc, err := engine.Create(defaultCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	window := int64(EmergencyTimeoutWindow / time.Second)

	engine.SetNowFunc(func() int64 { return base + window - 1 })
	if ok, _ := engine.CanEmergencyTimeout(esc.ID); ok {
		t.Fatalf("window must be closed one second early")
	}
	engine.SetNowFunc(func() int64 { return base + window })
	if ok, _ := engine.CanEmergencyTimeout(esc.ID); !ok {
		t.Fatalf("window must open exactly at the boundary")
	}
}

func TestWithdrawFees(t *testing.T) {
	engine, state, settlement, _ := newTestEngine(t)
	esc, err := engine.Create(defaultCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.SignRelease(esc.ID, buyerAddr); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := engine.SignRelease(esc.ID, sellerAddr); err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := engine.WithdrawFees(adminAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected non-collector withdrawal rejection, got %v", err)
	}
	amount, err := engine.WithdrawFees(collectorAddr)
	if err != nil {
		t.Fatalf("withdraw fees: %v", err)
	}
	if amount.Int64() != 20 {
		t.Fatalf("expected withdrawal of 20, got %s", amount)
	}
	if state.cfg.TotalFeesCollected.Sign() != 0 {
		t.Fatalf("withdrawal must zero the accumulator")
	}
	last := settlement.transfers[len(settlement.transfers)-1]
	if last.To != collectorAddr || last.Amount.Int64() != 20 {
		t.Fatalf("unexpected withdrawal transfer: %+v", last)
	}
	// A second withdrawal has nothing to take.
	if _, err := engine.WithdrawFees(collectorAddr); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected empty withdrawal rejection, got %v", err)
	}
}

func TestPauseGatesMutatingOperations(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	esc, err := engine.Create(defaultCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	paused, err := engine.TogglePause(adminAddr)
	if err != nil || !paused {
		t.Fatalf("toggle pause: %v %v", paused, err)
	}

	if _, err := engine.Create(defaultCreateInput()); !errors.Is(err, ErrPaused) {
		t.Fatalf("create must be pause-gated, got %v", err)
	}
	if _, err := engine.SignRelease(esc.ID, buyerAddr); !errors.Is(err, ErrPaused) {
		t.Fatalf("sign must be pause-gated, got %v", err)
	}
	if err := engine.Refund(esc.ID, sellerAddr); !errors.Is(err, ErrPaused) {
		t.Fatalf("refund must be pause-gated, got %v", err)
	}
	if err := engine.RaiseDispute(esc.ID, buyerAddr, "reason"); !errors.Is(err, ErrPaused) {
		t.Fatalf("dispute must be pause-gated, got %v", err)
	}
	if err := engine.ResolveDispute(esc.ID, adminAddr, true); !errors.Is(err, ErrPaused) {
		t.Fatalf("resolve must be pause-gated, got %v", err)
	}
	if err := engine.EmergencyTimeout(esc.ID, buyerAddr); !errors.Is(err, ErrPaused) {
		t.Fatalf("timeout must be pause-gated, got %v", err)
	}
	if _, err := engine.WithdrawFees(collectorAddr); !errors.Is(err, ErrPaused) {
		t.Fatalf("withdrawal must be pause-gated, got %v", err)
	}

	// Reads stay available while paused.
	if _, err := engine.Get(esc.ID); err != nil {
		t.Fatalf("get while paused: %v", err)
	}

	paused, err = engine.TogglePause(adminAddr)
	if err != nil || paused {
		t.Fatalf("unpause: %v %v", paused, err)
	}
	if _, err := engine.SignRelease(esc.ID, buyerAddr); err != nil {
		t.Fatalf("sign after unpause: %v", err)
	}
}

func TestEmergencyAdminWithdrawRequiresPause(t *testing.T) {
	engine, state, settlement, _ := newTestEngine(t)
	esc, err := engine.Create(defaultCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	recipient := testAddr(0x77)

	if err := engine.EmergencyAdminWithdraw(esc.ID, adminAddr, recipient); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("expected not-paused rejection, got %v", err)
	}
	if _, err := engine.TogglePause(adminAddr); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := engine.EmergencyAdminWithdraw(esc.ID, buyerAddr, recipient); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected admin-only rejection, got %v", err)
	}
	if err := engine.EmergencyAdminWithdraw(esc.ID, adminAddr, recipient); err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	stored, _ := state.EscrowGet(esc.ID)
	if stored.Status != StatusRefunded {
		t.Fatalf("emergency withdraw marks refunded, got %s", stored.Status)
	}
	last := settlement.transfers[len(settlement.transfers)-1]
	if last.To != recipient || last.Amount.Int64() != 1000 {
		t.Fatalf("unexpected recovery transfer: %+v", last)
	}
}

func TestAdminRotation(t *testing.T) {
	engine, _, _, capture := newTestEngine(t)
	newAdmin := testAddr(0xA1)
	newCollector := testAddr(0xC1)

	if err := engine.UpdateFeeCollector(buyerAddr, newCollector); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected non-admin collector update rejection, got %v", err)
	}
	if err := engine.UpdateFeeCollector(adminAddr, [20]byte{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected zero collector rejection, got %v", err)
	}
	if err := engine.UpdateFeeCollector(adminAddr, newCollector); err != nil {
		t.Fatalf("update collector: %v", err)
	}
	if err := engine.TransferAdmin(adminAddr, newAdmin); err != nil {
		t.Fatalf("transfer admin: %v", err)
	}
	// The old admin is powerless after the handover.
	if _, err := engine.TogglePause(adminAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old admin must lose control, got %v", err)
	}
	if _, err := engine.TogglePause(newAdmin); err != nil {
		t.Fatalf("new admin toggle: %v", err)
	}

	types := make(map[string]int)
	for _, evt := range capture.Events() {
		types[evt.Type]++
	}
	if types[EventTypeFeeCollectorUpdated] != 1 || types[EventTypeAdminTransferred] != 1 || types[EventTypePauseToggled] != 1 {
		t.Fatalf("missing admin events: %v", types)
	}
}

func TestReadSurface(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	esc, err := engine.Create(defaultCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ok, err := engine.IsAuthorizedSigner(esc.ID, buyerAddr); err != nil || !ok {
		t.Fatalf("buyer should be an authorized signer: %v %v", ok, err)
	}
	if ok, _ := engine.IsAuthorizedSigner(esc.ID, testAddr(0x99)); ok {
		t.Fatalf("outsider should not be an authorized signer")
	}
	if ok, _ := engine.HasSigned(esc.ID, buyerAddr); ok {
		t.Fatalf("nobody has signed yet")
	}
	if _, err := engine.SignRelease(esc.ID, buyerAddr); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if ok, _ := engine.HasSigned(esc.ID, buyerAddr); !ok {
		t.Fatalf("buyer signature not reflected")
	}
	if _, err := engine.Get(404); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
