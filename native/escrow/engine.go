package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"escrowd/core/events"
	"escrowd/native/fees"
)

var (
	errNilState      = errors.New("escrow engine: state not configured")
	errNilSettlement = errors.New("escrow engine: settlement ledger not configured")
	errNilTreasury   = errors.New("escrow engine: treasury not initialised")
)

// EmergencyTimeoutWindow is the long-horizon safety valve: once an Active
// escrow is this old, either party may force it into arbitration.
const EmergencyTimeoutWindow = 180 * 24 * time.Hour

const lockStripes = 64

// engineState is the persistence surface the engine mutates. Implemented by
// core/state.Manager and by map-backed fakes in tests.
type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id uint64) (*Escrow, bool)
	EscrowDelete(id uint64) error
	ConfigPut(*TreasuryConfig) error
	ConfigGet() (*TreasuryConfig, bool)
	BookingPut(ref string, id uint64) error
	BookingGet(ref string) (uint64, bool)
	BookingDelete(ref string) error
}

// Settlement is the external fund-movement primitive. It must report success
// or failure synchronously; the engine commits state before calling it and
// rolls the commit back when it fails.
type Settlement interface {
	Transfer(from, to [20]byte, amount *big.Int) (ref string, err error)
}

// CreateInput carries the caller-supplied fields of a new escrow. The deposit
// is the gross amount received into custody; the platform fee is carved out of
// it by tier and the remainder becomes the principal owed to the seller.
type CreateInput struct {
	Buyer              [20]byte
	Seller             [20]byte
	DepositAmount      uint64
	Signers            [][20]byte
	RequiredSignatures uint32
	ContractRef        string
	Description        string
	BookingRef         string
}

// SignOutcome reports the effect of a signature: the updated count and whether
// this signature crossed the threshold and released the funds.
type SignOutcome struct {
	SignatureCount     uint32
	RequiredSignatures uint32
	Released           bool
}

// Engine implements the escrow lifecycle as atomic transitions over the
// ledger. Every mutating call serialises on a per-record lock stripe, commits
// its state change durably, and only then touches the settlement ledger;
// transfer failures unwind the commit so no partial effect survives.
type Engine struct {
	state      engineState
	settlement Settlement
	emitter    events.Emitter
	vault      [20]byte
	treasury   [20]byte
	nowFn      func() int64

	locks [lockStripes]sync.Mutex
	cfgMu sync.Mutex
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetSettlement configures the fund-movement primitive.
func (e *Engine) SetSettlement(s Settlement) { e.settlement = s }

// SetVault configures the custody account holding active deposits.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

// SetFeeTreasury configures the account that accumulates earned platform
// fees. Release moves the fee leg here; WithdrawFees drains it to the
// collector. Keeping earned fees out of the vault means a withdrawal can
// never touch principal still held for Active escrows.
func (e *Engine) SetFeeTreasury(addr [20]byte) { e.treasury = addr }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests to
// provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Bootstrap initialises the treasury configuration when the ledger is empty.
// Re-running against an initialised ledger is a no-op so restarts are safe.
func (e *Engine) Bootstrap(admin, feeCollector [20]byte) error {
	if e.state == nil {
		return errNilState
	}
	if admin == ([20]byte{}) || feeCollector == ([20]byte{}) {
		return fmt.Errorf("%w: admin and fee collector required", ErrValidation)
	}
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	if _, ok := e.state.ConfigGet(); ok {
		return nil
	}
	return e.state.ConfigPut(&TreasuryConfig{
		Admin:              admin,
		FeeCollector:       feeCollector,
		TotalFeesCollected: big.NewInt(0),
		NextEscrowID:       1,
	})
}

func (e *Engine) emit(evt *events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) lockFor(id uint64) *sync.Mutex {
	return &e.locks[id%lockStripes]
}

func (e *Engine) loadConfig() (*TreasuryConfig, error) {
	if e.state == nil {
		return nil, errNilState
	}
	cfg, ok := e.state.ConfigGet()
	if !ok {
		return nil, errNilTreasury
	}
	return cfg, nil
}

// unpausedConfig loads the treasury config and enforces the pause gate.
func (e *Engine) unpausedConfig() (*TreasuryConfig, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Paused {
		return nil, ErrPaused
	}
	return cfg, nil
}

func (e *Engine) loadEscrow(id uint64) (*Escrow, error) {
	if e.state == nil {
		return nil, errNilState
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return esc, nil
}

func (e *Engine) transfer(from, to [20]byte, amount uint64) error {
	if e.settlement == nil {
		return errNilSettlement
	}
	if amount == 0 {
		return nil
	}
	if _, err := e.settlement.Transfer(from, to, new(big.Int).SetUint64(amount)); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// Create validates the input, computes the platform fee, allocates the next
// sequential id, persists the new Active escrow and pulls the gross deposit
// into the custody vault. The deposit transfer is part of the same atomic
// unit: if it fails, the record, booking index entry and id allocation are all
// unwound.
func (e *Engine) Create(input CreateInput) (*Escrow, error) {
	if e.state == nil {
		return nil, errNilState
	}
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	cfg, err := e.unpausedConfig()
	if err != nil {
		return nil, err
	}
	if input.Seller == ([20]byte{}) {
		return nil, fmt.Errorf("%w: seller required", ErrValidation)
	}
	if input.Seller == input.Buyer {
		return nil, fmt.Errorf("%w: buyer and seller must differ", ErrValidation)
	}
	if input.DepositAmount == 0 {
		return nil, fmt.Errorf("%w: deposit must be positive", ErrValidation)
	}
	if len(input.Signers) == 0 || len(input.Signers) > MaxSigners {
		return nil, fmt.Errorf("%w: signer count must be between 1 and %d", ErrValidation, MaxSigners)
	}
	seen := make(map[[20]byte]struct{}, len(input.Signers))
	for _, signer := range input.Signers {
		if signer == ([20]byte{}) {
			return nil, fmt.Errorf("%w: zero-address signer", ErrValidation)
		}
		if _, dup := seen[signer]; dup {
			return nil, fmt.Errorf("%w: duplicate signer", ErrValidation)
		}
		seen[signer] = struct{}{}
	}
	if input.RequiredSignatures == 0 || input.RequiredSignatures > uint32(len(input.Signers)) {
		return nil, fmt.Errorf("%w: required signatures out of range", ErrValidation)
	}
	contractRef := strings.TrimSpace(input.ContractRef)
	if contractRef == "" {
		return nil, fmt.Errorf("%w: contract reference required", ErrValidation)
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, fmt.Errorf("%w: description required", ErrValidation)
	}
	if len(description) > MaxDescriptionLen {
		return nil, fmt.Errorf("%w: description exceeds %d characters", ErrValidation, MaxDescriptionLen)
	}
	bookingRef := strings.TrimSpace(input.BookingRef)
	if bookingRef != "" {
		if _, taken := e.state.BookingGet(bookingRef); taken {
			return nil, fmt.Errorf("%w: booking reference already in use", ErrValidation)
		}
	}

	fee, tier, err := fees.Calculate(input.DepositAmount)
	if err != nil {
		return nil, err
	}

	esc := &Escrow{
		ID:                 cfg.NextEscrowID,
		Buyer:              input.Buyer,
		Seller:             input.Seller,
		Principal:          input.DepositAmount - fee,
		PlatformFee:        fee,
		TotalDeposit:       input.DepositAmount,
		FeeTier:            tier,
		ContractRef:        contractRef,
		Description:        description,
		BookingRef:         bookingRef,
		Signers:            append([][20]byte(nil), input.Signers...),
		Signed:             make([]bool, len(input.Signers)),
		RequiredSignatures: input.RequiredSignatures,
		CreatedAt:          e.now(),
		Status:             StatusActive,
	}

	if err := e.state.EscrowPut(esc); err != nil {
		return nil, err
	}
	if bookingRef != "" {
		if err := e.state.BookingPut(bookingRef, esc.ID); err != nil {
			_ = e.state.EscrowDelete(esc.ID)
			return nil, fmt.Errorf("%w: booking reference already in use", ErrValidation)
		}
	}
	next := cfg.Clone()
	next.NextEscrowID++
	if err := e.state.ConfigPut(next); err != nil {
		e.unwindCreate(esc, cfg)
		return nil, err
	}

	// Deposit receipt closes the creation transaction; unwind everything if
	// custody never actually received the funds.
	if err := e.transfer(input.Buyer, e.vault, esc.TotalDeposit); err != nil {
		e.unwindCreate(esc, cfg)
		return nil, err
	}

	e.emit(NewCreatedEvent(esc))
	return esc.Clone(), nil
}

func (e *Engine) unwindCreate(esc *Escrow, prevCfg *TreasuryConfig) {
	_ = e.state.EscrowDelete(esc.ID)
	if esc.BookingRef != "" {
		_ = e.state.BookingDelete(esc.BookingRef)
	}
	_ = e.state.ConfigPut(prevCfg)
}

// SignRelease records an authorized signer's approval. The signature that
// makes the count reach the threshold atomically executes the release in the
// same call: status flips to Released and is committed before the two payout
// legs run, so re-entrant calls observe a non-Active escrow and are rejected.
func (e *Engine) SignRelease(id uint64, signer [20]byte) (*SignOutcome, error) {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	e.cfgMu.Lock()
	_, err := e.unpausedConfig()
	e.cfgMu.Unlock()
	if err != nil {
		return nil, err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if esc.Status != StatusActive {
		return nil, fmt.Errorf("%w: cannot sign in status %s", ErrInvalidState, esc.Status)
	}
	idx := esc.SignerIndex(signer)
	if idx < 0 {
		return nil, fmt.Errorf("%w: not an authorized signer", ErrUnauthorized)
	}
	if esc.Signed[idx] {
		return nil, fmt.Errorf("%w: signer already signed", ErrInvalidState)
	}

	prev := esc.Clone()
	esc.Signed[idx] = true
	esc.SignatureCount++

	if esc.SignatureCount < esc.RequiredSignatures {
		if err := e.state.EscrowPut(esc); err != nil {
			return nil, err
		}
		e.emit(NewSignatureAddedEvent(esc, signer))
		return &SignOutcome{
			SignatureCount:     esc.SignatureCount,
			RequiredSignatures: esc.RequiredSignatures,
		}, nil
	}

	if err := e.release(esc, prev); err != nil {
		return nil, err
	}
	e.emit(NewSignatureAddedEvent(esc, signer))
	e.emit(NewReleasedEvent(esc))
	return &SignOutcome{
		SignatureCount:     esc.SignatureCount,
		RequiredSignatures: esc.RequiredSignatures,
		Released:           true,
	}, nil
}

// release executes the terminal release sub-transition: commit the state
// change and the fee accrual, then move the fee into the treasury and the
// principal to the seller. Any failure restores the pre-transition record and
// accumulator so the whole operation reads as never having happened.
func (e *Engine) release(esc, prev *Escrow) error {
	esc.Status = StatusReleased
	esc.ResolvedAt = e.now()
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	if err := e.accrueFee(esc.PlatformFee); err != nil {
		_ = e.state.EscrowPut(prev)
		return err
	}

	rollback := func() {
		_ = e.state.EscrowPut(prev)
		e.unaccrueFee(esc.PlatformFee)
	}
	if err := e.transfer(e.vault, e.treasury, esc.PlatformFee); err != nil {
		rollback()
		return err
	}
	if err := e.transfer(e.vault, esc.Seller, esc.Principal); err != nil {
		// Compensate the already-settled fee leg before unwinding state.
		if esc.PlatformFee > 0 {
			_ = e.compensate(e.treasury, e.vault, esc.PlatformFee)
		}
		rollback()
		return err
	}
	return nil
}

// accrueFee credits the fee accumulator under the config lock.
func (e *Engine) accrueFee(fee uint64) error {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	next := cfg.Clone()
	next.TotalFeesCollected = new(big.Int).Add(next.TotalFeesCollected, new(big.Int).SetUint64(fee))
	return e.state.ConfigPut(next)
}

// unaccrueFee reverses a fee accrual while unwinding a failed release.
func (e *Engine) unaccrueFee(fee uint64) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	cfg, err := e.loadConfig()
	if err != nil {
		return
	}
	next := cfg.Clone()
	next.TotalFeesCollected = new(big.Int).Sub(next.TotalFeesCollected, new(big.Int).SetUint64(fee))
	if next.TotalFeesCollected.Sign() < 0 {
		next.TotalFeesCollected = big.NewInt(0)
	}
	_ = e.state.ConfigPut(next)
}

func (e *Engine) compensate(from, to [20]byte, amount uint64) error {
	if e.settlement == nil {
		return errNilSettlement
	}
	_, err := e.settlement.Transfer(from, to, new(big.Int).SetUint64(amount))
	return err
}

// Refund returns the full deposit, fee included, to the buyer. Only the seller
// or the admin may trigger it, and only from Active: the fee was never earned
// because the underlying service was not delivered.
func (e *Engine) Refund(id uint64, caller [20]byte) error {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	e.cfgMu.Lock()
	cfg, err := e.unpausedConfig()
	e.cfgMu.Unlock()
	if err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusActive {
		return fmt.Errorf("%w: cannot refund in status %s", ErrInvalidState, esc.Status)
	}
	if caller != esc.Seller && caller != cfg.Admin {
		return fmt.Errorf("%w: refund requires seller or admin", ErrUnauthorized)
	}
	if err := e.refund(esc); err != nil {
		return err
	}
	e.emit(NewRefundedEvent(esc))
	return nil
}

// refund executes the terminal refund sub-transition: commit Refunded, then
// move the full deposit back to the buyer, unwinding the commit on failure.
// The fee accumulator is untouched.
func (e *Engine) refund(esc *Escrow) error {
	prev := esc.Clone()
	esc.Status = StatusRefunded
	esc.ResolvedAt = e.now()
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	if err := e.transfer(e.vault, esc.Buyer, esc.TotalDeposit); err != nil {
		_ = e.state.EscrowPut(prev)
		return err
	}
	return nil
}

// RaiseDispute freezes an Active escrow pending admin arbitration. Only the
// buyer or seller may raise one, and a reason is mandatory.
func (e *Engine) RaiseDispute(id uint64, caller [20]byte, reason string) error {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	e.cfgMu.Lock()
	_, err := e.unpausedConfig()
	e.cfgMu.Unlock()
	if err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusActive {
		return fmt.Errorf("%w: cannot dispute in status %s", ErrInvalidState, esc.Status)
	}
	if caller != esc.Buyer && caller != esc.Seller {
		return fmt.Errorf("%w: dispute requires buyer or seller", ErrUnauthorized)
	}
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return fmt.Errorf("%w: dispute reason required", ErrValidation)
	}
	esc.Status = StatusDisputed
	esc.DisputeReason = trimmed
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(NewDisputeRaisedEvent(esc, caller))
	return nil
}

// ResolveDispute settles a Disputed escrow by admin decision: favorBuyer
// refunds the full deposit with no fee collected, otherwise the release path
// runs exactly as a threshold release would.
func (e *Engine) ResolveDispute(id uint64, caller [20]byte, favorBuyer bool) error {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	e.cfgMu.Lock()
	cfg, err := e.unpausedConfig()
	e.cfgMu.Unlock()
	if err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusDisputed {
		return fmt.Errorf("%w: cannot resolve in status %s", ErrInvalidState, esc.Status)
	}
	if caller != cfg.Admin {
		return fmt.Errorf("%w: resolution requires admin", ErrUnauthorized)
	}
	if favorBuyer {
		if err := e.refund(esc); err != nil {
			return err
		}
		e.emit(NewRefundedEvent(esc))
	} else {
		if err := e.release(esc, esc.Clone()); err != nil {
			return err
		}
		e.emit(NewReleasedEvent(esc))
	}
	e.emit(NewDisputeResolvedEvent(esc, favorBuyer))
	return nil
}

// EmergencyTimeout forces a long-stalled Active escrow into arbitration. No
// funds move: after the window neither party gets an automatic payout, both
// are routed to the admin-arbitrated path.
func (e *Engine) EmergencyTimeout(id uint64, caller [20]byte) error {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	e.cfgMu.Lock()
	_, err := e.unpausedConfig()
	e.cfgMu.Unlock()
	if err != nil {
		return err
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusActive {
		return fmt.Errorf("%w: cannot trigger timeout in status %s", ErrInvalidState, esc.Status)
	}
	if caller != esc.Buyer && caller != esc.Seller {
		return fmt.Errorf("%w: timeout requires buyer or seller", ErrUnauthorized)
	}
	if e.now() < esc.CreatedAt+int64(EmergencyTimeoutWindow/time.Second) {
		return fmt.Errorf("%w: emergency window not reached", ErrInvalidState)
	}
	esc.Status = StatusDisputed
	esc.EmergencyFlag = true
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	e.emit(NewEmergencyTimeoutEvent(esc, caller))
	return nil
}

// CanEmergencyTimeout is the pure form of the timeout guard: it reports
// whether the window has elapsed for an Active escrow without mutating
// anything.
func (e *Engine) CanEmergencyTimeout(id uint64) (bool, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return false, err
	}
	if esc.Status != StatusActive {
		return false, nil
	}
	return e.now() >= esc.CreatedAt+int64(EmergencyTimeoutWindow/time.Second), nil
}

// WithdrawFees drains the accumulated platform fees to the collector. The
// accumulator is snapshotted and zeroed before the transfer so the payout can
// never exceed already-earned fees or touch principal held for Active escrows.
func (e *Engine) WithdrawFees(caller [20]byte) (*big.Int, error) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	cfg, err := e.unpausedConfig()
	if err != nil {
		return nil, err
	}
	if caller != cfg.FeeCollector {
		return nil, fmt.Errorf("%w: withdrawal requires fee collector", ErrUnauthorized)
	}
	amount := new(big.Int).Set(cfg.TotalFeesCollected)
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: no fees accrued", ErrInvalidState)
	}
	next := cfg.Clone()
	next.TotalFeesCollected = big.NewInt(0)
	if err := e.state.ConfigPut(next); err != nil {
		return nil, err
	}
	if e.settlement == nil {
		_ = e.state.ConfigPut(cfg)
		return nil, errNilSettlement
	}
	if _, err := e.settlement.Transfer(e.treasury, cfg.FeeCollector, amount); err != nil {
		_ = e.state.ConfigPut(cfg)
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	e.emit(NewFeesWithdrawnEvent(cfg.FeeCollector, amount))
	return amount, nil
}

// UpdateFeeCollector rotates the identity entitled to withdraw platform fees.
func (e *Engine) UpdateFeeCollector(caller, next [20]byte) error {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	if caller != cfg.Admin {
		return fmt.Errorf("%w: requires admin", ErrUnauthorized)
	}
	if next == ([20]byte{}) {
		return fmt.Errorf("%w: fee collector required", ErrValidation)
	}
	previous := cfg.FeeCollector
	updated := cfg.Clone()
	updated.FeeCollector = next
	if err := e.state.ConfigPut(updated); err != nil {
		return err
	}
	e.emit(NewFeeCollectorUpdatedEvent(previous, next))
	return nil
}

// TransferAdmin hands the control plane to a new admin identity.
func (e *Engine) TransferAdmin(caller, next [20]byte) error {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	if caller != cfg.Admin {
		return fmt.Errorf("%w: requires admin", ErrUnauthorized)
	}
	if next == ([20]byte{}) {
		return fmt.Errorf("%w: admin required", ErrValidation)
	}
	previous := cfg.Admin
	updated := cfg.Clone()
	updated.Admin = next
	if err := e.state.ConfigPut(updated); err != nil {
		return err
	}
	e.emit(NewAdminTransferredEvent(previous, next))
	return nil
}

// TogglePause flips the global pause gate and returns the new value. While
// paused every mutating entry point except EmergencyAdminWithdraw is rejected.
func (e *Engine) TogglePause(caller [20]byte) (bool, error) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	cfg, err := e.loadConfig()
	if err != nil {
		return false, err
	}
	if caller != cfg.Admin {
		return false, fmt.Errorf("%w: requires admin", ErrUnauthorized)
	}
	updated := cfg.Clone()
	updated.Paused = !updated.Paused
	if err := e.state.ConfigPut(updated); err != nil {
		return false, err
	}
	e.emit(NewPauseToggledEvent(updated.Paused))
	return updated.Paused, nil
}

// EmergencyAdminWithdraw is the last-resort manual recovery for a stuck
// escrow: admin-only, legal only while the ledger is paused, moving the full
// deposit to an admin-chosen recipient and marking the escrow Refunded.
func (e *Engine) EmergencyAdminWithdraw(id uint64, caller, recipient [20]byte) error {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	e.cfgMu.Lock()
	cfg, err := e.loadConfig()
	e.cfgMu.Unlock()
	if err != nil {
		return err
	}
	if !cfg.Paused {
		return ErrNotPaused
	}
	if caller != cfg.Admin {
		return fmt.Errorf("%w: requires admin", ErrUnauthorized)
	}
	if recipient == ([20]byte{}) {
		return fmt.Errorf("%w: recipient required", ErrValidation)
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status.Terminal() {
		return fmt.Errorf("%w: escrow already settled", ErrInvalidState)
	}
	prev := esc.Clone()
	esc.Status = StatusRefunded
	esc.ResolvedAt = e.now()
	if err := e.state.EscrowPut(esc); err != nil {
		return err
	}
	if err := e.transfer(e.vault, recipient, esc.TotalDeposit); err != nil {
		_ = e.state.EscrowPut(prev)
		return err
	}
	e.emit(NewEmergencyWithdrawEvent(esc, recipient))
	return nil
}

// Get returns a copy of the escrow record.
func (e *Engine) Get(id uint64) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// GetByBooking resolves an external booking reference to its escrow.
func (e *Engine) GetByBooking(ref string) (*Escrow, error) {
	if e.state == nil {
		return nil, errNilState
	}
	id, ok := e.state.BookingGet(strings.TrimSpace(ref))
	if !ok {
		return nil, ErrNotFound
	}
	return e.Get(id)
}

// HasSigned reports whether the signer has already contributed a signature.
func (e *Engine) HasSigned(id uint64, signer [20]byte) (bool, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return false, err
	}
	return esc.HasSigned(signer), nil
}

// IsAuthorizedSigner reports whether the address belongs to the signer set.
func (e *Engine) IsAuthorizedSigner(id uint64, signer [20]byte) (bool, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return false, err
	}
	return esc.IsSigner(signer), nil
}

// TreasuryStatus returns a copy of the global treasury configuration.
func (e *Engine) TreasuryStatus() (*TreasuryConfig, error) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}
