package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"escrowd/native/escrow"
	"escrowd/storage"
)

var (
	configKey     = []byte("escrow/config")
	recordPrefix  = []byte("escrow/record/")
	bookingPrefix = []byte("escrow/booking/")
)

// ErrBookingExists is returned when a booking reference is already mapped to
// an escrow id.
var ErrBookingExists = errors.New("state: booking reference already indexed")

// Manager persists escrow records, the treasury configuration and the booking
// index as RLP blobs in a key-value store. Records are cloned on both read and
// write so callers never share mutable state with the store.
type Manager struct {
	mu sync.RWMutex
	db storage.Database
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// storedEscrow is the RLP wire form of an escrow record. RLP carries only
// unsigned integers, so timestamps are widened on the way in.
type storedEscrow struct {
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
	CreatedAt          uint64
	ResolvedAt         uint64
	Status             uint8
	EmergencyFlag      bool
	DisputeReason      string
}

type storedConfig struct {
	Admin              [20]byte
	FeeCollector       [20]byte
	TotalFeesCollected *big.Int
	Paused             bool
	NextEscrowID       uint64
}

func recordKey(id uint64) []byte {
	key := make([]byte, len(recordPrefix)+8)
	copy(key, recordPrefix)
	binary.BigEndian.PutUint64(key[len(recordPrefix):], id)
	return key
}

func bookingKey(ref string) []byte {
	return append(append([]byte(nil), bookingPrefix...), ref...)
}

// EscrowPut validates and persists an escrow record.
func (m *Manager) EscrowPut(esc *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(esc)
	if err != nil {
		return err
	}
	stored := &storedEscrow{
		ID:                 sanitized.ID,
		Buyer:              sanitized.Buyer,
		Seller:             sanitized.Seller,
		Principal:          sanitized.Principal,
		PlatformFee:        sanitized.PlatformFee,
		TotalDeposit:       sanitized.TotalDeposit,
		FeeTier:            sanitized.FeeTier,
		ContractRef:        sanitized.ContractRef,
		Description:        sanitized.Description,
		BookingRef:         sanitized.BookingRef,
		Signers:            sanitized.Signers,
		Signed:             sanitized.Signed,
		SignatureCount:     sanitized.SignatureCount,
		RequiredSignatures: sanitized.RequiredSignatures,
		CreatedAt:          uint64(sanitized.CreatedAt),
		ResolvedAt:         uint64(sanitized.ResolvedAt),
		Status:             uint8(sanitized.Status),
		EmergencyFlag:      sanitized.EmergencyFlag,
		DisputeReason:      sanitized.DisputeReason,
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("state: encode escrow %d: %w", sanitized.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(recordKey(sanitized.ID), encoded)
}

// EscrowGet loads an escrow record by id. The second return value reports
// whether the record exists.
func (m *Manager) EscrowGet(id uint64) (*escrow.Escrow, bool) {
	if id == 0 {
		return nil, false
	}
	m.mu.RLock()
	data, err := m.db.Get(recordKey(id))
	m.mu.RUnlock()
	if err != nil {
		return nil, false
	}
	stored := new(storedEscrow)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	esc := &escrow.Escrow{
		ID:                 stored.ID,
		Buyer:              stored.Buyer,
		Seller:             stored.Seller,
		Principal:          stored.Principal,
		PlatformFee:        stored.PlatformFee,
		TotalDeposit:       stored.TotalDeposit,
		FeeTier:            stored.FeeTier,
		ContractRef:        stored.ContractRef,
		Description:        stored.Description,
		BookingRef:         stored.BookingRef,
		Signers:            stored.Signers,
		Signed:             stored.Signed,
		SignatureCount:     stored.SignatureCount,
		RequiredSignatures: stored.RequiredSignatures,
		CreatedAt:          int64(stored.CreatedAt),
		ResolvedAt:         int64(stored.ResolvedAt),
		Status:             escrow.Status(stored.Status),
		EmergencyFlag:      stored.EmergencyFlag,
		DisputeReason:      stored.DisputeReason,
	}
	return esc, true
}

// EscrowDelete removes a record. Terminal records are retained for audit; this
// exists solely so a failed creation can be unwound.
func (m *Manager) EscrowDelete(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Delete(recordKey(id))
}

// ConfigPut persists the treasury configuration.
func (m *Manager) ConfigPut(cfg *escrow.TreasuryConfig) error {
	sanitized, err := escrow.SanitizeConfig(cfg)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(&storedConfig{
		Admin:              sanitized.Admin,
		FeeCollector:       sanitized.FeeCollector,
		TotalFeesCollected: sanitized.TotalFeesCollected,
		Paused:             sanitized.Paused,
		NextEscrowID:       sanitized.NextEscrowID,
	})
	if err != nil {
		return fmt.Errorf("state: encode config: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(configKey, encoded)
}

// ConfigGet loads the treasury configuration if it has been initialised.
func (m *Manager) ConfigGet() (*escrow.TreasuryConfig, bool) {
	m.mu.RLock()
	data, err := m.db.Get(configKey)
	m.mu.RUnlock()
	if err != nil {
		return nil, false
	}
	stored := new(storedConfig)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	return &escrow.TreasuryConfig{
		Admin:              stored.Admin,
		FeeCollector:       stored.FeeCollector,
		TotalFeesCollected: stored.TotalFeesCollected,
		Paused:             stored.Paused,
		NextEscrowID:       stored.NextEscrowID,
	}, true
}

// BookingPut maps an external booking reference to an escrow id. References
// are unique: remapping an indexed reference fails with ErrBookingExists.
func (m *Manager) BookingPut(ref string, id uint64) error {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return fmt.Errorf("state: booking reference must not be empty")
	}
	if id == 0 {
		return fmt.Errorf("state: booking target id must be non-zero")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bookingKey(trimmed)
	exists, err := m.db.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return ErrBookingExists
	}
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, id)
	return m.db.Put(key, value)
}

// BookingGet resolves a booking reference to its escrow id.
func (m *Manager) BookingGet(ref string) (uint64, bool) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return 0, false
	}
	m.mu.RLock()
	data, err := m.db.Get(bookingKey(trimmed))
	m.mu.RUnlock()
	if err != nil || len(data) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(data), true
}

// BookingDelete drops a booking mapping, used when unwinding a failed
// creation.
func (m *Manager) BookingDelete(ref string) error {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Delete(bookingKey(trimmed))
}
