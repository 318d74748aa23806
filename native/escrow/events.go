package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"escrowd/core/events"
)

const (
	EventTypeCreated             = "escrow.created"
	EventTypeSignatureAdded      = "escrow.signature_added"
	EventTypeReleased            = "escrow.released"
	EventTypeRefunded            = "escrow.refunded"
	EventTypeDisputeRaised       = "escrow.dispute_raised"
	EventTypeDisputeResolved     = "escrow.dispute_resolved"
	EventTypeEmergencyTimeout    = "escrow.emergency_timeout"
	EventTypeFeesWithdrawn       = "escrow.fees_withdrawn"
	EventTypeFeeCollectorUpdated = "escrow.fee_collector_updated"
	EventTypeAdminTransferred    = "escrow.admin_transferred"
	EventTypePauseToggled        = "escrow.pause_toggled"
	EventTypeEmergencyWithdraw   = "escrow.emergency_withdraw"
)

// NewCreatedEvent returns the canonical payload for a newly created escrow,
// carrying every immutable field downstream consumers need to index it.
func NewCreatedEvent(e *Escrow) *events.Event {
	evt := newEscrowEvent(EventTypeCreated, e)
	if e == nil {
		return evt
	}
	evt.Attributes["contractRef"] = e.ContractRef
	if e.BookingRef != "" {
		evt.Attributes["bookingRef"] = e.BookingRef
	}
	evt.Attributes["requiredSignatures"] = strconv.FormatUint(uint64(e.RequiredSignatures), 10)
	evt.Attributes["signers"] = strconv.Itoa(len(e.Signers))
	evt.Attributes["feeTier"] = e.FeeTier
	return evt
}

// NewSignatureAddedEvent returns the payload emitted when a signer approves
// release below the threshold.
func NewSignatureAddedEvent(e *Escrow, signer [20]byte) *events.Event {
	evt := newEscrowEvent(EventTypeSignatureAdded, e)
	evt.Attributes["signer"] = hex.EncodeToString(signer[:])
	if e != nil {
		evt.Attributes["signatureCount"] = strconv.FormatUint(uint64(e.SignatureCount), 10)
		evt.Attributes["requiredSignatures"] = strconv.FormatUint(uint64(e.RequiredSignatures), 10)
	}
	return evt
}

// NewReleasedEvent returns the payload for a release of principal to the
// seller and fee to the collector.
func NewReleasedEvent(e *Escrow) *events.Event { return newEscrowEvent(EventTypeReleased, e) }

// NewRefundedEvent returns the payload for a full deposit refund to the buyer.
func NewRefundedEvent(e *Escrow) *events.Event { return newEscrowEvent(EventTypeRefunded, e) }

// NewDisputeRaisedEvent returns the payload emitted when a party freezes the
// escrow pending arbitration.
func NewDisputeRaisedEvent(e *Escrow, caller [20]byte) *events.Event {
	evt := newEscrowEvent(EventTypeDisputeRaised, e)
	evt.Attributes["raisedBy"] = hex.EncodeToString(caller[:])
	if e != nil {
		evt.Attributes["reason"] = e.DisputeReason
	}
	return evt
}

// NewDisputeResolvedEvent returns the payload emitted when arbitration settles
// a disputed escrow either way.
func NewDisputeResolvedEvent(e *Escrow, favorBuyer bool) *events.Event {
	evt := newEscrowEvent(EventTypeDisputeResolved, e)
	evt.Attributes["favorBuyer"] = strconv.FormatBool(favorBuyer)
	return evt
}

// NewEmergencyTimeoutEvent returns the payload emitted when the long-horizon
// safety valve forces an escrow into arbitration.
func NewEmergencyTimeoutEvent(e *Escrow, caller [20]byte) *events.Event {
	evt := newEscrowEvent(EventTypeEmergencyTimeout, e)
	evt.Attributes["triggeredBy"] = hex.EncodeToString(caller[:])
	return evt
}

// NewEmergencyWithdrawEvent returns the payload for a last-resort admin
// recovery of a stuck escrow's deposit.
func NewEmergencyWithdrawEvent(e *Escrow, recipient [20]byte) *events.Event {
	evt := newEscrowEvent(EventTypeEmergencyWithdraw, e)
	evt.Attributes["recipient"] = hex.EncodeToString(recipient[:])
	return evt
}

// NewFeesWithdrawnEvent returns the payload emitted when the collector drains
// the accumulated platform fees.
func NewFeesWithdrawnEvent(collector [20]byte, amount *big.Int) *events.Event {
	attrs := map[string]string{
		"collector": hex.EncodeToString(collector[:]),
	}
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return &events.Event{Type: EventTypeFeesWithdrawn, Attributes: attrs}
}

// NewFeeCollectorUpdatedEvent returns the payload for a fee-collector rotation.
func NewFeeCollectorUpdatedEvent(previous, next [20]byte) *events.Event {
	return &events.Event{Type: EventTypeFeeCollectorUpdated, Attributes: map[string]string{
		"previous": hex.EncodeToString(previous[:]),
		"next":     hex.EncodeToString(next[:]),
	}}
}

// NewAdminTransferredEvent returns the payload for an admin handover.
func NewAdminTransferredEvent(previous, next [20]byte) *events.Event {
	return &events.Event{Type: EventTypeAdminTransferred, Attributes: map[string]string{
		"previous": hex.EncodeToString(previous[:]),
		"next":     hex.EncodeToString(next[:]),
	}}
}

// NewPauseToggledEvent returns the payload emitted whenever the pause gate
// flips.
func NewPauseToggledEvent(paused bool) *events.Event {
	return &events.Event{Type: EventTypePauseToggled, Attributes: map[string]string{
		"paused": strconv.FormatBool(paused),
	}}
}

func newEscrowEvent(eventType string, e *Escrow) *events.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &events.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(e.ID, 10)
	attrs["buyer"] = hex.EncodeToString(e.Buyer[:])
	attrs["seller"] = hex.EncodeToString(e.Seller[:])
	attrs["principal"] = strconv.FormatUint(e.Principal, 10)
	attrs["platformFee"] = strconv.FormatUint(e.PlatformFee, 10)
	attrs["totalDeposit"] = strconv.FormatUint(e.TotalDeposit, 10)
	attrs["status"] = e.Status.String()
	attrs["createdAt"] = strconv.FormatInt(e.CreatedAt, 10)
	if e.ResolvedAt != 0 {
		attrs["resolvedAt"] = strconv.FormatInt(e.ResolvedAt, 10)
	}
	if e.EmergencyFlag {
		attrs["emergency"] = "true"
	}
	return &events.Event{Type: eventType, Attributes: attrs}
}
