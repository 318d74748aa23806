package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"escrowd/native/escrow"
)

type escrowCreateParams struct {
	Buyer              string   `json:"buyer"`
	Seller             string   `json:"seller"`
	DepositAmount      uint64   `json:"depositAmount"`
	Signers            []string `json:"signers"`
	RequiredSignatures uint32   `json:"requiredSignatures"`
	ContractRef        string   `json:"contractRef"`
	Description        string   `json:"description"`
	BookingRef         string   `json:"bookingRef,omitempty"`
}

type escrowIDParams struct {
	ID uint64 `json:"id"`
}

type escrowActorParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
}

type escrowSignerParams struct {
	ID     uint64 `json:"id"`
	Signer string `json:"signer"`
}

type escrowDisputeParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
	Reason string `json:"reason"`
}

type escrowResolveParams struct {
	ID         uint64 `json:"id"`
	Caller     string `json:"caller"`
	FavorBuyer bool   `json:"favorBuyer"`
}

type escrowBookingParams struct {
	BookingRef string `json:"bookingRef"`
}

type callerParams struct {
	Caller string `json:"caller"`
}

type signOutcomeResult struct {
	SignatureCount     uint32 `json:"signatureCount"`
	RequiredSignatures uint32 `json:"requiredSignatures"`
	Released           bool   `json:"released"`
}

type escrowJSON struct {
	ID                 uint64   `json:"id"`
	Buyer              string   `json:"buyer"`
	Seller             string   `json:"seller"`
	Principal          uint64   `json:"principal"`
	PlatformFee        uint64   `json:"platformFee"`
	TotalDeposit       uint64   `json:"totalDeposit"`
	FeeTier            string   `json:"feeTier"`
	ContractRef        string   `json:"contractRef"`
	Description        string   `json:"description"`
	BookingRef         string   `json:"bookingRef,omitempty"`
	Signers            []string `json:"signers"`
	Signed             []bool   `json:"signed"`
	SignatureCount     uint32   `json:"signatureCount"`
	RequiredSignatures uint32   `json:"requiredSignatures"`
	CreatedAt          int64    `json:"createdAt"`
	ResolvedAt         int64    `json:"resolvedAt,omitempty"`
	Status             string   `json:"status"`
	EmergencyFlag      bool     `json:"emergencyFlag,omitempty"`
	DisputeReason      string   `json:"disputeReason,omitempty"`
}

type treasuryStatusResult struct {
	Admin              string `json:"admin"`
	FeeCollector       string `json:"feeCollector"`
	TotalFeesCollected string `json:"totalFeesCollected"`
	Paused             bool   `json:"paused"`
	NextEscrowID       uint64 `json:"nextEscrowId"`
}

func parseHexAddress(value string) ([20]byte, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return [20]byte{}, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(value), nil
}

func formatAddress(addr [20]byte) string {
	return common.Address(addr).Hex()
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func formatEscrowJSON(esc *escrow.Escrow) escrowJSON {
	signers := make([]string, len(esc.Signers))
	for i := range esc.Signers {
		signers[i] = formatAddress(esc.Signers[i])
	}
	return escrowJSON{
		ID:                 esc.ID,
		Buyer:              formatAddress(esc.Buyer),
		Seller:             formatAddress(esc.Seller),
		Principal:          esc.Principal,
		PlatformFee:        esc.PlatformFee,
		TotalDeposit:       esc.TotalDeposit,
		FeeTier:            esc.FeeTier,
		ContractRef:        esc.ContractRef,
		Description:        esc.Description,
		BookingRef:         esc.BookingRef,
		Signers:            signers,
		Signed:             append([]bool(nil), esc.Signed...),
		SignatureCount:     esc.SignatureCount,
		RequiredSignatures: esc.RequiredSignatures,
		CreatedAt:          esc.CreatedAt,
		ResolvedAt:         esc.ResolvedAt,
		Status:             esc.Status.String(),
		EmergencyFlag:      esc.EmergencyFlag,
		DisputeReason:      esc.DisputeReason,
	}
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowCreateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	buyer, err := parseHexAddress(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	seller, err := parseHexAddress(params.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	signers := make([][20]byte, 0, len(params.Signers))
	for _, raw := range params.Signers {
		signer, parseErr := parseHexAddress(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", parseErr.Error())
			return
		}
		signers = append(signers, signer)
	}
	esc, err := s.engine.Create(escrow.CreateInput{
		Buyer:              buyer,
		Seller:             seller,
		DepositAmount:      params.DepositAmount,
		Signers:            signers,
		RequiredSignatures: params.RequiredSignatures,
		ContractRef:        params.ContractRef,
		Description:        params.Description,
		BookingRef:         params.BookingRef,
	})
	observe("escrow_create", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

func (s *Server) handleEscrowSignRelease(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowSignerParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	signer, err := parseHexAddress(params.Signer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	outcome, err := s.engine.SignRelease(params.ID, signer)
	observe("escrow_signRelease", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, signOutcomeResult{
		SignatureCount:     outcome.SignatureCount,
		RequiredSignatures: outcome.RequiredSignatures,
		Released:           outcome.Released,
	})
}

func (s *Server) handleEscrowRefund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseHexAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	err = s.engine.Refund(params.ID, caller)
	observe("escrow_refund", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleEscrowRaiseDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowDisputeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseHexAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	err = s.engine.RaiseDispute(params.ID, caller, params.Reason)
	observe("escrow_raiseDispute", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleEscrowResolveDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowResolveParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseHexAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	err = s.engine.ResolveDispute(params.ID, caller, params.FavorBuyer)
	observe("escrow_resolveDispute", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleEscrowEmergencyTimeout(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseHexAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	err = s.engine.EmergencyTimeout(params.ID, caller)
	observe("escrow_emergencyTimeout", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleEscrowCanEmergencyTimeout(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	eligible, err := s.engine.CanEmergencyTimeout(params.ID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"eligible": eligible})
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	esc, err := s.engine.Get(params.ID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

func (s *Server) handleEscrowGetByBooking(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowBookingParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	esc, err := s.engine.GetByBooking(params.BookingRef)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

func (s *Server) handleEscrowHasSigned(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowSignerParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	signer, err := parseHexAddress(params.Signer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	signed, err := s.engine.HasSigned(params.ID, signer)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"signed": signed})
}

func (s *Server) handleEscrowIsAuthorizedSigner(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowSignerParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	signer, err := parseHexAddress(params.Signer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	authorized, err := s.engine.IsAuthorizedSigner(params.ID, signer)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"authorized": authorized})
}

func (s *Server) handleFeesWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params callerParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseHexAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := s.engine.WithdrawFees(caller)
	observe("fees_withdraw", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"amount": amount.String()})
}

func (s *Server) handleTreasuryStatus(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	cfg, err := s.engine.TreasuryStatus()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, treasuryStatusResult{
		Admin:              formatAddress(cfg.Admin),
		FeeCollector:       formatAddress(cfg.FeeCollector),
		TotalFeesCollected: cfg.TotalFeesCollected.String(),
		Paused:             cfg.Paused,
		NextEscrowID:       cfg.NextEscrowID,
	})
}
