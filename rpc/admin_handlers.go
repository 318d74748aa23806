package rpc

import (
	"context"
	"net/http"
)

type adminRotateParams struct {
	Caller string `json:"caller"`
	Next   string `json:"next"`
}

type adminWithdrawParams struct {
	ID        uint64 `json:"id"`
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
}

type auditQueryParams struct {
	Limit int    `json:"limit,omitempty"`
	ID    uint64 `json:"id,omitempty"`
}

func (s *Server) handleAdminUpdateFeeCollector(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params adminRotateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseHexAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	next, err := parseHexAddress(params.Next)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	err = s.engine.UpdateFeeCollector(caller, next)
	observe("admin_updateFeeCollector", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleAdminTransferAdmin(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params adminRotateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseHexAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	next, err := parseHexAddress(params.Next)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	err = s.engine.TransferAdmin(caller, next)
	observe("admin_transferAdmin", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleAdminTogglePause(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
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
	paused, err := s.engine.TogglePause(caller)
	observe("admin_togglePause", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"paused": paused})
}

func (s *Server) handleAdminEmergencyWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params adminWithdrawParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseHexAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	recipient, err := parseHexAddress(params.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	err = s.engine.EmergencyAdminWithdraw(params.ID, caller, recipient)
	observe("admin_emergencyWithdraw", err)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, req.ID, codeServerError, "audit store not configured", nil)
		return
	}
	params := auditQueryParams{}
	if len(req.Params) == 1 {
		if err := decodeSingleParam(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	entries, err := s.audit.Recent(context.Background(), params.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "audit query failed", err.Error())
		return
	}
	writeResult(w, req.ID, entries)
}

func (s *Server) handleAuditByEscrow(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, req.ID, codeServerError, "audit store not configured", nil)
		return
	}
	var params auditQueryParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	entries, err := s.audit.ByEscrow(context.Background(), params.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "audit query failed", err.Error())
		return
	}
	writeResult(w, req.ID, entries)
}
