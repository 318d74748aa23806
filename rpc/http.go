package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"escrowd/audit"
	"escrowd/native/escrow"
	"escrowd/native/fees"
	"escrowd/observability/metrics"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowPaused        = -32026
	codeEscrowInternal      = -32025
)

type Server struct {
	engine *escrow.Engine
	audit  *audit.SQLiteStore

	mu           sync.Mutex
	rateLimiters map[string]*rate.Limiter
	ratePerMin   int
	authToken    string
	jwtSecret    []byte
}

// Option configures optional server behaviour.
type Option func(*Server)

// WithAuthToken guards every RPC method behind a bearer token.
func WithAuthToken(token string) Option {
	return func(s *Server) { s.authToken = strings.TrimSpace(token) }
}

// WithJWTSecret additionally guards the admin surface behind an HS256 token
// carrying a role=admin claim.
func WithJWTSecret(secret string) Option {
	return func(s *Server) {
		if secret = strings.TrimSpace(secret); secret != "" {
			s.jwtSecret = []byte(secret)
		}
	}
}

// WithRateLimit bounds requests per source address per minute. Zero disables
// limiting.
func WithRateLimit(perMinute int) Option {
	return func(s *Server) { s.ratePerMin = perMinute }
}

// WithAuditStore exposes the audit log through the query methods.
func WithAuditStore(store *audit.SQLiteStore) Option {
	return func(s *Server) { s.audit = store }
}

func NewServer(engine *escrow.Engine, opts ...Option) *Server {
	s := &Server{
		engine:       engine,
		rateLimiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router assembles the HTTP surface: the JSON-RPC endpoint at the root plus
// the operational health and metrics endpoints.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if !s.allowSource(clientSource(r)) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	switch req.Method {
	case "escrow_create":
		s.authed(w, r, req, s.handleEscrowCreate)
	case "escrow_signRelease":
		s.authed(w, r, req, s.handleEscrowSignRelease)
	case "escrow_refund":
		s.authed(w, r, req, s.handleEscrowRefund)
	case "escrow_raiseDispute":
		s.authed(w, r, req, s.handleEscrowRaiseDispute)
	case "escrow_resolveDispute":
		s.authed(w, r, req, s.handleEscrowResolveDispute)
	case "escrow_emergencyTimeout":
		s.authed(w, r, req, s.handleEscrowEmergencyTimeout)
	case "escrow_canEmergencyTimeout":
		s.handleEscrowCanEmergencyTimeout(w, r, req)
	case "escrow_get":
		s.handleEscrowGet(w, r, req)
	case "escrow_getByBooking":
		s.handleEscrowGetByBooking(w, r, req)
	case "escrow_hasSigned":
		s.handleEscrowHasSigned(w, r, req)
	case "escrow_isAuthorizedSigner":
		s.handleEscrowIsAuthorizedSigner(w, r, req)
	case "fees_withdraw":
		s.authed(w, r, req, s.handleFeesWithdraw)
	case "treasury_status":
		s.handleTreasuryStatus(w, r, req)
	case "admin_updateFeeCollector":
		s.adminAuthed(w, r, req, s.handleAdminUpdateFeeCollector)
	case "admin_transferAdmin":
		s.adminAuthed(w, r, req, s.handleAdminTransferAdmin)
	case "admin_togglePause":
		s.adminAuthed(w, r, req, s.handleAdminTogglePause)
	case "admin_emergencyWithdraw":
		s.adminAuthed(w, r, req, s.handleAdminEmergencyWithdraw)
	case "audit_recent":
		s.handleAuditRecent(w, r, req)
	case "audit_byEscrow":
		s.handleAuditByEscrow(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

type handlerFunc func(http.ResponseWriter, *http.Request, *RPCRequest)

func (s *Server) authed(w http.ResponseWriter, r *http.Request, req *RPCRequest, next handlerFunc) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	next(w, r, req)
}

func (s *Server) adminAuthed(w http.ResponseWriter, r *http.Request, req *RPCRequest, next handlerFunc) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	if authErr := s.requireAdminJWT(r); authErr != nil {
		writeError(w, http.StatusForbidden, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	next(w, r, req)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

// requireAdminJWT verifies the X-Admin-Token header when a JWT secret is
// configured. Without a secret the bearer token alone guards the admin
// surface, which is acceptable only for loopback deployments.
func (s *Server) requireAdminJWT(r *http.Request) *RPCError {
	if len(s.jwtSecret) == 0 {
		return nil
	}
	raw := strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	if raw == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing admin token"}
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return &RPCError{Code: codeUnauthorized, Message: "invalid admin token"}
	}
	if role, _ := claims["role"].(string); role != "admin" {
		return &RPCError{Code: codeUnauthorized, Message: "admin role required"}
	}
	return nil
}

func (s *Server) allowSource(source string) bool {
	if s.ratePerMin <= 0 {
		return true
	}
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	limiter, ok := s.rateLimiters[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(s.ratePerMin)/60.0), s.ratePerMin)
		s.rateLimiters[source] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func observe(method string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.Escrow().ObserveOperation(method, outcome)
}

func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	status := http.StatusInternalServerError
	code := codeEscrowInternal
	message := "internal_error"
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		status = http.StatusNotFound
		code = codeEscrowNotFound
		message = "not_found"
	case errors.Is(err, escrow.ErrUnauthorized):
		status = http.StatusForbidden
		code = codeEscrowForbidden
		message = "forbidden"
	case errors.Is(err, escrow.ErrValidation),
		errors.Is(err, fees.ErrZeroAmount),
		errors.Is(err, fees.ErrTierExceeded),
		errors.Is(err, fees.ErrAmountOverflow):
		status = http.StatusBadRequest
		code = codeEscrowInvalidParams
		message = "invalid_params"
	case errors.Is(err, escrow.ErrInvalidState):
		status = http.StatusConflict
		code = codeEscrowConflict
		message = "conflict"
	case errors.Is(err, escrow.ErrPaused), errors.Is(err, escrow.ErrNotPaused):
		status = http.StatusConflict
		code = codeEscrowPaused
		message = "pause_gate"
	case errors.Is(err, escrow.ErrTransferFailed):
		status = http.StatusConflict
		code = codeEscrowConflict
		message = "transfer_failed"
	}
	writeError(w, status, id, code, message, err.Error())
}
