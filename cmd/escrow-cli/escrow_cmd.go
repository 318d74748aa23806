package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
)

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

var escrowRPCCall = callEscrowRPC

func runCommand(args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "create":
		return runCreate(args[1:], stdout, stderr)
	case "get":
		return runGet(args[1:], stdout, stderr)
	case "sign":
		return runSign(args[1:], stdout, stderr)
	case "refund":
		return runRefund(args[1:], stdout, stderr)
	case "dispute":
		return runDispute(args[1:], stdout, stderr)
	case "resolve":
		return runResolve(args[1:], stdout, stderr)
	case "timeout":
		return runTimeout(args[1:], stdout, stderr)
	case "fees":
		return runFees(args[1:], stdout, stderr)
	case "treasury":
		return runTreasury(args[1:], stdout, stderr)
	case "admin":
		return runAdmin(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func runCreate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("create", stderr)
	var (
		buyer       string
		seller      string
		deposit     uint64
		signersCSV  string
		required    uint
		contractRef string
		description string
		bookingRef  string
	)
	fs.StringVar(&buyer, "buyer", "", "buyer hex address")
	fs.StringVar(&seller, "seller", "", "seller hex address")
	fs.Uint64Var(&deposit, "deposit", 0, "gross deposit in base units")
	fs.StringVar(&signersCSV, "signers", "", "comma-separated signer addresses")
	fs.UintVar(&required, "required", 0, "signature threshold")
	fs.StringVar(&contractRef, "contract", "", "contract reference")
	fs.StringVar(&description, "description", "", "human-readable description")
	fs.StringVar(&bookingRef, "booking", "", "optional external booking reference")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if buyer == "" {
		return printCmdError(stderr, "--buyer is required")
	}
	if seller == "" {
		return printCmdError(stderr, "--seller is required")
	}
	if deposit == 0 {
		return printCmdError(stderr, "--deposit is required")
	}
	if signersCSV == "" {
		return printCmdError(stderr, "--signers is required")
	}
	signers := []string{}
	for _, signer := range strings.Split(signersCSV, ",") {
		if signer = strings.TrimSpace(signer); signer != "" {
			signers = append(signers, signer)
		}
	}
	params := map[string]interface{}{
		"buyer":              buyer,
		"seller":             seller,
		"depositAmount":      deposit,
		"signers":            signers,
		"requiredSignatures": required,
		"contractRef":        contractRef,
		"description":        description,
	}
	if bookingRef != "" {
		params["bookingRef"] = bookingRef
	}
	return invoke(stdout, stderr, "escrow_create", params, true)
}

func runGet(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("get", stderr)
	var (
		id      uint64
		booking string
	)
	fs.Uint64Var(&id, "id", 0, "escrow id")
	fs.StringVar(&booking, "booking", "", "booking reference")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == 0 && booking == "" {
		return printCmdError(stderr, "--id or --booking is required")
	}
	if booking != "" {
		return invoke(stdout, stderr, "escrow_getByBooking", map[string]interface{}{"bookingRef": booking}, false)
	}
	return invoke(stdout, stderr, "escrow_get", map[string]interface{}{"id": id}, false)
}

func runSign(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("sign", stderr)
	var (
		id     uint64
		signer string
	)
	fs.Uint64Var(&id, "id", 0, "escrow id")
	fs.StringVar(&signer, "signer", "", "signer hex address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == 0 {
		return printCmdError(stderr, "--id is required")
	}
	if signer == "" {
		return printCmdError(stderr, "--signer is required")
	}
	return invoke(stdout, stderr, "escrow_signRelease", map[string]interface{}{"id": id, "signer": signer}, true)
}

func runRefund(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("refund", stderr)
	var (
		id     uint64
		caller string
	)
	fs.Uint64Var(&id, "id", 0, "escrow id")
	fs.StringVar(&caller, "caller", "", "seller or admin hex address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == 0 {
		return printCmdError(stderr, "--id is required")
	}
	if caller == "" {
		return printCmdError(stderr, "--caller is required")
	}
	return invoke(stdout, stderr, "escrow_refund", map[string]interface{}{"id": id, "caller": caller}, true)
}

func runDispute(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("dispute", stderr)
	var (
		id     uint64
		caller string
		reason string
	)
	fs.Uint64Var(&id, "id", 0, "escrow id")
	fs.StringVar(&caller, "caller", "", "buyer or seller hex address")
	fs.StringVar(&reason, "reason", "", "dispute reason")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == 0 {
		return printCmdError(stderr, "--id is required")
	}
	if caller == "" {
		return printCmdError(stderr, "--caller is required")
	}
	if strings.TrimSpace(reason) == "" {
		return printCmdError(stderr, "--reason is required")
	}
	return invoke(stdout, stderr, "escrow_raiseDispute", map[string]interface{}{"id": id, "caller": caller, "reason": reason}, true)
}

func runResolve(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("resolve", stderr)
	var (
		id         uint64
		caller     string
		favorBuyer bool
	)
	fs.Uint64Var(&id, "id", 0, "escrow id")
	fs.StringVar(&caller, "caller", "", "admin hex address")
	fs.BoolVar(&favorBuyer, "favor-buyer", false, "refund the buyer instead of releasing to the seller")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == 0 {
		return printCmdError(stderr, "--id is required")
	}
	if caller == "" {
		return printCmdError(stderr, "--caller is required")
	}
	return invoke(stdout, stderr, "escrow_resolveDispute", map[string]interface{}{"id": id, "caller": caller, "favorBuyer": favorBuyer}, true)
}

func runTimeout(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("timeout", stderr)
	var (
		id     uint64
		caller string
		check  bool
	)
	fs.Uint64Var(&id, "id", 0, "escrow id")
	fs.StringVar(&caller, "caller", "", "buyer or seller hex address")
	fs.BoolVar(&check, "check", false, "only report eligibility without triggering")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == 0 {
		return printCmdError(stderr, "--id is required")
	}
	if check {
		return invoke(stdout, stderr, "escrow_canEmergencyTimeout", map[string]interface{}{"id": id}, false)
	}
	if caller == "" {
		return printCmdError(stderr, "--caller is required")
	}
	return invoke(stdout, stderr, "escrow_emergencyTimeout", map[string]interface{}{"id": id, "caller": caller}, true)
}

func runFees(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("fees", stderr)
	var caller string
	fs.StringVar(&caller, "caller", "", "fee collector hex address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if caller == "" {
		return printCmdError(stderr, "--caller is required")
	}
	return invoke(stdout, stderr, "fees_withdraw", map[string]interface{}{"caller": caller}, true)
}

func runTreasury(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("treasury", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	return invoke(stdout, stderr, "treasury_status", nil, false)
}

func runAdmin(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, adminUsage())
		return 1
	}
	switch args[0] {
	case "pause":
		fs := newFlagSet("admin pause", stderr)
		var caller string
		fs.StringVar(&caller, "caller", "", "admin hex address")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		if caller == "" {
			return printCmdError(stderr, "--caller is required")
		}
		return invoke(stdout, stderr, "admin_togglePause", map[string]interface{}{"caller": caller}, true)
	case "set-collector":
		return runAdminRotate(args[1:], stdout, stderr, "admin set-collector", "admin_updateFeeCollector")
	case "transfer":
		return runAdminRotate(args[1:], stdout, stderr, "admin transfer", "admin_transferAdmin")
	case "withdraw":
		fs := newFlagSet("admin withdraw", stderr)
		var (
			id        uint64
			caller    string
			recipient string
		)
		fs.Uint64Var(&id, "id", 0, "escrow id")
		fs.StringVar(&caller, "caller", "", "admin hex address")
		fs.StringVar(&recipient, "recipient", "", "recipient hex address")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		if id == 0 {
			return printCmdError(stderr, "--id is required")
		}
		if caller == "" || recipient == "" {
			return printCmdError(stderr, "--caller and --recipient are required")
		}
		return invoke(stdout, stderr, "admin_emergencyWithdraw", map[string]interface{}{"id": id, "caller": caller, "recipient": recipient}, true)
	default:
		fmt.Fprintf(stderr, "Unknown admin subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, adminUsage())
		return 1
	}
}

func runAdminRotate(args []string, stdout, stderr io.Writer, name, method string) int {
	fs := newFlagSet(name, stderr)
	var (
		caller string
		next   string
	)
	fs.StringVar(&caller, "caller", "", "current admin hex address")
	fs.StringVar(&next, "next", "", "replacement hex address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if caller == "" || next == "" {
		return printCmdError(stderr, "--caller and --next are required")
	}
	return invoke(stdout, stderr, method, map[string]interface{}{"caller": caller, "next": next}, true)
}

func adminUsage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli admin <command> [flags]

Commands:
  pause          Toggle the global pause gate
  set-collector  Rotate the fee collector identity
  transfer       Hand the admin role to a new identity
  withdraw       Emergency withdrawal of a stuck escrow (paused only)
`)
}

func invoke(stdout, stderr io.Writer, method string, params interface{}, requireAuth bool) int {
	result, rpcErr, err := escrowRPCCall(method, params, requireAuth)
	if err != nil {
		fmt.Fprintf(stderr, "RPC call failed: %v\n", err)
		return 1
	}
	if rpcErr != nil {
		fmt.Fprintf(stderr, "RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		return 1
	}
	writeRPCResult(stdout, result)
	return 0
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printCmdError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func writeRPCResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "null")
		return
	}
	if _, err := w.Write(result); err == nil {
		if result[len(result)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
}

func callEscrowRPC(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	resp, err := doRPCRequest(body, requireAuth)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response: %w", err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}
