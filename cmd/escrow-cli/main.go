package main

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

var (
	rpcEndpoint   = defaultRPCEndpoint()
	rpcAuthToken  = os.Getenv("ESCROWD_RPC_TOKEN")
	rpcAdminToken = os.Getenv("ESCROWD_ADMIN_TOKEN")
)

func defaultRPCEndpoint() string {
	if endpoint := strings.TrimSpace(os.Getenv("ESCROWD_RPC_URL")); endpoint != "" {
		return endpoint
	}
	return "http://127.0.0.1:8545"
}

func main() {
	args := os.Args[1:]
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, usage())
		os.Exit(1)
	}
	os.Exit(runCommand(args, os.Stdout, os.Stderr))
}

// applyGlobalFlags strips --rpc <url> (or --rpc=<url>) from anywhere in the
// argument list so it can precede or follow the subcommand.
func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--rpc requires a value")
			}
			i++
			rpcEndpoint = strings.TrimSpace(args[i])
		case strings.HasPrefix(arg, "--rpc="):
			rpcEndpoint = strings.TrimSpace(strings.TrimPrefix(arg, "--rpc="))
		default:
			out = append(out, arg)
		}
	}
	if rpcEndpoint == "" {
		return nil, fmt.Errorf("RPC endpoint must not be empty")
	}
	return out, nil
}

func usage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli [--rpc <url>] <command> [flags]

Commands:
  create    Create a new escrow
  get       Fetch escrow details by id or booking reference
  sign      Add a release signature
  refund    Refund the full deposit to the buyer
  dispute   Raise a dispute
  resolve   Resolve a dispute (admin)
  timeout   Trigger the emergency timeout
  fees      Withdraw accrued platform fees (collector)
  treasury  Show the treasury status
  admin     Administrative operations (pause, rotate, withdraw)

Environment:
  ESCROWD_RPC_URL      RPC endpoint (default http://127.0.0.1:8545)
  ESCROWD_RPC_TOKEN    bearer token for mutating methods
  ESCROWD_ADMIN_TOKEN  JWT for the admin surface
`)
}

func doRPCRequest(body []byte, requireAuth bool) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		if strings.TrimSpace(rpcAuthToken) == "" {
			return nil, fmt.Errorf("ESCROWD_RPC_TOKEN is required for this command")
		}
		req.Header.Set("Authorization", "Bearer "+rpcAuthToken)
	}
	if token := strings.TrimSpace(rpcAdminToken); token != "" {
		req.Header.Set("X-Admin-Token", token)
	}
	client := &http.Client{Timeout: 15 * time.Second}
	return client.Do(req)
}
