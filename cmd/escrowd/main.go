package main

import (
	"context"
	"flag"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"escrowd/audit"
	"escrowd/config"
	"escrowd/core/events"
	"escrowd/core/state"
	"escrowd/native/bank"
	"escrowd/native/escrow"
	"escrowd/observability/logging"
	"escrowd/rpc"
	"escrowd/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./escrowd.toml", "path to escrowd configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		// Logging is not configured yet; fall back to stderr.
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.Setup("escrowd", cfg.Environment, logging.FileConfig{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	admin, err := config.Address(cfg.Admin)
	if err != nil {
		logger.Error("parse admin address", "error", err)
		os.Exit(1)
	}
	collector, err := config.Address(cfg.FeeCollector)
	if err != nil {
		logger.Error("parse fee collector address", "error", err)
		os.Exit(1)
	}
	vault, err := config.Address(cfg.Vault)
	if err != nil {
		logger.Error("parse vault address", "error", err)
		os.Exit(1)
	}
	treasury, err := config.Address(cfg.FeeTreasury)
	if err != nil {
		logger.Error("parse fee treasury address", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("create data dir", "error", err)
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Error("open ledger database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	auditStore, err := audit.NewSQLiteStore(cfg.AuditDBPath)
	if err != nil {
		logger.Error("open audit database", "error", err)
		os.Exit(1)
	}
	defer auditStore.Close()

	ledger := bank.NewLedger()
	for addr, balance := range cfg.GenesisBalances {
		parsed, parseErr := config.Address(addr)
		if parseErr != nil {
			logger.Error("parse genesis address", "address", addr, "error", parseErr)
			os.Exit(1)
		}
		if err := ledger.Mint(parsed, new(big.Int).SetUint64(balance)); err != nil {
			logger.Error("mint genesis balance", "address", addr, "error", err)
			os.Exit(1)
		}
	}

	engine := escrow.NewEngine()
	engine.SetState(state.NewManager(db))
	engine.SetSettlement(ledger)
	engine.SetVault(vault)
	engine.SetFeeTreasury(treasury)
	engine.SetEmitter(events.NewMultiEmitter(auditStore, events.NewLogEmitter(logger)))
	if err := engine.Bootstrap(admin, collector); err != nil {
		logger.Error("bootstrap treasury", "error", err)
		os.Exit(1)
	}

	server := rpc.NewServer(engine,
		rpc.WithAuthToken(cfg.RPCToken),
		rpc.WithJWTSecret(cfg.JWTSecret),
		rpc.WithRateLimit(cfg.RateLimitPerMinute),
		rpc.WithAuditStore(auditStore),
	)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if strings.TrimSpace(cfg.RPCToken) == "" {
		logger.Warn("RPC token not configured; mutating methods will reject every request")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		logger.Error("listen", "address", cfg.ListenAddress, "error", err)
		os.Exit(1)
	}
	go func() {
		logger.Info("escrowd listening", "address", listener.Addr().String())
		if serveErr := httpServer.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("serve", "error", serveErr)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("escrowd stopped")
}
