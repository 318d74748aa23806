package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	AuditDBPath   string `toml:"AuditDBPath"`

	// RPCToken guards every RPC method; JWTSecret additionally guards the
	// admin surface. Both are required once the service leaves loopback.
	RPCToken  string `toml:"RPCToken"`
	JWTSecret string `toml:"JWTSecret"`

	Admin        string `toml:"Admin"`
	FeeCollector string `toml:"FeeCollector"`
	Vault        string `toml:"Vault"`
	FeeTreasury  string `toml:"FeeTreasury"`

	Environment   string `toml:"Environment"`
	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
	LogMaxAgeDays int    `toml:"LogMaxAgeDays"`

	// RateLimitPerMinute bounds RPC requests per source address. Zero
	// disables limiting.
	RateLimitPerMinute int `toml:"RateLimitPerMinute"`

	// GenesisBalances seeds the settlement ledger on first boot, keyed by
	// hex address in base units.
	GenesisBalances map[string]uint64 `toml:"GenesisBalances"`
}

// Load reads the configuration from path, writing a default file first if
// none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8545"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./escrowd-data"
	}
	if cfg.AuditDBPath == "" {
		cfg.AuditDBPath = filepath.Join(cfg.DataDir, "audit.db")
	}
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.LogMaxSizeMB == 0 {
		cfg.LogMaxSizeMB = 100
	}
	if cfg.GenesisBalances == nil {
		cfg.GenesisBalances = map[string]uint64{}
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
