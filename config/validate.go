package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Validate checks the role addresses and operational limits. Role addresses
// may be empty in a freshly generated file; set ones must parse and must not
// collide where a collision would let one role pay itself.
func Validate(cfg *Config) error {
	roles := map[string]string{
		"Admin":        cfg.Admin,
		"FeeCollector": cfg.FeeCollector,
		"Vault":        cfg.Vault,
		"FeeTreasury":  cfg.FeeTreasury,
	}
	parsed := make(map[string][20]byte, len(roles))
	for name, value := range roles {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if !common.IsHexAddress(value) {
			return fmt.Errorf("config: %s is not a valid hex address", name)
		}
		parsed[name] = common.HexToAddress(value)
	}
	if vault, ok := parsed["Vault"]; ok {
		for _, other := range []string{"FeeCollector", "FeeTreasury"} {
			if addr, ok := parsed[other]; ok && addr == vault {
				return fmt.Errorf("config: Vault must differ from %s", other)
			}
		}
	}
	if treasury, ok := parsed["FeeTreasury"]; ok {
		if collector, ok := parsed["FeeCollector"]; ok && collector == treasury {
			return fmt.Errorf("config: FeeTreasury must differ from FeeCollector")
		}
	}
	if cfg.RateLimitPerMinute < 0 {
		return fmt.Errorf("config: RateLimitPerMinute must not be negative")
	}
	for addr := range cfg.GenesisBalances {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("config: genesis balance key %q is not a valid hex address", addr)
		}
	}
	return nil
}

// Address parses a configured hex address into the engine's address form.
func Address(value string) ([20]byte, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return [20]byte{}, fmt.Errorf("config: %q is not a valid hex address", value)
	}
	return common.HexToAddress(value), nil
}
