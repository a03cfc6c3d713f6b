package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/qcnet/warden/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "postgres"
	}
	if cfg.Ledger.Mode == "" {
		cfg.Ledger.Mode = "memory"
	}
	if cfg.Ledger.Timeout == 0 {
		cfg.Ledger.Timeout = Duration(10 * time.Second)
	}
	if cfg.Relay.Mode == "" {
		cfg.Relay.Mode = "memory"
	}
	if cfg.Relay.MinConfirmations == 0 {
		cfg.Relay.MinConfirmations = 6
	}
	if cfg.Relay.Timeout == 0 {
		cfg.Relay.Timeout = Duration(10 * time.Second)
	}
	if cfg.Watchdog.ScanInterval == 0 {
		cfg.Watchdog.ScanInterval = Duration(30 * time.Second)
	}
	if cfg.Watchdog.LockTTL == 0 {
		cfg.Watchdog.LockTTL = Duration(25 * time.Second)
	}

	if cfg.Params.MinMintAmount == 0 {
		cfg.Params.MinMintAmount = 10_000
	}
	if cfg.Params.MaxMintAmount == 0 {
		cfg.Params.MaxMintAmount = 100_000_000_000
	}
	if cfg.Params.RedemptionTimeout == 0 {
		cfg.Params.RedemptionTimeout = Duration(24 * time.Hour)
	}
	if cfg.Params.MinCollateralRatio == 0 {
		cfg.Params.MinCollateralRatio = 100
	}
	if cfg.Params.ReserveStaleness == 0 {
		cfg.Params.ReserveStaleness = Duration(24 * time.Hour)
	}
	if cfg.Params.ConsensusMode == "" {
		cfg.Params.ConsensusMode = string(domain.ConsensusExact)
	}
	if cfg.Params.Quorum == 0 {
		cfg.Params.Quorum = 1
	}
	if cfg.Params.MinAttesters == 0 {
		cfg.Params.MinAttesters = 1
	}
}

// Validate rejects configurations the service cannot safely run with.
func (cfg *AppConfig) Validate() error {
	switch cfg.Storage.Driver {
	case "postgres":
		if cfg.Database.URL == "" {
			return fmt.Errorf("storage driver postgres requires database.url")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	switch cfg.Ledger.Mode {
	case "rpc":
		if cfg.Ledger.URL == "" {
			return fmt.Errorf("ledger mode rpc requires ledger.url")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown ledger mode %q", cfg.Ledger.Mode)
	}

	switch cfg.Relay.Mode {
	case "rpc":
		if cfg.Relay.URL == "" {
			return fmt.Errorf("relay mode rpc requires relay.url")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown relay mode %q", cfg.Relay.Mode)
	}

	if cfg.Params.MinMintAmount > cfg.Params.MaxMintAmount {
		return fmt.Errorf("params.min_mint_amount exceeds params.max_mint_amount")
	}
	if cfg.Params.MinCollateralRatio < 100 {
		return fmt.Errorf("params.min_collateral_ratio must be at least 100")
	}
	switch domain.ConsensusMode(cfg.Params.ConsensusMode) {
	case domain.ConsensusExact, domain.ConsensusMedian:
	default:
		return fmt.Errorf("unknown consensus mode %q", cfg.Params.ConsensusMode)
	}

	return nil
}
