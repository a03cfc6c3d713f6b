package config

import (
	"fmt"
	"time"

	"github.com/qcnet/warden/internal/core/domain"
	redisclient "github.com/qcnet/warden/internal/infra/redis"
	"github.com/qcnet/warden/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Storage  StorageConfig      `yaml:"storage"`
	Database postgres.Config    `yaml:"database"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Ledger   LedgerConfig       `yaml:"ledger"`
	Relay    RelayConfig        `yaml:"relay"`
	Watchdog WatchdogConfig     `yaml:"watchdog"`
	Auth     AuthConfig         `yaml:"auth"`
	Params   ParamsConfig       `yaml:"params"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // postgres, memory
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// LedgerConfig holds asset-ledger client settings.
type LedgerConfig struct {
	Mode    string   `yaml:"mode"` // rpc, memory
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"`
}

// RelayConfig holds settlement-relay (proof verifier) client settings.
type RelayConfig struct {
	Mode             string   `yaml:"mode"` // rpc, memory
	URL              string   `yaml:"url"`
	User             string   `yaml:"user"`
	Password         string   `yaml:"password"`
	MinConfirmations uint64   `yaml:"min_confirmations"`
	Timeout          Duration `yaml:"timeout"`
}

// WatchdogConfig holds the collateralization scan loop settings.
type WatchdogConfig struct {
	Enabled      bool     `yaml:"enabled"`
	ScanInterval Duration `yaml:"scan_interval"`
	LockTTL      Duration `yaml:"lock_ttl"`
}

// AuthConfig lists the accounts granted each role.
type AuthConfig struct {
	Governance []string `yaml:"governance"`
	Arbiters   []string `yaml:"arbiters"`
	Attesters  []string `yaml:"attesters"`
}

// ParamsConfig seeds the system parameter record on first start. Once the
// record exists, runtime updates go through the governance operations and
// these values are ignored.
type ParamsConfig struct {
	MinMintAmount               uint64   `yaml:"min_mint_amount"`
	MaxMintAmount               uint64   `yaml:"max_mint_amount"`
	RedemptionTimeout           Duration `yaml:"redemption_timeout"`
	MinCollateralRatio          uint64   `yaml:"min_collateral_ratio"`
	ReserveStaleness            Duration `yaml:"reserve_staleness"`
	ConsensusMode               string   `yaml:"consensus_mode"`
	Quorum                      int      `yaml:"quorum"`
	MinAttesters                int      `yaml:"min_attesters"`
	BlockFulfillmentUnderReview bool     `yaml:"block_fulfillment_under_review"`
}

// SystemParams converts the seed values to a domain record.
func (p ParamsConfig) SystemParams() domain.SystemParams {
	return domain.SystemParams{
		MinMintAmount:               p.MinMintAmount,
		MaxMintAmount:               p.MaxMintAmount,
		RedemptionTimeout:           p.RedemptionTimeout.Std(),
		MinCollateralRatio:          p.MinCollateralRatio,
		ReserveStaleness:            p.ReserveStaleness.Std(),
		ConsensusMode:               domain.ConsensusMode(p.ConsensusMode),
		Quorum:                      p.Quorum,
		MinAttesters:                p.MinAttesters,
		BlockFulfillmentUnderReview: p.BlockFulfillmentUnderReview,
	}
}

// Duration parses human-readable YAML values ("30s", "24h") into a
// time.Duration. yaml.v2 only accepts raw nanosecond integers for
// time.Duration fields, which nobody wants to write in a config file.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
