// Package config loads engine configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cloaklabs/cloakpay/pkg/payment"
)

// Config is the full engine configuration.
type Config struct {
	// RPCURL is the ledger node's JSON-RPC endpoint.
	RPCURL string `yaml:"rpc_url"`
	// WSURL is the optional websocket endpoint for signature subscriptions.
	WSURL string `yaml:"ws_url"`
	// ProverURL is the validity-proof service endpoint.
	ProverURL string `yaml:"prover_url"`
	// Commitment is the confirmation level to wait for.
	Commitment string `yaml:"commitment"`
	// KeypairPath is the signer keypair file.
	KeypairPath string `yaml:"keypair_path"`
	// DatabaseURL enables the postgres invoice store when set.
	DatabaseURL string `yaml:"database_url"`

	Fees struct {
		Enabled bool   `yaml:"enabled"`
		RateNum uint64 `yaml:"rate_num"`
		RateDen uint64 `yaml:"rate_den"`
		Wallet  string `yaml:"wallet"`
	} `yaml:"fees"`

	FeeReserve          uint64        `yaml:"fee_reserve"`
	SettleDelay         time.Duration `yaml:"settle_delay"`
	RetryBaseDelay      time.Duration `yaml:"retry_base_delay"`
	InterRecipientDelay time.Duration `yaml:"inter_recipient_delay"`
	MaxAttempts         int           `yaml:"max_attempts"`
}

// Default returns the configuration defaults.
func Default() *Config {
	cfg := &Config{
		RPCURL:              "http://localhost:8899",
		ProverURL:           "http://localhost:3001/prove",
		Commitment:          "confirmed",
		FeeReserve:          payment.DefaultFeeReserve,
		SettleDelay:         payment.DefaultSettleDelay,
		RetryBaseDelay:      payment.DefaultRetryBaseDelay,
		InterRecipientDelay: payment.DefaultInterRecipientDelay,
		MaxAttempts:         payment.DefaultMaxAttempts,
	}
	return cfg
}

// Load reads a YAML config file, falling back to defaults when path is
// empty or missing, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overrides file values from the environment.
func applyEnv(cfg *Config) {
	setString(&cfg.RPCURL, "CLOAKPAY_RPC_URL")
	setString(&cfg.WSURL, "CLOAKPAY_WS_URL")
	setString(&cfg.ProverURL, "CLOAKPAY_PROVER_URL")
	setString(&cfg.Commitment, "CLOAKPAY_COMMITMENT")
	setString(&cfg.KeypairPath, "CLOAKPAY_KEYPAIR")
	setString(&cfg.DatabaseURL, "CLOAKPAY_DATABASE_URL")
	setString(&cfg.Fees.Wallet, "CLOAKPAY_FEE_WALLET")
}

func setString(dst *string, key string) {
	if value, ok := os.LookupEnv(key); ok {
		*dst = value
	}
}

// PaymentConfig converts to the payment package's config.
func (c *Config) PaymentConfig() payment.Config {
	return payment.Config{
		FeeReserve:          c.FeeReserve,
		SettleDelay:         c.SettleDelay,
		RetryBaseDelay:      c.RetryBaseDelay,
		InterRecipientDelay: c.InterRecipientDelay,
		MaxAttempts:         c.MaxAttempts,
	}
}
