package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	SourceChain SourceChainConfig `yaml:"sourceChain"`
	DestChain   DestChainConfig   `yaml:"destChain"`
	Curve       CurveConfig       `yaml:"curve"`
	Treasury    TreasuryConfig    `yaml:"treasury"`
	Relay       RelayConfig       `yaml:"relay"`
	Access      AccessConfig      `yaml:"access"`
	CORS        CORSConfig        `yaml:"cors"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	URL           string `yaml:"url"`
	Timeout       int    `yaml:"timeout"`
	ReconnectWait int    `yaml:"reconnect_wait"`
	MaxReconnects int    `yaml:"max_reconnects"`
}

// SourceChainConfig source ledger (Solana) endpoints
type SourceChainConfig struct {
	RPCURL         string `yaml:"rpcUrl"`
	WSURL          string `yaml:"wsUrl"`
	TreasuryPubkey string `yaml:"treasuryPubkey"` // watched deposit account
	Commitment     string `yaml:"commitment"`
	Timeout        int    `yaml:"timeout"` // request timeout (seconds)
}

// DestChainConfig destination ledger (EVM) endpoint and signer
type DestChainConfig struct {
	RPCURL         string `yaml:"rpcUrl"`
	ChainID        int64  `yaml:"chainId"`
	MintContract   string `yaml:"mintContract"`
	PrivateKey     string `yaml:"privateKey"` // hex, without 0x prefix
	GasLimit       uint64 `yaml:"gasLimit"`
	Timeout        int    `yaml:"timeout"`
	ConfirmPolls   int    `yaml:"confirmPolls"`   // receipt poll attempts
	ConfirmDelay   int    `yaml:"confirmDelay"`   // seconds between polls
	LookbackBlocks uint64 `yaml:"lookbackBlocks"` // reference scan window on restart
}

// CurveConfig linear bonding curve parameters.
// Slope and basePrice are micro-lamports per token base unit (PriceScale fixed point).
type CurveConfig struct {
	Slope         uint64 `yaml:"slope"`
	BasePrice     uint64 `yaml:"basePrice"`
	InitialSupply uint64 `yaml:"initialSupply"` // token base units, used when no state row exists
}

// TreasuryConfig withdrawal governor and capacity model parameters
type TreasuryConfig struct {
	BaseCapLamports      uint64 `yaml:"baseCapLamports"`      // ascesis base capacity
	MaxScarMultiplier    uint64 `yaml:"maxScarMultiplier"`    // milli-units, 5000 = 5x
	MaxEfficiency        uint64 `yaml:"maxEfficiency"`        // milli-units, 2500 = 2.5x
	MinStakeDays         int    `yaml:"minStakeDays"`         // heritage eligibility gate
	MaxDailyWithdrawal   uint64 `yaml:"maxDailyWithdrawal"`   // lamports, global per day
	RateLimitWindow      int    `yaml:"rateLimitWindow"`      // seconds between withdrawals per actor
	HardCapPerRequest    uint64 `yaml:"hardCapPerRequest"`    // lamports, per-request wallet cap
	ReserveFloorLamports uint64 `yaml:"reserveFloorLamports"` // treasury must keep at least this much
	BaseExchangeRate     uint64 `yaml:"baseExchangeRate"`     // token base units burned per lamport withdrawn
}

// RelayConfig bridge relay behaviour
type RelayConfig struct {
	PricingMode    string `yaml:"pricingMode"`  // "fixed" or "curve"
	ExchangeRate   uint64 `yaml:"exchangeRate"` // token base units minted per lamport deposited
	Workers        int    `yaml:"workers"`
	MaxRetries     int    `yaml:"maxRetries"`
	RetryBaseDelay int    `yaml:"retryBaseDelay"` // seconds, doubled per attempt
	CatchupLimit   int    `yaml:"catchupLimit"`   // max signatures fetched per catch-up scan
}

// AccessConfig domain gate configuration
type AccessConfig struct {
	ResonanceThreshold uint64 `yaml:"resonanceThreshold"` // ASCESIS gate
	MarketStakeDays    int    `yaml:"marketStakeDays"`    // MARKET gate
	Bypass             bool   `yaml:"bypass"`             // unlock everything (testing mode)
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

var AppConfig *Config

// LoadConfig loads the yaml configuration file and applies env overrides.
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg := defaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		// no config file, run on defaults + env
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validateConfig(cfg); err != nil {
		return err
	}

	AppConfig = cfg
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		NATS:   NATSConfig{Timeout: 10, ReconnectWait: 5, MaxReconnects: -1},
		SourceChain: SourceChainConfig{
			RPCURL:     "https://api.mainnet-beta.solana.com",
			WSURL:      "wss://api.mainnet-beta.solana.com",
			Commitment: "confirmed",
			Timeout:    15,
		},
		DestChain: DestChainConfig{
			GasLimit:       200_000,
			Timeout:        15,
			ConfirmPolls:   10,
			ConfirmDelay:   3,
			LookbackBlocks: 5_000,
		},
		Curve: CurveConfig{
			Slope:         100_000_000, // 100 lamports per token per token
			BasePrice:     0,
			InitialSupply: 5_000_000,
		},
		Treasury: TreasuryConfig{
			BaseCapLamports:      50_000_000, // 0.05 SOL
			MaxScarMultiplier:    5_000,
			MaxEfficiency:        2_500,
			MinStakeDays:         14,
			MaxDailyWithdrawal:   10_000_000_000_000, // 10,000 SOL
			RateLimitWindow:      3_600,
			HardCapPerRequest:    250_000_000, // 0.25 SOL
			ReserveFloorLamports: 5_000_000_000,
			BaseExchangeRate:     100_000,
		},
		Relay: RelayConfig{
			PricingMode:    "fixed",
			ExchangeRate:   100_000,
			Workers:        4,
			MaxRetries:     5,
			RetryBaseDelay: 2,
			CatchupLimit:   1_000,
		},
		Access: AccessConfig{
			ResonanceThreshold: 1_000,
			MarketStakeDays:    7,
			Bypass:             false,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("SOURCE_RPC_URL"); v != "" {
		cfg.SourceChain.RPCURL = v
	}
	if v := os.Getenv("SOURCE_WS_URL"); v != "" {
		cfg.SourceChain.WSURL = v
	}
	if v := os.Getenv("TREASURY_PUBKEY"); v != "" {
		cfg.SourceChain.TreasuryPubkey = v
	}
	if v := os.Getenv("DEST_RPC_URL"); v != "" {
		cfg.DestChain.RPCURL = v
	}
	if v := os.Getenv("DEST_PRIVATE_KEY"); v != "" {
		cfg.DestChain.PrivateKey = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Treasury.RateLimitWindow <= 0 {
		return fmt.Errorf("treasury rateLimitWindow must be positive")
	}
	if cfg.Treasury.MaxDailyWithdrawal == 0 {
		return fmt.Errorf("treasury maxDailyWithdrawal must be positive")
	}
	if cfg.Relay.PricingMode != "fixed" && cfg.Relay.PricingMode != "curve" {
		return fmt.Errorf("relay pricingMode must be \"fixed\" or \"curve\", got %q", cfg.Relay.PricingMode)
	}
	if cfg.Relay.Workers <= 0 {
		return fmt.Errorf("relay workers must be positive")
	}
	return nil
}

// GetServerAddr returns the host:port the HTTP server binds to.
func GetServerAddr() string {
	if AppConfig == nil {
		return "0.0.0.0:8080"
	}
	return fmt.Sprintf("%s:%d", AppConfig.Server.Host, AppConfig.Server.Port)
}

// RequestTimeout returns the source chain request timeout.
func (c SourceChainConfig) RequestTimeout() time.Duration {
	if c.Timeout <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

// RequestTimeout returns the destination chain request timeout.
func (c DestChainConfig) RequestTimeout() time.Duration {
	if c.Timeout <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

// Window returns the per-actor cooldown as a duration.
func (c TreasuryConfig) Window() time.Duration {
	return time.Duration(c.RateLimitWindow) * time.Second
}
