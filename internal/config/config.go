package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for CastStrike.
type Config struct {
	General General       `yaml:"general"`
	Chain   Chain         `yaml:"chain"`
	Feed    Feed          `yaml:"feed"`
	Sniper  Sniper        `yaml:"sniper"`
	Buyer   Buyer         `yaml:"buyer"`
	Wallets WalletWatch   `yaml:"wallet_watch"`
	AutoMon []AutoMonitor `yaml:"auto_monitor"`
}

type General struct {
	InstanceID string `yaml:"instance_id"`
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // json|text
}

type Chain struct {
	Endpoint      string  `yaml:"endpoint"`
	WSEndpoint    string  `yaml:"ws_endpoint"`
	WalletAddress string  `yaml:"wallet_address"`
	TimeoutS      int     `yaml:"timeout_s"`
	MaxRetries    int     `yaml:"max_retries"`
	RateLimitRPS  float64 `yaml:"rate_limit_rps"`
	ReceiptWaitS  int     `yaml:"receipt_wait_s"`
	ReceiptPollS  int     `yaml:"receipt_poll_s"`
}

type Feed struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type Sniper struct {
	CheckIntervalS      int     `yaml:"check_interval_s"`
	DefaultBuyAmountEth float64 `yaml:"default_buy_amount_eth"`
	MaxSlippagePct      float64 `yaml:"max_slippage_pct"`
	AutoStart           bool    `yaml:"auto_start"`
}

type Buyer struct {
	GasLimit            uint64  `yaml:"gas_limit"`
	PrimaryTargetEth    float64 `yaml:"primary_target_eth"`
	SecondaryTargetUSDC float64 `yaml:"secondary_target_usdc"`
}

type WalletWatch struct {
	BlockWindow   uint64          `yaml:"block_window"`
	ScanIntervalS int             `yaml:"scan_interval_s"`
	Wallets       []WatchedWallet `yaml:"wallets"`
}

type WatchedWallet struct {
	Address      string  `yaml:"address"`
	BuyAmountEth float64 `yaml:"buy_amount_eth"`
	SlippagePct  float64 `yaml:"slippage_pct"`
	Description  string  `yaml:"description"`
}

// AutoMonitor is an identity pre-added to the watchlist at startup.
type AutoMonitor struct {
	Identity     string  `yaml:"identity"` // username or numeric FID
	BuyAmountEth float64 `yaml:"buy_amount_eth"`
	SlippagePct  float64 `yaml:"slippage_pct"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply defaults
	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "caststrike-1"
	}
	if cfg.General.ListenAddr == "" {
		cfg.General.ListenAddr = ":8085"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.Chain.Endpoint == "" {
		cfg.Chain.Endpoint = "https://mainnet.base.org"
	}
	if cfg.Chain.TimeoutS == 0 {
		cfg.Chain.TimeoutS = 10
	}
	if cfg.Chain.MaxRetries == 0 {
		cfg.Chain.MaxRetries = 3
	}
	if cfg.Chain.RateLimitRPS == 0 {
		cfg.Chain.RateLimitRPS = 10
	}
	if cfg.Chain.ReceiptWaitS == 0 {
		cfg.Chain.ReceiptWaitS = 90
	}
	if cfg.Chain.ReceiptPollS == 0 {
		cfg.Chain.ReceiptPollS = 2
	}
	if cfg.Feed.BaseURL == "" {
		cfg.Feed.BaseURL = "https://api.neynar.com/v2/farcaster"
	}
	if cfg.Sniper.CheckIntervalS == 0 {
		cfg.Sniper.CheckIntervalS = 30
	}
	if cfg.Sniper.DefaultBuyAmountEth == 0 {
		cfg.Sniper.DefaultBuyAmountEth = 0.01
	}
	if cfg.Sniper.MaxSlippagePct == 0 {
		cfg.Sniper.MaxSlippagePct = 15
	}
	if cfg.Buyer.GasLimit == 0 {
		cfg.Buyer.GasLimit = 500_000
	}
	if cfg.Buyer.PrimaryTargetEth == 0 {
		cfg.Buyer.PrimaryTargetEth = 0.035
	}
	if cfg.Buyer.SecondaryTargetUSDC == 0 {
		cfg.Buyer.SecondaryTargetUSDC = 100
	}
	if cfg.Wallets.BlockWindow == 0 {
		cfg.Wallets.BlockWindow = 100
	}
	if cfg.Wallets.ScanIntervalS == 0 {
		cfg.Wallets.ScanIntervalS = 30
	}
}

// Validate rejects configurations the process cannot run with. A missing
// feed API key or wallet address is fatal at startup, not at first use.
func (cfg *Config) Validate() error {
	if cfg.Feed.APIKey == "" {
		return fmt.Errorf("feed.api_key is required")
	}
	if cfg.Chain.WalletAddress == "" {
		return fmt.Errorf("chain.wallet_address is required")
	}
	if cfg.Sniper.MaxSlippagePct < 0 || cfg.Sniper.MaxSlippagePct > 100 {
		return fmt.Errorf("sniper.max_slippage_pct must be within [0, 100], got %v", cfg.Sniper.MaxSlippagePct)
	}
	for i, w := range cfg.Wallets.Wallets {
		if w.Address == "" {
			return fmt.Errorf("wallet_watch.wallets[%d].address is required", i)
		}
	}
	return nil
}
