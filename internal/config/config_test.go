package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, yaml string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "caststrike-config-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	_, err = tmpFile.WriteString(yaml)
	require.NoError(t, err)
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoadConfig(t *testing.T) {
	yaml := `
general:
  instance_id: "test-node"
  log_level: "debug"

chain:
  endpoint: "https://base-sepolia.example"
  wallet_address: "0x1111111111111111111111111111111111111111"
  rate_limit_rps: 5

feed:
  api_key: "test-key"

sniper:
  check_interval_s: 10
  default_buy_amount_eth: 0.02
  max_slippage_pct: 20

wallet_watch:
  block_window: 50
  wallets:
    - address: "0x2222222222222222222222222222222222222222"
      buy_amount_eth: 0.05
      description: "deployer"

auto_monitor:
  - identity: "tokenlauncher"
    buy_amount_eth: 0.01
`
	cfg, err := Load(writeTemp(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "test-node", cfg.General.InstanceID)
	assert.Equal(t, "debug", cfg.General.LogLevel)
	assert.Equal(t, "https://base-sepolia.example", cfg.Chain.Endpoint)
	assert.Equal(t, 5.0, cfg.Chain.RateLimitRPS)
	assert.Equal(t, 10, cfg.Sniper.CheckIntervalS)
	assert.Equal(t, 0.02, cfg.Sniper.DefaultBuyAmountEth)
	assert.Equal(t, 20.0, cfg.Sniper.MaxSlippagePct)
	assert.Equal(t, uint64(50), cfg.Wallets.BlockWindow)
	require.Len(t, cfg.Wallets.Wallets, 1)
	assert.Equal(t, "deployer", cfg.Wallets.Wallets[0].Description)
	require.Len(t, cfg.AutoMon, 1)
	assert.Equal(t, "tokenlauncher", cfg.AutoMon[0].Identity)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, "feed:\n  api_key: k\n"))
	require.NoError(t, err)

	assert.Equal(t, "caststrike-1", cfg.General.InstanceID)
	assert.Equal(t, ":8085", cfg.General.ListenAddr)
	assert.Equal(t, "info", cfg.General.LogLevel)
	assert.Equal(t, "https://mainnet.base.org", cfg.Chain.Endpoint)
	assert.Equal(t, 10.0, cfg.Chain.RateLimitRPS)
	assert.Equal(t, 90, cfg.Chain.ReceiptWaitS)
	assert.Equal(t, 30, cfg.Sniper.CheckIntervalS)
	assert.Equal(t, 15.0, cfg.Sniper.MaxSlippagePct)
	assert.Equal(t, uint64(500_000), cfg.Buyer.GasLimit)
	assert.Equal(t, 0.035, cfg.Buyer.PrimaryTargetEth)
	assert.Equal(t, 100.0, cfg.Buyer.SecondaryTargetUSDC)
	assert.Equal(t, uint64(100), cfg.Wallets.BlockWindow)
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("CASTSTRIKE_TEST_API_KEY", "secret-from-env")
	cfg, err := Load(writeTemp(t, "feed:\n  api_key: \"${CASTSTRIKE_TEST_API_KEY}\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "secret-from-env", cfg.Feed.APIKey)
}

func TestValidateRejectsMissingAPIKey(t *testing.T) {
	cfg, err := Load(writeTemp(t, "chain:\n  wallet_address: \"0x1111111111111111111111111111111111111111\"\n"))
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "feed.api_key")
}

func TestValidateRejectsMissingWallet(t *testing.T) {
	cfg, err := Load(writeTemp(t, "feed:\n  api_key: k\n"))
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "chain.wallet_address")
}

func TestValidateRejectsOutOfRangeSlippage(t *testing.T) {
	cfg, err := Load(writeTemp(t, "feed:\n  api_key: k\nchain:\n  wallet_address: \"0x1111111111111111111111111111111111111111\"\nsniper:\n  max_slippage_pct: 150\n"))
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "max_slippage_pct")
}
