package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402-oracle/types"
)

const ethWallet = "0x384Aa214be0B279cbf211e9b2C992d8633F77848"

// clearEnv blanks every key the loaders read so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvPort, EnvLogLevel, EnvSolanaNetwork, EnvSolanaRPCURL, EnvUSDCMint, EnvServerSolWallet,
		EnvEthUSDCAddress, EnvServerEthWallet, EnvEthChain, EnvEthChainID, EnvEthRPCURL,
		EnvEthDomainName, EnvEthDomainVersion, EnvEnableEIP4337, EnvEntryPointAddress, EnvBundlerURL,
		EnvVerifyTimeout, EnvFreshnessWindow, EnvInvoiceValidity, EnvRedisURL, EnvEnableMetrics,
		EnvOracleURL, EnvSolanaPrivateKey, EnvEthPrivateKey, EnvPreferredChain,
	} {
		t.Setenv(key, "")
	}
}

func TestGateFromEnv(t *testing.T) {
	clearEnv(t)
	solWallet := solana.NewWallet().PublicKey().String()
	t.Setenv(EnvServerSolWallet, solWallet)
	t.Setenv(EnvServerEthWallet, ethWallet)
	t.Setenv(EnvVerifyTimeout, "10s")
	t.Setenv(EnvFreshnessWindow, "600")
	t.Setenv(EnvLogLevel, "DEBUG")

	cfg, err := GateFromEnv()
	require.NoError(t, err)

	require.Len(t, cfg.Chains, 2)
	assert.Equal(t, types.MethodSolanaTransfer, cfg.Chains[0].Kind)
	assert.Equal(t, solWallet, cfg.Chains[0].Recipient)
	assert.Equal(t, DefaultDevnetUSDC, cfg.Chains[0].Token)

	evm := cfg.Chains[1]
	assert.Equal(t, types.MethodEIP3009, evm.Kind)
	assert.Equal(t, types.NetworkEthereumSepolia, evm.Chain)
	assert.Equal(t, uint64(11155111), evm.ChainID)
	assert.Equal(t, DefaultSepoliaUSDC, evm.Token)

	assert.Equal(t, 10*time.Second, cfg.VerifyTimeout)
	assert.Equal(t, 10*time.Minute, cfg.FreshnessWindow)
	assert.Equal(t, types.DefaultInvoiceValidity, cfg.InvoiceValidity)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.EnableUserOperations)
	assert.Equal(t, types.DefaultPricing(), cfg.Pricing)
}

func TestGateFromEnvUserOperations(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvServerEthWallet, ethWallet)
	t.Setenv(EnvEthChain, types.NetworkBaseSepolia)
	t.Setenv(EnvEnableEIP4337, "true")

	cfg, err := GateFromEnv()
	require.NoError(t, err)
	require.Len(t, cfg.Chains, 2)
	assert.Equal(t, uint64(84532), cfg.Chains[0].ChainID)

	aa, ok := cfg.Chain(types.MethodEIP4337)
	require.True(t, ok)
	assert.Equal(t, DefaultEntryPoint, aa.EntryPoint)
}

func TestGateFromEnvErrors(t *testing.T) {
	clearEnv(t)
	t.Run("no chains", func(t *testing.T) {
		t.Setenv(EnvServerSolWallet, "")
		t.Setenv(EnvServerEthWallet, "")
		_, err := GateFromEnv()
		assert.Equal(t, types.ErrConfigError, types.ErrorCode(err))
	})

	t.Run("bad wallet", func(t *testing.T) {
		t.Setenv(EnvServerEthWallet, "0x123")
		_, err := GateFromEnv()
		assert.Equal(t, types.ErrConfigError, types.ErrorCode(err))
	})

	t.Run("unknown chain without id", func(t *testing.T) {
		t.Setenv(EnvServerEthWallet, ethWallet)
		t.Setenv(EnvEthChain, "arbitrum")
		_, err := GateFromEnv()
		assert.ErrorIs(t, err, types.ErrConfig)
		assert.Contains(t, err.Error(), EnvEthChainID)
	})

	t.Run("unknown chain with id", func(t *testing.T) {
		t.Setenv(EnvServerEthWallet, ethWallet)
		t.Setenv(EnvEthChain, "arbitrum")
		t.Setenv(EnvEthChainID, "42161")
		cfg, err := GateFromEnv()
		require.NoError(t, err)
		assert.Equal(t, uint64(42161), cfg.Chains[0].ChainID)
	})

	t.Run("unknown solana cluster", func(t *testing.T) {
		t.Setenv(EnvServerSolWallet, solana.NewWallet().PublicKey().String())
		t.Setenv(EnvSolanaNetwork, "ethereum")
		_, err := GateFromEnv()
		assert.ErrorIs(t, err, types.ErrConfig)
	})
}

func TestPricingFromEnv(t *testing.T) {
	t.Setenv("PRICE_TOKEN_PRICE", "0.02")
	t.Setenv("PRICE_WEATHER", "1")

	pricing, err := PricingFromEnv(types.DefaultPricing(), 6)
	require.NoError(t, err)
	assert.Equal(t, types.MinorUnits(20000), pricing["token-price"])
	assert.Equal(t, types.MinorUnits(1000000), pricing["weather"])
	assert.Equal(t, types.MinorUnits(5000), pricing["wallet-balance"])

	t.Setenv("PRICE_TOKEN_PRICE", "0.0000001")
	_, err = PricingFromEnv(types.DefaultPricing(), 6)
	assert.Equal(t, types.ErrConfigError, types.ErrorCode(err))

	t.Setenv("PRICE_TOKEN_PRICE", "0")
	_, err = PricingFromEnv(types.DefaultPricing(), 6)
	assert.Equal(t, types.ErrConfigError, types.ErrorCode(err))
}

func TestAgentFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvSolanaPrivateKey, "")
	t.Setenv(EnvEthPrivateKey, "")
	_, err := AgentFromEnv()
	assert.Equal(t, types.ErrConfigError, types.ErrorCode(err))

	t.Setenv(EnvEthPrivateKey, "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	t.Setenv(EnvPreferredChain, "ethereum")
	cfg, err := AgentFromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultOracleURL, cfg.OracleURL)
	assert.Equal(t, "ethereum", cfg.PreferredChain)
	assert.Equal(t, uint64(11155111), cfg.EthChainID)

	t.Setenv(EnvOracleURL, "not a url")
	_, err = AgentFromEnv()
	assert.Equal(t, types.ErrConfigError, types.ErrorCode(err))
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("X402_TEST_A=base\nX402_TEST_B=base\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.dev"), []byte("X402_TEST_B=dev\n"), 0o600))
	t.Setenv("X402_TEST_A", "")
	t.Setenv("X402_TEST_B", "")
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	loaded := LoadEnv(nil)
	assert.Equal(t, []string{".env", ".env.dev"}, loaded)
	assert.Equal(t, "base", os.Getenv("X402_TEST_A"))
	assert.Equal(t, "dev", os.Getenv("X402_TEST_B"))
}

func TestGetEnvHelpers(t *testing.T) {
	clearEnv(t)
	t.Setenv("X402_INT", "42")
	t.Setenv("X402_BOOL", "yes")
	t.Setenv("X402_DUR", "1m")

	assert.Equal(t, 42, GetEnvInt("X402_INT", 1))
	assert.Equal(t, 7, GetEnvInt("X402_MISSING", 7))
	assert.True(t, GetEnvBool("X402_MISSING", true))
	assert.False(t, GetEnvBool("X402_BOOL", false), "unparseable bool keeps default")
	assert.Equal(t, time.Minute, GetEnvDuration("X402_DUR", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("X402_MISSING", time.Second))
	assert.Equal(t, ":3402", Addr())
}
