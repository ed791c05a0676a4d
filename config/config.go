// Package config builds gate and agent configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/vitwit/x402-oracle/types"
	"github.com/vitwit/x402-oracle/utils"
)

// Environment keys.
const (
	EnvPort              = "PORT"
	EnvLogLevel          = "LOG_LEVEL"
	EnvSolanaNetwork     = "SOLANA_NETWORK"
	EnvSolanaRPCURL      = "SOLANA_RPC_URL"
	EnvUSDCMint          = "USDC_MINT"
	EnvServerSolWallet   = "SERVER_SOLANA_WALLET"
	EnvEthUSDCAddress    = "ETH_USDC_ADDRESS"
	EnvServerEthWallet   = "SERVER_ETH_WALLET"
	EnvEthChain          = "ETH_CHAIN"
	EnvEthChainID        = "ETH_CHAIN_ID"
	EnvEthRPCURL         = "ETH_RPC_URL"
	EnvEthDomainName     = "ETH_DOMAIN_NAME"
	EnvEthDomainVersion  = "ETH_DOMAIN_VERSION"
	EnvEnableEIP4337     = "ENABLE_EIP4337"
	EnvEntryPointAddress = "ENTRYPOINT_ADDRESS"
	EnvBundlerURL        = "BUNDLER_URL"
	EnvVerifyTimeout     = "VERIFY_TIMEOUT"
	EnvFreshnessWindow   = "FRESHNESS_WINDOW"
	EnvInvoiceValidity   = "INVOICE_VALIDITY"
	EnvRedisURL          = "REDIS_URL"
	EnvEnableMetrics     = "ENABLE_METRICS"
	EnvPricePrefix       = "PRICE_"

	EnvOracleURL        = "ORACLE_URL"
	EnvSolanaPrivateKey = "SOLANA_PRIVATE_KEY"
	EnvEthPrivateKey    = "ETH_PRIVATE_KEY"
	EnvPreferredChain   = "PREFERRED_CHAIN"
)

const (
	DefaultPort          = "3402"
	DefaultSolanaRPCURL  = "https://api.devnet.solana.com"
	DefaultDevnetUSDC    = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
	DefaultSepoliaUSDC   = "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"
	DefaultEntryPoint    = "0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"
	DefaultOracleURL     = "http://localhost:3402"
	usdcDecimals         = 6
	defaultTokenSymbol   = "USDC"
	defaultEthereumChain = types.NetworkEthereumSepolia
)

// GateFromEnv builds and validates the server configuration. A chain is
// offered only when its recipient wallet is set.
func GateFromEnv() (*types.GateConfig, error) {
	cfg := &types.GateConfig{
		VerifyTimeout:        GetEnvDuration(EnvVerifyTimeout, types.DefaultVerifyTimeout),
		FreshnessWindow:      GetEnvDuration(EnvFreshnessWindow, types.DefaultFreshnessWindow),
		InvoiceValidity:      GetEnvDuration(EnvInvoiceValidity, types.DefaultInvoiceValidity),
		EnableUserOperations: GetEnvBool(EnvEnableEIP4337, false),
		RedisURL:             GetEnv(EnvRedisURL, ""),
		LogLevel:             strings.ToLower(GetEnv(EnvLogLevel, "info")),
		EnableMetrics:        GetEnvBool(EnvEnableMetrics, true),
	}

	if wallet := GetEnv(EnvServerSolWallet, ""); wallet != "" {
		network := strings.ToLower(GetEnv(EnvSolanaNetwork, types.NetworkSolana))
		if !types.IsSolanaNetwork(network) {
			return nil, types.NewError(types.ErrConfigError, "%s=%q is not a Solana cluster", EnvSolanaNetwork, network)
		}
		cfg.Chains = append(cfg.Chains, types.ChainConfig{
			Kind:        types.MethodSolanaTransfer,
			Chain:       network,
			Token:       GetEnv(EnvUSDCMint, DefaultDevnetUSDC),
			TokenSymbol: defaultTokenSymbol,
			Decimals:    usdcDecimals,
			Recipient:   wallet,
			RPCUrl:      GetEnv(EnvSolanaRPCURL, DefaultSolanaRPCURL),
		})
	}

	if wallet := GetEnv(EnvServerEthWallet, ""); wallet != "" {
		chain := strings.ToLower(GetEnv(EnvEthChain, defaultEthereumChain))
		chainID := GetEnvUint(EnvEthChainID, types.EVMChainIDs[chain])
		if chainID == 0 && !types.IsEVMNetwork(chain) {
			return nil, types.NewError(types.ErrConfigError, "unknown EVM network %q; set %s", chain, EnvEthChainID)
		}
		evm := types.ChainConfig{
			Kind:          types.MethodEIP3009,
			Chain:         chain,
			ChainID:       chainID,
			Token:         GetEnv(EnvEthUSDCAddress, DefaultSepoliaUSDC),
			TokenSymbol:   defaultTokenSymbol,
			Decimals:      usdcDecimals,
			Recipient:     wallet,
			RPCUrl:        GetEnv(EnvEthRPCURL, ""),
			DomainName:    GetEnv(EnvEthDomainName, ""),
			DomainVersion: GetEnv(EnvEthDomainVersion, ""),
		}
		cfg.Chains = append(cfg.Chains, evm)

		if cfg.EnableUserOperations {
			aa := evm
			aa.Kind = types.MethodEIP4337
			aa.EntryPoint = GetEnv(EnvEntryPointAddress, DefaultEntryPoint)
			aa.Bundler = GetEnv(EnvBundlerURL, "")
			cfg.Chains = append(cfg.Chains, aa)
		}
	}

	pricing, err := PricingFromEnv(types.DefaultPricing(), usdcDecimals)
	if err != nil {
		return nil, err
	}
	cfg.Pricing = pricing

	if err := utils.ValidateGateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PricingFromEnv overrides tier prices from PRICE_<TIER> variables, given in
// whole tokens ("0.01"). PRICE_TOKEN_PRICE sets the token-price tier.
func PricingFromEnv(base map[string]types.MinorUnits, decimals int32) (map[string]types.MinorUnits, error) {
	out := make(map[string]types.MinorUnits, len(base))
	for tier, price := range base {
		out[tier] = price
	}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPricePrefix) || strings.TrimSpace(value) == "" {
			continue
		}
		tier := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, EnvPricePrefix), "_", "-"))
		amount, err := utils.ParseAmountWithDecimals(value, decimals)
		if err != nil {
			return nil, types.WrapError(types.ErrConfigError, err, "invalid %s", key)
		}
		if !amount.IsUint64() || amount.Sign() == 0 {
			return nil, types.NewError(types.ErrConfigError, "%s must be a positive amount", key)
		}
		out[tier] = types.MinorUnits(amount.Uint64())
	}
	return out, nil
}

// AgentConfig configures the paying client.
type AgentConfig struct {
	OracleURL      string `validate:"required,url"`
	PreferredChain string
	LogLevel       string

	SolanaRPCURL     string
	SolanaNetwork    string
	SolanaPrivateKey string

	EthRPCURL     string
	EthChain      string
	EthChainID    uint64
	EthPrivateKey string
	DomainName    string
	DomainVersion string

	EnableUserOperations bool
}

// AgentFromEnv reads the agent configuration. At least one private key must be set.
func AgentFromEnv() (*AgentConfig, error) {
	chain := GetEnv(EnvEthChain, defaultEthereumChain)
	cfg := &AgentConfig{
		OracleURL:            GetEnv(EnvOracleURL, DefaultOracleURL),
		PreferredChain:       GetEnv(EnvPreferredChain, ""),
		LogLevel:             GetEnv(EnvLogLevel, "info"),
		SolanaRPCURL:         GetEnv(EnvSolanaRPCURL, DefaultSolanaRPCURL),
		SolanaNetwork:        GetEnv(EnvSolanaNetwork, types.NetworkSolana),
		SolanaPrivateKey:     GetEnv(EnvSolanaPrivateKey, ""),
		EthRPCURL:            GetEnv(EnvEthRPCURL, ""),
		EthChain:             chain,
		EthChainID:           GetEnvUint(EnvEthChainID, types.EVMChainIDs[chain]),
		EthPrivateKey:        GetEnv(EnvEthPrivateKey, ""),
		DomainName:           GetEnv(EnvEthDomainName, ""),
		DomainVersion:        GetEnv(EnvEthDomainVersion, ""),
		EnableUserOperations: GetEnvBool(EnvEnableEIP4337, false),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AgentConfig) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return types.WrapError(types.ErrConfigError, err, "invalid agent config")
	}
	if c.SolanaPrivateKey == "" && c.EthPrivateKey == "" {
		return types.NewError(types.ErrConfigError, "set %s or %s", EnvSolanaPrivateKey, EnvEthPrivateKey)
	}
	if c.EthPrivateKey != "" && c.EthChainID == 0 {
		return types.NewError(types.ErrConfigError, "unknown chain id for %s; set %s", c.EthChain, EnvEthChainID)
	}
	return nil
}

// Addr returns the listen address for the oracle server.
func Addr() string {
	return fmt.Sprintf(":%s", GetEnv(EnvPort, DefaultPort))
}
