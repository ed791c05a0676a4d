package types

import "strings"

// Network names used as PaymentMethod.Chain.
const (
	NetworkSolana       = "solana"
	NetworkSolanaDevnet = "solana-devnet"

	NetworkEthereum        = "ethereum"
	NetworkEthereumSepolia = "ethereum-sepolia"
	NetworkBase            = "base"
	NetworkBaseSepolia     = "base-sepolia"
	NetworkPolygon         = "polygon"
	NetworkPolygonAmoy     = "polygon-amoy"
)

// EVMChainIDs maps EVM network names to their EIP-155 chain id.
var EVMChainIDs = map[string]uint64{
	NetworkEthereum:        1,
	NetworkEthereumSepolia: 11155111,
	NetworkBase:            8453,
	NetworkBaseSepolia:     84532,
	NetworkPolygon:         137,
	NetworkPolygonAmoy:     80002,
}

// ChainFamily classifies a network into a blockchain family.
type ChainFamily string

const (
	ChainEVM    ChainFamily = "evm"
	ChainSolana ChainFamily = "solana"
)

// Family returns the chain family a method kind settles on.
func (k MethodKind) Family() ChainFamily {
	if k == MethodSolanaTransfer {
		return ChainSolana
	}
	return ChainEVM
}

// IsEVMNetwork reports whether name is a known EVM network.
func IsEVMNetwork(name string) bool {
	_, ok := EVMChainIDs[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// IsSolanaNetwork reports whether name is a Solana cluster.
func IsSolanaNetwork(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NetworkSolana, NetworkSolanaDevnet, "solana-mainnet", "solana-testnet":
		return true
	}
	return false
}

// IsTestnet reports whether name is a test network.
func IsTestnet(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NetworkSolanaDevnet, "solana-testnet", NetworkEthereumSepolia, NetworkBaseSepolia, NetworkPolygonAmoy:
		return true
	}
	return false
}
