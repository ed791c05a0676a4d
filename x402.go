// Package x402 gates HTTP resources behind x402 micropayments settled on
// Solana (SPL transfers) or EVM chains (EIP-3009 authorizations).
package x402

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vitwit/x402-oracle/clients"
	"github.com/vitwit/x402-oracle/invoice"
	"github.com/vitwit/x402-oracle/logger"
	"github.com/vitwit/x402-oracle/metrics"
	"github.com/vitwit/x402-oracle/middleware"
	"github.com/vitwit/x402-oracle/replay"
	"github.com/vitwit/x402-oracle/types"
	"github.com/vitwit/x402-oracle/utils"
	"github.com/vitwit/x402-oracle/verification"
)

// X402 wires invoices, verifiers, replay protection and the HTTP gate from
// one GateConfig.
type X402 struct {
	config              *types.GateConfig
	factory             *invoice.Factory
	verificationService *verification.Service
	guard               replay.Guard
	usage               *metrics.Usage
	gate                *middleware.Gate

	logger    logger.Logger
	metrics   metrics.Recorder
	timeout   time.Duration
	now       func() time.Time
	solanaRPC clients.SolanaRPC
	exempt    []string
	closers   []func()
}

// SupportedItem describes one accepted payment method.
type SupportedItem struct {
	X402Version string           `json:"x402Version"`
	Method      types.MethodKind `json:"method"`
	Network     string           `json:"network"`
	Token       string           `json:"token"`
	Testnet     bool             `json:"testnet"`
}

// New validates cfg and builds the gate.
func New(cfg *types.GateConfig, opts ...Option) (*X402, error) {
	if err := utils.ValidateGateConfig(cfg); err != nil {
		return nil, err
	}

	x := &X402{
		config:  cfg,
		timeout: cfg.VerifyTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.timeout <= 0 {
		x.timeout = types.DefaultVerifyTimeout
	}
	if x.logger == nil {
		x.logger = logger.NewZapLogger(cfg.LogLevel)
	}
	if x.metrics == nil {
		x.metrics = metrics.NoopRecorder{}
		if cfg.EnableMetrics {
			rec, err := metrics.NewPrometheusRecorder(nil)
			if err != nil {
				return nil, types.WrapError(types.ErrConfigError, err, "failed to register metrics")
			}
			x.metrics = rec
		}
	}

	factory, err := invoice.NewFactory(cfg.Chains, cfg.Pricing,
		invoice.WithValidity(cfg.InvoiceValidity),
		invoice.WithClock(x.now),
	)
	if err != nil {
		return nil, err
	}
	x.factory = factory

	x.verificationService = verification.NewVerificationService(
		verification.WithTimeout(x.timeout),
		verification.WithLogger(x.logger),
		verification.WithMetrics(x.metrics),
	)
	for _, ch := range cfg.Chains {
		if err := x.addChain(ch); err != nil {
			x.Close()
			return nil, err
		}
	}

	if x.guard == nil {
		if err := x.openGuard(); err != nil {
			x.Close()
			return nil, err
		}
	}

	first := cfg.Chains[0]
	x.usage = metrics.NewUsage(first.Decimals, first.TokenSymbol)
	x.gate = middleware.New(x.factory, x.verificationService, x.guard, x.usage,
		middleware.WithLogger(x.logger),
		middleware.WithMetrics(x.metrics),
		middleware.WithExemptPaths(x.exempt...),
	)

	x.logger.Info("x402 gate ready", map[string]any{
		"methods": x.verificationService.Kinds(),
		"chains":  len(cfg.Chains),
		"timeout": x.timeout.String(),
	})
	return x, nil
}

func (x *X402) addChain(ch types.ChainConfig) error {
	switch ch.Kind {
	case types.MethodSolanaTransfer:
		return x.addSolanaChain(ch)
	case types.MethodEIP3009:
		return x.addEVMChain(ch)
	case types.MethodEIP4337:
		return x.addUserOperationChain(ch)
	default:
		return types.NewError(types.ErrConfigError, "unsupported payment method: %s", ch.Kind)
	}
}

func (x *X402) addSolanaChain(ch types.ChainConfig) error {
	opts := []clients.SolanaOption{
		clients.WithFreshness(x.config.FreshnessWindow),
		clients.WithSolanaClock(x.now),
	}
	if x.solanaRPC != nil {
		opts = append(opts, clients.WithSolanaRPC(x.solanaRPC))
	}
	client, err := clients.NewSolanaClient(ch.Chain, ch.RPCUrl, opts...)
	if err != nil {
		return fmt.Errorf("failed to create Solana client for %s: %w", ch.Chain, err)
	}
	return x.verificationService.Register(verification.NewLedgerVerifier(client, ch))
}

func (x *X402) addEVMChain(ch types.ChainConfig) error {
	// verification is offline; the RPC endpoint only matters to payers
	client, err := clients.NewEVMClient(ch.Chain, ch.ChainID, "", clients.WithEVMClock(x.now))
	if err != nil {
		return fmt.Errorf("failed to create EVM client for %s: %w", ch.Chain, err)
	}
	return x.verificationService.Register(verification.NewAuthorizationVerifier(client, ch))
}

func (x *X402) addUserOperationChain(ch types.ChainConfig) error {
	stub := clients.NewUserOperationStub(ch.EntryPoint, ch.Bundler)
	return x.verificationService.Register(verification.NewUserOperationVerifier(stub, x.logger))
}

func (x *X402) openGuard() error {
	if x.config.RedisURL == "" {
		x.logger.Warn("replay protection is in-memory; consumed proofs are not shared between replicas", nil)
		x.guard = replay.NewMemoryGuard()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), x.timeout)
	defer cancel()
	g, err := replay.NewRedisGuardFromURL(ctx, x.config.RedisURL)
	if err != nil {
		return err
	}
	x.closers = append(x.closers, func() { _ = g.Close() })
	x.guard = g
	return nil
}

// Require returns middleware charging tier's price. Unknown tiers fail here.
func (x *X402) Require(tier string, opts ...middleware.RouteOption) (func(http.Handler) http.Handler, error) {
	return x.gate.Require(tier, opts...)
}

// MustRequire panics on an unknown tier.
func (x *X402) MustRequire(tier string, opts ...middleware.RouteOption) func(http.Handler) http.Handler {
	return x.gate.MustRequire(tier, opts...)
}

// Invoice builds a challenge for resourcePath outside the middleware.
func (x *X402) Invoice(resourcePath, tier string) (*types.Invoice, error) {
	return x.factory.Generate(resourcePath, tier)
}

// Verify checks proof against tier's price and consumes it on success. A
// rejected proof returns its result together with a VERIFICATION_FAILED error.
func (x *X402) Verify(ctx context.Context, proof *types.PaymentProof, tier string) (*types.VerificationResult, error) {
	price, err := x.factory.Price(tier)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateProof(proof); err != nil {
		return nil, err
	}
	res, err := x.verificationService.Verify(ctx, proof, price)
	if err != nil {
		return nil, err
	}
	if !res.IsValid {
		return res, types.NewError(types.ErrVerificationFailed, "payment verification failed: %s", res.InvalidReason)
	}
	fresh, err := x.guard.Consume(ctx, proof.ReplayKey())
	if err != nil {
		return nil, err
	}
	if !fresh {
		return nil, types.NewError(types.ErrReplayDetected, "payment proof already used")
	}
	return res, nil
}

// Usage returns the paid-query analytics.
func (x *X402) Usage() metrics.Snapshot {
	return x.usage.Snapshot()
}

// Pricing returns a copy of the tier prices.
func (x *X402) Pricing() map[string]types.MinorUnits {
	out := make(map[string]types.MinorUnits, len(x.config.Pricing))
	for tier, price := range x.config.Pricing {
		out[tier] = price
	}
	return out
}

func (x *X402) Supported() []SupportedItem {
	items := make([]SupportedItem, 0, len(x.config.Chains))
	for _, ch := range x.config.Chains {
		items = append(items, SupportedItem{
			X402Version: types.InvoiceVersion,
			Method:      ch.Kind,
			Network:     ch.Chain,
			Token:       ch.TokenSymbol,
			Testnet:     types.IsTestnet(ch.Chain),
		})
	}
	return items
}

// IsMethodSupported reports whether proofs of kind are accepted.
func (x *X402) IsMethodSupported(kind types.MethodKind) bool {
	return x.verificationService.Supports(kind)
}

// Close releases the replay store connection.
func (x *X402) Close() {
	for _, c := range x.closers {
		c()
	}
	x.closers = nil
}

// Version information
const (
	Version         = "1.0.0"
	ProtocolVersion = types.InvoiceVersion
)

// GetVersion returns version information
func GetVersion() map[string]interface{} {
	return map[string]interface{}{
		"library_version":  Version,
		"protocol_version": ProtocolVersion,
		"supported_methods": []string{
			string(types.MethodSolanaTransfer),
			string(types.MethodEIP3009),
			string(types.MethodEIP4337),
		},
		"supported_networks": []string{
			types.NetworkSolana, types.NetworkSolanaDevnet,
			types.NetworkEthereum, types.NetworkEthereumSepolia,
			types.NetworkBase, types.NetworkBaseSepolia,
			types.NetworkPolygon, types.NetworkPolygonAmoy,
		},
		"supported_standards": []string{"spl", "eip-3009", "eip-4337"},
	}
}
