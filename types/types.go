package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceVersion is the version string carried by every invoice.
const InvoiceVersion = "1.0"

// MethodKind tags a payment method / proof with its settlement strategy.
type MethodKind string

const (
	// MethodSolanaTransfer is a finalized SPL token transfer, verified from ledger deltas.
	MethodSolanaTransfer MethodKind = "solana-transfer"
	// MethodEIP3009 is an off-chain transferWithAuthorization signature.
	MethodEIP3009 MethodKind = "eip-3009"
	// MethodEIP4337 is an account-abstraction user operation (stub verification only).
	MethodEIP4337 MethodKind = "eip-4337"
)

// MethodKinds lists every tag the gate understands, in invoice order.
var MethodKinds = []MethodKind{MethodSolanaTransfer, MethodEIP3009, MethodEIP4337}

// Valid reports whether k is one of the known tags.
func (k MethodKind) Valid() bool {
	for _, known := range MethodKinds {
		if k == known {
			return true
		}
	}
	return false
}

// TimeBound reports whether methods of this kind carry a validity end time.
func (k MethodKind) TimeBound() bool {
	return k == MethodEIP3009
}

func (k MethodKind) String() string {
	return string(k)
}

// MinorUnits is an integer amount in the smallest denomination of a token.
// It travels as a decimal string so that no JSON consumer sees a float.
type MinorUnits uint64

func (m MinorUnits) String() string {
	return strconv.FormatUint(uint64(m), 10)
}

// Decimal converts to whole-token units for display only.
func (m MinorUnits) Decimal(decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(m)), -decimals)
}

func (m MinorUnits) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *MinorUnits) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*m = 0
		return nil
	}
	v, err := ParseMinorUnits(raw)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMinorUnits parses a base-10 integer amount.
func ParseMinorUnits(s string) (MinorUnits, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid minor unit amount %q: %w", s, err)
	}
	return MinorUnits(v), nil
}

// PaymentMethod is one settlement option within an Invoice.
type PaymentMethod struct {
	Type        MethodKind `json:"type"`
	Chain       string     `json:"chain"`
	ChainID     uint64     `json:"chain_id,omitempty"`
	Token       string     `json:"token"`
	TokenSymbol string     `json:"token_symbol"`
	Recipient   string     `json:"recipient"`
	Amount      MinorUnits `json:"amount"`
	ValidUntil  int64      `json:"valid_until,omitempty"`

	// Account-abstraction only.
	EntryPoint string `json:"entrypoint,omitempty"`
	Bundler    string `json:"bundler,omitempty"`
}

// Invoice describes the price of a resource across the configured chains.
type Invoice struct {
	Version         string          `json:"version"`
	PaymentRequired bool            `json:"payment_required"`
	PaymentMethods  []PaymentMethod `json:"payment_methods"`
	Resource        string          `json:"resource"`
	Description     string          `json:"description"`
	InvoiceID       string          `json:"invoice_id"`
	CreatedAt       int64           `json:"created_at"`
}

// Method returns the first method of the given kind.
func (inv *Invoice) Method(kind MethodKind) (PaymentMethod, bool) {
	if inv == nil {
		return PaymentMethod{}, false
	}
	for _, m := range inv.PaymentMethods {
		if m.Type == kind {
			return m, true
		}
	}
	return PaymentMethod{}, false
}

// Chains returns the chain names in invoice order.
func (inv *Invoice) Chains() []string {
	if inv == nil {
		return nil
	}
	out := make([]string, 0, len(inv.PaymentMethods))
	for _, m := range inv.PaymentMethods {
		out = append(out, m.Chain)
	}
	return out
}

// VerificationResult contains the result of payment verification
type VerificationResult struct {
	IsValid       bool       `json:"isValid"`
	InvalidReason string     `json:"invalidReason,omitempty"`
	Method        MethodKind `json:"method"`
	Payer         string     `json:"payer,omitempty"`
	Amount        MinorUnits `json:"amount,omitempty"`
	Reference     string     `json:"reference,omitempty"`
}

// Fail builds an invalid result with a reason code.
func Fail(kind MethodKind, reason string) *VerificationResult {
	return &VerificationResult{IsValid: false, InvalidReason: reason, Method: kind}
}

// VerificationFailure is the 402 body for a proof that was well formed but did not verify.
// It is deliberately not an Invoice.
type VerificationFailure struct {
	Error           string     `json:"error"`
	Message         string     `json:"message"`
	ExpectedAmount  MinorUnits `json:"-"`
	ExpectedToken   string     `json:"expected_token"`
	SupportedChains []string   `json:"supported_chains"`
}

// MarshalJSON writes expected_amount as a JSON number; it is an integer, not a float.
func (f VerificationFailure) MarshalJSON() ([]byte, error) {
	type alias VerificationFailure
	return json.Marshal(struct {
		alias
		ExpectedAmount json.Number `json:"expected_amount"`
	}{
		alias:          alias(f),
		ExpectedAmount: json.Number(f.ExpectedAmount.String()),
	})
}

// ErrorBody is the 400 body for malformed or unsupported proofs.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ChainConfig configures one settlement chain offered in invoices.
type ChainConfig struct {
	Kind        MethodKind `json:"kind" validate:"required,oneof=solana-transfer eip-3009 eip-4337"`
	Chain       string     `json:"chain" validate:"required"`
	ChainID     uint64     `json:"chainId,omitempty" validate:"required_unless=Kind solana-transfer"`
	Token       string     `json:"token" validate:"required"`
	TokenSymbol string     `json:"tokenSymbol" validate:"required"`
	Decimals    int32      `json:"decimals" validate:"gte=0,lte=18"`
	Recipient   string     `json:"recipient" validate:"required"`
	RPCUrl      string     `json:"rpcUrl,omitempty" validate:"omitempty,url"`

	// EIP-712 domain for eip-3009; defaults to USD Coin / 2.
	DomainName    string `json:"domainName,omitempty"`
	DomainVersion string `json:"domainVersion,omitempty"`

	EntryPoint string `json:"entrypoint,omitempty"`
	Bundler    string `json:"bundler,omitempty"`
}

// GateConfig contains the server-side configuration of the payment gate.
type GateConfig struct {
	Chains  []ChainConfig         `json:"chains" validate:"required,min=1,dive"`
	Pricing map[string]MinorUnits `json:"pricing" validate:"required,min=1,dive,keys,required,endkeys,gt=0"`

	VerifyTimeout   time.Duration `json:"verifyTimeout,omitempty"`
	FreshnessWindow time.Duration `json:"freshnessWindow,omitempty"`
	InvoiceValidity time.Duration `json:"invoiceValidity,omitempty"`

	EnableUserOperations bool   `json:"enableUserOperations,omitempty"`
	RedisURL             string `json:"redisUrl,omitempty"`
	LogLevel             string `json:"logLevel,omitempty" validate:"omitempty,oneof=debug info warn error"`
	EnableMetrics        bool   `json:"enableMetrics,omitempty"`
}

// Chain returns the configuration of the given kind.
func (c *GateConfig) Chain(kind MethodKind) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.Kind == kind {
			return ch, true
		}
	}
	return ChainConfig{}, false
}

// Default timings.
const (
	DefaultVerifyTimeout   = 5 * time.Second
	DefaultFreshnessWindow = time.Hour
	DefaultInvoiceValidity = time.Hour
)

// DefaultPricing is the per-query tier table, in USDC minor units (6 decimals).
func DefaultPricing() map[string]MinorUnits {
	return map[string]MinorUnits{
		"token-price":         10000,
		"wallet-balance":      5000,
		"token-holders":       50000,
		"nft-metadata":        20000,
		"transaction-history": 100000,
		"defi-positions":      150000,
		"token-analytics":     200000,
	}
}
