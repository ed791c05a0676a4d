package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/vitwit/x402-oracle/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	validate.RegisterStructValidation(proofStructLevel, types.PaymentProof{})
	validate.RegisterStructValidation(chainStructLevel, types.ChainConfig{})
}

// ValidateProof checks a parsed proof. An unknown method tag yields
// UNSUPPORTED_METHOD; missing or malformed fields yield INVALID_PROOF.
func ValidateProof(p *types.PaymentProof) error {
	if p == nil {
		return types.NewError(types.ErrInvalidProof, "payment proof is empty")
	}
	if p.Method == "" {
		return types.NewError(types.ErrInvalidProof, "missing %s header", types.HeaderPaymentMethod)
	}
	if !p.Method.Valid() {
		return types.NewError(types.ErrUnsupportedMethod, "unsupported payment method %q", p.Method)
	}
	if err := validate.Struct(p); err != nil {
		return types.WrapError(types.ErrInvalidProof, err, "invalid %s proof: %s", p.Method, describe(err))
	}
	return nil
}

// ValidateChains validates every chain entry and rejects duplicate kinds.
// Tier prices are shared minor units, so every chain must settle in the same
// token denomination.
func ValidateChains(chains []types.ChainConfig) error {
	seen := make(map[types.MethodKind]bool, len(chains))
	for i := range chains {
		if err := validate.Struct(&chains[i]); err != nil {
			return types.WrapError(types.ErrConfigError, err, "chain %d (%s): %s", i, chains[i].Chain, describe(err))
		}
		if seen[chains[i].Kind] {
			return types.NewError(types.ErrConfigError, "payment method %s configured twice", chains[i].Kind)
		}
		seen[chains[i].Kind] = true

		first := chains[0]
		if chains[i].Decimals != first.Decimals || !strings.EqualFold(chains[i].TokenSymbol, first.TokenSymbol) {
			return types.NewError(types.ErrConfigError, "chain %s settles in %s/%d, want %s/%d like %s",
				chains[i].Chain, chains[i].TokenSymbol, chains[i].Decimals, first.TokenSymbol, first.Decimals, first.Chain)
		}
	}
	return nil
}

// ValidateGateConfig validates a gate configuration.
func ValidateGateConfig(cfg *types.GateConfig) error {
	if cfg == nil {
		return types.NewError(types.ErrConfigError, "gate config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		return types.WrapError(types.ErrConfigError, err, "invalid gate config: %s", describe(err))
	}
	if err := ValidateChains(cfg.Chains); err != nil {
		return err
	}
	if _, ok := cfg.Chain(types.MethodEIP4337); ok && !cfg.EnableUserOperations {
		return types.NewError(types.ErrConfigError, "eip-4337 chain configured but user operations are disabled")
	}
	return nil
}

// ValidateStruct runs the shared validator over v's struct tags.
func ValidateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%s: %w", describe(err), err)
	}
	return nil
}

// ParseGateConfig parses and validates a GateConfig from JSON.
func ParseGateConfig(data []byte) (*types.GateConfig, error) {
	var cfg types.GateConfig

	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, types.WrapError(types.ErrConfigError, err, "failed to parse gate config")
	}
	if err := ValidateGateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseInvoice decodes a 402 body. It rejects invoices that carry no
// payment methods or that are not marked as requiring payment.
func ParseInvoice(data []byte) (*types.Invoice, error) {
	var inv types.Invoice
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, types.WrapError(types.ErrInvalidInvoice, err, "failed to parse invoice")
	}
	if !inv.PaymentRequired || len(inv.PaymentMethods) == 0 {
		return nil, types.NewError(types.ErrInvalidInvoice, "response is not a payment invoice")
	}
	return &inv, nil
}

func proofStructLevel(sl validator.StructLevel) {
	p := sl.Current().Interface().(types.PaymentProof)

	switch p.Method {
	case types.MethodSolanaTransfer:
		if p.From != "" && !IsSolanaAddress(p.From) {
			sl.ReportError(p.From, "From", "From", "soladdr", "")
		}
		if p.TxHash != "" && !IsSolanaSignature(p.TxHash) {
			sl.ReportError(p.TxHash, "TxHash", "TxHash", "solsig", "")
		}
	case types.MethodEIP3009:
		if p.From != "" && !common.IsHexAddress(p.From) {
			sl.ReportError(p.From, "From", "From", "eth_addr", "")
		}
		if p.Nonce != "" && !IsBytes32Hex(p.Nonce) {
			sl.ReportError(p.Nonce, "Nonce", "Nonce", "bytes32hex", "")
		}
		if p.Signature != "" && !IsHexString(strings.TrimPrefix(p.Signature, "0x")) {
			sl.ReportError(p.Signature, "Signature", "Signature", "hexadecimal", "")
		}
	}
}

func chainStructLevel(sl validator.StructLevel) {
	c := sl.Current().Interface().(types.ChainConfig)

	switch c.Kind {
	case types.MethodSolanaTransfer:
		if !IsSolanaAddress(c.Token) {
			sl.ReportError(c.Token, "Token", "Token", "soladdr", "")
		}
		if !IsSolanaAddress(c.Recipient) {
			sl.ReportError(c.Recipient, "Recipient", "Recipient", "soladdr", "")
		}
	case types.MethodEIP3009, types.MethodEIP4337:
		if !common.IsHexAddress(c.Token) {
			sl.ReportError(c.Token, "Token", "Token", "eth_addr", "")
		}
		if !common.IsHexAddress(c.Recipient) {
			sl.ReportError(c.Recipient, "Recipient", "Recipient", "eth_addr", "")
		}
	}
}

// describe flattens validator errors into "Field(tag)" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}

// NormalizeJSON formats JSON with consistent indentation
func NormalizeJSON(data interface{}) ([]byte, error) {
	return json.MarshalIndent(data, "", "  ")
}
