// Package invoice builds the payment challenges returned with HTTP 402.
package invoice

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vitwit/x402-oracle/types"
	"github.com/vitwit/x402-oracle/utils"
)

// Factory generates invoices for priced tiers. It holds no mutable state
// after construction and is safe for concurrent use.
type Factory struct {
	chains   []types.ChainConfig
	pricing  map[string]types.MinorUnits
	validity time.Duration
	now      func() time.Time
}

type Option func(*Factory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(f *Factory) {
		f.now = now
	}
}

// WithValidity sets how long time-bound methods stay payable.
func WithValidity(d time.Duration) Option {
	return func(f *Factory) {
		if d > 0 {
			f.validity = d
		}
	}
}

// NewFactory validates the chain set and the pricing table.
func NewFactory(chains []types.ChainConfig, pricing map[string]types.MinorUnits, opts ...Option) (*Factory, error) {
	if len(chains) == 0 {
		return nil, types.NewError(types.ErrConfigError, "at least one payment chain must be configured")
	}
	if err := utils.ValidateChains(chains); err != nil {
		return nil, err
	}
	if len(pricing) == 0 {
		return nil, types.NewError(types.ErrConfigError, "pricing table is empty")
	}
	for tier, price := range pricing {
		if strings.TrimSpace(tier) == "" {
			return nil, types.NewError(types.ErrConfigError, "pricing table contains an empty tier name")
		}
		if price == 0 {
			return nil, types.NewError(types.ErrConfigError, "tier %q must have a positive price", tier)
		}
	}

	f := &Factory{
		chains:   append([]types.ChainConfig(nil), chains...),
		pricing:  make(map[string]types.MinorUnits, len(pricing)),
		validity: types.DefaultInvoiceValidity,
		now:      time.Now,
	}
	for tier, price := range pricing {
		f.pricing[tier] = price
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Price returns the price of a tier.
func (f *Factory) Price(tier string) (types.MinorUnits, error) {
	price, ok := f.pricing[tier]
	if !ok {
		return 0, types.NewError(types.ErrConfigError, "unknown pricing tier %q", tier)
	}
	return price, nil
}

// Tiers returns the configured tier names, sorted.
func (f *Factory) Tiers() []string {
	out := make([]string, 0, len(f.pricing))
	for tier := range f.pricing {
		out = append(out, tier)
	}
	sort.Strings(out)
	return out
}

// Chains returns the configured chains in invoice order.
func (f *Factory) Chains() []types.ChainConfig {
	return append([]types.ChainConfig(nil), f.chains...)
}

// Generate builds an invoice for resourcePath priced at tier.
func (f *Factory) Generate(resourcePath, tier string) (*types.Invoice, error) {
	return f.GenerateFor(resourcePath, tier, "")
}

// GenerateFor is Generate with a description override; empty keeps the default.
func (f *Factory) GenerateFor(resourcePath, tier, description string) (*types.Invoice, error) {
	price, err := f.Price(tier)
	if err != nil {
		return nil, err
	}

	now := f.now()
	if description == "" {
		description = fmt.Sprintf("Cross-chain %s data query", tier)
	}

	methods := make([]types.PaymentMethod, 0, len(f.chains))
	for _, ch := range f.chains {
		m := types.PaymentMethod{
			Type:        ch.Kind,
			Chain:       ch.Chain,
			ChainID:     ch.ChainID,
			Token:       ch.Token,
			TokenSymbol: ch.TokenSymbol,
			Recipient:   ch.Recipient,
			Amount:      price,
		}
		if ch.Kind.TimeBound() {
			m.ValidUntil = now.Add(f.validity).Unix()
		}
		if ch.Kind == types.MethodEIP4337 {
			m.EntryPoint = ch.EntryPoint
			m.Bundler = ch.Bundler
		}
		methods = append(methods, m)
	}

	return &types.Invoice{
		Version:         types.InvoiceVersion,
		PaymentRequired: true,
		PaymentMethods:  methods,
		Resource:        resourcePath,
		Description:     description,
		InvoiceID:       newInvoiceID(now),
		CreatedAt:       now.Unix(),
	}, nil
}

func newInvoiceID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("inv_%d_%s", now.UnixMilli(), suffix)
}
