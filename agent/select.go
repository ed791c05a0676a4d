package agent

import (
	"context"
	"strings"

	"github.com/vitwit/x402-oracle/types"
)

// matchesPreference accepts a method tag, a chain name, or a chain family
// ("solana", "ethereum"/"evm").
func matchesPreference(m types.PaymentMethod, pref string) bool {
	pref = strings.ToLower(strings.TrimSpace(pref))
	if pref == "" {
		return false
	}
	switch pref {
	case string(m.Type), strings.ToLower(m.Chain):
		return true
	case "ethereum", string(types.ChainEVM):
		return m.Type.Family() == types.ChainEVM
	case string(types.ChainSolana):
		return m.Type.Family() == types.ChainSolana
	}
	return false
}

// selectMethod picks the preferred method when it is offered and funded,
// otherwise the first method in invoice order with a funded payer.
func (a *Agent) selectMethod(ctx context.Context, inv *types.Invoice) (types.PaymentMethod, Payer, error) {
	var (
		compatible bool
		lastErr    error
	)

	try := func(m types.PaymentMethod) (Payer, bool) {
		p, ok := a.payers[m.Type]
		if !ok {
			return nil, false
		}
		compatible = true
		funded, err := p.Funded(ctx, m)
		if err != nil {
			a.logger.Warn("funding check failed", map[string]any{
				"method": m.Type,
				"chain":  m.Chain,
				"err":    err,
			})
			lastErr = err
			return nil, false
		}
		return p, funded
	}

	if a.preferred != "" {
		for _, m := range inv.PaymentMethods {
			if !matchesPreference(m, a.preferred) {
				continue
			}
			if p, ok := try(m); ok {
				return m, p, nil
			}
		}
	}

	for _, m := range inv.PaymentMethods {
		if p, ok := try(m); ok {
			return m, p, nil
		}
	}

	if !compatible {
		return types.PaymentMethod{}, nil, types.NewError(types.ErrNoCompatibleMethod,
			"no payer for any of the offered methods on %s", strings.Join(inv.Chains(), ", "))
	}
	if lastErr != nil {
		return types.PaymentMethod{}, nil, types.WrapError(types.ErrInsufficientFunds, lastErr,
			"could not confirm funds on any offered chain")
	}
	return types.PaymentMethod{}, nil, types.NewError(types.ErrInsufficientFunds,
		"insufficient funds on every offered chain")
}
