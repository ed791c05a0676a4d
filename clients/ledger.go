package clients

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/vitwit/x402-oracle/utils"
)

// TokenBalanceChange is one token account's balance before and after a transaction.
type TokenBalanceChange struct {
	Account string
	Owner   string
	Mint    string
	Pre     *big.Int
	Post    *big.Int
}

// Delta returns Post - Pre.
func (c TokenBalanceChange) Delta() *big.Int {
	pre, post := c.Pre, c.Post
	if pre == nil {
		pre = new(big.Int)
	}
	if post == nil {
		post = new(big.Int)
	}
	return new(big.Int).Sub(post, pre)
}

// Credits reports whether the change is for mint and belongs to recipient,
// either as the token account itself or as its owner.
func (c TokenBalanceChange) Credits(mint, recipient string) bool {
	if c.Mint != mint {
		return false
	}
	return (c.Owner != "" && c.Owner == recipient) || (c.Account != "" && c.Account == recipient)
}

// FindCredit returns the first change crediting recipient with at least
// expected units of mint.
func FindCredit(changes []TokenBalanceChange, mint, recipient string, expected *big.Int) (TokenBalanceChange, bool) {
	for _, c := range changes {
		if !c.Credits(mint, recipient) {
			continue
		}
		if c.Delta().Cmp(expected) >= 0 {
			return c, true
		}
	}
	return TokenBalanceChange{}, false
}

// CreditedDelta returns the largest delta credited to recipient in mint,
// or zero when no matching account moved.
func CreditedDelta(changes []TokenBalanceChange, mint, recipient string) *big.Int {
	best := new(big.Int)
	for _, c := range changes {
		if !c.Credits(mint, recipient) {
			continue
		}
		if d := c.Delta(); d.Cmp(best) > 0 {
			best = d
		}
	}
	return best
}

// snapshotFromMeta pairs pre and post token balances by account index. A
// balance missing on one side counts as zero.
func snapshotFromMeta(meta *rpc.TransactionMeta, accountKeys []solana.PublicKey) ([]TokenBalanceChange, error) {
	if meta == nil {
		return nil, nil
	}

	byIndex := make(map[uint16]*TokenBalanceChange)
	entry := func(b rpc.TokenBalance) *TokenBalanceChange {
		c, ok := byIndex[b.AccountIndex]
		if !ok {
			c = &TokenBalanceChange{Mint: b.Mint.String()}
			if int(b.AccountIndex) < len(accountKeys) {
				c.Account = accountKeys[b.AccountIndex].String()
			}
			byIndex[b.AccountIndex] = c
		}
		if b.Owner != nil && c.Owner == "" {
			c.Owner = b.Owner.String()
		}
		return c
	}
	amount := func(b rpc.TokenBalance) (*big.Int, error) {
		if b.UiTokenAmount == nil {
			return new(big.Int), nil
		}
		v, err := utils.ValidateBigInt(b.UiTokenAmount.Amount)
		if err != nil {
			return nil, fmt.Errorf("token balance at index %d: %w", b.AccountIndex, err)
		}
		return v, nil
	}

	for _, b := range meta.PreTokenBalances {
		v, err := amount(b)
		if err != nil {
			return nil, err
		}
		entry(b).Pre = v
	}
	for _, b := range meta.PostTokenBalances {
		v, err := amount(b)
		if err != nil {
			return nil, err
		}
		entry(b).Post = v
	}

	indices := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, int(idx))
	}
	sort.Ints(indices)

	out := make([]TokenBalanceChange, 0, len(indices))
	for _, idx := range indices {
		c := byIndex[uint16(idx)]
		if c.Pre == nil {
			c.Pre = new(big.Int)
		}
		if c.Post == nil {
			c.Post = new(big.Int)
		}
		out = append(out, *c)
	}
	return out, nil
}

// accountKeysOf returns static keys followed by writable and read-only
// keys loaded from address lookup tables.
func accountKeysOf(tx *solana.Transaction, meta *rpc.TransactionMeta) []solana.PublicKey {
	if tx == nil {
		return nil
	}
	keys := make([]solana.PublicKey, 0, len(tx.Message.AccountKeys))
	keys = append(keys, tx.Message.AccountKeys...)
	if meta != nil {
		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	}
	return keys
}
