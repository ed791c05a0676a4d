package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/vitwit/x402-oracle/types"
	"github.com/vitwit/x402-oracle/utils"
)

const defaultPollInterval = 2 * time.Second

// SolanaClient verifies SPL token transfers from ledger balance deltas and
// submits transfers for the paying side.
type SolanaClient struct {
	network      string
	rpc          SolanaRPC
	commitment   rpc.CommitmentType
	freshness    time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

type SolanaOption func(*SolanaClient)

// WithSolanaRPC replaces the JSON-RPC transport.
func WithSolanaRPC(r SolanaRPC) SolanaOption {
	return func(c *SolanaClient) {
		c.rpc = r
	}
}

// WithFreshness bounds how old a verified transaction may be.
func WithFreshness(d time.Duration) SolanaOption {
	return func(c *SolanaClient) {
		if d > 0 {
			c.freshness = d
		}
	}
}

// WithCommitment sets the commitment for reads and confirmation waits.
// Finalized is the default; confirmed trades safety for latency.
func WithCommitment(commitment rpc.CommitmentType) SolanaOption {
	return func(c *SolanaClient) {
		c.commitment = commitment
	}
}

func WithSolanaClock(now func() time.Time) SolanaOption {
	return func(c *SolanaClient) {
		c.now = now
	}
}

func WithPollInterval(d time.Duration) SolanaOption {
	return func(c *SolanaClient) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// NewSolanaClient creates a Solana client for the given cluster endpoint.
func NewSolanaClient(network, rpcURL string, opts ...SolanaOption) (*SolanaClient, error) {
	c := &SolanaClient{
		network:      network,
		commitment:   rpc.CommitmentFinalized,
		freshness:    types.DefaultFreshnessWindow,
		pollInterval: defaultPollInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rpc == nil {
		if rpcURL == "" {
			return nil, types.NewError(types.ErrConfigError, "solana rpc url is required for %s", network)
		}
		c.rpc = rpc.New(rpcURL)
	}
	return c, nil
}

func (c *SolanaClient) GetNetwork() string { return c.network }

// VerifyTransfer reports whether txReference credited recipient with at
// least expected units of mint.
func (c *SolanaClient) VerifyTransfer(ctx context.Context, txReference, payer, mint, recipient string, expected *big.Int) (bool, error) {
	res, err := c.InspectTransfer(ctx, txReference, payer, mint, recipient, expected)
	if err != nil {
		return false, err
	}
	return res.IsValid, nil
}

// InspectTransfer is VerifyTransfer with the rejection reason. RPC failures
// are returned as UPSTREAM_UNAVAILABLE errors, never as a valid result.
func (c *SolanaClient) InspectTransfer(ctx context.Context, txReference, payer, mint, recipient string, expected *big.Int) (*types.VerificationResult, error) {
	kind := types.MethodSolanaTransfer

	sig, err := solana.SignatureFromBase58(txReference)
	if err != nil {
		return types.Fail(kind, ReasonInvalidReference), nil
	}

	maxVersion := uint64(0)
	tx, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && tx == nil) {
		return types.Fail(kind, ReasonTxNotFound), nil
	}
	if err != nil {
		return nil, types.WrapError(types.ErrUpstreamUnavailable, err, "get transaction %s", txReference)
	}
	if tx.Meta == nil {
		return types.Fail(kind, ReasonTxNotFound), nil
	}
	if tx.Meta.Err != nil {
		return types.Fail(kind, ReasonTxFailed), nil
	}

	if tx.BlockTime == nil {
		return types.Fail(kind, ReasonNoBlockTime), nil
	}
	age := c.now().Unix() - int64(*tx.BlockTime)
	if age > int64(c.freshness/time.Second) {
		return types.Fail(kind, ReasonTxTooOld), nil
	}

	var keys []solana.PublicKey
	if tx.Transaction != nil {
		if decoded, err := tx.Transaction.GetTransaction(); err == nil {
			keys = accountKeysOf(decoded, tx.Meta)
		}
	}

	changes, err := snapshotFromMeta(tx.Meta, keys)
	if err != nil {
		return types.Fail(kind, ReasonInvalidReference), nil
	}

	credit, ok := FindCredit(changes, mint, recipient, expected)
	if !ok {
		if CreditedDelta(changes, mint, recipient).Sign() > 0 {
			return types.Fail(kind, ReasonAmountTooLow), nil
		}
		return types.Fail(kind, ReasonNoMatchingCredit), nil
	}

	return &types.VerificationResult{
		IsValid:   true,
		Method:    kind,
		Payer:     payer,
		Amount:    types.MinorUnits(credit.Delta().Uint64()),
		Reference: txReference,
	}, nil
}

// TokenBalance returns owner's balance of mint held in its associated token
// account. A missing account has a zero balance.
func (c *SolanaClient) TokenBalance(ctx context.Context, owner, mint string) (*big.Int, error) {
	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return nil, fmt.Errorf("invalid owner %q: %w", owner, err)
	}
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint %q: %w", mint, err)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(ownerKey, mintKey)
	if err != nil {
		return nil, err
	}

	exists, err := c.accountExists(ctx, ata)
	if err != nil {
		return nil, err
	}
	if !exists {
		return new(big.Int), nil
	}

	bal, err := c.rpc.GetTokenAccountBalance(ctx, ata, c.commitment)
	if err != nil {
		return nil, types.WrapError(types.ErrUpstreamUnavailable, err, "get token balance")
	}
	if bal == nil || bal.Value == nil {
		return new(big.Int), nil
	}
	return utils.ValidateBigInt(bal.Value.Amount)
}

func (c *SolanaClient) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	_, err := c.rpc.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, types.WrapError(types.ErrUpstreamUnavailable, err, "get account %s", account)
	}
	return true, nil
}

// Transfer sends amount of mint from the signer's associated token account
// to recipient's, creating the recipient account when it does not exist,
// and blocks until the cluster confirms the transaction.
func (c *SolanaClient) Transfer(ctx context.Context, signer solana.PrivateKey, mint, recipient string, amount uint64) (solana.Signature, error) {
	owner := signer.PublicKey()
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("invalid mint %q: %w", mint, err)
	}
	recipientKey, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("invalid recipient %q: %w", recipient, err)
	}

	source, _, err := solana.FindAssociatedTokenAddress(owner, mintKey)
	if err != nil {
		return solana.Signature{}, err
	}
	destination, _, err := solana.FindAssociatedTokenAddress(recipientKey, mintKey)
	if err != nil {
		return solana.Signature{}, err
	}

	var instructions []solana.Instruction
	exists, err := c.accountExists(ctx, destination)
	if err != nil {
		return solana.Signature{}, err
	}
	if !exists {
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(owner, recipientKey, mintKey).Build())
	}
	instructions = append(instructions,
		token.NewTransferInstruction(amount, source, destination, owner, nil).Build())

	recent, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Signature{}, types.WrapError(types.ErrUpstreamUnavailable, err, "get latest blockhash")
	}

	tx, err := solana.NewTransaction(instructions, recent.Value.Blockhash, solana.TransactionPayer(owner))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(owner) {
			return &signer
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}

	if err := c.waitConfirmed(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// waitConfirmed polls signature status until the transaction reaches the
// client's commitment, fails on chain, or ctx ends.
func (c *SolanaClient) waitConfirmed(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
		if err == nil && status != nil && len(status.Value) > 0 && status.Value[0] != nil {
			s := status.Value[0]
			if s.Err != nil {
				return fmt.Errorf("transaction %s failed: %v", sig, s.Err)
			}
			if reached(s.ConfirmationStatus, c.commitment) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction %s not confirmed: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

func reached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	switch status {
	case rpc.ConfirmationStatusFinalized:
		return true
	case rpc.ConfirmationStatusConfirmed:
		return want != rpc.CommitmentFinalized
	case rpc.ConfirmationStatusProcessed:
		return want == rpc.CommitmentProcessed
	}
	return false
}
