package verification

import (
	"context"
	"math/big"

	"github.com/vitwit/x402-oracle/clients"
	"github.com/vitwit/x402-oracle/logger"
	"github.com/vitwit/x402-oracle/types"
)

// LedgerVerifier checks solana-transfer proofs against the configured mint
// and recipient.
type LedgerVerifier struct {
	client *clients.SolanaClient
	chain  types.ChainConfig
}

func NewLedgerVerifier(client *clients.SolanaClient, chain types.ChainConfig) *LedgerVerifier {
	return &LedgerVerifier{client: client, chain: chain}
}

func (v *LedgerVerifier) Kind() types.MethodKind { return types.MethodSolanaTransfer }

func (v *LedgerVerifier) Verify(ctx context.Context, proof *types.PaymentProof, expected types.MinorUnits) (*types.VerificationResult, error) {
	return v.client.InspectTransfer(ctx, proof.TxHash, proof.From, v.chain.Token, v.chain.Recipient,
		new(big.Int).SetUint64(uint64(expected)))
}

// AuthorizationVerifier checks eip-3009 proofs offline. The signed value
// must equal the expected price and the signed recipient must be the
// configured one.
type AuthorizationVerifier struct {
	client *clients.EVMClient
	chain  types.ChainConfig
}

func NewAuthorizationVerifier(client *clients.EVMClient, chain types.ChainConfig) *AuthorizationVerifier {
	return &AuthorizationVerifier{client: client, chain: chain}
}

func (v *AuthorizationVerifier) Kind() types.MethodKind { return types.MethodEIP3009 }

func (v *AuthorizationVerifier) Verify(_ context.Context, proof *types.PaymentProof, expected types.MinorUnits) (*types.VerificationResult, error) {
	after, before, err := proof.Window()
	if err != nil {
		return types.Fail(types.MethodEIP3009, clients.ReasonInvalidWindow), nil
	}
	return v.client.CheckAuthorization(clients.Authorization{
		Token:         v.chain.Token,
		Recipient:     v.chain.Recipient,
		Payer:         proof.From,
		Signature:     proof.Signature,
		Value:         new(big.Int).SetUint64(uint64(expected)),
		Nonce:         proof.Nonce,
		ValidAfter:    after,
		ValidBefore:   before,
		DomainName:    v.chain.DomainName,
		DomainVersion: v.chain.DomainVersion,
	}), nil
}

// UserOperationVerifier wraps the account-abstraction stub. NOT FOR
// PRODUCTION USE: it accepts any well-formed hash.
type UserOperationVerifier struct {
	stub *clients.UserOperationStub
}

// NewUserOperationVerifier logs a warning every time it is constructed.
func NewUserOperationVerifier(stub *clients.UserOperationStub, log logger.Logger) *UserOperationVerifier {
	logger.OrNoop(log).Warn("eip-4337 verification is a stub and must not be used in production", map[string]any{
		"entrypoint": stub.EntryPoint,
	})
	return &UserOperationVerifier{stub: stub}
}

func (v *UserOperationVerifier) Kind() types.MethodKind { return types.MethodEIP4337 }

func (v *UserOperationVerifier) Verify(_ context.Context, proof *types.PaymentProof, expected types.MinorUnits) (*types.VerificationResult, error) {
	res := v.stub.VerifyUserOperation(proof.UserOpHash)
	if res.IsValid {
		res.Payer = proof.From
		res.Amount = expected
	}
	return res, nil
}
