package agent

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/vitwit/x402-oracle/clients"
	"github.com/vitwit/x402-oracle/types"
	"github.com/vitwit/x402-oracle/utils"
)

// Payer settles one kind of payment method from a single key.
type Payer interface {
	Kind() types.MethodKind
	Address() string
	// Funded reports whether the payer can cover m.
	Funded(ctx context.Context, m types.PaymentMethod) (bool, error)
	// Pay settles m and returns the proof to attach to the retried request.
	Pay(ctx context.Context, m types.PaymentMethod) (*types.PaymentProof, error)
}

// SolanaPayer submits SPL token transfers and waits for confirmation.
type SolanaPayer struct {
	client *clients.SolanaClient
	key    solana.PrivateKey
}

func NewSolanaPayer(client *clients.SolanaClient, key solana.PrivateKey) *SolanaPayer {
	return &SolanaPayer{client: client, key: key}
}

func (p *SolanaPayer) Kind() types.MethodKind { return types.MethodSolanaTransfer }

func (p *SolanaPayer) Address() string { return p.key.PublicKey().String() }

func (p *SolanaPayer) Funded(ctx context.Context, m types.PaymentMethod) (bool, error) {
	bal, err := p.client.TokenBalance(ctx, p.Address(), m.Token)
	if err != nil {
		return false, err
	}
	return bal.Cmp(new(big.Int).SetUint64(uint64(m.Amount))) >= 0, nil
}

func (p *SolanaPayer) Pay(ctx context.Context, m types.PaymentMethod) (*types.PaymentProof, error) {
	sig, err := p.client.Transfer(ctx, p.key, m.Token, m.Recipient, uint64(m.Amount))
	if err != nil {
		return nil, types.WrapError(types.ErrPaymentFailed, err, "solana transfer failed")
	}
	return &types.PaymentProof{
		Method:    types.MethodSolanaTransfer,
		Signature: sig.String(),
		From:      p.Address(),
		TxHash:    sig.String(),
	}, nil
}

// EVMPayer signs EIP-3009 authorizations. Nothing is broadcast.
type EVMPayer struct {
	client        *clients.EVMClient
	key           *ecdsa.PrivateKey
	domainName    string
	domainVersion string
}

type EVMPayerOption func(*EVMPayer)

// WithDomain overrides the token's EIP-712 domain name and version.
func WithDomain(name, version string) EVMPayerOption {
	return func(p *EVMPayer) {
		p.domainName = name
		p.domainVersion = version
	}
}

func NewEVMPayer(client *clients.EVMClient, key *ecdsa.PrivateKey, opts ...EVMPayerOption) *EVMPayer {
	p := &EVMPayer{client: client, key: key}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *EVMPayer) Kind() types.MethodKind { return types.MethodEIP3009 }

func (p *EVMPayer) Address() string { return utils.AddressFromPrivateKey(p.key).Hex() }

// Funded checks balanceOf when an RPC endpoint is configured; without one
// the payer is assumed to be funded.
func (p *EVMPayer) Funded(ctx context.Context, m types.PaymentMethod) (bool, error) {
	if !p.client.HasRPC() {
		return true, nil
	}
	if m.ChainID != 0 && m.ChainID != p.client.ChainID().Uint64() {
		return false, nil
	}
	bal, err := p.client.TokenBalance(ctx, m.Token, p.Address())
	if err != nil {
		return false, err
	}
	return bal.Cmp(new(big.Int).SetUint64(uint64(m.Amount))) >= 0, nil
}

func (p *EVMPayer) Pay(_ context.Context, m types.PaymentMethod) (*types.PaymentProof, error) {
	proof, err := p.client.SignAuthorization(p.key, m, p.domainName, p.domainVersion)
	if err != nil {
		if types.ErrorCode(err) != "" {
			return nil, err
		}
		return nil, types.WrapError(types.ErrPaymentFailed, err, "eip-3009 signing failed")
	}
	return proof, nil
}

// UserOperationPayer signs the simplified user operation understood by the
// account-abstraction stub. NOT FOR PRODUCTION USE: nothing reaches a bundler.
type UserOperationPayer struct {
	stub *clients.UserOperationStub
	key  *ecdsa.PrivateKey
}

func NewUserOperationPayer(stub *clients.UserOperationStub, key *ecdsa.PrivateKey) *UserOperationPayer {
	return &UserOperationPayer{stub: stub, key: key}
}

func (p *UserOperationPayer) Kind() types.MethodKind { return types.MethodEIP4337 }

func (p *UserOperationPayer) Address() string { return utils.AddressFromPrivateKey(p.key).Hex() }

func (p *UserOperationPayer) Funded(context.Context, types.PaymentMethod) (bool, error) {
	return true, nil
}

func (p *UserOperationPayer) Pay(_ context.Context, m types.PaymentMethod) (*types.PaymentProof, error) {
	return p.stub.SignUserOperation(p.key, m)
}
