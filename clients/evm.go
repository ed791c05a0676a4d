package clients

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vitwit/x402-oracle/types"
	"github.com/vitwit/x402-oracle/utils"
	"github.com/vitwit/x402-oracle/utils/eip712"
)

const erc20ABI = `[
  {
    "name": "balanceOf",
    "type": "function",
    "stateMutability": "view",
    "inputs": [{ "name": "owner", "type": "address" }],
    "outputs": [{ "name": "", "type": "uint256" }]
  }
]`

var parsedERC20 = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(fmt.Sprintf("erc20 abi: %v", err))
	}
	return parsed
}()

// EVMClient checks EIP-3009 authorizations offline and, when an RPC endpoint
// is configured, reads ERC-20 balances.
type EVMClient struct {
	network string
	chainID *big.Int
	client  *ethclient.Client
	now     func() time.Time
}

type EVMOption func(*EVMClient)

func WithEVMClock(now func() time.Time) EVMOption {
	return func(e *EVMClient) {
		e.now = now
	}
}

// NewEVMClient creates a client for chainID. rpcURL may be empty, in which
// case only offline operations are available.
func NewEVMClient(network string, chainID uint64, rpcURL string, opts ...EVMOption) (*EVMClient, error) {
	e := &EVMClient{
		network: network,
		chainID: new(big.Int).SetUint64(chainID),
		now:     time.Now,
	}
	if rpcURL != "" {
		client, err := ethclient.Dial(rpcURL)
		if err != nil {
			return nil, types.WrapError(types.ErrConfigError, err, "failed to connect to Ethereum RPC")
		}
		e.client = client
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *EVMClient) GetNetwork() string { return e.network }

func (e *EVMClient) ChainID() *big.Int { return new(big.Int).Set(e.chainID) }

// HasRPC reports whether on-chain reads are available.
func (e *EVMClient) HasRPC() bool { return e.client != nil }

func (e *EVMClient) Close() {
	if e.client != nil {
		e.client.Close()
	}
}

// Authorization is a transferWithAuthorization claim as carried by a proof.
type Authorization struct {
	Token         string
	Recipient     string
	Payer         string
	Signature     string
	Value         *big.Int
	Nonce         string
	ValidAfter    int64
	ValidBefore   int64
	DomainName    string
	DomainVersion string
}

func (a Authorization) domain(chainID *big.Int) eip712.Domain {
	d := eip712.Domain{
		Name:              a.DomainName,
		Version:           a.DomainVersion,
		ChainID:           chainID,
		VerifyingContract: common.HexToAddress(a.Token),
	}
	if d.Name == "" {
		d.Name = eip712.DefaultDomainName
	}
	if d.Version == "" {
		d.Version = eip712.DefaultDomainVersion
	}
	return d
}

// VerifyAuthorization reports whether the signature was produced by the
// claimed payer over exactly this authorization and whether the current time
// lies inside [ValidAfter, ValidBefore].
func (e *EVMClient) VerifyAuthorization(a Authorization) (bool, error) {
	return e.CheckAuthorization(a).IsValid, nil
}

// CheckAuthorization is VerifyAuthorization with the rejection reason.
func (e *EVMClient) CheckAuthorization(a Authorization) *types.VerificationResult {
	kind := types.MethodEIP3009

	if a.ValidAfter > a.ValidBefore {
		return types.Fail(kind, ReasonInvalidWindow)
	}
	now := e.now().Unix()
	if now < a.ValidAfter {
		return types.Fail(kind, ReasonNotYetValid)
	}
	if now > a.ValidBefore {
		return types.Fail(kind, ReasonExpired)
	}

	nonce, err := eip712.HexToBytes32(a.Nonce)
	if err != nil {
		return types.Fail(kind, ReasonInvalidNonce)
	}
	sig, err := utils.DecodeSignature(a.Signature)
	if err != nil {
		return types.Fail(kind, ReasonInvalidSignature)
	}

	digest, err := eip712.AuthorizationDigest(a.domain(e.chainID), eip712.Authorization{
		From:        common.HexToAddress(a.Payer),
		To:          common.HexToAddress(a.Recipient),
		Value:       a.Value,
		ValidAfter:  big.NewInt(a.ValidAfter),
		ValidBefore: big.NewInt(a.ValidBefore),
		Nonce:       nonce,
	})
	if err != nil {
		return types.Fail(kind, ReasonInvalidSignature)
	}

	signer, err := eip712.RecoverSigner(digest, sig)
	if err != nil {
		return types.Fail(kind, ReasonInvalidSignature)
	}
	if !strings.EqualFold(signer.Hex(), a.Payer) {
		return types.Fail(kind, ReasonSignatureMismatch)
	}

	amount := types.MinorUnits(0)
	if a.Value != nil && a.Value.IsUint64() {
		amount = types.MinorUnits(a.Value.Uint64())
	}
	return &types.VerificationResult{
		IsValid:   true,
		Method:    kind,
		Payer:     signer.Hex(),
		Amount:    amount,
		Reference: strings.ToLower(a.Nonce),
	}
}

// SignAuthorization authorizes a transfer of m.Amount to m.Recipient. The
// window opens now and closes at m.ValidUntil, or one hour from now.
func (e *EVMClient) SignAuthorization(key *ecdsa.PrivateKey, m types.PaymentMethod, domainName, domainVersion string) (*types.PaymentProof, error) {
	if !common.IsHexAddress(m.Token) || !common.IsHexAddress(m.Recipient) {
		return nil, types.NewError(types.ErrInvalidInvoice, "eip-3009 method has invalid token or recipient")
	}

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	now := e.now().Unix()
	validAfter := now
	validBefore := m.ValidUntil
	if validBefore == 0 {
		validBefore = now + int64(types.DefaultInvoiceValidity/time.Second)
	}

	chainID := e.chainID
	if m.ChainID != 0 {
		chainID = new(big.Int).SetUint64(m.ChainID)
	}

	from := utils.AddressFromPrivateKey(key)
	a := Authorization{Token: m.Token, DomainName: domainName, DomainVersion: domainVersion}
	digest, err := eip712.AuthorizationDigest(a.domain(chainID), eip712.Authorization{
		From:        from,
		To:          common.HexToAddress(m.Recipient),
		Value:       new(big.Int).SetUint64(uint64(m.Amount)),
		ValidAfter:  big.NewInt(validAfter),
		ValidBefore: big.NewInt(validBefore),
		Nonce:       nonce,
	})
	if err != nil {
		return nil, err
	}

	sig, err := eip712.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("sign authorization: %w", err)
	}

	return &types.PaymentProof{
		Method:      types.MethodEIP3009,
		Signature:   hexutil.Encode(sig),
		From:        from.Hex(),
		Nonce:       hexutil.Encode(nonce[:]),
		ValidAfter:  strconv.FormatInt(validAfter, 10),
		ValidBefore: strconv.FormatInt(validBefore, 10),
	}, nil
}

// TokenBalance calls balanceOf(owner) on token.
func (e *EVMClient) TokenBalance(ctx context.Context, token, owner string) (*big.Int, error) {
	if e.client == nil {
		return nil, types.NewError(types.ErrConfigError, "no RPC endpoint configured for %s", e.network)
	}

	data, err := parsedERC20.Pack("balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, err
	}
	contract := common.HexToAddress(token)
	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, types.WrapError(types.ErrUpstreamUnavailable, err, "balanceOf call failed")
	}

	values, err := parsedERC20.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("decode balanceOf: %w", err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("empty balanceOf result")
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result %T", values[0])
	}
	return balance, nil
}
