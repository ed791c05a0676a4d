package clients

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vitwit/x402-oracle/types"
	"github.com/vitwit/x402-oracle/utils"
)

// UserOperationStub is NOT FOR PRODUCTION USE. It only checks that a user
// operation hash is well formed. It does not ask a bundler whether the
// operation was included, nor inspect its call data for a matching transfer,
// so any caller can be granted access with a made-up hash.
type UserOperationStub struct {
	EntryPoint string
	Bundler    string
}

// NewUserOperationStub returns the account-abstraction stub. NOT FOR PRODUCTION USE.
func NewUserOperationStub(entryPoint, bundler string) *UserOperationStub {
	return &UserOperationStub{EntryPoint: entryPoint, Bundler: bundler}
}

// VerifyUserOperation validates only the shape of opHash.
func (s *UserOperationStub) VerifyUserOperation(opHash string) *types.VerificationResult {
	if !utils.IsUserOpHash(opHash) {
		return types.Fail(types.MethodEIP4337, ReasonInvalidUserOpHash)
	}
	return &types.VerificationResult{
		IsValid:   true,
		Method:    types.MethodEIP4337,
		Reference: strings.ToLower(opHash),
	}
}

var (
	transferSelector = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	userOpHashArgs   = mustArguments("address", "uint256", "bytes")
	transferArgs     = mustArguments("address", "uint256")
)

func mustArguments(kinds ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(kinds))
	for _, k := range kinds {
		t, err := abi.NewType(k, "", nil)
		if err != nil {
			panic(err)
		}
		args = append(args, abi.Argument{Type: t})
	}
	return args
}

// SignUserOperation builds the simplified user operation for an ERC-20
// transfer to m.Recipient and signs its hash as a personal message. The
// operation is never sent to a bundler. NOT FOR PRODUCTION USE.
func (s *UserOperationStub) SignUserOperation(key *ecdsa.PrivateKey, m types.PaymentMethod) (*types.PaymentProof, error) {
	if !common.IsHexAddress(m.Recipient) {
		return nil, types.NewError(types.ErrInvalidInvoice, "eip-4337 method has invalid recipient")
	}
	sender := utils.AddressFromPrivateKey(key)

	transfer, err := transferArgs.Pack(common.HexToAddress(m.Recipient), new(big.Int).SetUint64(uint64(m.Amount)))
	if err != nil {
		return nil, fmt.Errorf("encode transfer: %w", err)
	}
	callData := append(append([]byte{}, transferSelector...), transfer...)

	encoded, err := userOpHashArgs.Pack(sender, big.NewInt(0), callData)
	if err != nil {
		return nil, fmt.Errorf("encode user operation: %w", err)
	}
	opHash := crypto.Keccak256(encoded)

	sig, err := crypto.Sign(accounts.TextHash(opHash), key)
	if err != nil {
		return nil, fmt.Errorf("sign user operation: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	return &types.PaymentProof{
		Method:     types.MethodEIP4337,
		Signature:  hexutil.Encode(sig),
		From:       sender.Hex(),
		UserOpHash: hexutil.Encode(opHash),
	}, nil
}
