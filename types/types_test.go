package types

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinorUnitsJSON(t *testing.T) {
	raw, err := json.Marshal(MinorUnits(1000000))
	require.NoError(t, err)
	assert.Equal(t, `"1000000"`, string(raw))

	var m MinorUnits
	require.NoError(t, json.Unmarshal([]byte(`"10000"`), &m))
	assert.Equal(t, MinorUnits(10000), m)

	require.NoError(t, json.Unmarshal([]byte(`50000`), &m))
	assert.Equal(t, MinorUnits(50000), m)

	assert.Error(t, json.Unmarshal([]byte(`"0.01"`), &m))
	assert.Error(t, json.Unmarshal([]byte(`-5`), &m))
}

func TestParseMinorUnits(t *testing.T) {
	m, err := ParseMinorUnits(" 150000 ")
	require.NoError(t, err)
	assert.Equal(t, MinorUnits(150000), m)

	for _, bad := range []string{"", "1.5", "-1", "1e6", "18446744073709551616"} {
		_, err := ParseMinorUnits(bad)
		assert.Error(t, err, bad)
	}
}

func TestNetworks(t *testing.T) {
	assert.True(t, IsEVMNetwork("Base-Sepolia"))
	assert.False(t, IsEVMNetwork("arbitrum"))
	assert.True(t, IsSolanaNetwork("solana-devnet"))
	assert.False(t, IsSolanaNetwork("ethereum"))
	assert.True(t, IsTestnet(NetworkEthereumSepolia))
	assert.False(t, IsTestnet(NetworkSolana))
	assert.Equal(t, ChainSolana, MethodSolanaTransfer.Family())
	assert.Equal(t, ChainEVM, MethodEIP4337.Family())
}

func TestMinorUnitsDecimal(t *testing.T) {
	assert.Equal(t, "0.01", MinorUnits(10000).Decimal(6).String())
	assert.Equal(t, "1", MinorUnits(1000000).Decimal(6).String())
}

func TestVerificationFailureJSON(t *testing.T) {
	body := VerificationFailure{
		Error:           "Payment verification failed",
		Message:         "signature mismatch",
		ExpectedAmount:  10000,
		ExpectedToken:   "USDC",
		SupportedChains: []string{"solana", "base-sepolia"},
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, float64(10000), decoded["expected_amount"])
	assert.Equal(t, "USDC", decoded["expected_token"])
	assert.Equal(t, []any{"solana", "base-sepolia"}, decoded["supported_chains"])
	assert.Equal(t, "signature mismatch", decoded["message"])
}

func TestInvoiceLookup(t *testing.T) {
	inv := &Invoice{PaymentMethods: []PaymentMethod{
		{Type: MethodSolanaTransfer, Chain: "solana", Amount: 1},
		{Type: MethodEIP3009, Chain: "base-sepolia", Amount: 1},
	}}
	m, ok := inv.Method(MethodEIP3009)
	require.True(t, ok)
	assert.Equal(t, "base-sepolia", m.Chain)

	_, ok = inv.Method(MethodEIP4337)
	assert.False(t, ok)
	assert.Equal(t, []string{"solana", "base-sepolia"}, inv.Chains())
}

func TestMethodKind(t *testing.T) {
	assert.True(t, MethodEIP3009.Valid())
	assert.False(t, MethodKind("lightning").Valid())
	assert.True(t, MethodEIP3009.TimeBound())
	assert.False(t, MethodSolanaTransfer.TimeBound())
	assert.Equal(t, ChainSolana, MethodSolanaTransfer.Family())
	assert.Equal(t, ChainEVM, MethodEIP4337.Family())
}

func TestProofFromHeaders(t *testing.T) {
	t.Run("no proof", func(t *testing.T) {
		p, present, err := ProofFromHeaders(http.Header{})
		require.NoError(t, err)
		assert.False(t, present)
		assert.Nil(t, p)
	})

	t.Run("individual headers", func(t *testing.T) {
		h := http.Header{}
		h.Set("x-payment-method", "eip-3009")
		h.Set("x-payment-signature", "0xsig")
		h.Set("x-payment-from", "0xABC")
		h.Set("x-payment-nonce", "0xNONCE")
		h.Set("x-payment-valid-after", "100")
		h.Set("x-payment-valid-before", "200")

		p, present, err := ProofFromHeaders(h)
		require.NoError(t, err)
		require.True(t, present)
		assert.Equal(t, MethodEIP3009, p.Method)

		after, before, err := p.Window()
		require.NoError(t, err)
		assert.Equal(t, int64(100), after)
		assert.Equal(t, int64(200), before)
		assert.Equal(t, "eip-3009:0xabc:0xnonce", p.ReplayKey())
	})

	t.Run("envelope with header override", func(t *testing.T) {
		env, err := (&PaymentProof{
			Method:    MethodSolanaTransfer,
			Signature: "sig",
			From:      "payer",
			TxHash:    "envelope-hash",
		}).Envelope()
		require.NoError(t, err)

		h := http.Header{}
		h.Set("X-PAYMENT", env)
		h.Set("x-payment-tx-hash", "header-hash")

		p, present, err := ProofFromHeaders(h)
		require.NoError(t, err)
		require.True(t, present)
		assert.Equal(t, "payer", p.From)
		assert.Equal(t, "header-hash", p.TxHash)
		assert.Equal(t, "solana-transfer:header-hash", p.ReplayKey())
	})

	t.Run("envelope method tag is case insensitive", func(t *testing.T) {
		raw := base64.StdEncoding.EncodeToString([]byte(`{"method":" EIP-3009 ","signature":"0xsig","from":"0xabc","nonce":"0x01"}`))
		h := http.Header{}
		h.Set("X-PAYMENT", raw)

		p, present, err := ProofFromHeaders(h)
		require.NoError(t, err)
		require.True(t, present)
		assert.Equal(t, MethodEIP3009, p.Method)
	})

	t.Run("bad envelope", func(t *testing.T) {
		h := http.Header{}
		h.Set("PAYMENT-SIGNATURE", "%%%")
		_, present, err := ProofFromHeaders(h)
		assert.True(t, present)
		assert.Equal(t, ErrInvalidProof, ErrorCode(err))
	})
}

func TestProofApplyRoundTrip(t *testing.T) {
	in := &PaymentProof{Method: MethodEIP4337, Signature: "s", From: "f", UserOpHash: "0xAB"}
	h := http.Header{}
	in.Apply(h)

	out, present, err := ProofFromHeaders(h)
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, in, out)
	assert.Equal(t, "eip-4337:0xab", out.ReplayKey())
}

func TestX402ErrorIs(t *testing.T) {
	err := WrapError(ErrUpstreamUnavailable, errors.New("dial tcp"), "rpc call failed")
	assert.True(t, errors.Is(err, ErrUpstream))
	assert.False(t, errors.Is(err, ErrReplay))
	assert.ErrorIs(t, NewError(ErrInvalidProof, "missing signature"), ErrStructural)
	assert.NotErrorIs(t, NewError(ErrConfigError, "bad"), ErrStructural)
	assert.Contains(t, err.Error(), "dial tcp")
	assert.Equal(t, ErrUpstreamUnavailable, ErrorCode(err))
	assert.Equal(t, "", ErrorCode(errors.New("plain")))
}
