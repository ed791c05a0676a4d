package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402-oracle/clients"
	"github.com/vitwit/x402-oracle/types"
	"github.com/vitwit/x402-oracle/utils"
)

type fakePayer struct {
	kind   types.MethodKind
	funded bool
	fundEr error
	payErr error

	mu   sync.Mutex
	paid []types.PaymentMethod
}

func (f *fakePayer) Kind() types.MethodKind { return f.kind }
func (f *fakePayer) Address() string        { return "payer-" + string(f.kind) }

func (f *fakePayer) Funded(context.Context, types.PaymentMethod) (bool, error) {
	return f.funded, f.fundEr
}

func (f *fakePayer) Pay(_ context.Context, m types.PaymentMethod) (*types.PaymentProof, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payErr != nil {
		return nil, f.payErr
	}
	f.paid = append(f.paid, m)
	return &types.PaymentProof{Method: f.kind, Signature: "sig", From: f.Address()}, nil
}

func testInvoice() types.Invoice {
	return types.Invoice{
		Version: types.InvoiceVersion, PaymentRequired: true, Resource: "/api/v1/price/SOL",
		InvoiceID: "inv_1_abc", CreatedAt: 1,
		PaymentMethods: []types.PaymentMethod{
			{Type: types.MethodSolanaTransfer, Chain: "solana", Token: "mint", TokenSymbol: "USDC", Recipient: "r", Amount: 10000},
			{Type: types.MethodEIP3009, Chain: "ethereum-sepolia", ChainID: 11155111, Token: "0x1", TokenSymbol: "USDC", Recipient: "0x2", Amount: 10000},
		},
	}
}

// paywall answers 402 until a proof arrives, then status.
type paywall struct {
	status int

	mu       sync.Mutex
	requests int
	methods  []string
	bodies   []string
}

func (p *paywall) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	p.mu.Lock()
	p.requests++
	p.bodies = append(p.bodies, string(body))
	method := r.Header.Get(types.HeaderPaymentMethod)
	if method != "" {
		p.methods = append(p.methods, method)
	}
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/free" {
		_, _ = w.Write([]byte(`{"ok":true}`))
		return
	}
	if r.URL.Path == "/broken" {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if method == "" {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(testInvoice())
		return
	}
	status := p.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"price":"1.00"}`))
}

func (p *paywall) seen() (requests int, methods, bodies []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests, append([]string(nil), p.methods...), append([]string(nil), p.bodies...)
}

func newTestAgent(t *testing.T, wall *paywall, opts ...Option) *Agent {
	t.Helper()
	srv := httptest.NewServer(wall)
	t.Cleanup(srv.Close)
	a, err := New(srv.URL, opts...)
	require.NoError(t, err)
	return a
}

func TestFreeResource(t *testing.T) {
	wall := &paywall{}
	a := newTestAgent(t, wall, WithPayer(&fakePayer{kind: types.MethodEIP3009, funded: true}))

	res, err := a.Get(context.Background(), "/free")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.False(t, res.Paid())
	assert.Equal(t, 1, a.Stats().QueriesMade)
	assert.Zero(t, a.Stats().SuccessfulPayments)
}

func TestPayAndRetry(t *testing.T) {
	wall := &paywall{}
	evm := &fakePayer{kind: types.MethodEIP3009, funded: true}
	a := newTestAgent(t, wall, WithPayer(evm))

	res, err := a.Get(context.Background(), "/api/v1/price/SOL")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"price":"1.00"}`, string(res.Body))
	require.True(t, res.Paid())
	assert.Equal(t, types.MethodEIP3009, res.Method.Type)
	assert.Equal(t, "inv_1_abc", res.Invoice.InvoiceID)

	requests, methods, _ := wall.seen()
	assert.Equal(t, 2, requests)
	assert.Equal(t, []string{"eip-3009"}, methods)

	s := a.Stats()
	assert.Equal(t, 1, s.SuccessfulPayments)
	assert.Equal(t, types.MinorUnits(10000), s.Spent["eip-3009"])
}

func TestPaidRetryAcceptsSuccessStatuses(t *testing.T) {
	for _, status := range []int{http.StatusCreated, http.StatusAccepted} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			wall := &paywall{status: status}
			a := newTestAgent(t, wall, WithPayer(&fakePayer{kind: types.MethodEIP3009, funded: true}))

			res, err := a.Get(context.Background(), "/api/v1/price/SOL")
			require.NoError(t, err)
			assert.Equal(t, status, res.StatusCode)
			assert.True(t, res.Paid())
			assert.Equal(t, 1, a.Stats().SuccessfulPayments)
			assert.Zero(t, a.Stats().FailedPayments)
		})
	}
}

func TestSelection(t *testing.T) {
	tests := []struct {
		name      string
		preferred string
		solFunded bool
		evmFunded bool
		want      types.MethodKind
	}{
		{"first funded in invoice order", "", true, true, types.MethodSolanaTransfer},
		{"preferred family", "ethereum", true, true, types.MethodEIP3009},
		{"preferred tag", "eip-3009", true, true, types.MethodEIP3009},
		{"preferred chain", "solana", true, true, types.MethodSolanaTransfer},
		{"preferred unfunded", "ethereum", true, false, types.MethodSolanaTransfer},
		{"first unfunded", "", false, true, types.MethodEIP3009},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAgent(t, &paywall{},
				WithPreferred(tt.preferred),
				WithPayer(&fakePayer{kind: types.MethodSolanaTransfer, funded: tt.solFunded}),
				WithPayer(&fakePayer{kind: types.MethodEIP3009, funded: tt.evmFunded}),
			)
			res, err := a.Get(context.Background(), "/paid")
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Method.Type)
		})
	}
}

func TestPaymentErrors(t *testing.T) {
	t.Run("no compatible payer", func(t *testing.T) {
		a := newTestAgent(t, &paywall{}, WithPayer(&fakePayer{kind: types.MethodEIP4337, funded: true}))
		_, err := a.Get(context.Background(), "/paid")
		assert.Equal(t, types.ErrNoCompatibleMethod, types.ErrorCode(err))
	})

	t.Run("insufficient funds", func(t *testing.T) {
		a := newTestAgent(t, &paywall{},
			WithPayer(&fakePayer{kind: types.MethodSolanaTransfer}),
			WithPayer(&fakePayer{kind: types.MethodEIP3009, fundEr: errors.New("rpc down")}),
		)
		_, err := a.Get(context.Background(), "/paid")
		assert.Equal(t, types.ErrInsufficientFunds, types.ErrorCode(err))
		assert.Equal(t, 1, a.Stats().FailedPayments)
	})

	t.Run("pay failure is fatal", func(t *testing.T) {
		wall := &paywall{}
		sol := &fakePayer{kind: types.MethodSolanaTransfer, funded: true, payErr: errors.New("blockhash expired")}
		evm := &fakePayer{kind: types.MethodEIP3009, funded: true}
		a := newTestAgent(t, wall, WithPayer(sol), WithPayer(evm))

		_, err := a.Get(context.Background(), "/paid")
		assert.Equal(t, types.ErrPaymentFailed, types.ErrorCode(err))
		assert.Empty(t, evm.paid, "no fallback to another chain")
		requests, _, _ := wall.seen()
		assert.Equal(t, 1, requests, "no retry without proof")
	})

	t.Run("rejected retry", func(t *testing.T) {
		wall := &paywall{status: http.StatusPaymentRequired}
		a := newTestAgent(t, wall, WithPayer(&fakePayer{kind: types.MethodEIP3009, funded: true}))

		res, err := a.Get(context.Background(), "/paid")
		assert.Equal(t, types.ErrPaymentRejected, types.ErrorCode(err))
		require.NotNil(t, res)
		assert.Equal(t, http.StatusPaymentRequired, res.StatusCode)
		requests, _, _ := wall.seen()
		assert.Equal(t, 2, requests, "exactly one retry")
	})

	t.Run("unexpected status", func(t *testing.T) {
		a := newTestAgent(t, &paywall{})
		_, err := a.Get(context.Background(), "/broken")
		assert.Equal(t, types.ErrUnexpectedStatus, types.ErrorCode(err))
	})
}

func TestRetryReplaysBody(t *testing.T) {
	wall := &paywall{}
	a := newTestAgent(t, wall, WithPayer(&fakePayer{kind: types.MethodEIP3009, funded: true}))

	req, err := http.NewRequest(http.MethodPost, a.resolve("/api/v1/query"), strings.NewReader(`{"q":"SOL"}`))
	require.NoError(t, err)
	res, err := a.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	_, _, bodies := wall.seen()
	assert.Equal(t, []string{`{"q":"SOL"}`, `{"q":"SOL"}`}, bodies)
}

func TestNewValidatesURL(t *testing.T) {
	_, err := New("localhost:3402")
	assert.Equal(t, types.ErrConfigError, types.ErrorCode(err))

	a, err := New("http://localhost:3402", WithPayer(&fakePayer{kind: types.MethodEIP3009}), WithPayer(&fakePayer{kind: types.MethodSolanaTransfer}))
	require.NoError(t, err)
	assert.Equal(t, []types.MethodKind{types.MethodSolanaTransfer, types.MethodEIP3009}, a.Payers())
	assert.Equal(t, "http://localhost:3402/api/v1/price/SOL", a.resolve("/api/v1/price/SOL"))
}

func TestMatchesPreference(t *testing.T) {
	sol := types.PaymentMethod{Type: types.MethodSolanaTransfer, Chain: "solana-devnet"}
	evm := types.PaymentMethod{Type: types.MethodEIP3009, Chain: "base-sepolia"}

	assert.True(t, matchesPreference(sol, "solana"))
	assert.True(t, matchesPreference(sol, "Solana-Devnet"))
	assert.False(t, matchesPreference(sol, "ethereum"))
	assert.True(t, matchesPreference(evm, "ethereum"))
	assert.True(t, matchesPreference(evm, "evm"))
	assert.True(t, matchesPreference(evm, "base-sepolia"))
	assert.False(t, matchesPreference(evm, ""))
}

func TestEVMPayer(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	client, err := clients.NewEVMClient("ethereum-sepolia", 11155111, "")
	require.NoError(t, err)
	p := NewEVMPayer(client, key)

	m := types.PaymentMethod{
		Type: types.MethodEIP3009, Chain: "ethereum-sepolia", ChainID: 11155111,
		Token: "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", Recipient: "0x384Aa214be0B279cbf211e9b2C992d8633F77848",
		Amount: 10000, ValidUntil: time.Now().Add(time.Hour).Unix(),
	}
	funded, err := p.Funded(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, funded, "no rpc means assumed funded")

	proof, err := p.Pay(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, p.Address(), proof.From)
	require.NoError(t, utils.ValidateProof(proof))

	m.Recipient = "bad"
	_, err = p.Pay(context.Background(), m)
	assert.Equal(t, types.ErrInvalidInvoice, types.ErrorCode(err))
}

type emptyLedger struct {
	clients.SolanaRPC
}

func (emptyLedger) GetAccountInfo(context.Context, solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	return nil, rpc.ErrNotFound
}

func TestSolanaPayerUnfunded(t *testing.T) {
	client, err := clients.NewSolanaClient("solana", "", clients.WithSolanaRPC(emptyLedger{}))
	require.NoError(t, err)
	p := NewSolanaPayer(client, solana.NewWallet().PrivateKey)

	funded, err := p.Funded(context.Background(), types.PaymentMethod{
		Type: types.MethodSolanaTransfer, Token: solana.NewWallet().PublicKey().String(), Amount: 1,
	})
	require.NoError(t, err)
	assert.False(t, funded)
	assert.Equal(t, types.MethodSolanaTransfer, p.Kind())
}
