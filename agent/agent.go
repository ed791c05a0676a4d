// Package agent pays x402 invoices on behalf of an automated client.
package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/vitwit/x402-oracle/logger"
	"github.com/vitwit/x402-oracle/types"
	"github.com/vitwit/x402-oracle/utils"
)

const maxBodySize = 4 << 20

// Result is the outcome of one paid or free request.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Set when the request needed payment.
	Invoice *types.Invoice
	Method  *types.PaymentMethod
	Proof   *types.PaymentProof
}

// Paid reports whether a payment was made for this result.
func (r *Result) Paid() bool { return r.Proof != nil }

// Stats summarises the agent's activity.
type Stats struct {
	QueriesMade        int                         `json:"queries_made"`
	SuccessfulPayments int                         `json:"successful_payments"`
	FailedPayments     int                         `json:"failed_payments"`
	Spent              map[string]types.MinorUnits `json:"spent"`
}

// Agent performs requests against an x402 server and pays 402 challenges
// with the first suitable payer. Payments run one at a time.
type Agent struct {
	baseURL   *url.URL
	client    *http.Client
	payers    map[types.MethodKind]Payer
	preferred string
	logger    logger.Logger

	payMu sync.Mutex

	mu    sync.Mutex
	stats Stats
}

type Option func(*Agent)

func WithHTTPClient(c *http.Client) Option {
	return func(a *Agent) {
		if c != nil {
			a.client = c
		}
	}
}

// WithPayer adds a payer. A later payer of the same kind replaces an earlier one.
func WithPayer(p Payer) Option {
	return func(a *Agent) {
		a.payers[p.Kind()] = p
	}
}

// WithPreferred sets the preferred method tag, chain name or chain family.
func WithPreferred(pref string) Option {
	return func(a *Agent) {
		a.preferred = pref
	}
}

func WithLogger(l logger.Logger) Option {
	return func(a *Agent) {
		a.logger = logger.OrNoop(l)
	}
}

// New creates an agent for the server at baseURL.
func New(baseURL string, opts ...Option) (*Agent, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, types.NewError(types.ErrConfigError, "invalid oracle url %q", baseURL)
	}
	a := &Agent{
		baseURL: u,
		client:  &http.Client{Timeout: 2 * time.Minute},
		payers:  make(map[types.MethodKind]Payer),
		logger:  logger.NoopLogger{},
		stats:   Stats{Spent: make(map[string]types.MinorUnits)},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Payers lists the configured payer kinds.
func (a *Agent) Payers() []types.MethodKind {
	out := make([]types.MethodKind, 0, len(a.payers))
	for _, k := range types.MethodKinds {
		if _, ok := a.payers[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Get requests path relative to the base URL.
func (a *Agent) Get(ctx context.Context, path string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.resolve(path), nil)
	if err != nil {
		return nil, err
	}
	return a.Do(ctx, req)
}

func (a *Agent) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return a.baseURL.String() + path
	}
	return a.baseURL.ResolveReference(ref).String()
}

// Do sends req and, on 402, pays the invoice and retries once with the
// proof. The request body is buffered so it can be replayed.
func (a *Agent) Do(ctx context.Context, req *http.Request) (*Result, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
	}

	a.bump(func(s *Stats) { s.QueriesMade++ })

	resp, err := a.send(ctx, req, body, nil)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
	case success(resp.StatusCode):
		return resp, nil
	default:
		return resp, types.NewError(types.ErrUnexpectedStatus, "unexpected status %d: %s", resp.StatusCode, snippet(resp.Body))
	}

	inv, err := utils.ParseInvoice(resp.Body)
	if err != nil {
		return resp, err
	}
	a.logger.Info("payment required", map[string]any{
		"resource":   inv.Resource,
		"invoice_id": inv.InvoiceID,
		"chains":     inv.Chains(),
	})

	method, proof, err := a.pay(ctx, inv)
	if err != nil {
		a.bump(func(s *Stats) { s.FailedPayments++ })
		return resp, err
	}

	paid, err := a.send(ctx, req, body, proof)
	if err != nil {
		a.bump(func(s *Stats) { s.FailedPayments++ })
		return nil, types.WrapError(types.ErrPaymentRejected, err, "retry with payment failed")
	}
	paid.Invoice, paid.Method, paid.Proof = inv, &method, proof

	if !success(paid.StatusCode) {
		a.bump(func(s *Stats) { s.FailedPayments++ })
		return paid, types.NewError(types.ErrPaymentRejected, "payment rejected with status %d: %s", paid.StatusCode, snippet(paid.Body))
	}

	a.bump(func(s *Stats) {
		s.SuccessfulPayments++
		s.Spent[string(method.Type)] += method.Amount
	})
	a.logger.Info("payment accepted", map[string]any{
		"method": method.Type,
		"chain":  method.Chain,
		"amount": method.Amount.String(),
	})
	return paid, nil
}

func (a *Agent) pay(ctx context.Context, inv *types.Invoice) (types.PaymentMethod, *types.PaymentProof, error) {
	a.payMu.Lock()
	defer a.payMu.Unlock()

	method, payer, err := a.selectMethod(ctx, inv)
	if err != nil {
		return types.PaymentMethod{}, nil, err
	}

	a.logger.Info("paying invoice", map[string]any{
		"method": method.Type,
		"chain":  method.Chain,
		"amount": method.Amount.String(),
		"from":   payer.Address(),
	})
	proof, err := payer.Pay(ctx, method)
	if err != nil {
		if types.ErrorCode(err) == "" {
			err = types.WrapError(types.ErrPaymentFailed, err, "payment on %s failed", method.Chain)
		}
		a.logger.Error("payment failed", map[string]any{"method": method.Type, "err": err})
		return method, nil, err
	}
	return method, proof, nil
}

func (a *Agent) send(ctx context.Context, orig *http.Request, body []byte, proof *types.PaymentProof) (*Result, error) {
	req := orig.Clone(ctx)
	req.Body = nil
	if body != nil {
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
	}
	if proof != nil {
		proof.Apply(req.Header)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (a *Agent) bump(fn func(*Stats)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.stats)
}

// Stats returns a copy of the counters.
func (a *Agent) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stats
	s.Spent = make(map[string]types.MinorUnits, len(a.stats.Spent))
	for k, v := range a.stats.Spent {
		s.Spent[k] = v
	}
	return s
}

func success(status int) bool {
	return status >= 200 && status < 300
}

func snippet(b []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
