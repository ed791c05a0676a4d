// Package middleware gates net/http handlers behind x402 payments.
package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vitwit/x402-oracle/invoice"
	"github.com/vitwit/x402-oracle/logger"
	"github.com/vitwit/x402-oracle/metrics"
	"github.com/vitwit/x402-oracle/replay"
	"github.com/vitwit/x402-oracle/types"
	"github.com/vitwit/x402-oracle/utils"
	"github.com/vitwit/x402-oracle/verification"
)

const (
	failureError          = "Payment verification failed"
	failureMessage        = "Invalid or insufficient payment"
	upstreamFailedMessage = "Payment could not be verified at this time, retry later"
)

// UsageRecorder receives every granted payment.
type UsageRecorder interface {
	Record(p metrics.Payment)
}

// Gate turns priced tiers into middleware. One Gate is shared by all routes
// so that a proof consumed on one route cannot be replayed on another.
type Gate struct {
	factory *invoice.Factory
	service *verification.Service
	guard   replay.Guard
	usage   UsageRecorder
	logger  logger.Logger
	metrics metrics.Recorder
	exempt  map[string]bool
}

type Option func(*Gate)

func WithLogger(l logger.Logger) Option {
	return func(g *Gate) {
		g.logger = logger.OrNoop(l)
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(g *Gate) {
		g.metrics = metrics.OrNoop(r)
	}
}

// WithExemptPaths lets requests for the given exact paths through without payment.
func WithExemptPaths(paths ...string) Option {
	return func(g *Gate) {
		for _, p := range paths {
			g.exempt[p] = true
		}
	}
}

// New creates a gate. usage may be nil.
func New(factory *invoice.Factory, service *verification.Service, guard replay.Guard, usage UsageRecorder, opts ...Option) *Gate {
	g := &Gate{
		factory: factory,
		service: service,
		guard:   guard,
		usage:   usage,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		exempt:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type route struct {
	tier        string
	price       types.MinorUnits
	description string
}

type RouteOption func(*route)

// WithDescription overrides the invoice description for one route.
func WithDescription(desc string) RouteOption {
	return func(r *route) {
		r.description = desc
	}
}

// Require returns middleware charging the price of tier. The tier is
// resolved now, so an unknown tier fails at wiring time.
func (g *Gate) Require(tier string, opts ...RouteOption) (func(http.Handler) http.Handler, error) {
	price, err := g.factory.Price(tier)
	if err != nil {
		return nil, err
	}
	r := &route{tier: tier, price: price}
	for _, opt := range opts {
		opt(r)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if g.exempt[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			g.serve(w, req, r, next)
		})
	}, nil
}

// MustRequire is Require for startup wiring; it panics on an unknown tier.
func (g *Gate) MustRequire(tier string, opts ...RouteOption) func(http.Handler) http.Handler {
	mw, err := g.Require(tier, opts...)
	if err != nil {
		panic(err)
	}
	return mw
}

func (g *Gate) serve(w http.ResponseWriter, req *http.Request, r *route, next http.Handler) {
	labels := map[string]string{"tier": r.tier}

	proof, present, err := types.ProofFromHeaders(req.Header)
	if err != nil {
		g.badRequest(w, r, labels, err)
		return
	}
	if !present {
		g.challenge(w, req, r, labels)
		return
	}

	labels["method"] = string(proof.Method)
	if err := utils.ValidateProof(proof); err != nil {
		g.badRequest(w, r, labels, err)
		return
	}

	result, err := g.service.Verify(req.Context(), proof, r.price)
	if err != nil {
		if errors.Is(err, types.ErrUnsupported) {
			g.badRequest(w, r, labels, err)
			return
		}
		g.logger.Error("payment verification unavailable", map[string]any{
			"tier":   r.tier,
			"method": proof.Method,
			"err":    err,
		})
		g.metrics.IncCounter(metrics.EventUpstreamError, labels)
		g.reject(w, r, proof.Method, upstreamFailedMessage)
		return
	}
	if !result.IsValid {
		g.logger.Warn("payment rejected", map[string]any{
			"tier":   r.tier,
			"method": proof.Method,
			"from":   proof.From,
			"reason": result.InvalidReason,
		})
		g.metrics.IncCounter(metrics.EventPaymentRejected, labels)
		g.reject(w, r, proof.Method, failureMessage)
		return
	}

	key := proof.ReplayKey()
	fresh, err := g.guard.Consume(req.Context(), key)
	if err != nil {
		g.logger.Error("replay guard unavailable", map[string]any{
			"tier": r.tier,
			"key":  key,
			"err":  err,
		})
		g.metrics.IncCounter(metrics.EventUpstreamError, labels)
		g.reject(w, r, proof.Method, upstreamFailedMessage)
		return
	}
	if !fresh {
		g.logger.Warn("payment rejected", map[string]any{
			"tier":   r.tier,
			"method": proof.Method,
			"from":   proof.From,
			"key":    key,
			"reason": "replay",
		})
		g.metrics.IncCounter(metrics.EventReplayRejected, labels)
		g.reject(w, r, proof.Method, failureMessage)
		return
	}

	g.grant(w, req, r, proof, result, labels, next)
}

func (g *Gate) challenge(w http.ResponseWriter, req *http.Request, r *route, labels map[string]string) {
	inv, err := g.factory.GenerateFor(req.URL.Path, r.tier, r.description)
	if err != nil {
		// the tier was resolved at wiring time, so this is a programming error
		g.logger.Error("invoice generation failed", map[string]any{"tier": r.tier, "err": err})
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	g.logger.Debug("payment required", map[string]any{
		"tier":       r.tier,
		"resource":   inv.Resource,
		"invoice_id": inv.InvoiceID,
	})
	g.metrics.IncCounter(metrics.EventInvoiceIssued, labels)

	w.Header().Set(types.HeaderPaymentRequired, "true")
	writeJSON(w, http.StatusPaymentRequired, inv)
}

func (g *Gate) grant(w http.ResponseWriter, req *http.Request, r *route, proof *types.PaymentProof, result *types.VerificationResult, labels map[string]string, next http.Handler) {
	payer := result.Payer
	if payer == "" {
		payer = proof.From
	}
	amount := result.Amount
	if amount == 0 {
		amount = r.price
	}

	chain := ""
	if ch, ok := g.chain(proof.Method); ok {
		chain = ch.Chain
	}
	if g.usage != nil {
		g.usage.Record(metrics.Payment{
			Tier:      r.tier,
			Resource:  req.URL.Path,
			Method:    proof.Method,
			Chain:     chain,
			Payer:     payer,
			Amount:    amount,
			Reference: result.Reference,
		})
	}

	g.logger.Info("payment verified", map[string]any{
		"tier":   r.tier,
		"method": proof.Method,
		"chain":  chain,
		"from":   payer,
		"amount": amount.String(),
	})
	g.metrics.IncCounter(metrics.EventPaymentGranted, labels)

	w.Header().Set(types.HeaderPaymentVerified, "true")
	next.ServeHTTP(w, req)
}

func (g *Gate) badRequest(w http.ResponseWriter, r *route, labels map[string]string, err error) {
	code := types.ErrorCode(err)
	if code == "" {
		code = types.ErrInvalidProof
	}
	g.logger.Warn("malformed payment proof", map[string]any{
		"tier":   r.tier,
		"reason": code,
		"err":    err,
	})
	g.metrics.IncCounter(metrics.EventProofMalformed, labels)
	writeJSON(w, http.StatusBadRequest, types.ErrorBody{Error: code, Message: publicMessage(err)})
}

func (g *Gate) reject(w http.ResponseWriter, r *route, kind types.MethodKind, message string) {
	symbol := ""
	if ch, ok := g.chain(kind); ok {
		symbol = ch.TokenSymbol
	} else if chains := g.factory.Chains(); len(chains) > 0 {
		symbol = chains[0].TokenSymbol
	}

	chains := g.factory.Chains()
	names := make([]string, 0, len(chains))
	for _, ch := range chains {
		names = append(names, ch.Chain)
	}

	writeJSON(w, http.StatusPaymentRequired, types.VerificationFailure{
		Error:           failureError,
		Message:         message,
		ExpectedAmount:  r.price,
		ExpectedToken:   symbol,
		SupportedChains: names,
	})
}

func (g *Gate) chain(kind types.MethodKind) (types.ChainConfig, bool) {
	for _, ch := range g.factory.Chains() {
		if ch.Kind == kind {
			return ch, true
		}
	}
	return types.ChainConfig{}, false
}

// publicMessage drops wrapped causes so internal errors stay in the logs.
func publicMessage(err error) string {
	var xe *types.X402Error
	if errors.As(err, &xe) {
		return xe.Message
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
