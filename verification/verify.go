package verification

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/vitwit/x402-oracle/logger"
	"github.com/vitwit/x402-oracle/metrics"
	"github.com/vitwit/x402-oracle/types"
)

// Verifier checks one kind of payment proof against the expected price.
// An invalid proof is a result, not an error; errors mean the verifier could
// not reach a decision.
type Verifier interface {
	Kind() types.MethodKind
	Verify(ctx context.Context, proof *types.PaymentProof, expected types.MinorUnits) (*types.VerificationResult, error)
}

// Service dispatches proofs to the verifier registered for their tag.
type Service struct {
	verifiers map[types.MethodKind]Verifier
	timeout   time.Duration
	logger    logger.Logger
	metrics   metrics.Recorder
}

type Option func(*Service)

func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		s.logger = logger.OrNoop(l)
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Service) {
		s.metrics = metrics.OrNoop(r)
	}
}

// NewVerificationService creates an empty registry.
func NewVerificationService(opts ...Option) *Service {
	s := &Service{
		verifiers: make(map[types.MethodKind]Verifier),
		timeout:   types.DefaultVerifyTimeout,
		logger:    logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds v under its kind. Registering a kind twice is a config error.
func (s *Service) Register(v Verifier) error {
	kind := v.Kind()
	if !kind.Valid() {
		return types.NewError(types.ErrConfigError, "unknown payment method %q", kind)
	}
	if _, exists := s.verifiers[kind]; exists {
		return types.NewError(types.ErrConfigError, "verifier for %s already registered", kind)
	}
	s.verifiers[kind] = v
	return nil
}

// Supports reports whether a verifier is registered for kind.
func (s *Service) Supports(kind types.MethodKind) bool {
	_, ok := s.verifiers[kind]
	return ok
}

// Kinds lists the registered kinds.
func (s *Service) Kinds() []types.MethodKind {
	kinds := make([]types.MethodKind, 0, len(s.verifiers))
	for k := range s.verifiers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Verify runs the proof's verifier under the service timeout. A proof whose
// tag has no verifier yields UNSUPPORTED_METHOD. Timeouts and verifier faults
// yield UPSTREAM_UNAVAILABLE and never a valid result.
func (s *Service) Verify(ctx context.Context, proof *types.PaymentProof, expected types.MinorUnits) (*types.VerificationResult, error) {
	v, ok := s.verifiers[proof.Method]
	if !ok {
		return nil, types.NewError(types.ErrUnsupportedMethod, "payment method %q is not accepted", proof.Method)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	labels := map[string]string{"method": string(proof.Method)}
	start := time.Now()
	result, err := v.Verify(verifyCtx, proof, expected)
	s.metrics.ObserveLatency(metrics.OpVerify, time.Since(start), labels)

	if err == nil && result == nil {
		err = errors.New("verifier returned no result")
	}
	if err != nil {
		s.logger.Error("verification did not complete", map[string]any{
			"method": proof.Method,
			"err":    err,
		})
		return nil, classify(err)
	}

	result.Method = proof.Method
	s.logger.Debug("verification finished", map[string]any{
		"method": proof.Method,
		"valid":  result.IsValid,
		"reason": result.InvalidReason,
	})
	return result, nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.WrapError(types.ErrUpstreamUnavailable, err, "verification timed out")
	}
	if code := types.ErrorCode(err); code != "" {
		return err
	}
	return types.WrapError(types.ErrUpstreamUnavailable, err, "verification failed to complete")
}
