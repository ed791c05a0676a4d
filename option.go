package x402

import (
	"time"

	"github.com/vitwit/x402-oracle/clients"
	"github.com/vitwit/x402-oracle/logger"
	"github.com/vitwit/x402-oracle/metrics"
	"github.com/vitwit/x402-oracle/replay"
)

type Option func(*X402)

func WithLogger(l logger.Logger) Option {
	return func(x *X402) {
		x.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(x *X402) {
		x.metrics = r
	}
}

// WithTimeout overrides the configured verification timeout.
func WithTimeout(t time.Duration) Option {
	return func(x *X402) {
		x.timeout = t
	}
}

// WithGuard replaces the replay store selected from the configuration.
func WithGuard(g replay.Guard) Option {
	return func(x *X402) {
		x.guard = g
	}
}

func WithClock(now func() time.Time) Option {
	return func(x *X402) {
		x.now = now
	}
}

// WithSolanaRPC replaces the Solana JSON-RPC transport of every Solana chain.
func WithSolanaRPC(r clients.SolanaRPC) Option {
	return func(x *X402) {
		x.solanaRPC = r
	}
}

func WithExemptPaths(paths ...string) Option {
	return func(x *X402) {
		x.exempt = append(x.exempt, paths...)
	}
}
