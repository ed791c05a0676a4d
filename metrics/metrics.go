package metrics

import "time"

// Event and operation names recorded by the gate.
const (
	EventInvoiceIssued   = "invoice_issued"
	EventPaymentGranted  = "payment_granted"
	EventPaymentRejected = "payment_rejected"
	EventReplayRejected  = "replay_rejected"
	EventProofMalformed  = "proof_malformed"
	EventUpstreamError   = "upstream_unavailable"

	OpVerify = "verify"
)

// Recorder receives counters and latencies. Labels recognised by the
// Prometheus recorder are "method" and "tier".
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
