package metrics

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402-oracle/types"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	labels := map[string]string{"method": "eip-3009", "tier": "token-price"}
	r.IncCounter(EventPaymentGranted, labels)
	r.IncCounter(EventPaymentGranted, labels)
	r.IncCounter(EventReplayRejected, labels)
	r.ObserveLatency(OpVerify, 120*time.Millisecond, labels)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.counters.WithLabelValues(EventPaymentGranted, "eip-3009", "token-price")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.counters.WithLabelValues(EventReplayRejected, "eip-3009", "token-price")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.histogram))

	// a second recorder on the same registry shares the collectors
	again, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)
	again.IncCounter(EventPaymentGranted, labels)
	assert.Equal(t, 3.0, testutil.ToFloat64(r.counters.WithLabelValues(EventPaymentGranted, "eip-3009", "token-price")))
}

func TestOrNoop(t *testing.T) {
	assert.IsType(t, NoopRecorder{}, OrNoop(nil))
}

func TestUsageSnapshot(t *testing.T) {
	u := NewUsage(6, "USDC")
	base := time.Unix(1763450000, 0)

	u.Record(Payment{Tier: "token-price", Method: types.MethodSolanaTransfer, Amount: 10000, At: base})
	u.Record(Payment{Tier: "token-price", Method: types.MethodEIP3009, Amount: 10000, At: base.Add(time.Second)})
	u.Record(Payment{Tier: "token-analytics", Method: types.MethodEIP3009, Amount: 200000, At: base.Add(2 * time.Second)})

	s := u.Snapshot()
	assert.Equal(t, 3, s.TotalQueries)
	assert.Equal(t, map[string]int{"token-price": 2, "token-analytics": 1}, s.QueriesByTier)
	assert.Equal(t, map[string]int{"solana-transfer": 1, "eip-3009": 2}, s.QueriesByMethod)
	assert.Equal(t, "0.22", s.TotalRevenue)
	assert.Equal(t, "USDC", s.TokenSymbol)
	require.Len(t, s.RecentPayments, 3)
	assert.Equal(t, "token-analytics", s.RecentPayments[0].Tier)

	// snapshot is a copy
	s.QueriesByTier["token-price"] = 99
	assert.Equal(t, 2, u.Snapshot().QueriesByTier["token-price"])
}

func TestUsageKeepsRecentPayments(t *testing.T) {
	u := NewUsage(6, "USDC")
	var wg sync.WaitGroup
	for i := 0; i < 120; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u.Record(Payment{Tier: "wallet-balance", Amount: 5000, Reference: fmt.Sprint(i)})
		}(i)
	}
	wg.Wait()

	s := u.Snapshot()
	assert.Equal(t, 120, s.TotalQueries)
	assert.Len(t, s.RecentPayments, recentPaymentsLimit)
	assert.Equal(t, "0.6", s.TotalRevenue)
	for _, p := range s.RecentPayments {
		assert.False(t, p.At.IsZero())
	}
}
