package metrics

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/vitwit/x402-oracle/types"
	"github.com/vitwit/x402-oracle/utils"
)

const recentPaymentsLimit = 50

// Payment is one granted request.
type Payment struct {
	Tier      string           `json:"tier"`
	Resource  string           `json:"resource"`
	Method    types.MethodKind `json:"method"`
	Chain     string           `json:"chain,omitempty"`
	Payer     string           `json:"payer,omitempty"`
	Amount    types.MinorUnits `json:"amount"`
	Reference string           `json:"reference,omitempty"`
	At        time.Time        `json:"timestamp"`
}

// Snapshot is a point-in-time copy of the usage counters.
type Snapshot struct {
	TotalQueries    int            `json:"total_queries"`
	QueriesByTier   map[string]int `json:"queries_by_tier"`
	QueriesByMethod map[string]int `json:"queries_by_method"`
	TotalRevenue    string         `json:"total_revenue"`
	TokenSymbol     string         `json:"token_symbol"`
	RecentPayments  []Payment      `json:"recent_payments"`
}

// Usage accumulates paid-query analytics in process.
type Usage struct {
	mu       sync.Mutex
	decimals int32
	symbol   string
	now      func() time.Time

	total    int
	byTier   map[string]int
	byMethod map[string]int
	revenue  *big.Int
	recent   []Payment
}

// NewUsage tracks revenue in a token with the given decimals for display.
func NewUsage(decimals int32, symbol string) *Usage {
	return &Usage{
		decimals: decimals,
		symbol:   symbol,
		now:      time.Now,
		byTier:   make(map[string]int),
		byMethod: make(map[string]int),
		revenue:  new(big.Int),
	}
}

// Record adds one granted payment. A zero At is stamped with the current time.
func (u *Usage) Record(p Payment) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if p.At.IsZero() {
		p.At = u.now()
	}
	u.total++
	u.byTier[p.Tier]++
	u.byMethod[string(p.Method)]++
	u.revenue.Add(u.revenue, new(big.Int).SetUint64(uint64(p.Amount)))

	u.recent = append(u.recent, p)
	if len(u.recent) > recentPaymentsLimit {
		u.recent = append([]Payment(nil), u.recent[len(u.recent)-recentPaymentsLimit:]...)
	}
}

// Snapshot returns the counters with the most recent payments first.
func (u *Usage) Snapshot() Snapshot {
	u.mu.Lock()
	defer u.mu.Unlock()

	s := Snapshot{
		TotalQueries:    u.total,
		QueriesByTier:   make(map[string]int, len(u.byTier)),
		QueriesByMethod: make(map[string]int, len(u.byMethod)),
		TotalRevenue:    utils.FormatAmountFromBigInt(u.revenue, u.decimals),
		TokenSymbol:     u.symbol,
		RecentPayments:  make([]Payment, len(u.recent)),
	}
	for k, v := range u.byTier {
		s.QueriesByTier[k] = v
	}
	for k, v := range u.byMethod {
		s.QueriesByMethod[k] = v
	}
	copy(s.RecentPayments, u.recent)
	sort.SliceStable(s.RecentPayments, func(i, j int) bool {
		return s.RecentPayments[i].At.After(s.RecentPayments[j].At)
	})
	return s
}
