package replay

import (
	"context"
	"sync"
	"time"
)

// MemoryGuard keeps consumed keys for the lifetime of the process. It is
// only exactly-once within a single instance; use RedisGuard when the gate
// runs on more than one replica.
type MemoryGuard struct {
	mu   sync.Mutex
	used map[string]time.Time
	now  func() time.Time
}

var _ Guard = (*MemoryGuard)(nil)

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		used: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Consume never returns an error.
func (g *MemoryGuard) Consume(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, seen := g.used[key]; seen {
		return false, nil
	}
	g.used[key] = g.now()
	return true, nil
}

// Len returns the number of consumed keys.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.used)
}
