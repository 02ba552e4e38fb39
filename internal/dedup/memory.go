package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/paynotify/internal/clock"
)

// MemoryGuard is the in-process guard. It only covers a single replica.
type MemoryGuard struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]time.Time
}

func NewMemoryGuard(clk clock.Clock) *MemoryGuard {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &MemoryGuard{
		clock:   clk,
		entries: make(map[string]time.Time),
	}
}

func (g *MemoryGuard) TryAcquire(ctx context.Context, key string, ttl time.Duration) bool {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if expiresAt, ok := g.entries[key]; ok && now.Before(expiresAt) {
		return false
	}
	g.entries[key] = now.Add(ttl)
	return true
}

func (g *MemoryGuard) Release(ctx context.Context, key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, key)
}

// Sweep drops expired keys and returns how many were removed.
func (g *MemoryGuard) Sweep() int {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for key, expiresAt := range g.entries {
		if !now.Before(expiresAt) {
			delete(g.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys, expired or not.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// RunSweeper sweeps every interval until ctx is done.
func (g *MemoryGuard) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}
