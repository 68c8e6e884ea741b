package telemetry

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// ReplayGuard remembers consumed request fingerprints for a bounded window.
type ReplayGuard interface {
	// Consume records key and reports whether it was unseen. Check and
	// insert happen atomically with respect to concurrent callers.
	Consume(ctx context.Context, key string) (bool, error)
}

// Fingerprint identifies one signed report for replay purposes. Parts are
// quoted so that separators inside a device id cannot forge a collision.
func Fingerprint(deviceID, timestamp, counter string) string {
	return strings.Join([]string{
		strconv.Quote(deviceID),
		strconv.Quote(timestamp),
		strconv.Quote(counter),
	}, ":")
}

// MemoryGuard keeps fingerprints in process memory. It is only correct for a
// single instance; state is lost on restart.
type MemoryGuard struct {
	mu     sync.Mutex
	seen   *cache.Cache
	window time.Duration
}

// NewMemoryGuard creates a guard whose entries expire window after consumption.
func NewMemoryGuard(window time.Duration) *MemoryGuard {
	return &MemoryGuard{
		// No janitor goroutine: expired entries are swept on every Consume.
		seen:   cache.New(window, 0),
		window: window,
	}
}

// Consume sweeps expired entries and then inserts key if absent, as one
// critical section.
func (g *MemoryGuard) Consume(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seen.DeleteExpired()
	if err := g.seen.Add(key, struct{}{}, g.window); err != nil {
		return false, nil
	}
	return true, nil
}

// Len returns the number of remembered fingerprints, expired or not.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seen.ItemCount()
}
