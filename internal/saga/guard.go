package saga

import (
	"context"
	"sync"
	"time"
)

// PaymentCommandKey is the dedup key claimed before a payment command is emitted.
func PaymentCommandKey(transactionID string) string {
	return transactionID + ":EXECUTE_PAYMENT"
}

// Guard records idempotency keys. Claim returns true only for the first
// caller of a key; Release gives a claimed key back.
type Guard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// MemoryGuard is an in-process Guard. Keys expire after ttl when ttl > 0.
type MemoryGuard struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	keys  map[string]time.Time
	order []claim
}

// claim is one entry of the expiry queue. Claims are appended in time order,
// so expired entries are always at the front.
type claim struct {
	key string
	at  time.Time
}

// NewMemoryGuard constructs a MemoryGuard.
func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{
		ttl:  ttl,
		now:  time.Now,
		keys: make(map[string]time.Time),
	}
}

func (g *MemoryGuard) Claim(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.expire(now)
	if _, ok := g.keys[key]; ok {
		return false, nil
	}
	g.keys[key] = now
	if g.ttl > 0 {
		g.order = append(g.order, claim{key: key, at: now})
	}
	return true, nil
}

func (g *MemoryGuard) Release(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	delete(g.keys, key)
	g.mu.Unlock()
	return nil
}

// Len reports how many keys are currently claimed.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.keys)
}

// expire pops expired claims off the front of the queue. A queued entry whose
// key was released or claimed again since is skipped. Caller holds mu.
func (g *MemoryGuard) expire(now time.Time) {
	if g.ttl <= 0 {
		return
	}
	n := 0
	for n < len(g.order) && now.Sub(g.order[n].at) >= g.ttl {
		c := g.order[n]
		if at, ok := g.keys[c.key]; ok && at.Equal(c.at) {
			delete(g.keys, c.key)
		}
		n++
	}
	if n == 0 {
		return
	}
	clear(g.order[:n])
	g.order = g.order[n:]
}
