package resilience

import "sync"

// KeyPool rotates across a configured set of API keys on quota
// exhaustion (§7 Quota taxonomy: "rotate across the configured key pool;
// sleep and continue").
type KeyPool struct {
	mu   sync.Mutex
	keys []string
	idx  int
}

// NewKeyPool returns a KeyPool over keys. An empty pool is valid;
// Current returns "" and Rotate is a no-op.
func NewKeyPool(keys []string) *KeyPool {
	return &KeyPool{keys: keys}
}

// Current returns the presently selected key, or "" if the pool is
// empty.
func (p *KeyPool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return ""
	}
	return p.keys[p.idx]
}

// Rotate advances to the next key in the pool, wrapping around, and
// returns it. Returns ("", false) when the pool has wrapped back to
// where it started a full cycle ago (ErrQuotaExhausted territory for
// the caller).
func (p *KeyPool) Rotate() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return "", false
	}
	p.idx = (p.idx + 1) % len(p.keys)
	if p.idx == 0 {
		return "", false
	}
	return p.keys[p.idx], true
}

// Len reports the number of keys in the pool.
func (p *KeyPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}
