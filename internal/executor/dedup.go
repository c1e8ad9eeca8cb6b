package executor

import (
	"sync"
	"time"
)

// Dedup remembers which managers have already been attempted so a failed
// liquidation is not retried within the same scan cycle. Entries also expire
// after ttl in case scans stop arriving. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // managerID -> attempt time
	ttl  time.Duration
	mu   sync.Mutex
	now  func() time.Time
}

// NewDedup creates a Dedup whose entries expire after ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate returns true if id was attempted within the TTL window and
// since the last Reset. Otherwise it records the attempt and returns false.
func (d *Dedup) IsDuplicate(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if lastSeen, ok := d.seen[id]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[id] = now
	return false
}

// Forget clears one entry.
func (d *Dedup) Forget(id string) {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
}

// Reset starts a new cycle and drops every entry.
func (d *Dedup) Reset() {
	d.mu.Lock()
	d.seen = make(map[string]time.Time)
	d.mu.Unlock()
}
