package memory

import (
	"context"
	"sync"
	"time"

	"github.com/confortos/confort/pkg/billing"
)

const defaultDedupeTTL = 72 * time.Hour

// Deduplicator implements billing.Deduplicator in process memory.
// Entries expire after the TTL; Stripe stops redelivering after three days.
type Deduplicator struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

var _ billing.Deduplicator = (*Deduplicator)(nil)

// NewDeduplicator creates a Deduplicator. A non-positive ttl uses 72h.
func NewDeduplicator(ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &Deduplicator{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Seen implements billing.Deduplicator
func (d *Deduplicator) Seen(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	expires, ok := d.seen[eventID]
	if !ok {
		return false, nil
	}
	if !d.now().Before(expires) {
		delete(d.seen, eventID)
		return false, nil
	}
	return true, nil
}

// MarkProcessed implements billing.Deduplicator
func (d *Deduplicator) MarkProcessed(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, expires := range d.seen {
		if !now.Before(expires) {
			delete(d.seen, id)
		}
	}
	d.seen[eventID] = now.Add(d.ttl)
	return nil
}
