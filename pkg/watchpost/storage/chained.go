package storage

import "time"

// Chained probes an ordered sequence of inner Storages on Get, returning
// the first hit, and on a hit from a store at index k > 0 back-propagates
// the value to stores 0..k-1. Store and Delete fan out to every inner
// store. Back-propagation is best-effort: a failure writing to an earlier
// layer never affects the value already returned to the caller (spec §5:
// "the chained store's back-propagation write must be best-effort").
type Chained struct {
	stores []Storage
}

// NewChained builds a Chained store over stores, probed in the given order.
func NewChained(stores ...Storage) *Chained {
	return &Chained{stores: stores}
}

// Get probes each inner store in order, returning the first hit and
// best-effort back-propagating it to every earlier store.
func (c *Chained) Get(key string) (Entry, bool) {
	for i, s := range c.stores {
		entry, ok := s.Get(key)
		if !ok {
			continue
		}
		for j := 0; j < i; j++ {
			_ = c.stores[j].Store(key, entry.Value, entry.AddedAt, entry.TTL)
		}
		return entry, true
	}
	return Entry{}, false
}

// Store writes to every inner store. The first error encountered is
// returned after every store has been attempted, so one failing back-end
// never prevents writes to the others.
func (c *Chained) Store(key string, value []byte, addedAt time.Time, ttl time.Duration) error {
	var firstErr error
	for _, s := range c.stores {
		if err := s.Store(key, value, addedAt, ttl); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Delete removes key from every inner store.
func (c *Chained) Delete(key string) error {
	var firstErr error
	for _, s := range c.stores {
		if err := s.Delete(key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
