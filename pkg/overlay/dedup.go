package overlay

import "sync"

// DedupSet remembers up to max recently seen msgIds. On overflow it drops
// the oldest 20% in insertion order (spec.md §4.8), rather than evicting
// one at a time, so the steady-state cost of the common case (no overflow)
// stays a single map lookup and append.
type DedupSet struct {
	mu    sync.Mutex
	max   int
	order []string
	seen  map[string]struct{}
}

// NewDedupSet creates a dedup set bounded to max entries.
func NewDedupSet(max int) *DedupSet {
	return &DedupSet{max: max, seen: make(map[string]struct{}, max)}
}

// CheckAndAdd reports whether msgId was already seen. If not, it is
// recorded and false is returned (the message should be processed).
func (d *DedupSet) CheckAndAdd(msgID string) (duplicate bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[msgID]; ok {
		return true
	}
	d.seen[msgID] = struct{}{}
	d.order = append(d.order, msgID)
	if len(d.order) > d.max {
		evict := len(d.order) / 5
		if evict < 1 {
			evict = 1
		}
		for _, id := range d.order[:evict] {
			delete(d.seen, id)
		}
		d.order = d.order[evict:]
	}
	return false
}

// Len reports the number of currently tracked msgIds.
func (d *DedupSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}
