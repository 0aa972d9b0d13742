package reconcile

import "sync"

// permits is an in-process, per-user exclusive permit. A trigger arriving
// while the user's pass is running is coalesced into exactly one follow-up
// pass run by the current holder.
type permits struct {
	mu      sync.Mutex
	running map[int64]bool // value: follow-up requested
}

func newPermits() *permits {
	return &permits{running: make(map[int64]bool)}
}

// acquire returns true if the caller now holds the user's permit. Otherwise
// a follow-up pass is recorded for the current holder.
func (p *permits) acquire(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.running[userID]; ok {
		p.running[userID] = true
		return false
	}
	p.running[userID] = false
	return true
}

// next is called by the holder after a pass. It returns true, keeping the
// permit, if a follow-up was requested; otherwise it releases the permit.
func (p *permits) next(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running[userID] {
		p.running[userID] = false
		return true
	}
	delete(p.running, userID)
	return false
}

// release drops the permit and any pending follow-up.
func (p *permits) release(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, userID)
}
