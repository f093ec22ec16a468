package auth

import "sync"

// RefreshGate serializes token refresh attempts. The reconnect loop asks for
// a refresh whenever the current token is near expiry; the gate ensures only
// one refresh runs at a time and later requests are dropped rather than
// queued.
type RefreshGate struct {
	mu         sync.Mutex
	inProgress bool
}

// TryBegin claims the gate. It returns false if a refresh is already in
// progress, in which case the caller must not start another.
func (g *RefreshGate) TryBegin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inProgress {
		return false
	}
	g.inProgress = true
	return true
}

// End releases the gate. Safe to call when no refresh is in progress.
func (g *RefreshGate) End() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inProgress = false
}

// InProgress reports whether a refresh currently holds the gate.
func (g *RefreshGate) InProgress() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inProgress
}
