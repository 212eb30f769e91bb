package duel

import "sync"

// Focus-loss signals allowed before disqualification.
const tabSwitchLimit = 2

// AntiCheat counts focus-loss signals per user. Counters are keyed by user
// id alone; a user has at most one active match at a time. Counters must be
// reset when the user's match ends or the user disconnects.
type AntiCheat struct {
	mu       sync.Mutex
	switches map[string]int
}

func NewAntiCheat() *AntiCheat {
	return &AntiCheat{switches: make(map[string]int)}
}

// Signal records one focus loss. It reports whether the user must be
// disqualified and, if not, how many more signals they may survive.
func (a *AntiCheat) Signal(userID string) (disqualify bool, warningsLeft int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.switches[userID]++
	n := a.switches[userID]
	if n >= tabSwitchLimit {
		return true, 0
	}
	return false, tabSwitchLimit - n
}

func (a *AntiCheat) Reset(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.switches, userID)
}
