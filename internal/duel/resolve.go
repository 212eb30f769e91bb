package duel

import (
	"github.com/codeclash-dev/codeclash/internal/util/maybe"
)

// Decision is a resolved match verdict.
type Decision struct {
	WinnerID string
	Reason   string
}

// byRuntime compares two passing sides. Lower total runtime wins; an exact
// tie goes to the side whose first passing submission landed earlier.
// Returns the winning player index and whether the runtime itself decided.
func byRuntime(m *Match) (side int, onRuntime bool) {
	r1 := m.Players[0].BestRuntime.Get()
	r2 := m.Players[1].BestRuntime.Get()
	switch {
	case r1 < r2:
		return 0, true
	case r2 < r1:
		return 1, true
	}
	t1 := m.Players[0].FirstPassedAt().Get()
	t2 := m.Players[1].FirstPassedAt().Get()
	if t2.UTC().Before(t1.UTC()) {
		return 1, false
	}
	return 0, false
}

// ResolveSubmission decides the match after a graded submission. There is no
// decision until both sides hold a fully passing submission.
func ResolveSubmission(m *Match) maybe.Maybe[Decision] {
	if !m.Players[0].Passed() || !m.Players[1].Passed() {
		return maybe.None[Decision]()
	}
	side, onRuntime := byRuntime(m)
	reason := ReasonBestRuntime
	if !onRuntime {
		reason = ReasonFirstSubmission
	}
	return maybe.Some(Decision{
		WinnerID: m.Players[side].Ref.UserID,
		Reason:   reason,
	})
}

// ResolveDisqualification awards the match to the opponent of the
// disqualified player.
func ResolveDisqualification(m *Match, disqualifiedID string) Decision {
	side := m.SideOf(disqualifiedID)
	if side < 0 {
		panic("disqualified user is not in the match")
	}
	return Decision{
		WinnerID: m.Players[1-side].Ref.UserID,
		Reason:   ReasonDisqualification,
	}
}

// ResolveTimeout decides the match when the time limit expires. Unlike
// ResolveSubmission it always produces a winner.
func ResolveTimeout(m *Match) Decision {
	p1, p2 := &m.Players[0], &m.Players[1]
	switch {
	case p1.Passed() && p2.Passed():
		side, _ := byRuntime(m)
		return Decision{WinnerID: m.Players[side].Ref.UserID, Reason: ReasonTimeoutBestRuntime}
	case p1.Passed():
		return Decision{WinnerID: p1.Ref.UserID, Reason: ReasonTimeoutWinner}
	case p2.Passed():
		return Decision{WinnerID: p2.Ref.UserID, Reason: ReasonTimeoutWinner}
	}
	// Neither side solved it; most passing test cases wins, first player on
	// a tie.
	winner := p1
	if p2.MostPassedTests() > p1.MostPassedTests() {
		winner = p2
	}
	return Decision{WinnerID: winner.Ref.UserID, Reason: ReasonTimeoutMostTests}
}
