package reward

// RuleKind discriminates the closed set of badge rules. Rules are evaluated
// in the fixed order of the Rules slice; there is no dynamic dispatch.
type RuleKind int

const (
	RuleFirstWin RuleKind = iota
	RuleFastWins
	RuleFlawless
	RuleWinStreak
	RuleTrophyThreshold
)

type Rule struct {
	ID          string
	Name        string
	Description string
	Kind        RuleKind

	// Kind-specific parameters.
	Count        int     // required occurrences (fast wins, flawless, streak)
	RuntimeBound float64 // fast-win best-runtime cutoff
	Trophies     int     // trophy threshold
}

// Rules is the closed, ordered badge rule set. Order is part of the
// contract: badges are granted and announced in this order.
var Rules = []Rule{
	{
		ID:          "FIRST_BLOOD",
		Name:        "First Blood",
		Description: "Win your first match",
		Kind:        RuleFirstWin,
	},
	{
		ID:           "SPEEDSTER",
		Name:         "Speedster",
		Description:  "Solve 3 matches under time limit",
		Kind:         RuleFastWins,
		Count:        3,
		RuntimeBound: 1000,
	},
	{
		ID:          "FLAWLESS",
		Name:        "Flawless",
		Description: "Pass all tests on first attempt 5 times",
		Kind:        RuleFlawless,
		Count:       5,
	},
	{
		ID:          "WIN_STREAK",
		Name:        "Win Streak",
		Description: "Win 5 consecutive matches",
		Kind:        RuleWinStreak,
		Count:       5,
	},
	{
		ID:          "ARENA_CHAMPION",
		Name:        "Arena Champion",
		Description: "Reach Diamond arena (4000+ trophies)",
		Kind:        RuleTrophyThreshold,
		Trophies:    4000,
	},
}

// Earned reports whether the rule holds for the user's updated record and
// completed-match history (newest first). Pure; no I/O.
func (r Rule) Earned(u User, history []MatchStats) bool {
	switch r.Kind {
	case RuleFirstWin:
		return u.Wins == 1
	case RuleFastWins:
		fast := 0
		for _, m := range history {
			if m.BestRuntime != nil && *m.BestRuntime < r.RuntimeBound {
				fast++
			}
		}
		return fast >= r.Count
	case RuleFlawless:
		flawless := 0
		for _, m := range history {
			if m.FirstSubmissionPassed {
				flawless++
			}
		}
		return flawless >= r.Count
	case RuleWinStreak:
		streak := 0
		for _, m := range history {
			if !m.Won {
				break
			}
			streak++
			if streak >= r.Count {
				return true
			}
		}
		return false
	case RuleTrophyThreshold:
		return u.Trophies >= r.Trophies
	default:
		panic("bad badge rule kind")
	}
}
