package duel

import (
	"errors"
	"fmt"

	"github.com/codeclash-dev/codeclash/internal/judge"
	"github.com/codeclash-dev/codeclash/internal/problem"
	"github.com/codeclash-dev/codeclash/internal/reward"
	"github.com/codeclash-dev/codeclash/internal/util/clone"
	"github.com/codeclash-dev/codeclash/internal/util/maybe"
	"github.com/codeclash-dev/codeclash/internal/util/timeutil"
)

var (
	ErrMatchNotFound  = errors.New("match not found")
	ErrMatchNotActive = errors.New("match not active")
	ErrDisqualified   = errors.New("player disqualified")
)

type Status string

const (
	StatusWaiting    Status = "WAITING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) PrettyString() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusInProgress:
		return "in progress"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return string(s)
	}
}

// Win reasons, stable wire values.
const (
	ReasonBestRuntime        = "best_runtime"
	ReasonFirstSubmission    = "first_submission"
	ReasonDisqualification   = "disqualification"
	ReasonForfeit            = "forfeit"
	ReasonTimeoutWinner      = "timeout_winner"
	ReasonTimeoutBestRuntime = "timeout_best_runtime"
	ReasonTimeoutMostTests   = "timeout_most_tests"
)

// UserRef is a participant reference: always an id, with a user snapshot
// attached once resolved. Code paths that only route by id must not assume
// the snapshot is present.
type UserRef struct {
	UserID string       `json:"user_id"`
	User   *reward.User `json:"user,omitempty"`
}

func (r UserRef) Resolved() bool {
	return r.User != nil
}

func (r UserRef) Username() string {
	if r.User != nil {
		return r.User.Username
	}
	return r.UserID
}

func (r UserRef) Clone() UserRef {
	if r.User != nil {
		u := r.User.Clone()
		r.User = &u
	}
	return r
}

// Submission is one graded attempt. Immutable once appended to a match.
type Submission struct {
	Code         string             `json:"code"`
	Language     string             `json:"language"`
	SubmittedAt  timeutil.UTCTime   `json:"submitted_at"`
	TestResults  []judge.TestResult `json:"test_results"`
	TotalRuntime float64            `json:"total_runtime"`
	AllPassed    bool               `json:"all_passed"`
}

func (s Submission) Clone() Submission {
	s.TestResults = clone.DeepSlice(s.TestResults)
	return s
}

// PassedTests counts passing test cases, the timeout tiebreak metric.
func (s Submission) PassedTests() int {
	n := 0
	for _, r := range s.TestResults {
		if r.Passed {
			n++
		}
	}
	return n
}

// Player is one side of a match.
type Player struct {
	Ref          UserRef
	Submissions  []Submission
	BestRuntime  maybe.Maybe[float64]
	Disqualified bool
}

func (p Player) Clone() Player {
	p.Ref = p.Ref.Clone()
	p.Submissions = clone.DeepSlice(p.Submissions)
	return p
}

// Passed reports whether the player has a fully passing submission.
// BestRuntime is set exactly when one exists.
func (p *Player) Passed() bool {
	return p.BestRuntime.IsSome()
}

// FirstPassedAt is the timestamp of the earliest fully passing submission.
func (p *Player) FirstPassedAt() maybe.Maybe[timeutil.UTCTime] {
	for _, s := range p.Submissions {
		if s.AllPassed {
			return maybe.Some(s.SubmittedAt)
		}
	}
	return maybe.None[timeutil.UTCTime]()
}

// MostPassedTests is the best per-submission passing-test count.
func (p *Player) MostPassedTests() int {
	best := 0
	for _, s := range p.Submissions {
		best = max(best, s.PassedTests())
	}
	return best
}

func (p *Player) FirstSubmissionPassed() bool {
	return len(p.Submissions) != 0 && p.Submissions[0].AllPassed
}

// Match is the full state of one duel. Owned by a single session goroutine
// while live; everything handed outside is a clone.
type Match struct {
	ID       string
	Name     string
	Players  [2]Player
	Problem  *problem.Problem
	Status   Status
	Stake    int
	Language string

	WinnerID  maybe.Maybe[string]
	WinReason string

	StartedAt maybe.Maybe[timeutil.UTCTime]
	EndedAt   maybe.Maybe[timeutil.UTCTime]
}

func (m *Match) Clone() *Match {
	res := *m
	for i := range res.Players {
		res.Players[i] = m.Players[i].Clone()
	}
	if m.Problem != nil {
		p := m.Problem.Clone()
		res.Problem = &p
	}
	return &res
}

// SideOf maps a user id to a player index, or -1 for strangers.
func (m *Match) SideOf(userID string) int {
	for i := range m.Players {
		if m.Players[i].Ref.UserID == userID {
			return i
		}
	}
	return -1
}

func (m *Match) Player(userID string) (*Player, error) {
	side := m.SideOf(userID)
	if side < 0 {
		return nil, fmt.Errorf("user %v is not in match %v", userID, m.ID)
	}
	return &m.Players[side], nil
}

// Opponent returns the other side's reference.
func (m *Match) Opponent(userID string) (UserRef, error) {
	side := m.SideOf(userID)
	if side < 0 {
		return UserRef{}, fmt.Errorf("user %v is not in match %v", userID, m.ID)
	}
	return m.Players[1-side].Ref, nil
}
