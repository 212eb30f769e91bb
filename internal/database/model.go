package database

import (
	"github.com/codeclash-dev/codeclash/internal/duel"
	"github.com/codeclash-dev/codeclash/internal/problem"
	"github.com/codeclash-dev/codeclash/internal/reward"
	"github.com/codeclash-dev/codeclash/internal/util/timeutil"
)

// Match is a stored match snapshot, updated over the match's lifetime and
// final once the status is terminal.
type Match struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Player1ID string `gorm:"index"`
	Player2ID string `gorm:"index"`
	Status    string `gorm:"index"`
	Stake     int
	Language  string

	WinnerID  *string
	WinReason string

	Player1BestRuntime  *float64
	Player2BestRuntime  *float64
	Player1Disqualified bool
	Player2Disqualified bool

	Player1Submissions []duel.Submission `gorm:"serializer:doc"`
	Player2Submissions []duel.Submission `gorm:"serializer:doc"`
	Problem            *problem.Problem  `gorm:"serializer:doc"`

	StartedAt *timeutil.UTCTime
	EndedAt   *timeutil.UTCTime
	CreatedAt timeutil.UTCTime
	UpdatedAt timeutil.UTCTime
}

// MatchReward is one player's settled outcome of one match. The composite
// primary key doubles as the idempotence mark: a second settlement attempt
// for the same match finds the rows and backs off.
type MatchReward struct {
	MatchID string `gorm:"primaryKey"`
	UserID  string `gorm:"primaryKey;index"`

	Won                   bool
	TrophyDelta           int
	BestRuntime           *float64
	FirstSubmissionPassed bool
	EndedAt               timeutil.UTCTime `gorm:"index"`
}

// StoredProblem is a fallback pool entry. Difficulty and language are
// denormalized for band queries; the full problem lives in the document.
type StoredProblem struct {
	ID         string          `gorm:"primaryKey"`
	Difficulty string          `gorm:"index"`
	Language   string          `gorm:"index"`
	Data       problem.Problem `gorm:"serializer:doc"`
	CreatedAt  timeutil.UTCTime
}

var models = []any{
	&reward.User{},
	&Match{},
	&MatchReward{},
	&StoredProblem{},
}
