package reward

import (
	"errors"
	"slices"

	"github.com/codeclash-dev/codeclash/internal/util/clone"
	"github.com/codeclash-dev/codeclash/internal/util/timeutil"
)

var ErrUserNotFound = errors.New("user not found")

// User is the persistent player record: identity, trophy balance and
// lifetime stats. Mutated only through the reward store.
type User struct {
	ID         string   `gorm:"primaryKey" json:"id"`
	Username   string   `gorm:"uniqueIndex" json:"username"`
	Trophies   int      `json:"trophies"`
	Wins       int      `json:"wins"`
	Losses     int      `json:"losses"`
	TotalGames int      `json:"total_games"`
	Badges     []string `gorm:"serializer:doc" json:"badges"`

	CreatedAt timeutil.UTCTime `json:"-"`
	UpdatedAt timeutil.UTCTime `json:"-"`
}

func (u User) Clone() User {
	u.Badges = clone.TrivialSlice(u.Badges)
	return u
}

func (u *User) HasBadge(badgeID string) bool {
	return slices.Contains(u.Badges, badgeID)
}

// MatchStats is one completed match seen from a single player's
// perspective, the raw material for badge evaluation. Ordered newest first
// when returned from the store.
type MatchStats struct {
	MatchID               string
	Won                   bool
	BestRuntime           *float64
	FirstSubmissionPassed bool
	EndedAt               timeutil.UTCTime
}
