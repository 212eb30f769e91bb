package duel

import (
	"github.com/codeclash-dev/codeclash/internal/judge"
	"github.com/codeclash-dev/codeclash/internal/util/timeutil"
)

type EventType string

const (
	EventMatchmakingStatus EventType = "matchmaking_status"
	EventMatchFound        EventType = "match_found"
	EventGameStart         EventType = "game_start"
	EventMatchCancelled    EventType = "match_cancelled"
	EventSubmissionStatus  EventType = "submission_status"
	EventSubmissionResult  EventType = "submission_result"
	EventOpponentSubmitted EventType = "opponent_submitted"
	EventTabSwitchWarning  EventType = "tab_switch_warning"
	EventGameEnd           EventType = "game_end"
	EventHint              EventType = "hint"
	EventTrophiesUpdated   EventType = "trophies_updated"
	EventBadgesAwarded     EventType = "badges_awarded"
	EventError             EventType = "error"
)

// Event is one outbound notification. Data must be JSON-marshallable.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Sink delivers events to connected participants. Implementations must be
// safe for concurrent use and must not block the caller; a participant with
// no live connection silently misses the event.
type Sink interface {
	ToUser(userID string, e Event)
	ToMatch(matchID string, e Event)
}

// OpponentInfo is the public slice of the other player shown on pairing.
type OpponentInfo struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Trophies int    `json:"trophies,omitempty"`
}

// ProblemInfo is the player-facing problem statement. The hint and the
// expected outputs are withheld.
type ProblemInfo struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Difficulty       string   `json:"difficulty"`
	Constraints      string   `json:"constraints,omitempty"`
	TimeLimitSeconds int      `json:"time_limit_seconds"`
	SampleInput      string   `json:"sample_input,omitempty"`
	SampleOutput     string   `json:"sample_output,omitempty"`
	Tags             []string `json:"tags,omitempty"`
}

type MatchFoundData struct {
	MatchID          string       `json:"match_id"`
	MatchName        string       `json:"match_name"`
	Opponent         OpponentInfo `json:"opponent"`
	Problem          ProblemInfo  `json:"problem"`
	Stake            int          `json:"stake"`
	Language         string       `json:"language"`
	CountdownSeconds int          `json:"countdown_seconds"`
}

type GameStartData struct {
	MatchID          string           `json:"match_id"`
	StartedAt        timeutil.UTCTime `json:"started_at"`
	TimeLimitSeconds int              `json:"time_limit_seconds"`
}

type MatchCancelledData struct {
	MatchID string `json:"match_id"`
	Reason  string `json:"reason"`
}

type SubmissionStatusData struct {
	MatchID string `json:"match_id"`
	Status  string `json:"status"`
}

type SubmissionResultData struct {
	MatchID      string             `json:"match_id"`
	AllPassed    bool               `json:"all_passed"`
	TotalRuntime float64            `json:"total_runtime"`
	TestResults  []judge.TestResult `json:"test_results"`
}

type OpponentSubmittedData struct {
	MatchID   string `json:"match_id"`
	AllPassed bool   `json:"all_passed"`
}

type TabSwitchWarningData struct {
	MatchID      string `json:"match_id"`
	WarningsLeft int    `json:"warnings_left"`
}

type GameEndData struct {
	MatchID            string   `json:"match_id"`
	WinnerID           string   `json:"winner_id"`
	Reason             string   `json:"reason"`
	Player1Runtime     *float64 `json:"player1_runtime,omitempty"`
	Player2Runtime     *float64 `json:"player2_runtime,omitempty"`
	DisqualifiedPlayer string   `json:"disqualified_player,omitempty"`
}

type HintData struct {
	MatchID string `json:"match_id"`
	Hint    string `json:"hint"`
}

type TrophiesUpdatedData struct {
	Trophies int `json:"trophies"`
	Delta    int `json:"delta"`
}

type BadgesAwardedData struct {
	Badges []BadgeInfo `json:"badges"`
}

type BadgeInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ErrorData struct {
	Message string `json:"message"`
}
