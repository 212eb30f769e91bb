package queue

import (
	"context"
	"errors"

	"github.com/codeclash-dev/codeclash/internal/util/timeutil"
)

var (
	ErrAlreadyQueued = errors.New("already in matchmaking queue")
)

// Entry is one participant waiting in the matchmaking pool.
type Entry struct {
	UserID   string           `json:"user_id"`
	Trophies int              `json:"trophies"`
	Stake    int              `json:"stake"`
	Language string           `json:"language"`
	JoinedAt timeutil.UTCTime `json:"joined_at"`
}

// Store is the shared waiting pool. Entries are kept in insertion order and
// are unique per user. Take must be atomic relative to concurrent callers:
// for a given entry at most one Take succeeds.
type Store interface {
	List(ctx context.Context) ([]Entry, error)
	Add(ctx context.Context, e Entry) error
	Remove(ctx context.Context, userID string) (bool, error)
	Take(ctx context.Context, userID string) (Entry, bool, error)
	Len(ctx context.Context) (int, error)
}
