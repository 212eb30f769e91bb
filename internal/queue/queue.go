package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeclash-dev/codeclash/internal/util/slogx"
)

type Options struct {
	// Largest allowed trophy distance between paired players.
	TrophyRange int `toml:"trophy-range"`
}

func (o *Options) FillDefaults() {
	if o.TrophyRange == 0 {
		o.TrophyRange = 200
	}
}

// PairResult is the outcome of a join: either an opponent was taken from the
// pool, or the caller is now waiting in it.
type PairResult struct {
	Paired   bool
	Opponent Entry
}

// Queue pairs joining players against the shared waiting pool.
type Queue struct {
	store Store
	o     Options
	log   *slog.Logger
}

func New(log *slog.Logger, store Store, o Options) *Queue {
	o.FillDefaults()
	return &Queue{
		store: store,
		o:     o,
		log:   log,
	}
}

func (q *Queue) compatible(a, b Entry) bool {
	if a.UserID == b.UserID {
		return false
	}
	diff := a.Trophies - b.Trophies
	if diff < 0 {
		diff = -diff
	}
	return diff <= q.o.TrophyRange && a.Stake == b.Stake && a.Language == b.Language
}

// Join scans the pool for the first compatible opponent, in pool order. The
// first hit wins even if a closer-skill candidate sits further down; this is
// deliberate and matches the documented pairing behavior. If a candidate is
// snatched by a concurrent join, the scan moves on as if it was never there.
func (q *Queue) Join(ctx context.Context, e Entry) (PairResult, error) {
	entries, err := q.store.List(ctx)
	if err != nil {
		return PairResult{}, fmt.Errorf("list pool: %w", err)
	}
	for _, cand := range entries {
		if cand.UserID == e.UserID {
			return PairResult{}, ErrAlreadyQueued
		}
	}
	for _, cand := range entries {
		if !q.compatible(e, cand) {
			continue
		}
		opponent, ok, err := q.store.Take(ctx, cand.UserID)
		if err != nil {
			return PairResult{}, fmt.Errorf("take opponent: %w", err)
		}
		if !ok {
			continue
		}
		q.log.Info("paired players",
			slog.String("user_id", e.UserID),
			slog.String("opponent_id", opponent.UserID),
		)
		return PairResult{Paired: true, Opponent: opponent}, nil
	}
	if err := q.store.Add(ctx, e); err != nil {
		return PairResult{}, err
	}
	q.log.Info("enqueued player", slog.String("user_id", e.UserID))
	return PairResult{}, nil
}

// Leave removes the player from the pool. Removing an absent player is not
// an error, the result just reports false.
func (q *Queue) Leave(ctx context.Context, userID string) (bool, error) {
	ok, err := q.store.Remove(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("remove from pool: %w", err)
	}
	if ok {
		q.log.Info("left queue", slog.String("user_id", userID))
	}
	return ok, nil
}

// Position reports the 1-based place of the player in the pool, 0 if absent.
func (q *Queue) Position(ctx context.Context, userID string) (int, error) {
	entries, err := q.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pool: %w", err)
	}
	for i, cur := range entries {
		if cur.UserID == userID {
			return i + 1, nil
		}
	}
	return 0, nil
}

func (q *Queue) Len(ctx context.Context) int {
	n, err := q.store.Len(ctx)
	if err != nil {
		q.log.Warn("could not get pool size", slogx.Err(err))
		return 0
	}
	return n
}
