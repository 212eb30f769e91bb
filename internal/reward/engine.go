package reward

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeclash-dev/codeclash/internal/util/clone"
	"github.com/codeclash-dev/codeclash/internal/util/slogx"
)

type Options struct {
	WinAmount    int `toml:"win-amount"`
	LossAmount   int `toml:"loss-amount"`
	HistoryLimit int `toml:"history-limit"`
}

func (o *Options) FillDefaults() {
	if o.WinAmount == 0 {
		o.WinAmount = 100
	}
	if o.LossAmount == 0 {
		o.LossAmount = 100
	}
	if o.HistoryLimit == 0 {
		o.HistoryLimit = 100
	}
}

// Outcome is the final verdict of one match, as handed to the store.
type Outcome struct {
	MatchID    string
	WinnerID   string
	LoserID    string
	WinAmount  int
	LossAmount int

	// Per-player match facts recorded into history for badge evaluation.
	WinnerStats MatchStats
	LoserStats  MatchStats
}

// Store applies reward mutations. ApplyMatchOutcome must be atomic and
// idempotent per match: it records a mark for the match and returns
// applied == false without touching anything when the mark already exists.
type Store interface {
	ApplyMatchOutcome(ctx context.Context, out Outcome) (applied bool, err error)
	GetUser(ctx context.Context, userID string) (User, error)
	MatchHistory(ctx context.Context, userID string, limit int) ([]MatchStats, error)
	GrantBadges(ctx context.Context, userID string, badgeIDs []string) error
}

// Result reports what a single ApplyOutcome call actually did. When the
// outcome was already applied earlier, Applied is false and the trophy
// fields still carry the current balances for display.
type Result struct {
	Applied         bool
	WinnerTrophies  int
	LoserTrophies   int
	WinnerBadges    []string
	NewWinnerBadges []string
}

// Engine turns match verdicts into trophy changes, stat updates and badges.
// It is safe for concurrent use; all state lives in the store.
type Engine struct {
	store Store
	o     Options
	log   *slog.Logger
}

func NewEngine(log *slog.Logger, store Store, o Options) *Engine {
	o.FillDefaults()
	return &Engine{store: store, o: o, log: log}
}

// WinAmount is the trophy credit applied to a winner.
func (e *Engine) WinAmount() int { return e.o.WinAmount }

// LossAmount is the trophy debit applied to a loser, before clamping.
func (e *Engine) LossAmount() int { return e.o.LossAmount }

// ApplyOutcome credits the winner, debits the loser and evaluates badge
// rules for the winner. Calling it twice for the same match is a no-op on
// the second call.
func (e *Engine) ApplyOutcome(ctx context.Context, out Outcome) (Result, error) {
	out.WinAmount = e.o.WinAmount
	out.LossAmount = e.o.LossAmount
	applied, err := e.store.ApplyMatchOutcome(ctx, out)
	if err != nil {
		return Result{}, fmt.Errorf("apply outcome for match %v: %w", out.MatchID, err)
	}

	winner, err := e.store.GetUser(ctx, out.WinnerID)
	if err != nil {
		return Result{}, fmt.Errorf("get winner %v: %w", out.WinnerID, err)
	}
	loser, err := e.store.GetUser(ctx, out.LoserID)
	if err != nil {
		return Result{}, fmt.Errorf("get loser %v: %w", out.LoserID, err)
	}
	res := Result{
		Applied:        applied,
		WinnerTrophies: winner.Trophies,
		LoserTrophies:  loser.Trophies,
		WinnerBadges:   clone.TrivialSlice(winner.Badges),
	}
	if !applied {
		e.log.Info("match outcome already applied, skipping",
			slog.String("match_id", out.MatchID))
		return res, nil
	}

	newBadges, err := e.evaluateBadges(ctx, winner)
	if err != nil {
		// The outcome itself is committed; a badge failure must not
		// surface as a failed match conclusion.
		e.log.Error("could not evaluate badges",
			slog.String("user_id", winner.ID), slogx.Err(err))
		return res, nil
	}
	res.NewWinnerBadges = newBadges
	res.WinnerBadges = append(res.WinnerBadges, newBadges...)
	return res, nil
}

func (e *Engine) evaluateBadges(ctx context.Context, winner User) ([]string, error) {
	history, err := e.store.MatchHistory(ctx, winner.ID, e.o.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("match history: %w", err)
	}
	var earned []string
	for _, rule := range Rules {
		if winner.HasBadge(rule.ID) {
			continue
		}
		if rule.Earned(winner, history) {
			earned = append(earned, rule.ID)
		}
	}
	if len(earned) == 0 {
		return nil, nil
	}
	if err := e.store.GrantBadges(ctx, winner.ID, earned); err != nil {
		return nil, fmt.Errorf("grant badges: %w", err)
	}
	return earned, nil
}

// RuleByID is a lookup helper for presentation layers.
func RuleByID(id string) (Rule, bool) {
	for _, r := range Rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}
