package duel

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	petname "github.com/dustinkirkland/golang-petname"

	"github.com/codeclash-dev/codeclash/internal/judge"
	"github.com/codeclash-dev/codeclash/internal/problem"
	"github.com/codeclash-dev/codeclash/internal/queue"
	"github.com/codeclash-dev/codeclash/internal/reward"
	"github.com/codeclash-dev/codeclash/internal/util/idgen"
	"github.com/codeclash-dev/codeclash/internal/util/maybe"
	"github.com/codeclash-dev/codeclash/internal/util/slogx"
	"github.com/codeclash-dev/codeclash/internal/util/timeutil"
)

// DB persists match snapshots. UpdateMatch upserts the full state and is
// called repeatedly over a match's lifetime.
type DB interface {
	CreateMatch(ctx context.Context, m *Match) error
	UpdateMatch(ctx context.Context, m *Match) error
}

// Grader runs a submission against the problem's test cases.
type Grader interface {
	Execute(ctx context.Context, code, language string, cases []judge.TestCase) ([]judge.TestResult, error)
}

// ProblemSource hands out a problem for a skill level and language.
type ProblemSource interface {
	Generate(ctx context.Context, avgTrophies int, language string) (*problem.Problem, error)
}

// Rewards settles a concluded match.
type Rewards interface {
	ApplyOutcome(ctx context.Context, out reward.Outcome) (reward.Result, error)
	WinAmount() int
	LossAmount() int
}

// Users resolves participant snapshots for match presentation.
type Users interface {
	GetUser(ctx context.Context, userID string) (reward.User, error)
}

type Options struct {
	Countdown           time.Duration `toml:"countdown"`
	DefaultTimeLimit    time.Duration `toml:"default-time-limit"`
	DBSaveTimeout       time.Duration `toml:"db-save-timeout"`
	ForfeitOnDisconnect bool          `toml:"forfeit-on-disconnect"`
	OpBuffer            int           `toml:"op-buffer"`
}

func (o *Options) FillDefaults() {
	if o.Countdown == 0 {
		o.Countdown = 3 * time.Second
	}
	if o.DefaultTimeLimit == 0 {
		o.DefaultTimeLimit = 20 * time.Minute
	}
	if o.DBSaveTimeout == 0 {
		o.DBSaveTimeout = 10 * time.Second
	}
	if o.OpBuffer == 0 {
		o.OpBuffer = 16
	}
}

// Deps are the external services a Keeper drives.
type Deps struct {
	DB       DB
	Grader   Grader
	Problems ProblemSource
	Rewards  Rewards
	Users    Users
	Sink     Sink
}

// Keeper owns all live matches. Each match runs as its own session
// goroutine; the keeper routes player actions to sessions and creates new
// matches from queue pairings.
type Keeper struct {
	db       DB
	grader   Grader
	problems ProblemSource
	rewards  Rewards
	users    Users
	sink     Sink
	opts     Options
	log      *slog.Logger

	gctx   context.Context
	cancel func()
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*session

	cheat *AntiCheat
}

func NewKeeper(log *slog.Logger, d Deps, opts Options) *Keeper {
	opts.FillDefaults()
	gctx, cancel := context.WithCancel(context.Background())
	return &Keeper{
		db:       d.DB,
		grader:   d.Grader,
		problems: d.Problems,
		rewards:  d.Rewards,
		users:    d.Users,
		sink:     d.Sink,
		opts:     opts,
		log:      log,
		gctx:     gctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
		cheat:    NewAntiCheat(),
	}
}

// CreateMatch builds a match from two paired queue entries and starts its
// session. When no problem can be obtained the match is cancelled before it
// ever runs; both players are told and nobody is put back into the queue.
func (k *Keeper) CreateMatch(ctx context.Context, p1, p2 queue.Entry) (*Match, error) {
	m := &Match{
		ID:       idgen.ID(),
		Name:     matchName(),
		Status:   StatusWaiting,
		Stake:    p1.Stake,
		Language: p1.Language,
	}
	m.Players[0].Ref = k.resolveUser(ctx, p1.UserID)
	m.Players[1].Ref = k.resolveUser(ctx, p2.UserID)
	log := k.log.With(slog.String("match_id", m.ID))

	avgTrophies := (p1.Trophies + p2.Trophies) / 2
	prob, err := k.problems.Generate(ctx, avgTrophies, p1.Language)
	if err != nil {
		log.Warn("cannot obtain problem, cancelling match", slogx.Err(err))
		k.cancelNew(ctx, log, m, "no problem available")
		return nil, fmt.Errorf("create match: %w", err)
	}
	m.Problem = prob

	if err := k.db.CreateMatch(ctx, m); err != nil {
		log.Error("cannot save new match in db", slogx.Err(err))
		k.cancelNew(ctx, log, m, "internal server error")
		return nil, fmt.Errorf("create match in db: %w", err)
	}

	s := newSession(k, m)
	k.mu.Lock()
	if _, ok := k.sessions[m.ID]; ok {
		k.mu.Unlock()
		panic("id collision")
	}
	k.sessions[m.ID] = s
	k.mu.Unlock()

	log.Info("created match",
		slog.String("player1", p1.UserID),
		slog.String("player2", p2.UserID),
		slog.String("problem_id", prob.ID),
	)

	k.wg.Add(1)
	go s.run()
	return m.Clone(), nil
}

// cancelNew abandons a match that never ran: the terminal snapshot is
// persisted best-effort, both players are told and nobody is put back into
// the queue.
func (k *Keeper) cancelNew(ctx context.Context, log *slog.Logger, m *Match, reason string) {
	m.Status = StatusCancelled
	m.EndedAt = maybe.Some(timeutil.NowUTC())
	if err := k.db.CreateMatch(ctx, m); err != nil {
		log.Error("cannot save cancelled match in db", slogx.Err(err))
	}
	for i := range m.Players {
		k.sink.ToUser(m.Players[i].Ref.UserID, Event{
			Type: EventMatchCancelled,
			Data: &MatchCancelledData{MatchID: m.ID, Reason: reason},
		})
	}
}

func (k *Keeper) resolveUser(ctx context.Context, userID string) UserRef {
	ref := UserRef{UserID: userID}
	u, err := k.users.GetUser(ctx, userID)
	if err != nil {
		k.log.Warn("cannot resolve user", slog.String("user_id", userID), slogx.Err(err))
		return ref
	}
	ref.User = &u
	return ref
}

// Submit validates the attempt against the live match and kicks off
// asynchronous grading. A nil return means grading started; the result
// arrives later as events.
func (k *Keeper) Submit(ctx context.Context, matchID, userID, code, language string) error {
	s, err := k.getSession(matchID)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := s.post(opSubmit{userID: userID, code: code, language: language, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		// The session wound down with our op still queued.
		return ErrMatchNotActive
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *Keeper) TabSwitch(matchID, userID string) error {
	s, err := k.getSession(matchID)
	if err != nil {
		return err
	}
	return s.post(opTabSwitch{userID: userID})
}

func (k *Keeper) RequestHint(matchID, userID string) error {
	s, err := k.getSession(matchID)
	if err != nil {
		return err
	}
	return s.post(opHint{userID: userID})
}

// Disconnect tells the user's live match, if any, that they dropped.
func (k *Keeper) Disconnect(userID string) {
	for _, s := range k.listSessions() {
		_ = s.post(opDisconnect{userID: userID})
	}
}

// MatchView returns a snapshot of a live match.
func (k *Keeper) MatchView(ctx context.Context, matchID string) (*Match, error) {
	s, err := k.getSession(matchID)
	if err != nil {
		return nil, err
	}
	reply := make(chan *Match, 1)
	if err := s.post(opView{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case m := <-reply:
		return m, nil
	case <-s.done:
		return nil, ErrMatchNotFound
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ListMatches snapshots all live matches, ordered by id.
func (k *Keeper) ListMatches(ctx context.Context) []*Match {
	var res []*Match
	for _, s := range k.listSessions() {
		reply := make(chan *Match, 1)
		if err := s.post(opView{reply: reply}); err != nil {
			continue
		}
		select {
		case m := <-reply:
			res = append(res, m)
		case <-s.done:
		case <-ctx.Done():
			return res
		}
	}
	slices.SortFunc(res, func(a, b *Match) int {
		return strings.Compare(a.ID, b.ID)
	})
	return res
}

func (k *Keeper) Close() {
	select {
	case <-k.gctx.Done():
	default:
		k.cancel()
		k.wg.Wait()
	}
}

func (k *Keeper) getSession(matchID string) (*session, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.sessions[matchID]
	if !ok {
		return nil, ErrMatchNotFound
	}
	return s, nil
}

func (k *Keeper) listSessions() []*session {
	k.mu.RLock()
	defer k.mu.RUnlock()
	res := make([]*session, 0, len(k.sessions))
	for _, s := range k.sessions {
		res = append(res, s)
	}
	return res
}

func (k *Keeper) removeSession(matchID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.sessions, matchID)
}

func matchName() string {
	return petname.Generate(3, "-")
}
