package duel

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeclash-dev/codeclash/internal/judge"
	"github.com/codeclash-dev/codeclash/internal/reward"
	"github.com/codeclash-dev/codeclash/internal/util/maybe"
	"github.com/codeclash-dev/codeclash/internal/util/slogx"
	"github.com/codeclash-dev/codeclash/internal/util/timeutil"
)

// Ops are the only way to touch a live match. Each live match is a single
// goroutine draining its op channel; grading, timers and player actions all
// arrive as messages, so the match state needs no locking.
type op interface {
	isOp()
}

type opSubmit struct {
	userID   string
	code     string
	language string
	reply    chan error
}

type opGraded struct {
	userID string
	sub    Submission
	err    error
}

type opTabSwitch struct {
	userID string
}

type opHint struct {
	userID string
}

type opDisconnect struct {
	userID string
}

type opView struct {
	reply chan *Match
}

func (opSubmit) isOp()     {}
func (opGraded) isOp()     {}
func (opTabSwitch) isOp()  {}
func (opHint) isOp()       {}
func (opDisconnect) isOp() {}
func (opView) isOp()       {}

type session struct {
	k   *Keeper
	m   *Match
	log *slog.Logger

	ops  chan op
	done chan struct{}
}

func newSession(k *Keeper, m *Match) *session {
	return &session{
		k:    k,
		m:    m,
		log:  k.log.With(slog.String("match_id", m.ID)),
		ops:  make(chan op, k.opts.OpBuffer),
		done: make(chan struct{}),
	}
}

// post hands an op to the session loop. Fails once the match is terminal or
// the keeper is shutting down.
func (s *session) post(o op) error {
	select {
	case <-s.done:
		return ErrMatchNotActive
	default:
	}
	select {
	case s.ops <- o:
		return nil
	case <-s.done:
		return ErrMatchNotActive
	}
}

func (s *session) timeLimit() time.Duration {
	if s.m.Problem != nil {
		if l := s.m.Problem.TimeLimit(); l > 0 {
			return l
		}
	}
	return s.k.opts.DefaultTimeLimit
}

func (s *session) run() {
	defer s.k.wg.Done()
	defer s.k.removeSession(s.m.ID)
	defer close(s.done)

	s.emitMatchFound()

	countdownC := time.After(s.k.opts.Countdown)
	var limitC <-chan time.Time

	for !s.m.Status.IsTerminal() {
		select {
		case <-countdownC:
			countdownC = nil
			s.start()
			limitC = time.After(s.timeLimit())
		case <-limitC:
			limitC = nil
			if s.m.Status == StatusInProgress {
				s.conclude(ResolveTimeout(s.m))
			}
		case o := <-s.ops:
			s.handle(o)
		case <-s.k.gctx.Done():
			s.cancel("server shutting down")
			return
		}
	}
}

func (s *session) handle(o op) {
	switch o := o.(type) {
	case opSubmit:
		s.handleSubmit(o)
	case opGraded:
		s.handleGraded(o)
	case opTabSwitch:
		s.handleTabSwitch(o)
	case opHint:
		s.handleHint(o)
	case opDisconnect:
		s.handleDisconnect(o)
	case opView:
		o.reply <- s.m.Clone()
	default:
		panic("unknown op")
	}
}

func (s *session) start() {
	s.m.Status = StatusInProgress
	s.m.StartedAt = maybe.Some(timeutil.NowUTC())
	s.saveMatch()
	s.k.sink.ToMatch(s.m.ID, Event{Type: EventGameStart, Data: &GameStartData{
		MatchID:          s.m.ID,
		StartedAt:        s.m.StartedAt.Get(),
		TimeLimitSeconds: int(s.timeLimit() / time.Second),
	}})
	s.log.Info("match started",
		slog.String("player1", s.m.Players[0].Ref.UserID),
		slog.String("player2", s.m.Players[1].Ref.UserID),
	)
}

func (s *session) handleSubmit(o opSubmit) {
	if s.m.Status != StatusInProgress {
		o.reply <- ErrMatchNotActive
		return
	}
	player, err := s.m.Player(o.userID)
	if err != nil {
		o.reply <- err
		return
	}
	if player.Disqualified {
		o.reply <- ErrDisqualified
		return
	}
	o.reply <- nil

	s.k.sink.ToUser(o.userID, Event{Type: EventSubmissionStatus, Data: &SubmissionStatusData{
		MatchID: s.m.ID,
		Status:  "running",
	}})

	cases := s.m.Problem.JudgeCases()
	s.k.wg.Add(1)
	go func() {
		defer s.k.wg.Done()
		results, err := s.k.grader.Execute(s.k.gctx, o.code, o.language, cases)
		if err != nil {
			if postErr := s.post(opGraded{userID: o.userID, err: err}); postErr != nil {
				s.log.Info("dropping failed grading for finished match", slogx.Err(err))
			}
			return
		}
		allPassed, totalRuntime := judge.Summarize(results)
		sub := Submission{
			Code:         o.code,
			Language:     o.language,
			SubmittedAt:  timeutil.NowUTC(),
			TestResults:  results,
			TotalRuntime: totalRuntime,
			AllPassed:    allPassed,
		}
		if postErr := s.post(opGraded{userID: o.userID, sub: sub}); postErr != nil {
			s.log.Info("dropping late grading result",
				slog.String("user_id", o.userID))
		}
	}()
}

func (s *session) handleGraded(o opGraded) {
	if s.m.Status != StatusInProgress {
		// The match concluded while grading was in flight.
		s.log.Info("ignoring grading result for concluded match",
			slog.String("user_id", o.userID))
		return
	}
	if o.err != nil {
		s.log.Warn("grading failed", slog.String("user_id", o.userID), slogx.Err(o.err))
		s.k.sink.ToUser(o.userID, Event{Type: EventError, Data: &ErrorData{
			Message: "could not grade submission",
		}})
		return
	}
	player, err := s.m.Player(o.userID)
	if err != nil {
		s.log.Warn("graded submission from stranger", slogx.Err(err))
		return
	}
	player.Submissions = append(player.Submissions, o.sub)
	if o.sub.AllPassed &&
		(player.BestRuntime.IsNone() || o.sub.TotalRuntime < player.BestRuntime.Get()) {
		player.BestRuntime = maybe.Some(o.sub.TotalRuntime)
	}

	s.k.sink.ToUser(o.userID, Event{Type: EventSubmissionResult, Data: &SubmissionResultData{
		MatchID:      s.m.ID,
		AllPassed:    o.sub.AllPassed,
		TotalRuntime: o.sub.TotalRuntime,
		TestResults:  o.sub.TestResults,
	}})
	opponent, err := s.m.Opponent(o.userID)
	if err == nil {
		s.k.sink.ToUser(opponent.UserID, Event{Type: EventOpponentSubmitted, Data: &OpponentSubmittedData{
			MatchID:   s.m.ID,
			AllPassed: o.sub.AllPassed,
		}})
	}
	s.saveMatch()

	if d, ok := ResolveSubmission(s.m).TryGet(); ok {
		s.conclude(d)
	}
}

func (s *session) handleTabSwitch(o opTabSwitch) {
	if s.m.Status != StatusInProgress {
		return
	}
	player, err := s.m.Player(o.userID)
	if err != nil || player.Disqualified {
		return
	}
	disqualify, warningsLeft := s.k.cheat.Signal(o.userID)
	if !disqualify {
		s.k.sink.ToUser(o.userID, Event{Type: EventTabSwitchWarning, Data: &TabSwitchWarningData{
			MatchID:      s.m.ID,
			WarningsLeft: warningsLeft,
		}})
		s.log.Info("tab switch warning", slog.String("user_id", o.userID))
		return
	}
	player.Disqualified = true
	s.log.Info("player disqualified for tab switching", slog.String("user_id", o.userID))
	s.conclude(ResolveDisqualification(s.m, o.userID))
}

func (s *session) handleHint(o opHint) {
	if s.m.Status.IsTerminal() || s.m.Problem == nil || s.m.SideOf(o.userID) < 0 {
		return
	}
	s.k.sink.ToUser(o.userID, Event{Type: EventHint, Data: &HintData{
		MatchID: s.m.ID,
		Hint:    s.m.Problem.Hint,
	}})
}

func (s *session) handleDisconnect(o opDisconnect) {
	if s.m.SideOf(o.userID) < 0 {
		return
	}
	s.k.cheat.Reset(o.userID)
	if s.k.opts.ForfeitOnDisconnect && s.m.Status == StatusInProgress {
		s.log.Info("player forfeits by disconnect", slog.String("user_id", o.userID))
		opponent, err := s.m.Opponent(o.userID)
		if err != nil {
			return
		}
		s.conclude(Decision{WinnerID: opponent.UserID, Reason: ReasonForfeit})
	}
}

// conclude performs the single terminal transition of a completed match.
// Guarded so that racing triggers (timeout vs grading vs disqualification)
// cannot fire it twice.
func (s *session) conclude(d Decision) {
	if s.m.Status.IsTerminal() {
		return
	}
	s.m.Status = StatusCompleted
	s.m.WinnerID = maybe.Some(d.WinnerID)
	s.m.WinReason = d.Reason
	s.m.EndedAt = maybe.Some(timeutil.NowUTC())
	for i := range s.m.Players {
		s.k.cheat.Reset(s.m.Players[i].Ref.UserID)
	}

	s.applyRewards(d)
	s.saveMatch()

	winnerSide := s.m.SideOf(d.WinnerID)
	data := &GameEndData{
		MatchID:  s.m.ID,
		WinnerID: d.WinnerID,
		Reason:   d.Reason,
	}
	if r, ok := s.m.Players[0].BestRuntime.TryGet(); ok {
		data.Player1Runtime = &r
	}
	if r, ok := s.m.Players[1].BestRuntime.TryGet(); ok {
		data.Player2Runtime = &r
	}
	if d.Reason == ReasonDisqualification && winnerSide >= 0 {
		data.DisqualifiedPlayer = s.m.Players[1-winnerSide].Ref.UserID
	}
	s.k.sink.ToMatch(s.m.ID, Event{Type: EventGameEnd, Data: data})

	s.log.Info("match concluded",
		slog.String("winner_id", d.WinnerID),
		slog.String("reason", d.Reason),
	)
}

func (s *session) applyRewards(d Decision) {
	winnerSide := s.m.SideOf(d.WinnerID)
	if winnerSide < 0 {
		s.log.Error("winner is not in the match", slog.String("winner_id", d.WinnerID))
		return
	}
	winner, loser := &s.m.Players[winnerSide], &s.m.Players[1-winnerSide]

	ctx, cancel := context.WithTimeout(context.Background(), s.k.opts.DBSaveTimeout)
	defer cancel()
	res, err := s.k.rewards.ApplyOutcome(ctx, reward.Outcome{
		MatchID:     s.m.ID,
		WinnerID:    winner.Ref.UserID,
		LoserID:     loser.Ref.UserID,
		WinnerStats: s.playerStats(winner, true),
		LoserStats:  s.playerStats(loser, false),
	})
	if err != nil {
		s.log.Error("cannot apply match rewards", slogx.Err(err))
		return
	}
	s.k.sink.ToUser(winner.Ref.UserID, Event{Type: EventTrophiesUpdated, Data: &TrophiesUpdatedData{
		Trophies: res.WinnerTrophies,
		Delta:    s.k.rewards.WinAmount(),
	}})
	s.k.sink.ToUser(loser.Ref.UserID, Event{Type: EventTrophiesUpdated, Data: &TrophiesUpdatedData{
		Trophies: res.LoserTrophies,
		Delta:    -s.k.rewards.LossAmount(),
	}})
	if len(res.NewWinnerBadges) != 0 {
		badges := make([]BadgeInfo, 0, len(res.NewWinnerBadges))
		for _, id := range res.NewWinnerBadges {
			info := BadgeInfo{ID: id, Name: id}
			if rule, ok := reward.RuleByID(id); ok {
				info.Name = rule.Name
				info.Description = rule.Description
			}
			badges = append(badges, info)
		}
		s.k.sink.ToUser(winner.Ref.UserID, Event{Type: EventBadgesAwarded, Data: &BadgesAwardedData{
			Badges: badges,
		}})
	}
}

func (s *session) playerStats(p *Player, won bool) reward.MatchStats {
	stats := reward.MatchStats{
		MatchID:               s.m.ID,
		Won:                   won,
		FirstSubmissionPassed: p.FirstSubmissionPassed(),
		EndedAt:               s.m.EndedAt.GetOr(timeutil.NowUTC()),
	}
	if r, ok := p.BestRuntime.TryGet(); ok {
		stats.BestRuntime = &r
	}
	return stats
}

func (s *session) cancel(reason string) {
	if s.m.Status.IsTerminal() {
		return
	}
	s.m.Status = StatusCancelled
	s.m.EndedAt = maybe.Some(timeutil.NowUTC())
	for i := range s.m.Players {
		s.k.cheat.Reset(s.m.Players[i].Ref.UserID)
	}
	s.saveMatch()
	s.k.sink.ToMatch(s.m.ID, Event{Type: EventMatchCancelled, Data: &MatchCancelledData{
		MatchID: s.m.ID,
		Reason:  reason,
	}})
	s.log.Info("match cancelled", slog.String("reason", reason))
}

func (s *session) emitMatchFound() {
	m := s.m
	prob := ProblemInfo{
		ID:               m.Problem.ID,
		Title:            m.Problem.Title,
		Description:      m.Problem.Description,
		Difficulty:       m.Problem.Difficulty,
		Constraints:      m.Problem.Constraints,
		TimeLimitSeconds: int(s.timeLimit() / time.Second),
		Tags:             m.Problem.Tags,
	}
	if len(m.Problem.TestCases) != 0 {
		prob.SampleInput = m.Problem.TestCases[0].Input
		prob.SampleOutput = m.Problem.TestCases[0].ExpectedOutput
	}
	for i := range m.Players {
		me, other := m.Players[i].Ref, m.Players[1-i].Ref
		opponent := OpponentInfo{
			UserID:   other.UserID,
			Username: other.Username(),
		}
		if other.User != nil {
			opponent.Trophies = other.User.Trophies
		}
		s.k.sink.ToUser(me.UserID, Event{Type: EventMatchFound, Data: &MatchFoundData{
			MatchID:          m.ID,
			MatchName:        m.Name,
			Opponent:         opponent,
			Problem:          prob,
			Stake:            m.Stake,
			Language:         m.Language,
			CountdownSeconds: int(s.k.opts.Countdown / time.Second),
		}})
	}
}

func (s *session) saveMatch() {
	ctx, cancel := context.WithTimeout(context.Background(), s.k.opts.DBSaveTimeout)
	defer cancel()
	if err := s.k.db.UpdateMatch(ctx, s.m.Clone()); err != nil {
		s.log.Error("cannot save match in db", slogx.Err(err))
	}
}
