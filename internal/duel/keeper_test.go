package duel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/codeclash-dev/codeclash/internal/judge"
	"github.com/codeclash-dev/codeclash/internal/problem"
	"github.com/codeclash-dev/codeclash/internal/queue"
	"github.com/codeclash-dev/codeclash/internal/reward"
	"github.com/codeclash-dev/codeclash/internal/util/slogx"
	"github.com/codeclash-dev/codeclash/internal/util/timeutil"
)

type memDB struct {
	mu        sync.Mutex
	matches   map[string]*Match
	createErr error
}

func newMemDB() *memDB {
	return &memDB{matches: make(map[string]*Match)}
}

func (d *memDB) CreateMatch(ctx context.Context, m *Match) error {
	d.mu.Lock()
	err := d.createErr
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return d.UpdateMatch(ctx, m)
}

func (d *memDB) UpdateMatch(ctx context.Context, m *Match) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.matches[m.ID] = m.Clone()
	return nil
}

func (d *memDB) get(id string) *Match {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.matches[id]
}

// scriptGrader maps source code to a canned outcome; the gate channel, when
// set, delays grading until released.
type scriptGrader struct {
	mu      sync.Mutex
	scripts map[string]gradeScript
	gate    chan struct{}
}

type gradeScript struct {
	passed  int
	total   int
	runtime float64
}

func (g *scriptGrader) script(code string, s gradeScript) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.scripts == nil {
		g.scripts = make(map[string]gradeScript)
	}
	g.scripts[code] = s
}

func (g *scriptGrader) Execute(ctx context.Context, code, language string, cases []judge.TestCase) ([]judge.TestResult, error) {
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g.mu.Lock()
	s, ok := g.scripts[code]
	g.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no script for %q", code)
	}
	results := make([]judge.TestResult, s.total)
	for i := range results {
		results[i] = judge.TestResult{Index: i + 1, Passed: i < s.passed}
		if i == 0 {
			r := s.runtime
			results[i].Runtime = &r
		}
	}
	return results, nil
}

type fixedSource struct {
	prob *problem.Problem
	err  error
}

func (s fixedSource) Generate(ctx context.Context, avgTrophies int, language string) (*problem.Problem, error) {
	if s.err != nil {
		return nil, s.err
	}
	p := s.prob.Clone()
	return &p, nil
}

// recordingRewards collects settled outcomes; when entered/release are set,
// ApplyOutcome parks until released so tests can hold a session inside its
// terminal transition.
type recordingRewards struct {
	mu       sync.Mutex
	outcomes []reward.Outcome
	entered  chan struct{}
	release  chan struct{}
}

func (r *recordingRewards) ApplyOutcome(ctx context.Context, out reward.Outcome) (reward.Result, error) {
	if r.entered != nil {
		r.entered <- struct{}{}
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	applied := true
	for _, o := range r.outcomes {
		if o.MatchID == out.MatchID {
			applied = false
		}
	}
	r.outcomes = append(r.outcomes, out)
	return reward.Result{Applied: applied, WinnerTrophies: 1600, LoserTrophies: 1400}, nil
}

func (r *recordingRewards) WinAmount() int  { return 100 }
func (r *recordingRewards) LossAmount() int { return 100 }

func (r *recordingRewards) applied() []reward.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]reward.Outcome, len(r.outcomes))
	copy(res, r.outcomes)
	return res
}

type staticUsers map[string]reward.User

func (u staticUsers) GetUser(ctx context.Context, userID string) (reward.User, error) {
	usr, ok := u[userID]
	if !ok {
		return reward.User{}, fmt.Errorf("no such user %v", userID)
	}
	return usr, nil
}

// recordSink collects every emitted event and lets tests block until an
// event of a given type shows up.
type recordSink struct {
	mu     sync.Mutex
	events []sunkEvent
	wake   chan struct{}
}

type sunkEvent struct {
	target string
	event  Event
}

func newRecordSink() *recordSink {
	return &recordSink{wake: make(chan struct{}, 1)}
}

func (s *recordSink) add(target string, e Event) {
	s.mu.Lock()
	s.events = append(s.events, sunkEvent{target: target, event: e})
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *recordSink) ToUser(userID string, e Event) {
	s.add("user:"+userID, e)
}

func (s *recordSink) ToMatch(matchID string, e Event) {
	s.add("match:"+matchID, e)
}

func (s *recordSink) find(typ EventType) (sunkEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.event.Type == typ {
			return e, true
		}
	}
	return sunkEvent{}, false
}

func (s *recordSink) waitFor(t *testing.T, typ EventType) sunkEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if e, ok := s.find(typ); ok {
			return e
		}
		select {
		case <-s.wake:
		case <-deadline:
			t.Fatalf("timed out waiting for %v event", typ)
		}
	}
}

func (s *recordSink) count(typ EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.event.Type == typ {
			n++
		}
	}
	return n
}

func testProblem(estimatedSeconds int) *problem.Problem {
	return &problem.Problem{
		ID:                   "prob-1",
		Title:                "Sum",
		Description:          "Sum the numbers.",
		Difficulty:           "Medium",
		EstimatedTimeSeconds: estimatedSeconds,
		Hint:                 "Use a loop.",
		Language:             "python",
		TestCases: []problem.TestCase{
			{Input: "1 2", ExpectedOutput: "3"},
			{Input: "4 5", ExpectedOutput: "9"},
		},
	}
}

type keeperEnv struct {
	keeper  *Keeper
	db      *memDB
	grader  *scriptGrader
	rewards *recordingRewards
	sink    *recordSink
}

func newKeeperEnv(t *testing.T, source ProblemSource, opts Options) *keeperEnv {
	t.Helper()
	env := &keeperEnv{
		db:      newMemDB(),
		grader:  &scriptGrader{},
		rewards: &recordingRewards{},
		sink:    newRecordSink(),
	}
	users := staticUsers{
		"alice": {ID: "alice", Username: "alice", Trophies: 1500},
		"bob":   {ID: "bob", Username: "bob", Trophies: 1450},
	}
	env.keeper = NewKeeper(slogx.DiscardLogger(), Deps{
		DB:       env.db,
		Grader:   env.grader,
		Problems: source,
		Rewards:  env.rewards,
		Users:    users,
		Sink:     env.sink,
	}, opts)
	t.Cleanup(env.keeper.Close)
	return env
}

func entry(userID string, trophies int) queue.Entry {
	return queue.Entry{
		UserID:   userID,
		Trophies: trophies,
		Stake:    50,
		Language: "python",
		JoinedAt: timeutil.NowUTC(),
	}
}

func (env *keeperEnv) createMatch(t *testing.T) *Match {
	t.Helper()
	m, err := env.keeper.CreateMatch(context.Background(), entry("alice", 1500), entry("bob", 1450))
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	return m
}

func TestMatchRunsToRuntimeDecision(t *testing.T) {
	env := newKeeperEnv(t, fixedSource{prob: testProblem(600)}, Options{
		Countdown: 10 * time.Millisecond,
	})
	env.grader.script("fast", gradeScript{passed: 2, total: 2, runtime: 1.5})
	env.grader.script("slow", gradeScript{passed: 2, total: 2, runtime: 3.5})

	m := env.createMatch(t)
	if m.Status != StatusWaiting {
		t.Fatalf("fresh match must be WAITING, got %v", m.Status)
	}
	env.sink.waitFor(t, EventMatchFound)
	env.sink.waitFor(t, EventGameStart)

	ctx := context.Background()
	if err := env.keeper.Submit(ctx, m.ID, "bob", "slow", "python"); err != nil {
		t.Fatalf("bob submit: %v", err)
	}
	env.sink.waitFor(t, EventSubmissionResult)
	env.sink.waitFor(t, EventOpponentSubmitted)
	if err := env.keeper.Submit(ctx, m.ID, "alice", "fast", "python"); err != nil {
		t.Fatalf("alice submit: %v", err)
	}

	end := env.sink.waitFor(t, EventGameEnd)
	data := end.event.Data.(*GameEndData)
	if data.WinnerID != "alice" || data.Reason != ReasonBestRuntime {
		t.Fatalf("unexpected game end: %+v", data)
	}
	if data.Player1Runtime == nil || data.Player2Runtime == nil {
		t.Fatalf("both runtimes must be reported: %+v", data)
	}

	outcomes := env.rewards.applied()
	if len(outcomes) != 1 {
		t.Fatalf("rewards applied %v times", len(outcomes))
	}
	if outcomes[0].WinnerID != "alice" || outcomes[0].LoserID != "bob" {
		t.Fatalf("unexpected outcome: %+v", outcomes[0])
	}
	env.sink.waitFor(t, EventTrophiesUpdated)

	saved := env.db.get(m.ID)
	if saved == nil || saved.Status != StatusCompleted {
		t.Fatalf("final match not persisted: %+v", saved)
	}
	if saved.WinnerID.GetOr("") != "alice" || saved.EndedAt.IsNone() {
		t.Fatalf("persisted match incomplete: %+v", saved)
	}
}

func TestSubmitBeforeStartRejected(t *testing.T) {
	env := newKeeperEnv(t, fixedSource{prob: testProblem(600)}, Options{
		Countdown: time.Hour,
	})
	m := env.createMatch(t)
	err := env.keeper.Submit(context.Background(), m.ID, "alice", "fast", "python")
	if !errors.Is(err, ErrMatchNotActive) {
		t.Fatalf("expected ErrMatchNotActive, got %v", err)
	}
}

func TestTabSwitchWarnsThenDisqualifies(t *testing.T) {
	env := newKeeperEnv(t, fixedSource{prob: testProblem(600)}, Options{
		Countdown: 10 * time.Millisecond,
	})
	m := env.createMatch(t)
	env.sink.waitFor(t, EventGameStart)

	if err := env.keeper.TabSwitch(m.ID, "alice"); err != nil {
		t.Fatalf("tab switch: %v", err)
	}
	warning := env.sink.waitFor(t, EventTabSwitchWarning)
	if warning.target != "user:alice" {
		t.Fatalf("warning sent to %v", warning.target)
	}
	if data := warning.event.Data.(*TabSwitchWarningData); data.WarningsLeft != 1 {
		t.Fatalf("unexpected warning payload: %+v", data)
	}

	if err := env.keeper.TabSwitch(m.ID, "alice"); err != nil {
		t.Fatalf("second tab switch: %v", err)
	}
	end := env.sink.waitFor(t, EventGameEnd)
	data := end.event.Data.(*GameEndData)
	if data.WinnerID != "bob" || data.Reason != ReasonDisqualification || data.DisqualifiedPlayer != "alice" {
		t.Fatalf("unexpected game end: %+v", data)
	}
	if len(env.rewards.applied()) != 1 {
		t.Fatal("rewards must be applied exactly once")
	}
}

func TestTimeLimitConcludesMatch(t *testing.T) {
	env := newKeeperEnv(t, fixedSource{prob: testProblem(0)}, Options{
		Countdown:        time.Millisecond,
		DefaultTimeLimit: 100 * time.Millisecond,
	})
	env.grader.script("partial", gradeScript{passed: 2, total: 2, runtime: 2.0})

	m := env.createMatch(t)
	env.sink.waitFor(t, EventGameStart)
	if err := env.keeper.Submit(context.Background(), m.ID, "bob", "partial", "python"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.sink.waitFor(t, EventSubmissionResult)

	end := env.sink.waitFor(t, EventGameEnd)
	data := end.event.Data.(*GameEndData)
	if data.WinnerID != "bob" || data.Reason != ReasonTimeoutWinner {
		t.Fatalf("unexpected game end: %+v", data)
	}
}

func TestLateGradingResultDiscarded(t *testing.T) {
	env := newKeeperEnv(t, fixedSource{prob: testProblem(600)}, Options{
		Countdown: 10 * time.Millisecond,
	})
	env.grader.gate = make(chan struct{})
	env.grader.script("stuck", gradeScript{passed: 2, total: 2, runtime: 1.0})

	m := env.createMatch(t)
	env.sink.waitFor(t, EventGameStart)

	if err := env.keeper.Submit(context.Background(), m.ID, "bob", "stuck", "python"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// Conclude the match by disqualification while grading is in flight.
	_ = env.keeper.TabSwitch(m.ID, "bob")
	_ = env.keeper.TabSwitch(m.ID, "bob")
	end := env.sink.waitFor(t, EventGameEnd)
	if data := end.event.Data.(*GameEndData); data.WinnerID != "alice" {
		t.Fatalf("unexpected game end: %+v", data)
	}

	close(env.grader.gate)
	// The late result must not produce submission events or extra rewards.
	deadline := time.After(200 * time.Millisecond)
	<-deadline
	if n := env.sink.count(EventSubmissionResult); n != 0 {
		t.Fatalf("late grading produced %v submission results", n)
	}
	if len(env.rewards.applied()) != 1 {
		t.Fatal("rewards must be applied exactly once")
	}
}

func TestMatchCancelledWhenNoProblem(t *testing.T) {
	env := newKeeperEnv(t, fixedSource{err: problem.ErrNoProblem}, Options{})
	_, err := env.keeper.CreateMatch(context.Background(), entry("alice", 1500), entry("bob", 1450))
	if err == nil {
		t.Fatal("expected match creation to fail")
	}
	cancelled := env.sink.waitFor(t, EventMatchCancelled)
	data := cancelled.event.Data.(*MatchCancelledData)
	if data.Reason == "" {
		t.Fatal("cancellation reason missing")
	}
	if n := env.sink.count(EventMatchCancelled); n != 2 {
		t.Fatalf("both players must be notified, got %v events", n)
	}
	if n := env.sink.count(EventGameStart); n != 0 {
		t.Fatal("cancelled match must never start")
	}
	saved := env.db.get(data.MatchID)
	if saved == nil || saved.Status != StatusCancelled {
		t.Fatalf("cancelled match not persisted: %+v", saved)
	}
	if saved.EndedAt.IsNone() {
		t.Fatal("terminal match must carry an end time")
	}
}

func TestMatchCancelledWhenDBCreateFails(t *testing.T) {
	env := newKeeperEnv(t, fixedSource{prob: testProblem(600)}, Options{})
	env.db.createErr = errors.New("disk full")

	_, err := env.keeper.CreateMatch(context.Background(), entry("alice", 1500), entry("bob", 1450))
	if err == nil {
		t.Fatal("expected match creation to fail")
	}
	// Both players already left the queue; they must learn the match is off.
	if n := env.sink.count(EventMatchCancelled); n != 2 {
		t.Fatalf("both players must be notified, got %v events", n)
	}
	if n := env.sink.count(EventGameStart); n != 0 {
		t.Fatal("cancelled match must never start")
	}
}

func TestSubmitUnblocksAfterConclusion(t *testing.T) {
	env := newKeeperEnv(t, fixedSource{prob: testProblem(600)}, Options{
		Countdown: 10 * time.Millisecond,
	})
	env.rewards.entered = make(chan struct{})
	env.rewards.release = make(chan struct{})

	m := env.createMatch(t)
	env.sink.waitFor(t, EventGameStart)

	// Disqualify bob; the session parks inside the reward settlement.
	_ = env.keeper.TabSwitch(m.ID, "bob")
	_ = env.keeper.TabSwitch(m.ID, "bob")
	<-env.rewards.entered

	errC := make(chan error, 1)
	go func() {
		errC <- env.keeper.Submit(context.Background(), m.ID, "alice", "late", "python")
	}()
	// Let the submit land in the op queue before the session winds down.
	time.Sleep(20 * time.Millisecond)
	close(env.rewards.release)

	select {
	case err := <-errC:
		if !errors.Is(err, ErrMatchNotActive) {
			t.Fatalf("expected ErrMatchNotActive, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("submit never returned after the match concluded")
	}
}

func TestStatusNeverMovesBackward(t *testing.T) {
	env := newKeeperEnv(t, fixedSource{prob: testProblem(600)}, Options{
		Countdown: 10 * time.Millisecond,
	})
	env.grader.script("win", gradeScript{passed: 2, total: 2, runtime: 1.0})

	m := env.createMatch(t)
	rank := func(s Status) int {
		switch s {
		case StatusWaiting:
			return 0
		case StatusInProgress:
			return 1
		default:
			return 2
		}
	}
	last := rank(StatusWaiting)
	done := time.After(3 * time.Second)
	for {
		view, err := env.keeper.MatchView(context.Background(), m.ID)
		if errors.Is(err, ErrMatchNotFound) {
			// Session gone means the match reached a terminal status.
			break
		}
		if err != nil {
			t.Fatalf("match view: %v", err)
		}
		if r := rank(view.Status); r < last {
			t.Fatalf("status moved backwards to %v", view.Status)
		} else {
			last = r
		}
		if view.Status == StatusInProgress && len(view.Players[0].Submissions) == 0 {
			_ = env.keeper.Submit(context.Background(), m.ID, "alice", "win", "python")
			_ = env.keeper.Submit(context.Background(), m.ID, "bob", "win", "python")
		}
		select {
		case <-done:
			t.Fatal("match never concluded")
		default:
		}
	}
	env.sink.waitFor(t, EventGameEnd)
	saved := env.db.get(m.ID)
	if saved == nil || saved.Status != StatusCompleted {
		t.Fatalf("terminal match not persisted: %+v", saved)
	}
}

func TestRequestHint(t *testing.T) {
	env := newKeeperEnv(t, fixedSource{prob: testProblem(600)}, Options{
		Countdown: 10 * time.Millisecond,
	})
	m := env.createMatch(t)
	env.sink.waitFor(t, EventGameStart)

	if err := env.keeper.RequestHint(m.ID, "alice"); err != nil {
		t.Fatalf("request hint: %v", err)
	}
	hint := env.sink.waitFor(t, EventHint)
	if hint.target != "user:alice" {
		t.Fatalf("hint sent to %v", hint.target)
	}
	if data := hint.event.Data.(*HintData); data.Hint != "Use a loop." {
		t.Fatalf("unexpected hint: %+v", data)
	}
}

func TestForfeitOnDisconnect(t *testing.T) {
	env := newKeeperEnv(t, fixedSource{prob: testProblem(600)}, Options{
		Countdown:           10 * time.Millisecond,
		ForfeitOnDisconnect: true,
	})
	env.createMatch(t)
	env.sink.waitFor(t, EventGameStart)

	env.keeper.Disconnect("bob")
	end := env.sink.waitFor(t, EventGameEnd)
	data := end.event.Data.(*GameEndData)
	if data.WinnerID != "alice" || data.Reason != ReasonForfeit {
		t.Fatalf("unexpected game end: %+v", data)
	}
}

func TestDisconnectWithoutForfeitKeepsMatchAlive(t *testing.T) {
	env := newKeeperEnv(t, fixedSource{prob: testProblem(600)}, Options{
		Countdown: 10 * time.Millisecond,
	})
	m := env.createMatch(t)
	env.sink.waitFor(t, EventGameStart)

	// A tab switch, a disconnect, then another switch: the reset must have
	// cleared the counter, so this is a warning again.
	_ = env.keeper.TabSwitch(m.ID, "alice")
	env.sink.waitFor(t, EventTabSwitchWarning)
	env.keeper.Disconnect("alice")
	_ = env.keeper.TabSwitch(m.ID, "alice")

	deadline := time.After(200 * time.Millisecond)
	<-deadline
	if n := env.sink.count(EventGameEnd); n != 0 {
		t.Fatal("match must stay alive without forfeit-on-disconnect")
	}
	if n := env.sink.count(EventTabSwitchWarning); n != 2 {
		t.Fatalf("expected a second warning after reset, got %v warnings", n)
	}
}
