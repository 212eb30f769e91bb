package ws

import (
	"sync"
	"testing"

	"github.com/codeclash-dev/codeclash/internal/duel"
	"github.com/codeclash-dev/codeclash/internal/util/slogx"
)

type fakeWriter struct {
	mu     sync.Mutex
	events []duel.Event
}

func (w *fakeWriter) WriteEvent(e duel.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, e)
	return nil
}

func (w *fakeWriter) types() []duel.EventType {
	w.mu.Lock()
	defer w.mu.Unlock()
	res := make([]duel.EventType, len(w.events))
	for i, e := range w.events {
		res[i] = e.Type
	}
	return res
}

func TestHubRoutesToUser(t *testing.T) {
	hub := NewHub(slogx.DiscardLogger())
	alice, bob := &fakeWriter{}, &fakeWriter{}
	defer hub.Register("alice", alice)()
	defer hub.Register("bob", bob)()

	hub.ToUser("alice", duel.Event{Type: duel.EventHint, Data: &duel.HintData{Hint: "x"}})
	if len(alice.types()) != 1 || len(bob.types()) != 0 {
		t.Fatalf("misrouted: alice=%v bob=%v", alice.types(), bob.types())
	}
}

func TestHubMatchGroupLifecycle(t *testing.T) {
	hub := NewHub(slogx.DiscardLogger())
	alice, bob, carol := &fakeWriter{}, &fakeWriter{}, &fakeWriter{}
	defer hub.Register("alice", alice)()
	defer hub.Register("bob", bob)()
	defer hub.Register("carol", carol)()

	// match_found enrolls its recipients into the match group.
	found := &duel.MatchFoundData{MatchID: "m1"}
	hub.ToUser("alice", duel.Event{Type: duel.EventMatchFound, Data: found})
	hub.ToUser("bob", duel.Event{Type: duel.EventMatchFound, Data: found})

	hub.ToMatch("m1", duel.Event{Type: duel.EventGameStart, Data: &duel.GameStartData{MatchID: "m1"}})
	if len(alice.types()) != 2 || len(bob.types()) != 2 {
		t.Fatalf("match members must get group events: alice=%v bob=%v", alice.types(), bob.types())
	}
	if len(carol.types()) != 0 {
		t.Fatalf("outsider got match events: %v", carol.types())
	}

	// A terminal event dissolves the group.
	hub.ToMatch("m1", duel.Event{Type: duel.EventGameEnd, Data: &duel.GameEndData{MatchID: "m1"}})
	hub.ToMatch("m1", duel.Event{Type: duel.EventGameStart, Data: &duel.GameStartData{MatchID: "m1"}})
	if n := len(alice.types()); n != 3 {
		t.Fatalf("events after group dissolution must not arrive, got %v", alice.types())
	}
}

func TestHubMultipleConnectionsPerUser(t *testing.T) {
	hub := NewHub(slogx.DiscardLogger())
	first, second := &fakeWriter{}, &fakeWriter{}
	unregisterFirst := hub.Register("alice", first)
	defer hub.Register("alice", second)()

	hub.ToUser("alice", duel.Event{Type: duel.EventHint, Data: &duel.HintData{}})
	if len(first.types()) != 1 || len(second.types()) != 1 {
		t.Fatal("all connections of a user must get the event")
	}

	unregisterFirst()
	hub.ToUser("alice", duel.Event{Type: duel.EventHint, Data: &duel.HintData{}})
	if len(first.types()) != 1 {
		t.Fatal("unregistered connection still receives events")
	}
	if len(second.types()) != 2 {
		t.Fatal("remaining connection lost events")
	}
}
