package ws

import (
	"log/slog"
	"sync"

	"github.com/codeclash-dev/codeclash/internal/duel"
	"github.com/codeclash-dev/codeclash/internal/util/slogx"
)

// EventWriter is the sending half of a connection.
type EventWriter interface {
	WriteEvent(e duel.Event) error
}

// Hub routes match events to connected players. Connections are grouped per
// user; match groups are built from the event stream itself: a match_found
// event enrolls its recipient into the match group, and a terminal match
// event dissolves the group after delivery.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	users   map[string]map[EventWriter]struct{}
	matches map[string]map[string]struct{}
}

var _ duel.Sink = (*Hub)(nil)

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:     log,
		users:   make(map[string]map[EventWriter]struct{}),
		matches: make(map[string]map[string]struct{}),
	}
}

// Register attaches a connection to a user. The returned function detaches
// it again; the last connection leaving does not drop match membership, the
// user may reconnect mid-match.
func (h *Hub) Register(userID string, w EventWriter) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.users[userID]
	if !ok {
		conns = make(map[EventWriter]struct{})
		h.users[userID] = conns
	}
	conns[w] = struct{}{}
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		cur, ok := h.users[userID]
		if !ok {
			return
		}
		delete(cur, w)
		if len(cur) == 0 {
			delete(h.users, userID)
		}
	}
}

func (h *Hub) joinMatch(matchID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.matches[matchID]
	if !ok {
		members = make(map[string]struct{})
		h.matches[matchID] = members
	}
	members[userID] = struct{}{}
}

func (h *Hub) dropMatch(matchID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.matches, matchID)
}

func (h *Hub) userWriters(userID string) []EventWriter {
	h.mu.RLock()
	defer h.mu.RUnlock()
	res := make([]EventWriter, 0, len(h.users[userID]))
	for w := range h.users[userID] {
		res = append(res, w)
	}
	return res
}

func (h *Hub) matchMembers(matchID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	res := make([]string, 0, len(h.matches[matchID]))
	for userID := range h.matches[matchID] {
		res = append(res, userID)
	}
	return res
}

func (h *Hub) send(userID string, e duel.Event) {
	for _, w := range h.userWriters(userID) {
		if err := w.WriteEvent(e); err != nil {
			h.log.Info("could not deliver event",
				slog.String("user_id", userID),
				slog.String("type", string(e.Type)),
				slogx.Err(err),
			)
		}
	}
}

func (h *Hub) ToUser(userID string, e duel.Event) {
	if data, ok := e.Data.(*duel.MatchFoundData); ok {
		h.joinMatch(data.MatchID, userID)
	}
	h.send(userID, e)
}

func (h *Hub) ToMatch(matchID string, e duel.Event) {
	for _, userID := range h.matchMembers(matchID) {
		h.send(userID, e)
	}
	if e.Type == duel.EventGameEnd || e.Type == duel.EventMatchCancelled {
		h.dropMatch(matchID)
	}
}
