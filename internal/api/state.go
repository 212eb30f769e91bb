package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/NYTimes/gziphandler"

	"github.com/codeclash-dev/codeclash/internal/duel"
	"github.com/codeclash-dev/codeclash/internal/util/httputil"
	"github.com/codeclash-dev/codeclash/internal/util/slogx"
	"github.com/codeclash-dev/codeclash/internal/util/timeutil"
)

// Queue is the matchmaking surface exposed to dashboards.
type Queue interface {
	Len(ctx context.Context) int
}

// Matches serves live match snapshots.
type Matches interface {
	MatchView(ctx context.Context, matchID string) (*duel.Match, error)
	ListMatches(ctx context.Context) []*duel.Match
}

// MatchStore serves finished matches that already left the keeper.
type MatchStore interface {
	GetMatch(ctx context.Context, matchID string) (*duel.Match, error)
}

type Handler struct {
	log     *slog.Logger
	queue   Queue
	matches Matches
	store   MatchStore
}

// New builds the read-only state API. Responses are gzip-compressed when
// the client accepts it.
func New(log *slog.Logger, queue Queue, matches Matches, store MatchStore) http.Handler {
	h := &Handler{
		log:     log,
		queue:   queue,
		matches: matches,
		store:   store,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state/queue", h.handleQueue)
	mux.HandleFunc("GET /api/state/matches", h.handleMatches)
	mux.HandleFunc("GET /api/state/match/{id}", h.handleMatch)
	return gziphandler.GzipHandler(mux)
}

type queueState struct {
	Length int `json:"length"`
}

type playerView struct {
	UserID       string   `json:"user_id"`
	Username     string   `json:"username"`
	Submissions  int      `json:"submissions"`
	BestRuntime  *float64 `json:"best_runtime,omitempty"`
	Disqualified bool     `json:"disqualified,omitempty"`
}

type matchView struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Status    string            `json:"status"`
	Stake     int               `json:"stake"`
	Language  string            `json:"language"`
	Players   [2]playerView     `json:"players"`
	WinnerID  string            `json:"winner_id,omitempty"`
	WinReason string            `json:"win_reason,omitempty"`
	StartedAt *timeutil.UTCTime `json:"started_at,omitempty"`
	EndedAt   *timeutil.UTCTime `json:"ended_at,omitempty"`
}

func viewOf(m *duel.Match) matchView {
	v := matchView{
		ID:       m.ID,
		Name:     m.Name,
		Status:   string(m.Status),
		Stake:    m.Stake,
		Language: m.Language,
	}
	for i := range m.Players {
		p := &m.Players[i]
		v.Players[i] = playerView{
			UserID:       p.Ref.UserID,
			Username:     p.Ref.Username(),
			Submissions:  len(p.Submissions),
			Disqualified: p.Disqualified,
		}
		if r, ok := p.BestRuntime.TryGet(); ok {
			v.Players[i].BestRuntime = &r
		}
	}
	if w, ok := m.WinnerID.TryGet(); ok {
		v.WinnerID = w
	}
	v.WinReason = m.WinReason
	if t, ok := m.StartedAt.TryGet(); ok {
		v.StartedAt = &t
	}
	if t, ok := m.EndedAt.TryGet(); ok {
		v.EndedAt = &t
	}
	return v
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Info("could not write response", slogx.Err(err))
	}
}

func (h *Handler) handleQueue(w http.ResponseWriter, req *http.Request) {
	h.writeJSON(w, &queueState{Length: h.queue.Len(req.Context())})
}

func (h *Handler) handleMatches(w http.ResponseWriter, req *http.Request) {
	live := h.matches.ListMatches(req.Context())
	views := make([]matchView, 0, len(live))
	for _, m := range live {
		views = append(views, viewOf(m))
	}
	h.writeJSON(w, views)
}

func (h *Handler) handleMatch(w http.ResponseWriter, req *http.Request) {
	matchID := req.PathValue("id")
	m, err := h.matches.MatchView(req.Context(), matchID)
	if errors.Is(err, duel.ErrMatchNotFound) {
		m, err = h.store.GetMatch(req.Context(), matchID)
	}
	if err != nil {
		if errors.Is(err, duel.ErrMatchNotFound) {
			_ = httputil.WriteErrorResponse(httputil.MakeError(http.StatusNotFound, "no such match"), w)
			return
		}
		h.log.Error("cannot load match", slog.String("match_id", matchID), slogx.Err(err))
		_ = httputil.WriteErrorResponse(httputil.MakeError(http.StatusInternalServerError, "internal server error"), w)
		return
	}
	h.writeJSON(w, viewOf(m))
}
