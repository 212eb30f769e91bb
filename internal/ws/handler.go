package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/codeclash-dev/codeclash/internal/duel"
	"github.com/codeclash-dev/codeclash/internal/queue"
	"github.com/codeclash-dev/codeclash/internal/reward"
	"github.com/codeclash-dev/codeclash/internal/util/httputil"
	"github.com/codeclash-dev/codeclash/internal/util/idgen"
	"github.com/codeclash-dev/codeclash/internal/util/slogx"
	"github.com/codeclash-dev/codeclash/internal/util/timeutil"
)

// Inbound message types.
const (
	msgJoinMatchmaking  = "join_matchmaking"
	msgLeaveMatchmaking = "leave_matchmaking"
	msgSubmitCode       = "submit_code"
	msgTabSwitch        = "tab_switch"
	msgRequestHint      = "request_hint"
)

type inboundMsg struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type joinMatchmakingData struct {
	Stake    int    `json:"stake"`
	Language string `json:"language"`
}

type matchmakingStatusData struct {
	Status   string `json:"status"`
	Position int    `json:"position,omitempty"`
}

type submitCodeData struct {
	MatchID  string `json:"match_id"`
	Code     string `json:"code"`
	Language string `json:"language"`
}

type matchRefData struct {
	MatchID string `json:"match_id"`
}

// Matchmaker is the queue surface the handler drives.
type Matchmaker interface {
	Join(ctx context.Context, e queue.Entry) (queue.PairResult, error)
	Leave(ctx context.Context, userID string) (bool, error)
	Position(ctx context.Context, userID string) (int, error)
}

// Matches is the orchestrator surface the handler drives.
type Matches interface {
	CreateMatch(ctx context.Context, p1, p2 queue.Entry) (*duel.Match, error)
	Submit(ctx context.Context, matchID, userID, code, language string) error
	TabSwitch(matchID, userID string) error
	RequestHint(matchID, userID string) error
	Disconnect(userID string)
}

// Users resolves and registers player identities.
type Users interface {
	GetUserByUsername(ctx context.Context, username string) (reward.User, error)
	CreateUser(ctx context.Context, user reward.User) error
	GetUser(ctx context.Context, userID string) (reward.User, error)
}

// Handler upgrades player connections and translates websocket messages
// into queue and match operations.
type Handler struct {
	log     *slog.Logger
	hub     *Hub
	factory *SessionFactory
	mm      Matchmaker
	matches Matches
	users   Users
	o       Options
}

func NewHandler(log *slog.Logger, hub *Hub, mm Matchmaker, matches Matches, users Users, o Options) *Handler {
	o.FillDefaults()
	return &Handler{
		log:     log,
		hub:     hub,
		factory: NewSessionFactory(o),
		mm:      mm,
		matches: matches,
		users:   users,
		o:       o,
	}
}

// client is the per-connection state shared by the receive callback.
type client struct {
	h       *Handler
	user    reward.User
	session *Session
	limiter *rate.Limiter
	log     *slog.Logger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	username := req.URL.Query().Get("user")
	if username == "" {
		_ = httputil.WriteErrorResponse(httputil.MakeError(http.StatusBadRequest, "no user specified"), w)
		return
	}
	user, err := h.resolveUser(ctx, username)
	if err != nil {
		if errors.Is(err, reward.ErrUserNotFound) {
			_ = httputil.WriteErrorResponse(httputil.MakeError(http.StatusUnauthorized, "unknown user"), w)
			return
		}
		h.log.Error("cannot resolve user", slog.String("username", username), slogx.Err(err))
		_ = httputil.WriteErrorResponse(httputil.MakeError(http.StatusInternalServerError, "internal server error"), w)
		return
	}

	c := &client{
		h:       h,
		user:    user,
		limiter: rate.NewLimiter(rate.Limit(h.o.MsgsPerSec), h.o.MsgBurst),
		log:     h.log.With(slog.String("user_id", user.ID)),
	}
	session, err := h.factory.NewSession(w, req, c.log, c.recv)
	if err != nil {
		return
	}
	c.session = session
	unregister := h.hub.Register(user.ID, session)

	c.log.Info("player connected")
	<-session.Done()
	unregister()
	session.Close()

	// The player may still be mid-match; the match decides what a
	// disconnect means.
	if _, err := h.mm.Leave(context.Background(), user.ID); err != nil {
		c.log.Warn("cannot remove player from queue", slogx.Err(err))
	}
	h.matches.Disconnect(user.ID)
	c.log.Info("player disconnected")
}

func (h *Handler) resolveUser(ctx context.Context, username string) (reward.User, error) {
	user, err := h.users.GetUserByUsername(ctx, username)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, reward.ErrUserNotFound) || !h.o.AutoRegister {
		return reward.User{}, err
	}
	user = reward.User{
		ID:       idgen.ID(),
		Username: username,
		Trophies: h.o.StartingTrophies,
	}
	if err := h.users.CreateUser(ctx, user); err != nil {
		// Lost a race against a concurrent first connection.
		if u, getErr := h.users.GetUserByUsername(ctx, username); getErr == nil {
			return u, nil
		}
		return reward.User{}, fmt.Errorf("register user: %w", err)
	}
	h.log.Info("registered new player",
		slog.String("user_id", user.ID),
		slog.String("username", username),
	)
	return user, nil
}

func (c *client) recv(msg []byte) error {
	if !c.limiter.Allow() {
		c.sendError("slow down")
		return nil
	}
	var in inboundMsg
	if err := json.Unmarshal(msg, &in); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	ctx := context.Background()
	switch in.Type {
	case msgJoinMatchmaking:
		return c.handleJoin(ctx, in.Data)
	case msgLeaveMatchmaking:
		return c.handleLeave(ctx)
	case msgSubmitCode:
		return c.handleSubmit(ctx, in.Data)
	case msgTabSwitch:
		return c.handleMatchOp(in.Data, c.h.matches.TabSwitch)
	case msgRequestHint:
		return c.handleMatchOp(in.Data, c.h.matches.RequestHint)
	default:
		c.sendError(fmt.Sprintf("unknown message type %q", in.Type))
		return nil
	}
}

func (c *client) handleJoin(ctx context.Context, data json.RawMessage) error {
	var d joinMatchmakingData
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("unmarshal join: %w", err)
	}
	// Trophies move after every match, take a fresh snapshot.
	user, err := c.h.users.GetUser(ctx, c.user.ID)
	if err != nil {
		c.log.Error("cannot refresh user", slogx.Err(err))
		c.sendError("cannot join matchmaking")
		return nil
	}
	c.user = user

	entry := queue.Entry{
		UserID:   user.ID,
		Trophies: user.Trophies,
		Stake:    d.Stake,
		Language: d.Language,
		JoinedAt: timeutil.NowUTC(),
	}
	res, err := c.h.mm.Join(ctx, entry)
	if err != nil {
		if errors.Is(err, queue.ErrAlreadyQueued) {
			c.sendError("already in matchmaking")
			return nil
		}
		c.log.Error("cannot join matchmaking", slogx.Err(err))
		c.sendError("cannot join matchmaking")
		return nil
	}
	if !res.Paired {
		pos, err := c.h.mm.Position(ctx, user.ID)
		if err != nil {
			c.log.Warn("cannot get queue position", slogx.Err(err))
		}
		c.send(duel.Event{Type: duel.EventMatchmakingStatus, Data: &matchmakingStatusData{
			Status:   "queued",
			Position: pos,
		}})
		return nil
	}
	// The opponent waited longer, they go first.
	if _, err := c.h.matches.CreateMatch(ctx, res.Opponent, entry); err != nil {
		c.log.Warn("cannot create match", slogx.Err(err))
	}
	return nil
}

func (c *client) handleLeave(ctx context.Context) error {
	removed, err := c.h.mm.Leave(ctx, c.user.ID)
	if err != nil {
		c.log.Error("cannot leave matchmaking", slogx.Err(err))
		c.sendError("cannot leave matchmaking")
		return nil
	}
	status := "left"
	if !removed {
		status = "not_queued"
	}
	c.send(duel.Event{Type: duel.EventMatchmakingStatus, Data: &matchmakingStatusData{
		Status: status,
	}})
	return nil
}

func (c *client) handleSubmit(ctx context.Context, data json.RawMessage) error {
	var d submitCodeData
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("unmarshal submit: %w", err)
	}
	if err := c.h.matches.Submit(ctx, d.MatchID, c.user.ID, d.Code, d.Language); err != nil {
		c.sendOpError(err)
	}
	return nil
}

func (c *client) handleMatchOp(data json.RawMessage, op func(matchID, userID string) error) error {
	var d matchRefData
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("unmarshal match ref: %w", err)
	}
	if err := op(d.MatchID, c.user.ID); err != nil {
		c.sendOpError(err)
	}
	return nil
}

func (c *client) sendOpError(err error) {
	switch {
	case errors.Is(err, duel.ErrMatchNotFound):
		c.sendError("no such match")
	case errors.Is(err, duel.ErrMatchNotActive):
		c.sendError("match is not active")
	case errors.Is(err, duel.ErrDisqualified):
		c.sendError("you are disqualified")
	default:
		c.log.Warn("match operation failed", slogx.Err(err))
		c.sendError("operation failed")
	}
}

func (c *client) send(e duel.Event) {
	if err := c.session.WriteEvent(e); err != nil {
		c.log.Info("could not send event", slogx.Err(err))
	}
}

func (c *client) sendError(message string) {
	c.send(duel.Event{Type: duel.EventError, Data: &duel.ErrorData{Message: message}})
}
