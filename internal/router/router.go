// Package router implements the Client Registry & Router: it owns the
// connection-to-player index exclusively, dispatches inbound events to
// auth, the Matchmaker, or a targeted Session, and fans server-originated
// events back out. Each connection has one read loop; outbound writes go
// directly to the socket under a per-connection write lock. The read loop
// and the per-connection liveness bookkeeping are grounded in the reference
// server's own
// lobby/game WebSocket handlers, generalized from two endpoints (lobby,
// game) down to the single endpoint this protocol uses.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/chessd/internal/auth"
	"github.com/jason-s-yu/chessd/internal/chessoracle"
	"github.com/jason-s-yu/chessd/internal/lifecycle"
	"github.com/jason-s-yu/chessd/internal/matchmaker"
	"github.com/jason-s-yu/chessd/internal/middleware"
	"github.com/jason-s-yu/chessd/internal/models"
	"github.com/jason-s-yu/chessd/internal/session"
	"github.com/sirupsen/logrus"
)

// The liveness threshold is read once at construction from config and kept
// as the Router's own field rather than a package global, mirroring the
// reference server's preference for instance state over globals in its
// newer internal/ handlers; the sweep interval is passed to Sweep.

// connection is one live WebSocket, tracked from accept to close.
type connection struct {
	id              string
	playerID        int64 // 0 until authenticated
	username        string
	authenticatedAt time.Time
	lastSeen        time.Time

	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *connection) touch() {
	c.lastSeen = time.Now()
}

func (c *connection) send(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.conn.Write(ctx, websocket.MessageText, data)
}

// inbound is the envelope every client message is parsed into before
// dispatch; fields not relevant to a given type are left zero.
type inbound struct {
	Type string `json:"type"`

	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	TimeControl int `json:"timeControl,omitempty"` // minutes

	GameID  string          `json:"gameId,omitempty"`
	Move    json.RawMessage `json:"move,omitempty"`
	Message string          `json:"message,omitempty"`
	Token   string          `json:"token,omitempty"`
}

type moveRequest struct {
	SAN       string `json:"san,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Promotion string `json:"promotion,omitempty"`
}

// Router owns the connection registry.
type Router struct {
	mu          sync.Mutex
	connections map[string]*connection
	byPlayer    map[int64]*connection

	liveness           time.Duration
	defaultTimeControl time.Duration

	auth       *auth.Service
	matchmaker *matchmaker.Matchmaker
	lifecycle  *lifecycle.Manager
	logger     *logrus.Logger
}

// New constructs a Router. liveness is the inactivity threshold after
// which the sweeper invalidates a connection, and defaultTimeControl is
// used by create_game when the client omits timeControl. The Matchmaker is
// wired in afterward via SetMatchmaker, since the Matchmaker's own
// constructor needs the Router as its LiveChecker — breaking the
// construction-order cycle without an import cycle.
func New(authSvc *auth.Service, lc *lifecycle.Manager, logger *logrus.Logger, liveness, defaultTimeControl time.Duration) *Router {
	return &Router{
		connections:        make(map[string]*connection),
		byPlayer:           make(map[int64]*connection),
		liveness:           liveness,
		defaultTimeControl: defaultTimeControl,
		auth:               authSvc,
		lifecycle:          lc,
		logger:             logger,
	}
}

// SetMatchmaker completes construction once the Matchmaker exists.
func (r *Router) SetMatchmaker(mm *matchmaker.Matchmaker) {
	r.matchmaker = mm
}

// IsLive implements matchmaker.LiveChecker.
func (r *Router) IsLive(playerID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byPlayer[playerID]
	return ok
}

// SendToPlayer implements lifecycle.Broadcaster: it looks up the player's
// current connection and writes to it, tolerating absence (the player may
// simply be disconnected).
func (r *Router) SendToPlayer(playerID int64, ev session.Event) {
	r.mu.Lock()
	c, ok := r.byPlayer[playerID]
	r.mu.Unlock()
	if !ok {
		return
	}
	c.send(session.Flatten(ev))
}

// Sweep runs for the life of the process and evicts connections that have
// gone quiet for longer than r.liveness.
func (r *Router) Sweep(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweepOnce()
		case <-stop:
			return
		}
	}
}

func (r *Router) sweepOnce() {
	cutoff := time.Now().Add(-r.liveness)
	var stale []*connection
	r.mu.Lock()
	for _, c := range r.connections {
		if c.lastSeen.Before(cutoff) {
			stale = append(stale, c)
		}
	}
	r.mu.Unlock()
	for _, c := range stale {
		r.logger.WithField("conn_id", c.id).Info("evicting stale connection")
		r.disconnect(c)
		_ = c.conn.Close(websocket.StatusPolicyViolation, "liveness timeout")
	}
}

// Handle upgrades an HTTP request to a WebSocket and runs the connection's
// read loop until it closes.
func (r *Router) Handle(w http.ResponseWriter, req *http.Request) {
	c, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		Subprotocols:   []string{"chess"},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		r.logger.WithError(err).Warn("websocket accept error")
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler exit")

	conn := &connection{
		id:       uuid.NewString(),
		lastSeen: time.Now(),
		conn:     c,
	}
	r.mu.Lock()
	r.connections[conn.id] = conn
	r.mu.Unlock()
	middleware.LogWebSocketConnect(r.logger, req.RemoteAddr, req.URL.Path)

	conn.send(map[string]interface{}{
		"type":      "connection_confirmed",
		"socketId":  conn.id,
		"server":    "chessd",
		"timestamp": time.Now().UnixMilli(),
	})

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	readErr := r.readLoop(ctx, conn)

	middleware.LogWebSocketDisconnect(r.logger, req.RemoteAddr, req.URL.Path, readErr)
	r.disconnect(conn)
}

func (r *Router) disconnect(c *connection) {
	r.mu.Lock()
	delete(r.connections, c.id)
	if c.playerID != 0 {
		if current, ok := r.byPlayer[c.playerID]; ok && current == c {
			delete(r.byPlayer, c.playerID)
		}
	}
	playerID := c.playerID
	r.mu.Unlock()

	if playerID != 0 {
		if err := r.matchmaker.Cancel(context.Background(), playerID); err != nil {
			r.logger.WithError(err).Warn("cancel waiting game on disconnect failed")
		}
	}
}

// readLoop runs until the connection closes, returning the error that ended
// it (nil for a clean client-initiated close).
func (r *Router) readLoop(ctx context.Context, c *connection) error {
	for {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		if msgType != websocket.MessageText {
			continue
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(session.Flatten(session.NewError("invalid JSON")))
			continue
		}
		c.touch()
		r.dispatch(ctx, c, msg)
	}
}

func (r *Router) dispatch(ctx context.Context, c *connection, msg inbound) {
	switch msg.Type {
	case "register":
		r.handleRegister(ctx, c, msg)
	case "login":
		r.handleLogin(ctx, c, msg)
	case "heartbeat":
		// touch() already ran in readLoop; nothing else to do.
	case "create_game":
		r.handleCreateGame(ctx, c, msg)
	case "search_for_game":
		r.handleSearchForGame(ctx, c)
	case "cancel_matchmaking":
		r.handleCancelMatchmaking(ctx, c)
	case "move":
		r.handleMove(c, msg)
	case "resign":
		r.handleResign(c, msg)
	case "chat":
		r.handleChat(c, msg)
	case "reconnect_to_game":
		r.handleReconnect(ctx, c, msg)
	case "request_game_sync":
		r.handleRequestSync(ctx, c, msg)
	default:
		c.send(session.Flatten(session.NewError(fmt.Sprintf("unknown event type %q", msg.Type))))
	}
}

func (r *Router) handleRegister(ctx context.Context, c *connection, msg inbound) {
	u, token, err := r.auth.Register(ctx, msg.Username, msg.Password)
	if err != nil {
		r.logger.WithFields(logrus.Fields{"username": msg.Username, "reason": err.Error()}).Warn("registration failure")
		c.send(map[string]interface{}{"type": "registration_failure", "reason": err.Error()})
		return
	}
	r.authenticate(c, u)
	c.send(map[string]interface{}{"type": "registration_success", "userId": u.ID, "username": u.Username, "token": token})
}

func (r *Router) handleLogin(ctx context.Context, c *connection, msg inbound) {
	u, token, err := r.auth.Authenticate(ctx, msg.Username, msg.Password)
	if err != nil {
		r.logger.WithFields(logrus.Fields{"username": msg.Username, "reason": err.Error()}).Warn("login failure")
		c.send(map[string]interface{}{"type": "login_failure", "reason": err.Error()})
		return
	}
	r.authenticate(c, u)

	c.send(map[string]interface{}{
		"type":        "login_success",
		"userId":      u.ID,
		"username":    u.Username,
		"elo":         u.Rating,
		"gamesPlayed": u.GamesPlayed,
		"gamesWon":    u.GamesWon,
		"token":       token,
	})
}

// authenticate binds a connection to a user, used on login/registration and
// again on a token-bearing reconnect_to_game against a fresh socket.
func (r *Router) authenticate(c *connection, u models.User) {
	r.mu.Lock()
	if previous, ok := r.byPlayer[u.ID]; ok && previous != c {
		delete(r.byPlayer, u.ID)
	}
	c.playerID = u.ID
	c.username = u.Username
	c.authenticatedAt = time.Now()
	r.byPlayer[u.ID] = c
	r.mu.Unlock()
}

func (r *Router) requireAuth(c *connection) bool {
	if c.playerID == 0 {
		c.send(session.Flatten(session.NewError("not authenticated")))
		return false
	}
	return true
}

func (r *Router) handleCreateGame(ctx context.Context, c *connection, msg inbound) {
	if !r.requireAuth(c) {
		return
	}
	tc := r.defaultTimeControl
	if msg.TimeControl > 0 {
		tc = time.Duration(msg.TimeControl) * time.Minute
	}
	user, err := r.currentUser(ctx, c)
	if err != nil {
		c.send(session.Flatten(session.NewError("could not load profile")))
		return
	}
	wg, err := r.matchmaker.CreateWaiting(ctx, matchmaker.Candidate{PlayerID: c.playerID, Username: c.username, Rating: user.Rating}, tc)
	if err != nil {
		c.send(session.Flatten(session.NewError("could not create game")))
		return
	}
	c.send(session.Flatten(session.NewWaiting(wg.GameID, int(tc.Minutes()), "white")))
}

func (r *Router) handleSearchForGame(ctx context.Context, c *connection) {
	if !r.requireAuth(c) {
		return
	}
	user, err := r.currentUser(ctx, c)
	if err != nil {
		c.send(session.Flatten(session.NewError("could not load profile")))
		return
	}

	paired, ok, err := r.matchmaker.Search(ctx, matchmaker.Candidate{PlayerID: c.playerID, Username: c.username, Rating: user.Rating})
	if err != nil {
		c.send(session.Flatten(session.NewError("matchmaking failed")))
		return
	}
	if !ok {
		c.send(map[string]interface{}{"type": "no_games_found"})
		return
	}

	r.lifecycle.StartSession(paired, r)

	r.mu.Lock()
	whiteConn := r.byPlayer[paired.White.PlayerID]
	blackConn := r.byPlayer[paired.Black.PlayerID]
	r.mu.Unlock()

	if whiteConn != nil {
		whiteConn.send(session.Flatten(session.NewMatchFound(paired.GameID, "white", paired.Black.Username, paired.Black.Rating, int(paired.TimeControl.Minutes()))))
	}
	if blackConn != nil {
		blackConn.send(session.Flatten(session.NewMatchFound(paired.GameID, "black", paired.White.Username, paired.White.Rating, int(paired.TimeControl.Minutes()))))
	}
}

func (r *Router) handleCancelMatchmaking(ctx context.Context, c *connection) {
	if !r.requireAuth(c) {
		return
	}
	if err := r.matchmaker.Cancel(ctx, c.playerID); err != nil {
		c.send(session.Flatten(session.NewError("could not cancel matchmaking")))
		return
	}
	c.send(map[string]interface{}{"type": "matchmaking_cancelled"})
}

func (r *Router) currentUser(ctx context.Context, c *connection) (models.User, error) {
	return r.auth.UserByID(ctx, c.playerID)
}

func (r *Router) handleMove(c *connection, msg inbound) {
	if !r.requireAuth(c) {
		return
	}
	s, ok := r.lifecycle.Get(msg.GameID)
	if !ok {
		c.send(session.Flatten(session.NewError("game not active")))
		return
	}
	desc, err := decodeMove(msg.Move)
	if err != nil {
		c.send(map[string]interface{}{"type": "invalid_move", "reason": err.Error()})
		return
	}
	if err := s.ApplyMove(c.playerID, desc); err != nil {
		reason := err.Error()
		if errors.Is(err, session.ErrIllegalMove) {
			reason = "Invalid move"
		}
		c.send(map[string]interface{}{"type": "invalid_move", "reason": reason})
	}
}

func decodeMove(raw json.RawMessage) (chessoracle.MoveDescriptor, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return chessoracle.MoveDescriptor{SAN: asString}, nil
	}
	var mv moveRequest
	if err := json.Unmarshal(raw, &mv); err != nil {
		return chessoracle.MoveDescriptor{}, fmt.Errorf("move must be a SAN string or {from,to,promotion}")
	}
	if mv.SAN != "" {
		return chessoracle.MoveDescriptor{SAN: mv.SAN}, nil
	}
	if mv.From == "" || mv.To == "" {
		return chessoracle.MoveDescriptor{}, fmt.Errorf("move requires both from and to")
	}
	return chessoracle.MoveDescriptor{From: mv.From, To: mv.To, Promotion: mv.Promotion}, nil
}

func (r *Router) handleResign(c *connection, msg inbound) {
	if !r.requireAuth(c) {
		return
	}
	s, ok := r.lifecycle.Get(msg.GameID)
	if !ok {
		c.send(session.Flatten(session.NewError("game not active")))
		return
	}
	if err := s.Resign(c.playerID); err != nil {
		c.send(session.Flatten(session.NewError(err.Error())))
	}
}

func (r *Router) handleChat(c *connection, msg inbound) {
	if !r.requireAuth(c) {
		return
	}
	s, ok := r.lifecycle.Get(msg.GameID)
	if !ok {
		c.send(session.Flatten(session.NewError("game not active")))
		return
	}
	s.Chat(c.playerID, msg.Message)
}

// handleReconnect re-authenticates a fresh socket via msg.Token when the
// connection has not yet logged in on this socket — the case a dropped
// connection followed by a brand new WebSocket produces — then replays the
// authoritative game state. An already-authenticated connection (a
// reconnect_to_game sent over a socket that never logged out) skips
// token verification entirely.
func (r *Router) handleReconnect(ctx context.Context, c *connection, msg inbound) {
	if c.playerID == 0 {
		if msg.Token == "" {
			c.send(session.Flatten(session.NewError("not authenticated")))
			return
		}
		u, err := r.auth.VerifyToken(ctx, msg.Token)
		if err != nil {
			r.logger.WithField("reason", err.Error()).Warn("reconnect token verification failure")
			c.send(session.Flatten(session.NewError("invalid or expired session token")))
			return
		}
		r.authenticate(c, u)
	}

	s, ok := r.lifecycle.Get(msg.GameID)
	if !ok {
		c.send(session.Flatten(session.NewError("game not active")))
		return
	}
	ev, err := s.SyncEvent(c.playerID)
	if err != nil {
		c.send(session.Flatten(session.NewError(err.Error())))
		return
	}
	c.send(session.Flatten(ev))
}

func (r *Router) handleRequestSync(ctx context.Context, c *connection, msg inbound) {
	r.handleReconnect(ctx, c, msg)
}
