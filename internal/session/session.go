// Package session implements the Session component: the authoritative,
// serialized container for one active chess match. Every exported method
// that reads or changes game state sends a closure into the session's
// inbox (ApplyMove, Resign and ReconnectSnapshot then block for its result;
// Chat and BroadcastTimerUpdate do not wait), so all mutation of the oracle
// and the clock happens on a single goroutine —
// the actor-per-session design called for in the concurrency model,
// generalized from the reference server's mutex-guarded CambiaGame actor
// to channel ownership instead of locking.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jason-s-yu/chessd/internal/chessoracle"
	"github.com/jason-s-yu/chessd/internal/clock"
	"github.com/jason-s-yu/chessd/internal/models"
	"github.com/jason-s-yu/chessd/internal/rating"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotYourTurn = errors.New("not your turn")
	ErrIllegalMove = errors.New("illegal move")
	ErrNotActive   = errors.New("game not active")
)

// Store is the narrow durable-store seam the Session needs from the
// Persistence Gateway. *persistence.Store satisfies this without either
// package importing the other's test doubles, so a fake can stand in for
// it in tests.
type Store interface {
	FinalizeGame(ctx context.Context, fg models.FinishedGame) error
	FindUserByID(ctx context.Context, id int64) (models.User, bool, error)
	ApplyRatingDelta(ctx context.Context, userID int64, delta int, won bool) (oldRating, newRating int, err error)
}

// Cache is the narrow ephemeral-store seam the Session needs.
// *persistence.Cache satisfies this.
type Cache interface {
	PutPosition(ctx context.Context, gameID, fen string, turn chessoracle.Side) error
	EvictPosition(ctx context.Context, gameID string)
	PushAction(ctx context.Context, rec models.GameActionRecord) error
}

// Player identifies one side of the match as of pairing time.
type Player struct {
	ID          int64
	Username    string
	Rating      int
	GamesPlayed int
}

// BroadcastFunc fans an event out to every current connection in the
// game's broadcast group. EndFunc is invoked once, after game_over has
// been sent, so the Lifecycle Manager can evict the Session.
type BroadcastFunc func(gameID string, ev Event)
type BroadcastToPlayerFunc func(gameID string, playerID int64, ev Event)
type EndFunc func(gameID string)

// Session is the authoritative container for one active match.
type Session struct {
	GameID string
	White  Player
	Black  Player

	TimeControl time.Duration
	startedAt   time.Time

	pos   *chessoracle.Position
	clk   *clock.Clock
	moves []models.MoveRecord

	finished bool

	store Store
	cache Cache
	log   *logrus.Entry

	broadcast         BroadcastFunc
	broadcastToPlayer BroadcastToPlayerFunc
	onEnd             EndFunc

	inbox chan func()
	done  chan struct{}
}

// New constructs a Session and immediately starts its actor goroutine and
// Clock. White is paired first and runs first, at the pairing instant, not
// at the first move.
func New(
	gameID string,
	white, black Player,
	timeControl time.Duration,
	store Store,
	cache Cache,
	logger *logrus.Logger,
	broadcast BroadcastFunc,
	broadcastToPlayer BroadcastToPlayerFunc,
	onEnd EndFunc,
) *Session {
	s := &Session{
		GameID:            gameID,
		White:             white,
		Black:             black,
		TimeControl:       timeControl,
		startedAt:         time.Now(),
		pos:               chessoracle.NewPosition(),
		store:             store,
		cache:             cache,
		log:               logger.WithField("game_id", gameID),
		broadcast:         broadcast,
		broadcastToPlayer: broadcastToPlayer,
		onEnd:             onEnd,
		inbox:             make(chan func(), 8),
		done:              make(chan struct{}),
	}
	s.clk = clock.New(timeControl, func(losingSide chessoracle.Side) {
		s.submit(func() { s.flagFallLocked(losingSide) })
	})
	go s.run()
	return s
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.inbox:
			fn()
		case <-s.done:
			return
		}
	}
}

// submit enqueues fn to run on the actor goroutine and reports whether it
// was enqueued. It returns false once the session has finalized and closed
// done — a flag-fall racing finalize is the expected case, handled by
// dropping fn. Reply-bearing callers (ApplyMove, Resign, ReconnectSnapshot)
// must check the return value: run()'s own select can also race a closed
// done against a still-buffered inbox entry, so even a successful submit is
// not a guarantee fn ever runs, and both callers and run() treat done as the
// authoritative "session is over" signal.
func (s *Session) submit(fn func()) bool {
	select {
	case s.inbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

// sideOf returns which side playerID is assigned, or "" if they are not a
// participant.
func (s *Session) sideOf(playerID int64) chessoracle.Side {
	switch playerID {
	case s.White.ID:
		return chessoracle.White
	case s.Black.ID:
		return chessoracle.Black
	default:
		return ""
	}
}

func (s *Session) playerOf(side chessoracle.Side) Player {
	if side == chessoracle.White {
		return s.White
	}
	return s.Black
}

func (s *Session) usernameOf(playerID int64) string {
	if playerID == s.White.ID {
		return s.White.Username
	}
	return s.Black.Username
}

// ApplyMove serializes through the actor and returns the session's verdict.
func (s *Session) ApplyMove(playerID int64, desc chessoracle.MoveDescriptor) error {
	resultCh := make(chan error, 1)
	if !s.submit(func() {
		resultCh <- s.applyMoveLocked(playerID, desc)
	}) {
		return ErrNotActive
	}
	select {
	case err := <-resultCh:
		return err
	case <-s.done:
		return ErrNotActive
	}
}

type moveApplied struct {
	san               string
	from, to          string
	fen               string
	turn              chessoracle.Side
	moverID           int64
	moverRemaining    time.Duration
	opponentRemaining time.Duration
	serverInstant     time.Time
}

func (s *Session) applyMoveLocked(playerID int64, desc chessoracle.MoveDescriptor) error {
	if s.finished {
		return ErrNotActive
	}

	mover := s.sideOf(playerID)
	if mover == "" {
		return ErrNotActive
	}
	if mover != s.pos.Turn() {
		return ErrNotYourTurn
	}

	applied, err := s.pos.Apply(desc)
	if err != nil {
		return ErrIllegalMove
	}

	s.clk.Switch()
	snap := s.clk.Snapshot()

	halfMove := len(s.moves) + 1
	rec := models.MoveRecord{
		GameID:      s.GameID,
		HalfMoveNum: halfMove,
		SAN:         applied.SAN,
		MoverID:     playerID,
		RecordedAt:  time.Now(),
	}
	s.moves = append(s.moves, rec)

	ctx := context.Background()
	// Durable move storage goes through the action queue rather than a
	// direct Store call, so the actor's critical section never blocks on
	// more than a queue push; the historian drains it into game_moves.
	action := models.GameActionRecord{
		GameID:      s.GameID,
		ActionIndex: halfMove,
		ActorUserID: playerID,
		ActionType:  "move",
		ActionPayload: map[string]interface{}{
			"san":         applied.SAN,
			"from":        applied.From,
			"to":          applied.To,
			"halfMoveNum": halfMove,
			"recordedAt":  rec.RecordedAt,
		},
		Timestamp: rec.RecordedAt.UnixMilli(),
	}
	if err := s.cache.PushAction(ctx, action); err != nil {
		s.log.WithError(err).Warn("queue move action failed, session remains authoritative")
	}
	if err := s.cache.PutPosition(ctx, s.GameID, applied.FEN, applied.Turn); err != nil {
		s.log.WithError(err).Debug("cache position update failed")
	}

	moverRemaining, opponentRemaining := snap.WhiteRemaining, snap.BlackRemaining
	if mover == chessoracle.Black {
		moverRemaining, opponentRemaining = snap.BlackRemaining, snap.WhiteRemaining
	}

	s.broadcast(s.GameID, newMoveMade(s.GameID, moveApplied{
		san:               applied.SAN,
		from:              applied.From,
		to:                applied.To,
		fen:               applied.FEN,
		turn:              applied.Turn,
		moverID:           playerID,
		moverRemaining:    moverRemaining,
		opponentRemaining: opponentRemaining,
		serverInstant:     snap.ServerInstant,
	}))

	if applied.Terminal.Over {
		reason := mapOracleReason(applied.Terminal.Reason)
		var winnerID *int64
		if applied.Terminal.Winner != "" {
			w := s.playerOf(applied.Terminal.Winner).ID
			winnerID = &w
		}
		s.finalizeLocked(reason, winnerID)
	}
	return nil
}

func mapOracleReason(r chessoracle.EndReason) models.EndReason {
	switch r {
	case chessoracle.EndCheckmate:
		return models.ReasonCheckmate
	case chessoracle.EndStalemate:
		return models.ReasonStalemate
	case chessoracle.EndInsufficientMaterial:
		return models.ReasonInsufficientMaterial
	case chessoracle.EndThreefold:
		return models.ReasonThreefold
	case chessoracle.EndFiftyMove:
		return models.ReasonFiftyMove
	default:
		return models.ReasonAgreedDraw
	}
}

// Resign ends the game in favor of the other player.
func (s *Session) Resign(playerID int64) error {
	resultCh := make(chan error, 1)
	if !s.submit(func() {
		if s.finished {
			resultCh <- ErrNotActive
			return
		}
		side := s.sideOf(playerID)
		if side == "" {
			resultCh <- ErrNotActive
			return
		}
		winner := s.playerOf(side.Other()).ID
		s.finalizeLocked(models.ReasonResignation, &winner)
		resultCh <- nil
	}) {
		return ErrNotActive
	}
	select {
	case err := <-resultCh:
		return err
	case <-s.done:
		return ErrNotActive
	}
}

// flagFallLocked is invoked only from the actor goroutine, as the target
// of the Clock's flag-fall sink — the Clock never reaches into Session
// state directly.
func (s *Session) flagFallLocked(losingSide chessoracle.Side) {
	if s.finished {
		return
	}
	winner := s.playerOf(losingSide.Other()).ID
	s.finalizeLocked(models.ReasonTimeout, &winner)
}

// ReconnectSnapshot is a read-only view of the session for a reconnecting
// player. It never mutates state.
type ReconnectSnapshot struct {
	FEN         string
	SideToMove  chessoracle.Side
	History     []string
	Clock       clock.Snapshot
	YourColor   chessoracle.Side
}

// ReconnectSnapshot returns the authoritative state for playerID, or
// ErrNotActive if the game has already finished or playerID is not a
// participant — the specification's chosen refuse-with-snapshot behavior
// rather than replaying the termination event.
func (s *Session) ReconnectSnapshot(playerID int64) (ReconnectSnapshot, error) {
	resultCh := make(chan ReconnectSnapshot, 1)
	errCh := make(chan error, 1)
	if !s.submit(func() {
		if s.finished {
			errCh <- ErrNotActive
			return
		}
		side := s.sideOf(playerID)
		if side == "" {
			errCh <- ErrNotActive
			return
		}
		resultCh <- ReconnectSnapshot{
			FEN:        s.pos.FEN(),
			SideToMove: s.pos.Turn(),
			History:    s.pos.History(),
			Clock:      s.clk.Snapshot(),
			YourColor:  side,
		}
	}) {
		return ReconnectSnapshot{}, ErrNotActive
	}
	select {
	case r := <-resultCh:
		return r, nil
	case err := <-errCh:
		return ReconnectSnapshot{}, err
	case <-s.done:
		return ReconnectSnapshot{}, ErrNotActive
	}
}

// SyncEvent returns the authoritative state for playerID as a
// game_state_sync Event, the same envelope a live broadcast uses, so the
// Router never has to hand-assemble the reconnect payload itself.
func (s *Session) SyncEvent(playerID int64) (Event, error) {
	snap, err := s.ReconnectSnapshot(playerID)
	if err != nil {
		return Event{}, err
	}
	return newGameStateSync(
		s.GameID,
		snap.FEN,
		string(snap.SideToMove),
		snap.History,
		snap.YourColor == chessoracle.White,
		map[string]interface{}{
			"whiteTime": int64(snap.Clock.WhiteRemaining.Seconds()),
			"blackTime": int64(snap.Clock.BlackRemaining.Seconds()),
		},
		"inprogress",
	), nil
}

// BroadcastTimerUpdate is invoked periodically (every ~5s) by the Lifecycle
// Manager's BroadcastTimers loop, not by the Clock itself, so that a live
// snapshot always reflects the instant it was requested rather than a stale
// tick. It is not called on a switch; the move_made event carries the clock
// snapshot taken right after each switch.
func (s *Session) BroadcastTimerUpdate() {
	s.submit(func() {
		if s.finished {
			return
		}
		snap := s.clk.Snapshot()
		current := "white"
		if snap.RunningSide == chessoracle.Black {
			current = "black"
		}
		s.broadcast(s.GameID, newTimerUpdate(
			s.GameID,
			snap.WhiteRemaining.Milliseconds()/1000,
			snap.BlackRemaining.Milliseconds()/1000,
			current,
			snap.ServerInstant.UnixMilli(),
		))
	})
}

// Chat relays a trimmed, length-capped chat message to the group.
func (s *Session) Chat(playerID int64, message string) {
	message = strings.TrimSpace(message)
	if len(message) > 200 {
		message = message[:200]
	}
	s.submit(func() {
		if s.finished {
			return
		}
		s.broadcast(s.GameID, newChat(s.GameID, s.usernameOf(playerID), message, time.Now().UnixMilli()))
	})
}

// finalizeLocked performs single-shot termination: durable write, rating
// application, game_over broadcast, then eviction. It runs only on the
// actor goroutine and is guarded by s.finished, so it is safe even if
// called twice in the same tick (e.g. resign racing a flag-fall that was
// already queued).
func (s *Session) finalizeLocked(reason models.EndReason, winnerID *int64) {
	if s.finished {
		return
	}
	s.finished = true
	s.clk.Stop()

	fg := models.FinishedGame{
		GameID:        s.GameID,
		WhitePlayerID: s.White.ID,
		BlackPlayerID: s.Black.ID,
		WinnerID:      winnerID,
		EndReason:     reason,
		TotalMoves:    len(s.moves),
		FinishedAt:    time.Now(),
		TimeControl:   s.TimeControl,
	}

	ctx := context.Background()
	if err := s.store.FinalizeGame(ctx, fg); err != nil {
		s.log.WithError(err).Warn("finalize game persistence failed, retrying once")
		if err := s.store.FinalizeGame(ctx, fg); err != nil {
			s.log.WithError(err).Error("finalize game persistence failed on retry")
		}
	}
	s.cache.EvictPosition(ctx, s.GameID)

	var eloChanges map[string]interface{}
	if reason.IsDecisive() && winnerID != nil {
		eloChanges = s.applyRatingLocked(ctx, *winnerID)
	}

	result := resultFromReason(reason)
	var winnerUsername *string
	if winnerID != nil {
		u := s.usernameOf(*winnerID)
		winnerUsername = &u
	}

	extra := map[string]interface{}{}
	switch reason {
	case models.ReasonResignation:
		loser := s.White.ID
		if winnerID != nil && *winnerID == s.White.ID {
			loser = s.Black.ID
		}
		extra["resignedPlayer"] = s.usernameOf(loser)
	case models.ReasonTimeout:
		loser := s.White.ID
		if winnerID != nil && *winnerID == s.White.ID {
			loser = s.Black.ID
		}
		extra["timedOutPlayer"] = s.usernameOf(loser)
	}
	if eloChanges != nil {
		extra["eloChanges"] = eloChanges
	}

	s.broadcast(s.GameID, newGameOver(
		s.GameID,
		result,
		winnerUsername,
		string(reason),
		s.pos.FEN(),
		len(s.moves),
		time.Since(s.startedAt).Seconds(),
		extra,
	))

	s.onEnd(s.GameID)
	close(s.done)
}

func resultFromReason(reason models.EndReason) string {
	switch reason {
	case models.ReasonCheckmate:
		return "checkmate"
	case models.ReasonResignation:
		return "resignation"
	case models.ReasonTimeout:
		return "timeout"
	default:
		return "draw"
	}
}

// applyRatingLocked asks the Rating Calculator for deltas and applies them
// atomically through the Persistence Gateway. Games-played/rating are
// re-read from the durable store rather than the pairing-time snapshot, so
// interleaved finalizations involving either player are never clobbered.
func (s *Session) applyRatingLocked(ctx context.Context, winnerID int64) map[string]interface{} {
	whiteUser, whiteOK, err := s.store.FindUserByID(ctx, s.White.ID)
	if err != nil || !whiteOK {
		s.log.WithError(err).Error("reload white user for rating failed")
		return nil
	}
	blackUser, blackOK, err := s.store.FindUserByID(ctx, s.Black.ID)
	if err != nil || !blackOK {
		s.log.WithError(err).Error("reload black user for rating failed")
		return nil
	}

	result := rating.AWins
	if winnerID == s.Black.ID {
		result = rating.BWins
	}
	delta := rating.Compute(rating.Input{
		RatingA: whiteUser.Rating,
		GamesA:  whiteUser.GamesPlayed,
		RatingB: blackUser.Rating,
		GamesB:  blackUser.GamesPlayed,
		Result:  result,
	})

	whiteOldRating, whiteNewRating, err := s.store.ApplyRatingDelta(ctx, s.White.ID, delta.DeltaA, winnerID == s.White.ID)
	if err != nil {
		s.log.WithError(err).Error("apply white rating delta failed")
	}
	blackOldRating, blackNewRating, err := s.store.ApplyRatingDelta(ctx, s.Black.ID, delta.DeltaB, winnerID == s.Black.ID)
	if err != nil {
		s.log.WithError(err).Error("apply black rating delta failed")
	}

	return map[string]interface{}{
		s.White.Username: map[string]interface{}{"old": whiteOldRating, "new": whiteNewRating},
		s.Black.Username: map[string]interface{}{"old": blackOldRating, "new": blackNewRating},
	}
}
