// Package models holds the durable and ephemeral data shapes shared across
// the persistence gateway, the session engine, and the matchmaker. None of
// these types carry behavior; they are plain records, matching the
// reference server's own internal/models package.
package models

import (
	"time"

	"github.com/jason-s-yu/chessd/internal/chessoracle"
)

// GameStatus is the durable lifecycle state of a game row.
type GameStatus string

const (
	StatusWaiting    GameStatus = "waiting"
	StatusInProgress GameStatus = "inprogress"
	StatusFinished   GameStatus = "finished"
)

// EndReason enumerates every terminal reason a FinishedGame can record.
type EndReason string

const (
	ReasonCheckmate            EndReason = "checkmate"
	ReasonStalemate            EndReason = "stalemate"
	ReasonInsufficientMaterial EndReason = "insufficient-material"
	ReasonThreefold            EndReason = "threefold"
	ReasonFiftyMove            EndReason = "fifty-move"
	ReasonResignation          EndReason = "resignation"
	ReasonTimeout              EndReason = "timeout"
	ReasonAgreedDraw           EndReason = "agreed-draw"
)

// IsDecisive reports whether reason implies a winner (as opposed to a
// draw), which in turn determines whether rating deltas apply.
func (r EndReason) IsDecisive() bool {
	switch r {
	case ReasonResignation, ReasonTimeout, ReasonCheckmate:
		return true
	default:
		return false
	}
}

// WaitingGame is a created-but-unpaired game. It lives in the matchmaker's
// in-memory set and as a `status = waiting` row in the durable store; it is
// destroyed on pairing, creator cancellation, or creator disconnect.
type WaitingGame struct {
	GameID          string
	CreatorID       int64
	CreatorUsername string
	CreatorRating   int
	TimeControl     time.Duration
	CreatedAt       time.Time
}

// FinishedGame is the durable record of a completed game.
type FinishedGame struct {
	GameID        string
	WhitePlayerID int64
	BlackPlayerID int64
	WinnerID      *int64
	EndReason     EndReason
	TotalMoves    int
	FinishedAt    time.Time
	TimeControl   time.Duration
}

// MoveRecord is one durable, append-only half-move.
type MoveRecord struct {
	GameID       string
	HalfMoveNum  int
	SAN          string
	MoverID      int64
	RecordedAt   time.Time
}

// CachedPosition is the ephemeral, best-effort mirror of a game's latest
// position. The session's in-memory state is the sole authority; this is
// never read back during move validation, only for observability and
// cross-process reconnect if ever sharded.
type CachedPosition struct {
	GameID string
	FEN    string
	Turn   chessoracle.Side
}

// GameActionRecord is the envelope pushed onto the ephemeral queue for the
// historian to drain into the durable store asynchronously.
type GameActionRecord struct {
	GameID        string                 `json:"gameId"`
	ActionIndex   int                    `json:"actionIndex"`
	ActorUserID   int64                  `json:"actorUserId"`
	ActionType    string                 `json:"actionType"`
	ActionPayload map[string]interface{} `json:"actionPayload"`
	Timestamp     int64                  `json:"timestamp"`
}
