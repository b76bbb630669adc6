package session

// EventType names a server-originated message, matching the wire protocol
// named in the external-interfaces section. Payloads are carried as a
// plain map, the same shape the reference server's own GameEvent.Payload
// field uses for anything that doesn't warrant a dedicated struct field.
type EventType string

const (
	EventMoveMade     EventType = "move_made"
	EventInvalidMove  EventType = "invalid_move"
	EventTimerUpdate  EventType = "timer_update"
	EventChat         EventType = "chat"
	EventGameOver     EventType = "game_over"
	EventGameSync     EventType = "game_state_sync"
	EventMatchFound   EventType = "match_found"
	EventWaiting      EventType = "waiting_for_opponent"
	EventError        EventType = "error"
)

// Event is the single envelope every Session-originated message is carried
// in. Router flattens Payload alongside "type" when it marshals to the
// wire.
type Event struct {
	Type    EventType
	Payload map[string]interface{}
}

// Flatten merges ev's Payload alongside its "type" into the plain map the
// wire encoding expects. The Router's SendToPlayer and its direct replies
// both use it, so every Event, not only the ones a live Session
// broadcasts, goes out through one envelope.
func Flatten(ev Event) map[string]interface{} {
	out := map[string]interface{}{"type": string(ev.Type)}
	for k, v := range ev.Payload {
		out[k] = v
	}
	return out
}

func newMoveMade(gameID string, applied moveApplied) Event {
	return Event{Type: EventMoveMade, Payload: map[string]interface{}{
		"gameId":                 gameID,
		"san":                    applied.san,
		"from":                   applied.from,
		"to":                     applied.to,
		"fen":                    applied.fen,
		"turn":                   string(applied.turn),
		"player":                 applied.moverID,
		"playerTimeRemaining":    applied.moverRemaining.Seconds(),
		"opponentTimeRemaining":  applied.opponentRemaining.Seconds(),
		"serverTimestamp":        applied.serverInstant.UnixMilli(),
	}}
}

func newInvalidMove(reason string) Event {
	return Event{Type: EventInvalidMove, Payload: map[string]interface{}{"reason": reason}}
}

func newTimerUpdate(gameID string, white, black int64, currentPlayer string, instantMillis int64) Event {
	return Event{Type: EventTimerUpdate, Payload: map[string]interface{}{
		"gameId":          gameID,
		"player1Time":     white,
		"player2Time":     black,
		"currentPlayer":   currentPlayer,
		"serverTimestamp": instantMillis,
	}}
}

func newChat(gameID, username, message string, timestampMillis int64) Event {
	return Event{Type: EventChat, Payload: map[string]interface{}{
		"gameId":    gameID,
		"username":  username,
		"message":   message,
		"timestamp": timestampMillis,
	}}
}

func newGameOver(gameID, result string, winner *string, reason string, finalFEN string, totalMoves int, gameDurationSeconds float64, extra map[string]interface{}) Event {
	payload := map[string]interface{}{
		"gameId":       gameID,
		"result":       result,
		"winner":       winner,
		"reason":       reason,
		"finalFen":     finalFEN,
		"totalMoves":   totalMoves,
		"gameDuration": gameDurationSeconds,
	}
	for k, v := range extra {
		payload[k] = v
	}
	return Event{Type: EventGameOver, Payload: payload}
}

func newGameStateSync(gameID, fen, turn string, moves []string, isPlayerWhite bool, timerData map[string]interface{}, status string) Event {
	return Event{Type: EventGameSync, Payload: map[string]interface{}{
		"gameId":        gameID,
		"fen":           fen,
		"turn":          turn,
		"moves":         moves,
		"isPlayerWhite": isPlayerWhite,
		"timerData":     timerData,
		"gameStatus":    status,
	}}
}

// NewError builds the generic error envelope for failures the Router needs
// to report before, or independent of, any Session — an unauthenticated
// request, a malformed frame, an unknown event type.
func NewError(message string) Event {
	return Event{Type: EventError, Payload: map[string]interface{}{"message": message}}
}

// NewMatchFound builds the match_found event the Router sends to both
// sides once the Matchmaker pairs them, before their Session exists.
func NewMatchFound(gameID, yourColor string, opponentUsername string, opponentElo int, timeControlMinutes int) Event {
	return Event{Type: EventMatchFound, Payload: map[string]interface{}{
		"gameId":      gameID,
		"yourColor":   yourColor,
		"opponent":    map[string]interface{}{"username": opponentUsername, "elo": opponentElo},
		"timeControl": timeControlMinutes,
	}}
}

// NewWaiting builds the waiting_for_opponent event sent to a game's creator.
func NewWaiting(gameID string, timeControlMinutes int, position string) Event {
	return Event{Type: EventWaiting, Payload: map[string]interface{}{
		"gameId":      gameID,
		"timeControl": timeControlMinutes,
		"position":    position,
	}}
}
