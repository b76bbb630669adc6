// Package chessoracle adapts the corentings/chess/v2 rules engine to the
// narrow surface the game session needs: apply a move, ask whose turn it
// is, check for a terminal position, and read back SAN history.
package chessoracle

import (
	"errors"
	"strings"

	chess "github.com/corentings/chess/v2"
)

// Side mirrors the two colors a player can be assigned.
type Side string

const (
	White Side = "white"
	Black Side = "black"
)

// Other returns the opposing side.
func (s Side) Other() Side {
	if s == White {
		return Black
	}
	return White
}

// ErrIllegalMove is returned by Apply when the descriptor does not name a
// legal move in the current position. Callers map this to the session's
// "illegal" error, never to a panic or a logged-and-swallowed warning.
var ErrIllegalMove = errors.New("illegal move")

// EndReason enumerates the terminal conditions the oracle itself can detect.
// Resignation and timeout are not oracle-detectable and are never produced
// by Terminal; the session assigns those reasons directly.
type EndReason string

const (
	EndNone                EndReason = ""
	EndCheckmate           EndReason = "checkmate"
	EndStalemate           EndReason = "stalemate"
	EndInsufficientMaterial EndReason = "insufficient-material"
	EndThreefold           EndReason = "threefold"
	EndFiftyMove           EndReason = "fifty-move"
	EndDraw                EndReason = "draw"
)

// TerminalResult describes the oracle's verdict on the current position.
type TerminalResult struct {
	Over   bool
	Winner Side // zero value means no winner (draw or not over)
	Reason EndReason
}

// MoveDescriptor names a move either as SAN or as a coordinate triple. If
// SAN is non-empty it takes precedence; From/To/Promotion are otherwise
// combined into a UCI string ("e2e4", "e7e8q").
type MoveDescriptor struct {
	SAN       string
	From      string
	To        string
	Promotion string
}

func (d MoveDescriptor) uci() string {
	p := strings.ToLower(d.Promotion)
	return strings.ToLower(d.From) + strings.ToLower(d.To) + p
}

// Applied carries everything the session needs to build a move-broadcast.
type Applied struct {
	SAN       string
	From      string
	To        string
	Piece     string
	Captured  string
	Promotion string
	FEN       string
	Turn      Side
	Terminal  TerminalResult
}

// Position wraps a single, linear chess.Game. The session owns exactly one
// Position for its lifetime and serializes all access to it, so mutation in
// place (rather than returning a new value per call) is safe and matches
// how the underlying library itself is used elsewhere in the retrieval
// pack's chess bot.
type Position struct {
	game *chess.Game
}

// NewPosition returns the standard starting position.
func NewPosition() *Position {
	return &Position{game: chess.NewGame()}
}

// Turn reports the side to move.
func (p *Position) Turn() Side {
	return sideFromColor(p.game.Position().Turn())
}

// FEN serializes the current position.
func (p *Position) FEN() string {
	return p.game.FEN()
}

// History returns the SAN of every move played so far, in order.
func (p *Position) History() []string {
	moves := p.game.Moves()
	out := make([]string, 0, len(moves))
	pos := chess.NewGame().Position()
	for _, mv := range moves {
		out = append(out, chess.AlgebraicNotation{}.Encode(pos, mv))
		pos = pos.Update(mv)
	}
	return out
}

// Terminal reports whether the position is over and why.
func (p *Position) Terminal() TerminalResult {
	outcome := p.game.Outcome()
	if outcome == chess.NoOutcome {
		return TerminalResult{}
	}
	method := p.game.Method()
	reason := reasonFromMethod(method)
	switch outcome {
	case chess.WhiteWon:
		return TerminalResult{Over: true, Winner: White, Reason: reason}
	case chess.BlackWon:
		return TerminalResult{Over: true, Winner: Black, Reason: reason}
	default: // chess.Draw
		if reason == EndNone || reason == EndCheckmate {
			reason = EndDraw
		}
		return TerminalResult{Over: true, Reason: reason}
	}
}

// Apply attempts to play desc against the current position. On success the
// position is mutated in place and Applied describes what happened; on
// failure the position is untouched and ErrIllegalMove is returned.
func (p *Position) Apply(desc MoveDescriptor) (Applied, error) {
	pos := p.game.Position()

	if desc.SAN != "" {
		if err := p.game.PushNotationMove(desc.SAN, chess.AlgebraicNotation{}, nil); err != nil {
			return Applied{}, ErrIllegalMove
		}
		mv := lastMove(p.game)
		if mv == nil {
			return Applied{}, ErrIllegalMove
		}
		return p.describe(pos, mv), nil
	}

	uci := desc.uci()
	mv, err := chess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return Applied{}, ErrIllegalMove
	}
	if err := p.game.Move(mv, nil); err != nil {
		return Applied{}, ErrIllegalMove
	}
	return p.describe(pos, mv), nil
}

func (p *Position) describe(prevPos *chess.Position, mv *chess.Move) Applied {
	san := chess.AlgebraicNotation{}.Encode(prevPos, mv)
	promo := ""
	if mv.Promo() != chess.NoPieceType {
		promo = mv.Promo().String()
	}
	captured := ""
	if prevPos.Board().Piece(mv.S2()) != chess.NoPiece {
		captured = prevPos.Board().Piece(mv.S2()).String()
	}
	piece := ""
	if pc := prevPos.Board().Piece(mv.S1()); pc != chess.NoPiece {
		piece = pc.String()
	}
	return Applied{
		SAN:       san,
		From:      mv.S1().String(),
		To:        mv.S2().String(),
		Piece:     piece,
		Captured:  captured,
		Promotion: promo,
		FEN:       p.game.FEN(),
		Turn:      sideFromColor(p.game.Position().Turn()),
		Terminal:  p.Terminal(),
	}
}

func lastMove(g *chess.Game) *chess.Move {
	moves := g.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func sideFromColor(c chess.Color) Side {
	if c == chess.White {
		return White
	}
	return Black
}

func reasonFromMethod(m chess.Method) EndReason {
	switch m {
	case chess.Checkmate:
		return EndCheckmate
	case chess.Stalemate:
		return EndStalemate
	case chess.InsufficientMaterial:
		return EndInsufficientMaterial
	case chess.ThreefoldRepetition:
		return EndThreefold
	case chess.FiftyMoveRule:
		return EndFiftyMove
	default:
		return EndNone
	}
}
