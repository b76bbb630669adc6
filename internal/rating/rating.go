// Package rating computes Elo-style rating deltas for a finished 1v1 game.
// The package is deliberately free of any I/O or persistence concern: it is
// a pure function of its inputs, matching how the reference server keeps
// its own rating math in a package separate from the database calls that
// apply the result.
package rating

import "math"

// Result is the outcome of a game from player A's perspective.
type Result int

const (
	AWins Result = iota
	BWins
	Draw
)

// Input describes the two players going into the rating calculation.
type Input struct {
	RatingA int
	GamesA  int
	RatingB int
	GamesB  int
	Result  Result
}

// Delta holds the integer rating change for each player. Deltas are not
// floored here — the floor of 100 is applied where a rating is persisted,
// not where it is calculated, so the same Input always yields the same
// Delta regardless of either player's current rating.
type Delta struct {
	DeltaA int
	DeltaB int
}

// Compute returns the rating deltas for in.
func Compute(in Input) Delta {
	kA := kFactor(in.GamesA)
	kB := kFactor(in.GamesB)

	expectedA := expectedScore(in.RatingA, in.RatingB)
	expectedB := 1 - expectedA

	scoreA, scoreB := scores(in.Result)

	return Delta{
		DeltaA: roundToInt(float64(kA) * (scoreA - expectedA)),
		DeltaB: roundToInt(float64(kB) * (scoreB - expectedB)),
	}
}

// kFactor returns the K-factor for a player with the given games-played
// count: 32 while provisional (<10 games), 24 while still establishing
// (<30 games), 16 thereafter.
func kFactor(gamesPlayed int) int {
	switch {
	case gamesPlayed < 10:
		return 32
	case gamesPlayed < 30:
		return 24
	default:
		return 16
	}
}

// expectedScore is the standard logistic expected score for the player
// rated ratingSelf against an opponent rated ratingOpp.
func expectedScore(ratingSelf, ratingOpp int) float64 {
	return 1 / (1 + math.Pow(10, float64(ratingOpp-ratingSelf)/400))
}

func scores(r Result) (scoreA, scoreB float64) {
	switch r {
	case AWins:
		return 1, 0
	case BWins:
		return 0, 1
	default:
		return 0.5, 0.5
	}
}

func roundToInt(f float64) int {
	if f >= 0 {
		return int(f + 0.5)
	}
	return -int(-f + 0.5)
}

// Floor is the minimum rating a user may ever be persisted with.
const Floor = 100

// ApplyFloor clamps a newly computed rating to the persisted floor.
func ApplyFloor(rating int) int {
	if rating < Floor {
		return Floor
	}
	return rating
}
