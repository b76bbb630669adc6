package rating

import "testing"

func TestComputeEqualRatingsDecisive(t *testing.T) {
	in := Input{RatingA: 1200, GamesA: 5, RatingB: 1200, GamesB: 5, Result: AWins}
	d := Compute(in)
	if d.DeltaA != 16 {
		t.Errorf("expected winner delta 16 at K=32 and expected score 0.5, got %d", d.DeltaA)
	}
	if d.DeltaB != -16 {
		t.Errorf("expected loser delta -16, got %d", d.DeltaB)
	}
}

func TestComputeDraw(t *testing.T) {
	in := Input{RatingA: 1200, GamesA: 40, RatingB: 1200, GamesB: 40, Result: Draw}
	d := Compute(in)
	if d.DeltaA != 0 || d.DeltaB != 0 {
		t.Errorf("expected no change on an even draw, got %+v", d)
	}
}

func TestComputeKFactorByGamesPlayed(t *testing.T) {
	cases := []struct {
		games    int
		expected int
	}{
		{0, 32},
		{9, 32},
		{10, 24},
		{29, 24},
		{30, 16},
		{1000, 16},
	}
	for _, c := range cases {
		if got := kFactor(c.games); got != c.expected {
			t.Errorf("kFactor(%d) = %d, want %d", c.games, got, c.expected)
		}
	}
}

func TestComputeUnderdogWinsBigger(t *testing.T) {
	favoredWins := Compute(Input{RatingA: 1600, GamesA: 40, RatingB: 1200, GamesB: 40, Result: AWins})
	underdogWins := Compute(Input{RatingA: 1200, GamesA: 40, RatingB: 1600, GamesB: 40, Result: AWins})
	if underdogWins.DeltaA <= favoredWins.DeltaA {
		t.Errorf("underdog's win should gain more than the favorite's win: underdog=%d favorite=%d",
			underdogWins.DeltaA, favoredWins.DeltaA)
	}
}

func TestApplyFloor(t *testing.T) {
	if got := ApplyFloor(50); got != 100 {
		t.Errorf("ApplyFloor(50) = %d, want 100", got)
	}
	if got := ApplyFloor(150); got != 150 {
		t.Errorf("ApplyFloor(150) = %d, want 150", got)
	}
}
