// Package persistence is the Persistence Gateway: it mediates every
// durable write (relational store, via pgx) and every ephemeral write
// (key-value cache, via redis), following the transaction idiom the
// reference server uses throughout its own internal/database package.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/chessd/internal/models"
)

// Store is the durable relational half of the Persistence Gateway.
type Store struct {
	pool *pgxpool.Pool
}

// ConnectStore opens a pgx pool against databaseURL. Connection failure at
// startup is fatal to the process, per the error-handling design: each
// entry point (cmd/server/main.go, cmd/historian/main.go) calls it once at
// startup and exits on error.
func ConnectStore(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// InsertUser creates a new user row with the default starting rating.
func (s *Store) InsertUser(ctx context.Context, username, passwordHash string) (models.User, error) {
	u := models.User{Username: username, PasswordHash: passwordHash, Rating: 1200}
	q := `
		INSERT INTO users (username, password_hash, rating)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, q, username, passwordHash, u.Rating).Scan(&u.ID, &u.CreatedAt)
	})
	if err != nil {
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// FindUserByName loads a user by username, or a nil-ID zero value when not found.
func (s *Store) FindUserByName(ctx context.Context, username string) (models.User, bool, error) {
	var u models.User
	q := `SELECT id, username, password_hash, rating, games_played, games_won, created_at, last_login
	      FROM users WHERE username = $1`
	err := s.pool.QueryRow(ctx, q, username).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.Rating, &u.GamesPlayed, &u.GamesWon, &u.CreatedAt, &u.LastLogin)
	if err == pgx.ErrNoRows {
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, fmt.Errorf("find user by name: %w", err)
	}
	return u, true, nil
}

// FindUserByID loads a user by id.
func (s *Store) FindUserByID(ctx context.Context, id int64) (models.User, bool, error) {
	var u models.User
	q := `SELECT id, username, password_hash, rating, games_played, games_won, created_at, last_login
	      FROM users WHERE id = $1`
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.Rating, &u.GamesPlayed, &u.GamesWon, &u.CreatedAt, &u.LastLogin)
	if err == pgx.ErrNoRows {
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, fmt.Errorf("find user by id: %w", err)
	}
	return u, true, nil
}

// TouchLastLogin updates last_login to now.
func (s *Store) TouchLastLogin(ctx context.Context, userID int64) error {
	q := `UPDATE users SET last_login = NOW() WHERE id = $1`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, userID)
		return err
	})
}

// InsertWaitingGame inserts a `status = waiting` row for a newly created game.
func (s *Store) InsertWaitingGame(ctx context.Context, wg models.WaitingGame) error {
	q := `
		INSERT INTO games (id, player_white_id, status, created_at, time_control_minutes)
		VALUES ($1, $2, 'waiting', $3, $4)
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, wg.GameID, wg.CreatorID, wg.CreatedAt, int(wg.TimeControl.Minutes()))
		return err
	})
}

// DeleteWaiting removes a waiting-game row, e.g. on cancellation.
func (s *Store) DeleteWaiting(ctx context.Context, gameID string) error {
	q := `DELETE FROM games WHERE id = $1 AND status = 'waiting'`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, gameID)
		return err
	})
}

// PromoteToInProgress sets the black player and flips status to in-progress.
func (s *Store) PromoteToInProgress(ctx context.Context, gameID string, blackPlayerID int64) error {
	q := `UPDATE games SET player_black_id = $1, status = 'inprogress' WHERE id = $2 AND status = 'waiting'`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, blackPlayerID, gameID)
		return err
	})
}

// AppendMove inserts one durable, append-only half-move record. Failure
// here is logged by the caller and never rolls back the in-memory move —
// the session, not this table, is authoritative during play.
func (s *Store) AppendMove(ctx context.Context, mv models.MoveRecord) error {
	q := `
		INSERT INTO game_moves (game_id, move_number, move_notation, player_id, timestamp)
		VALUES ($1, $2, $3, $4, $5)
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, mv.GameID, mv.HalfMoveNum, mv.SAN, mv.MoverID, mv.RecordedAt)
		return err
	})
}

// FinalizeGame writes the terminal row state: status, winner, reason,
// finish time, and total move count.
func (s *Store) FinalizeGame(ctx context.Context, fg models.FinishedGame) error {
	q := `
		UPDATE games
		SET status = 'finished', winner_id = $1, end_reason = $2, finished_at = $3, total_moves = $4
		WHERE id = $5
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, fg.WinnerID, string(fg.EndReason), fg.FinishedAt, fg.TotalMoves, fg.GameID)
		return err
	})
}

// ApplyRatingDelta atomically re-reads the user's current rating inside the
// write (so concurrent finalizations touching the same user never clobber
// each other), applies delta with the floor, and increments games-played
// and, when won is true, games-won.
func (s *Store) ApplyRatingDelta(ctx context.Context, userID int64, delta int, won bool) (oldRating, newRating int, err error) {
	q := `
		UPDATE users
		SET rating = GREATEST($1, rating + $2),
		    games_played = games_played + 1,
		    games_won = games_won + $3
		WHERE id = $4
		RETURNING rating
	`
	winFlag := 0
	if won {
		winFlag = 1
	}
	err = pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if e := tx.QueryRow(ctx, `SELECT rating FROM users WHERE id = $1`, userID).Scan(&oldRating); e != nil {
			return e
		}
		return tx.QueryRow(ctx, q, 100, delta, winFlag, userID).Scan(&newRating)
	})
	if err != nil {
		return 0, 0, fmt.Errorf("apply rating delta: %w", err)
	}
	return oldRating, newRating, nil
}

// LeaderboardEntry is a read projection for the observability surface.
type LeaderboardEntry struct {
	UserID   int64
	Username string
	Rating   int
}

// Leaderboard returns the top users by rating.
func (s *Store) Leaderboard(ctx context.Context, limit, offset int) ([]LeaderboardEntry, error) {
	q := `SELECT id, username, rating FROM users ORDER BY rating DESC LIMIT $1 OFFSET $2`
	rows, err := s.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("leaderboard query: %w", err)
	}
	defer rows.Close()
	var out []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Username, &e.Rating); err != nil {
			return nil, fmt.Errorf("leaderboard scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentGame is a read projection of a finished game for the observability surface.
type RecentGame struct {
	GameID      string
	WhiteID     int64
	BlackID     int64
	WinnerID    *int64
	EndReason   string
	FinishedAt  time.Time
	TotalMoves  int
}

// RecentGames returns finished games most-recent-first.
func (s *Store) RecentGames(ctx context.Context, limit, offset int) ([]RecentGame, error) {
	q := `
		SELECT id, player_white_id, player_black_id, winner_id, end_reason, finished_at, total_moves
		FROM games
		WHERE status = 'finished'
		ORDER BY finished_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("recent games query: %w", err)
	}
	defer rows.Close()
	var out []RecentGame
	for rows.Next() {
		var g RecentGame
		if err := rows.Scan(&g.GameID, &g.WhiteID, &g.BlackID, &g.WinnerID, &g.EndReason, &g.FinishedAt, &g.TotalMoves); err != nil {
			return nil, fmt.Errorf("recent games scan: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
