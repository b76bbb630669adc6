// Package httpapi implements the read-only HTTP Observability Surface:
// thin handlers that read through the Persistence Gateway's durable store,
// never touching a Session actor directly. Grounded in the reference
// server's own handlers package shape (one http.HandlerFunc per concern,
// wired onto a mux in main.go).
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jason-s-yu/chessd/internal/lifecycle"
	"github.com/jason-s-yu/chessd/internal/persistence"
)

// buildVersion is overridable at link time via -ldflags; it defaults to
// "dev" for local builds.
var buildVersion = "dev"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Health reports liveness with no dependency checks.
func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// Info reports build version and the current active-game count.
func Info(lc *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"version":      buildVersion,
			"activeGames":  lc.ActiveCount(),
			"serverTimeMs": time.Now().UnixMilli(),
		})
	}
}

func parsePaging(r *http.Request) (limit, offset int) {
	limit, offset = 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return
}

// Leaderboard returns the top users by rating.
func Leaderboard(store *persistence.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := parsePaging(r)
		entries, err := store.Leaderboard(r.Context(), limit, offset)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "leaderboard unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// RecentGames returns recently finished games.
func RecentGames(store *persistence.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := parsePaging(r)
		games, err := store.RecentGames(r.Context(), limit, offset)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "games unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, games)
	}
}

// UserStats returns one user's rating and win/loss counts. Path shape:
// /users/{id}/stats.
func UserStats(store *persistence.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/users/")
		idStr := strings.TrimSuffix(rest, "/stats")
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
			return
		}
		u, ok, err := store.FindUserByID(r.Context(), id)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
			return
		}
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"userId":      u.ID,
			"username":    u.Username,
			"rating":      u.Rating,
			"gamesPlayed": u.GamesPlayed,
			"gamesWon":    u.GamesWon,
		})
	}
}
