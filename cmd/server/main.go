// cmd/server/main.go wires the authoritative real-time chess server:
// config, structured logging, the Persistence Gateway, the Authentication
// service, the Matchmaker, the Game Lifecycle Manager, and the Client
// Registry & Router, then serves the WebSocket endpoint and the read-only
// HTTP observability surface on one mux. Generalized from the reference
// server's own four-handler-group main.go down to this server's three
// concerns (auth/matchmaking over one socket, and observability).
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jason-s-yu/chessd/internal/auth"
	"github.com/jason-s-yu/chessd/internal/config"
	"github.com/jason-s-yu/chessd/internal/httpapi"
	"github.com/jason-s-yu/chessd/internal/lifecycle"
	"github.com/jason-s-yu/chessd/internal/logging"
	"github.com/jason-s-yu/chessd/internal/matchmaker"
	"github.com/jason-s-yu/chessd/internal/middleware"
	"github.com/jason-s-yu/chessd/internal/persistence"
	"github.com/jason-s-yu/chessd/internal/router"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel)

	if err := auth.Init(cfg.TokenExpire); err != nil {
		logger.WithError(err).Fatal("init auth keys")
	}

	ctx := context.Background()
	store, err := persistence.ConnectStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("connect postgres")
	}
	defer store.Close()

	cache := persistence.ConnectCache(cfg.RedisAddr, cfg.RedisDB)
	if err := cache.Ping(ctx); err != nil {
		logger.WithError(err).Warn("redis ping failed, ephemeral cache degraded")
	}
	gw := persistence.NewGateway(store, cache)

	authSvc := auth.NewService(store)
	lc := lifecycle.New(gw, logger)

	r := router.New(authSvc, lc, logger, cfg.LivenessThreshold, cfg.DefaultTimeControl)
	mm := matchmaker.New(store, r)
	r.SetMatchmaker(mm)

	stop := make(chan struct{})
	go r.Sweep(cfg.SweepInterval, stop)
	go lc.BroadcastTimers(cfg.TimerBroadcastEvery, stop)
	defer close(stop)

	mux := http.NewServeMux()
	mux.Handle("/ws", middleware.LogMiddleware(logger)(http.HandlerFunc(r.Handle)))
	mux.Handle("/health", middleware.LogMiddleware(logger)(httpapi.Health()))
	mux.Handle("/info", middleware.LogMiddleware(logger)(httpapi.Info(lc)))
	mux.Handle("/leaderboard", middleware.LogMiddleware(logger)(httpapi.Leaderboard(store)))
	mux.Handle("/games", middleware.LogMiddleware(logger)(httpapi.RecentGames(store)))
	mux.Handle("/users/", middleware.LogMiddleware(logger)(httpapi.UserStats(store)))

	addr := ":" + cfg.Port
	logger.WithField("addr", addr).Info("chessd listening")
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("server exited")
	}
}
