// cmd/historian/main.go is an asynchronous historian service: it drains the
// GameActionRecord queue the Session pushes move actions onto and persists
// them into the durable game_moves table in batches, absorbing durable-store
// latency off the Session's own critical section. Adapted from the
// reference server's own cmd/db/historian.go (same batch+flush+BLPop shape),
// repointed at this repository's game_moves/games schema.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jason-s-yu/chessd/internal/logging"
	"github.com/jason-s-yu/chessd/internal/models"
	"github.com/jason-s-yu/chessd/internal/persistence"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

const (
	batchSize  = 20
	flushDelay = 500 * time.Millisecond
	blpopWait  = 3 * time.Second
)

func main() {
	logger := logging.New(getEnv("LOG_LEVEL", "info"))

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}
	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := persistence.ConnectStore(ctx, databaseURL)
	if err != nil {
		logger.WithError(err).Fatal("connect postgres")
	}
	defer store.Close()
	cache := persistence.ConnectCache(redisAddr, 0)

	hs := &historianService{store: store, cache: cache, logger: logger, batch: make([]models.GameActionRecord, 0, batchSize)}
	go hs.readLoop(ctx)

	logger.Info("chessd-historian started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	cancel()
	hs.flush(context.Background())
	logger.Info("chessd-historian shutdown complete")
}

type historianService struct {
	store  *persistence.Store
	cache  *persistence.Cache
	logger *logrus.Logger

	batchMu sync.Mutex
	batch   []models.GameActionRecord
}

func (hs *historianService) readLoop(ctx context.Context) {
	ticker := time.NewTicker(flushDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hs.flush(ctx)
		default:
			rec, ok, err := hs.cache.BLPopAction(ctx, blpopWait)
			if err != nil {
				hs.logger.WithError(err).Warn("blpop action")
				continue
			}
			if !ok {
				continue
			}
			hs.append(rec)
		}
	}
}

func (hs *historianService) append(rec models.GameActionRecord) {
	hs.batchMu.Lock()
	defer hs.batchMu.Unlock()
	hs.batch = append(hs.batch, rec)
	if len(hs.batch) >= batchSize {
		hs.flushLocked(context.Background())
	}
}

func (hs *historianService) flush(ctx context.Context) {
	hs.batchMu.Lock()
	defer hs.batchMu.Unlock()
	hs.flushLocked(ctx)
}

func (hs *historianService) flushLocked(ctx context.Context) {
	if len(hs.batch) == 0 {
		return
	}
	batchCopy := hs.batch
	hs.batch = hs.batch[:0]

	for _, rec := range batchCopy {
		if rec.ActionType != "move" {
			continue
		}
		san, _ := rec.ActionPayload["san"].(string)
		halfMove, _ := rec.ActionPayload["halfMoveNum"].(float64)
		mv := models.MoveRecord{
			GameID:      rec.GameID,
			HalfMoveNum: int(halfMove),
			SAN:         san,
			MoverID:     rec.ActorUserID,
			RecordedAt:  time.UnixMilli(rec.Timestamp),
		}
		if err := hs.store.AppendMove(ctx, mv); err != nil {
			hs.logger.WithError(err).Warn("historian append move failed")
		}
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
