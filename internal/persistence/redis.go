package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jason-s-yu/chessd/internal/chessoracle"
	"github.com/jason-s-yu/chessd/internal/models"
	"github.com/redis/go-redis/v9"
)

// Cache is the ephemeral key-value half of the Persistence Gateway. Every
// read must tolerate absence: the session's in-memory state is the sole
// authority during play, and this exists only to accelerate observability
// and cross-process reconnect, per design note 9.
type Cache struct {
	client    *redis.Client
	actionKey string
}

// ConnectCache opens a redis client against addr/db. A failed ping here is
// not fatal to the process — the cache is best-effort, so the caller may
// choose to log and continue rather than exit.
func ConnectCache(addr string, db int) *Cache {
	return &Cache{
		client:    redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		actionKey: "chessd_game_actions",
	}
}

// Ping verifies connectivity without treating failure as fatal.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func positionKey(gameID string) string { return fmt.Sprintf("game:%s:fen", gameID) }
func turnKey(gameID string) string     { return fmt.Sprintf("game:%s:turn", gameID) }

// PutPosition mirrors the session's latest FEN and side-to-move. Errors are
// logged by the caller, never surfaced to the player — cache writes can
// never roll back the session's authoritative move.
func (c *Cache) PutPosition(ctx context.Context, gameID, fen string, turn chessoracle.Side) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, positionKey(gameID), fen, 24*time.Hour)
	pipe.Set(ctx, turnKey(gameID), string(turn), 24*time.Hour)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("put position: %w", err)
	}
	return nil
}

// GetPosition is a best-effort read. ok is false on cache miss or error;
// callers must never treat a miss as an authoritative statement about game
// state.
func (c *Cache) GetPosition(ctx context.Context, gameID string) (fen string, turn chessoracle.Side, ok bool) {
	fen, err := c.client.Get(ctx, positionKey(gameID)).Result()
	if err != nil {
		return "", "", false
	}
	t, err := c.client.Get(ctx, turnKey(gameID)).Result()
	if err != nil {
		return "", "", false
	}
	return fen, chessoracle.Side(t), true
}

// EvictPosition removes the cached mirror once a game is finalized.
func (c *Cache) EvictPosition(ctx context.Context, gameID string) {
	c.client.Del(ctx, positionKey(gameID), turnKey(gameID))
}

// PushAction enqueues a GameActionRecord for the historian to drain into
// the durable store. This is the only persistence call the session's
// critical section makes that is never allowed to block on anything beyond
// a single RPush.
func (c *Cache) PushAction(ctx context.Context, rec models.GameActionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal action record: %w", err)
	}
	if err := c.client.RPush(ctx, c.actionKey, payload).Err(); err != nil {
		return fmt.Errorf("push action record: %w", err)
	}
	return nil
}

// QueueName exposes the queue name so the historian entry point can drain
// the same key this Cache pushes to, without importing this package's
// unexported field directly.
func (c *Cache) QueueName() string {
	return c.actionKey
}

// BLPopAction blocks up to timeout for one queued GameActionRecord. ok is
// false on timeout (redis.Nil); any other error is returned.
func (c *Cache) BLPopAction(ctx context.Context, timeout time.Duration) (models.GameActionRecord, bool, error) {
	res, err := c.client.BLPop(ctx, timeout, c.actionKey).Result()
	if err == redis.Nil {
		return models.GameActionRecord{}, false, nil
	}
	if err != nil {
		return models.GameActionRecord{}, false, fmt.Errorf("blpop action: %w", err)
	}
	if len(res) < 2 {
		return models.GameActionRecord{}, false, nil
	}
	var rec models.GameActionRecord
	if err := json.Unmarshal([]byte(res[1]), &rec); err != nil {
		return models.GameActionRecord{}, false, fmt.Errorf("unmarshal action record: %w", err)
	}
	return rec, true, nil
}
