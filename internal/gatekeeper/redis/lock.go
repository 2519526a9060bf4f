package redis

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis holds a short-lived lease per ticket around mint and check-in.
// The database's conditional updates stay the source of truth; the lease
// just keeps concurrent gates from hammering the same row.
type Redis struct {
	Client *redis.Client
	Logger *log.Logger
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		Client: client,
		Logger: log.Default(),
	}
}

// getGateLockTTL returns the lease duration from the environment or the
// default of 10 seconds.
func (r *Redis) getGateLockTTL() time.Duration {
	defaultTTL := 10 * time.Second

	ttlStr := os.Getenv("GATE_LOCK_TTL_SECONDS")
	if ttlStr == "" {
		return defaultTTL
	}

	ttlSec, err := strconv.Atoi(ttlStr)
	if err != nil {
		r.Logger.Println("REDIS: Invalid GATE_LOCK_TTL_SECONDS value '" + ttlStr + "', using default 10 seconds")
		return defaultTTL
	}

	return time.Duration(ttlSec) * time.Second
}

// LockTicket takes the per-ticket lease for ownerID. Returns false when
// another owner holds it.
func (r *Redis) LockTicket(ticketID, ownerID string) (bool, error) {
	key := "gate_lock:" + ticketID
	ok, err := r.Client.SetNX(context.Background(), key, ownerID, r.getGateLockTTL()).Result()
	return ok, err
}

// UnlockTicket releases the lease if ownerID still holds it.
func (r *Redis) UnlockTicket(ticketID, ownerID string) error {
	ctx := context.Background()
	key := fmt.Sprintf("gate_lock:%s", ticketID)
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // already released or expired
	}
	if err != nil {
		return err
	}
	if val == ownerID {
		_, err := r.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}
