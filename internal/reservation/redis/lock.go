// Package redis provides the per-event reservation lock. The lock
// serializes the duplicate-check/admit/insert sequence for one event so
// racing duplicates surface as AlreadyReserved instead of bubbling up as
// raw constraint conflicts; the storage-level conditional update and the
// UNIQUE index remain the authoritative guards.
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

type Lock struct {
	Client *redis.Client
	Logger *log.Logger
}

func NewLock(client *redis.Client) *Lock {
	return &Lock{Client: client, Logger: log.Default()}
}

// getLockTTL returns the event lock TTL from the environment or the default.
// The TTL is a liveness bound only: locks are released explicitly, the TTL
// just guarantees a crashed holder cannot wedge an event forever.
func (l *Lock) getLockTTL() time.Duration {
	defaultTTL := 10 * time.Second

	ttlStr := os.Getenv("EVENT_LOCK_TTL_SECONDS")
	if ttlStr == "" {
		return defaultTTL
	}
	ttlSec, err := strconv.Atoi(ttlStr)
	if err != nil || ttlSec <= 0 {
		l.Logger.Println("REDIS: invalid EVENT_LOCK_TTL_SECONDS value '" + ttlStr + "', using default 10s")
		return defaultTTL
	}
	return time.Duration(ttlSec) * time.Second
}

// Acquire takes the lock for eventID with an owner token, or reports that
// somebody else holds it.
func (l *Lock) Acquire(ctx context.Context, eventID, token string) (bool, error) {
	key := "event_lock:" + eventID
	ok, err := l.Client.SetNX(ctx, key, token, l.getLockTTL()).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock for event %s: %w", eventID, err)
	}
	return ok, nil
}

// Release drops the lock only if this caller still owns it; a lock that
// expired and was re-acquired by someone else is left alone.
func (l *Lock) Release(ctx context.Context, eventID, token string) error {
	key := "event_lock:" + eventID
	val, err := l.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // already expired
	}
	if err != nil {
		return err
	}
	if val == token {
		_, err := l.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}
