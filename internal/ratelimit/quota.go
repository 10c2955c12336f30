package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDailyMatchLimit is the number of matches a free user gets per UTC
// day. Premium users bypass the quota entirely.
const DefaultDailyMatchLimit = 20

// quotaTTL keeps daily counters around a little past their day so a client
// straddling midnight still sees a consistent count.
const quotaTTL = 26 * time.Hour

// MatchQuota tracks per-user daily match counts in Redis. Counters are keyed
// by UTC date, so the quota resets at midnight UTC without any sweeper.
type MatchQuota struct {
	client *redis.Client
	limit  int
	now    func() time.Time
}

// NewMatchQuota creates a MatchQuota. limit <= 0 selects
// DefaultDailyMatchLimit.
func NewMatchQuota(client *redis.Client, limit int) *MatchQuota {
	if limit <= 0 {
		limit = DefaultDailyMatchLimit
	}
	return &MatchQuota{client: client, limit: limit, now: time.Now}
}

// Limit returns the configured daily limit.
func (q *MatchQuota) Limit() int {
	return q.limit
}

// Used returns how many matches the user has started today. On Redis errors
// it returns 0 (fail open).
func (q *MatchQuota) Used(ctx context.Context, userID string) int {
	count, err := q.client.Get(ctx, q.key(userID)).Int()
	if err == redis.Nil {
		return 0
	}
	if err != nil {
		log.Printf("[ratelimit] redis GET quota for %s: %v (failing open)", userID, err)
		return 0
	}
	return count
}

// Exceeded reports whether the user is at or over the daily limit, along
// with the current count. Premium users are never over quota.
func (q *MatchQuota) Exceeded(ctx context.Context, userID string, premium bool) (bool, int) {
	if premium {
		return false, 0
	}
	used := q.Used(ctx, userID)
	return used >= q.limit, used
}

// RecordMatch increments the user's counter for today. Called once per user
// when a match is actually made, not when they enter the queue.
func (q *MatchQuota) RecordMatch(ctx context.Context, userID string) {
	key := q.key(userID)
	count, err := q.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] redis INCR quota key=%s: %v", key, err)
		return
	}
	if count == 1 {
		if err := q.client.Expire(ctx, key, quotaTTL).Err(); err != nil {
			log.Printf("[ratelimit] redis EXPIRE quota key=%s: %v", key, err)
		}
	}
}

func (q *MatchQuota) key(userID string) string {
	return fmt.Sprintf("quota:matches:%s:%s", userID, q.now().UTC().Format("2006-01-02"))
}
