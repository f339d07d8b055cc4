package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSubmitLimiter enforces the same per-client and global per-minute
// budgets as SubmitLimiter, but counts them in fixed one-minute windows
// rather than SubmitLimiter's sliding window, and shares state across every
// Ingress replica through Redis INCR/EXPIRE, grounded on
// other_examples/haturatu-x-media-downloder__main.go's direct
// *redis.Client usage for counters alongside the asynq-managed keyspace.
// Altify already runs Redis for BK (asynq); this reuses the same instance
// under a disjoint key prefix rather than standing up a second store.
type RedisSubmitLimiter struct {
	rdb          *redis.Client
	perClientMax int
	globalMax    int
	window       time.Duration
}

func NewRedisSubmitLimiter(addr, password string, db int) *RedisSubmitLimiter {
	perClient := getenvInt("ALTIFY_SUBMIT_RATE_LIMIT_PER_MIN", 1000)
	global := getenvInt("ALTIFY_SUBMIT_GLOBAL_RATE_LIMIT_PER_MIN", 5000)
	if perClient < 0 {
		perClient = 0
	}
	if global < 0 {
		global = 0
	}
	return &RedisSubmitLimiter{
		rdb:          redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		perClientMax: perClient,
		globalMax:    global,
		window:       time.Minute,
	}
}

// Allow increments the current window's client and global counters and
// reports whether both stayed within budget. On a Redis error it fails
// open (allows the submit) rather than blocking Ingress on a rate-limit
// backend outage, logging is the caller's responsibility.
func (l *RedisSubmitLimiter) Allow(client string, now time.Time) bool {
	if l.perClientMax == 0 && l.globalMax == 0 {
		return true
	}
	if client == "" {
		client = "default"
	}
	bucket := now.UTC().Unix() / int64(l.window.Seconds())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	clientKey := fmt.Sprintf("altify:ratelimit:submit:client:%s:%d", client, bucket)
	globalKey := fmt.Sprintf("altify:ratelimit:submit:global:%d", bucket)

	pipe := l.rdb.TxPipeline()
	clientIncr := pipe.Incr(ctx, clientKey)
	pipe.Expire(ctx, clientKey, l.window)
	globalIncr := pipe.Incr(ctx, globalKey)
	pipe.Expire(ctx, globalKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true
	}

	if l.perClientMax > 0 && clientIncr.Val() > int64(l.perClientMax) {
		return false
	}
	if l.globalMax > 0 && globalIncr.Val() > int64(l.globalMax) {
		return false
	}
	return true
}

func (l *RedisSubmitLimiter) Close() error {
	return l.rdb.Close()
}
