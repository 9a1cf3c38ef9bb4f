package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "libris:auth:rl:"

// windowScript increments the counter, opens the window on the first hit and
// returns {count, pttl}.
var windowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiter shares counters across replicas.
type RedisLimiter struct {
	client   *redis.Client
	policies Policies
	prefix   string
}

func NewRedisLimiter(client *redis.Client, policies Policies, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisLimiter{client: client, policies: policies, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, scope, client string, _ time.Time) (Decision, error) {
	policy := l.policies.For(scope)
	windowMS := policy.Window.Milliseconds()
	if windowMS <= 0 {
		return Decision{}, fmt.Errorf("rate limit window for %q must be positive", scope)
	}

	vals, err := windowScript.Run(ctx, l.client, []string{l.prefix + counterKey(scope, client)}, windowMS).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(vals) != 2 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %v", vals)
	}
	return decide(policy, int(vals[0]), time.Duration(vals[1])*time.Millisecond), nil
}
