package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// redisKeyPrefix namespaces this Scheduler's heartbeat keys from anything
// else sharing the Redis instance.
const redisKeyPrefix = "opaquemesh:scheduler:executor:"

// RedisRegistry is the shared ExecutorRegistry backing named in
// SPEC_FULL.md's domain-stack table: multiple Scheduler replicas pointed
// at the same Redis instance see one another's heartbeats, so pull_task
// traffic can be load-balanced across replicas without losing liveness
// tracking. Each executor is one Redis hash key with a TTL refreshed on
// every heartbeat; expiry is a second line of defense behind the explicit
// Silent() scan the liveness sweep already performs.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRegistry wraps an existing *redis.Client. ttl bounds how long a
// heartbeat key survives without a refresh; it should exceed the
// Scheduler's configured liveness window so Silent (not key expiry) is
// normally what notices a crash.
func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisRegistry{client: client, ttl: ttl}
}

func (r *RedisRegistry) key(executorID string) string {
	return redisKeyPrefix + executorID
}

func (r *RedisRegistry) Heartbeat(ctx context.Context, executorID, assignedTask string) error {
	key := r.key(executorID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"last_heartbeat_unix": time.Now().Unix(),
		"assigned_task":       assignedTask,
	})
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("scheduler: redis heartbeat %s: %w", executorID, err)
	}
	return nil
}

func (r *RedisRegistry) Release(ctx context.Context, executorID string) error {
	return r.Heartbeat(ctx, executorID, "")
}

func (r *RedisRegistry) Forget(ctx context.Context, executorID string) error {
	if err := r.client.Del(ctx, r.key(executorID)).Err(); err != nil {
		return fmt.Errorf("scheduler: redis forget %s: %w", executorID, err)
	}
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, executorID string) (ExecutorSnapshot, bool, error) {
	fields, err := r.client.HGetAll(ctx, r.key(executorID)).Result()
	if err != nil {
		return ExecutorSnapshot{}, false, fmt.Errorf("scheduler: redis get %s: %w", executorID, err)
	}
	if len(fields) == 0 {
		return ExecutorSnapshot{}, false, nil
	}
	unix, _ := strconv.ParseInt(fields["last_heartbeat_unix"], 10, 64)
	return ExecutorSnapshot{
		ExecutorID:    executorID,
		LastHeartbeat: time.Unix(unix, 0),
		AssignedTask:  fields["assigned_task"],
	}, true, nil
}

func (r *RedisRegistry) Count(ctx context.Context) (int, error) {
	keys, err := r.client.Keys(ctx, redisKeyPrefix+"*").Result()
	if err != nil {
		return 0, fmt.Errorf("scheduler: redis scan executors: %w", err)
	}
	return len(keys), nil
}

func (r *RedisRegistry) Silent(ctx context.Context, since time.Duration) ([]ExecutorSnapshot, error) {
	keys, err := r.client.Keys(ctx, redisKeyPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("scheduler: redis scan executors: %w", err)
	}
	now := time.Now()
	var out []ExecutorSnapshot
	for _, key := range keys {
		fields, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("scheduler: redis read %s: %w", key, err)
		}
		assigned := fields["assigned_task"]
		if assigned == "" {
			continue
		}
		unix, err := strconv.ParseInt(fields["last_heartbeat_unix"], 10, 64)
		if err != nil {
			continue
		}
		last := time.Unix(unix, 0)
		if now.Sub(last) < since {
			continue
		}
		out = append(out, ExecutorSnapshot{
			ExecutorID:    strings.TrimPrefix(key, redisKeyPrefix),
			LastHeartbeat: last,
			AssignedTask:  assigned,
		})
	}
	return out, nil
}
