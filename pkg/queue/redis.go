package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	queueKey  = "deploy:queue"
	jobKeyFmt = "deploy:job:%s"
	jobTTL    = 24 * time.Hour
)

// RedisQueue backs the run queue with a redis list so queued deployments
// survive a deployd restart.
type RedisQueue struct {
	redis *redis.Client
}

func NewRedisQueue(redisURL string) (*RedisQueue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisQueue{redis: client}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	// Keep a TTL'd copy of the job for inspection alongside the queue entry.
	jobKey := fmt.Sprintf(jobKeyFmt, job.RunID)
	if err := q.redis.Set(ctx, jobKey, payload, jobTTL).Err(); err != nil {
		return err
	}
	return q.redis.RPush(ctx, queueKey, payload).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.redis.BLPop(ctx, 5*time.Second, queueKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("decode queued job: %w", err)
	}
	return &job, nil
}

// Length reports how many jobs are waiting.
func (q *RedisQueue) Length(ctx context.Context) (int64, error) {
	return q.redis.LLen(ctx, queueKey).Result()
}

func (q *RedisQueue) Close() error {
	return q.redis.Close()
}
