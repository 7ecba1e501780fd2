package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const jobAttemptTTL = 24 * time.Hour

// JobAttemptRepository 记录异步任务的失败次数，进程重启后重试预算依然有效。
type JobAttemptRepository interface {
	Incr(ctx context.Context, jobID string) (int64, error)
	Reset(ctx context.Context, jobID string) error
}

type jobAttemptRepository struct {
	redisClient *redis.Client
}

func NewJobAttemptRepository(redisClient *redis.Client) JobAttemptRepository {
	return &jobAttemptRepository{redisClient: redisClient}
}

func jobAttemptKey(jobID string) string {
	return fmt.Sprintf("kafka:attempts:%s", jobID)
}

// Incr 将失败次数加一并刷新过期时间。
func (r *jobAttemptRepository) Incr(ctx context.Context, jobID string) (int64, error) {
	key := jobAttemptKey(jobID)
	pipe := r.redisClient.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, jobAttemptTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (r *jobAttemptRepository) Reset(ctx context.Context, jobID string) error {
	return r.redisClient.Del(ctx, jobAttemptKey(jobID)).Err()
}
