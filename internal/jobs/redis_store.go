package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix = "job:"
	jobIndexKey  = "jobs:index"
)

// RedisStore はジョブ状態を Redis に保存します。
// API プロセスとワーカープロセスを分ける構成で使います。
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore は RedisStore を作成します。ttl は保持期間と同じにします。
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		ttl: ttl,
	}
}

// Create はジョブ情報を新規作成します。
func (s *RedisStore) Create(ctx context.Context, record *Record) error {
	if record == nil || record.JobID == "" {
		return fmt.Errorf("record with jobID is required")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	ok, err := s.rdb.SetNX(ctx, jobKey(record.JobID), payload, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobExists, record.JobID)
	}
	return s.rdb.ZAdd(ctx, jobIndexKey, redis.Z{
		Score:  float64(record.CreatedAt.Unix()),
		Member: record.JobID,
	}).Err()
}

// Get はジョブ情報を取得します。
func (s *RedisStore) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrJobNotFound)
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Mutate は WATCH/MULTI で読み込み→更新→書き込みを行います。
// 競合時に fn を再適用せず ErrConcurrentUpdate を返します。
func (s *RedisStore) Mutate(ctx context.Context, jobID string, fn func(*Record)) (*Record, error) {
	key := jobKey(jobID)
	var updated Record

	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
			}
			return err
		}
		if err := json.Unmarshal(data, &updated); err != nil {
			return err
		}
		fn(&updated)
		payload, err := json.Marshal(&updated)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, fmt.Errorf("%w: %s", ErrConcurrentUpdate, jobID)
	}
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ListCreatedBefore は索引から cutoff より前に作成されたジョブIDを返します。
func (s *RedisStore) ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.rdb.ZRangeByScore(ctx, jobIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
}

// Delete はジョブ情報と索引を削除します。
func (s *RedisStore) Delete(ctx context.Context, jobID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, jobKey(jobID))
		pipe.ZRem(ctx, jobIndexKey, jobID)
		return nil
	})
	return err
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
