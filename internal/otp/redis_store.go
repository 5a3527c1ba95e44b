package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "serveq:otp:"

// RedisStore 把验证码记录存进 Redis。
//
// key 的 TTL 取有效期的两倍：有效期刚过的那段时间里记录还在，
// 校验能如实报告"已过期"；保管期过后才彻底消失。
type RedisStore struct {
	rdb       *redis.Client
	retention time.Duration
}

func NewRedisStore(rdb *redis.Client, validity time.Duration) *RedisStore {
	if validity <= 0 {
		validity = 5 * time.Minute
	}
	return &RedisStore{
		rdb:       rdb,
		retention: 2 * validity,
	}
}

func (s *RedisStore) Put(ctx context.Context, email string, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal otp record: %w", err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+email, payload, s.retention).Err(); err != nil {
		return fmt.Errorf("store otp record: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, email string) (Record, bool, error) {
	raw, err := s.rdb.Get(ctx, keyPrefix+email).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load otp record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		// 损坏的记录当作不存在，不让解析错误打穿调用方
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, email string) error {
	if err := s.rdb.Del(ctx, keyPrefix+email).Err(); err != nil {
		return fmt.Errorf("delete otp record: %w", err)
	}
	return nil
}
