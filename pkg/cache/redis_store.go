package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/models"
	"github.com/redis/go-redis/v9"
)

// RedisStore 每条记录保存为一个 JSON 字符串
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore 连接 redis 并检查连通性
func NewRedisStore(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: 连接 redis %s 失败: %v", ErrCacheUnavailable, addr, err)
	}

	return NewRedisStoreWithClient(client, prefix), nil
}

// NewRedisStoreWithClient 使用已有的客户端
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

// Get 读取一条记录
func (s *RedisStore) Get(ctx context.Context, key string) (*models.CacheEntry, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// 内容损坏视为未命中
		return nil, false, nil
	}
	return &entry, true, nil
}

// Set 写入一条记录，不设置过期时间
func (s *RedisStore) Set(ctx context.Context, key string, entry models.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化缓存记录失败: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
