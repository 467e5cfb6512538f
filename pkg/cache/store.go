package cache

import (
	"context"
	"errors"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/models"
)

// ErrCacheUnavailable 缓存存储无法读写
var ErrCacheUnavailable = errors.New("元数据缓存不可用")

// Store 持久化的键值存储
type Store interface {
	// Get 读取一条记录，不存在时返回 false
	Get(ctx context.Context, key string) (*models.CacheEntry, bool, error)
	// Set 写入一条记录，已存在时覆盖
	Set(ctx context.Context, key string, entry models.CacheEntry) error
	Close() error
}
