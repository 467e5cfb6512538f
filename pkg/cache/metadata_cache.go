package cache

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/utils"
)

// MetadataCache 缓存媒体时长，键为文件标识
// 未启用时不会读写底层存储
type MetadataCache struct {
	store   Store
	enabled bool

	mu      sync.Mutex
	written map[models.MediaIdentity]bool
	now     func() time.Time
}

// NewMetadataCache 创建元数据缓存，store 为 nil 时视为未启用
func NewMetadataCache(store Store, enabled bool) *MetadataCache {
	return &MetadataCache{
		store:   store,
		enabled: enabled && store != nil,
		written: make(map[models.MediaIdentity]bool),
		now:     time.Now,
	}
}

// Enabled 是否启用
func (c *MetadataCache) Enabled() bool {
	return c.enabled
}

// Key 返回路径对应的存储键
func Key(path string) string {
	return fmt.Sprintf("meta-%08x", crc32.ChecksumIEEE([]byte(path)))
}

// Lookup 查找时长，只有路径、大小和修改时间全部一致才算命中
func (c *MetadataCache) Lookup(ctx context.Context, identity models.MediaIdentity) (float64, bool, error) {
	if !c.enabled {
		return 0, false, nil
	}

	entry, ok, err := c.store.Get(ctx, Key(identity.Path))
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	if !entry.Identity().Equal(identity) || entry.Duration <= 0 {
		utils.Debug("缓存记录已过期: %s", identity.Path)
		return 0, false, nil
	}
	return entry.Duration, true, nil
}

// Store 保存时长；同一标识在本实例中只写一次
func (c *MetadataCache) Store(ctx context.Context, identity models.MediaIdentity, duration float64) error {
	if !c.enabled {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.written[identity] {
		return nil
	}

	entry := models.CacheEntry{
		Path:     identity.Path,
		Size:     identity.Size,
		ModTime:  identity.ModTime,
		Duration: duration,
		StoredAt: c.now(),
	}
	if err := c.store.Set(ctx, Key(identity.Path), entry); err != nil {
		return err
	}
	c.written[identity] = true
	return nil
}

// Close 关闭底层存储
func (c *MetadataCache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// IdentityOf 读取文件的标识
func IdentityOf(path string) (models.MediaIdentity, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return models.MediaIdentity{}, err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return models.MediaIdentity{}, err
	}
	if info.IsDir() {
		return models.MediaIdentity{}, fmt.Errorf("%s 是目录", absPath)
	}
	return models.MediaIdentity{
		Path:    absPath,
		Size:    info.Size(),
		ModTime: info.ModTime().UnixNano(),
	}, nil
}
