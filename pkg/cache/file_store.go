package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/utils"
)

// FileStore 把所有记录保存在一个 JSON 文件中
// 文件不存在视为空缓存；内容损坏时记录警告并按空缓存处理，下次写入时覆盖
type FileStore struct {
	path    string
	mu      sync.Mutex
	entries map[string]models.CacheEntry
	loaded  bool
}

// NewFileStore 创建文件存储，文件在第一次读写时加载
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path 返回缓存文件路径
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) load() error {
	if s.loaded {
		return nil
	}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.entries = make(map[string]models.CacheEntry)
	case err != nil:
		return fmt.Errorf("%w: 读取缓存文件失败: %v", ErrCacheUnavailable, err)
	default:
		entries := make(map[string]models.CacheEntry)
		if err := json.Unmarshal(data, &entries); err != nil {
			utils.Warn("缓存文件 %s 已损坏，忽略其内容: %v", s.path, err)
			entries = make(map[string]models.CacheEntry)
		}
		s.entries = entries
	}

	s.loaded = true
	return nil
}

// Get 读取一条记录
func (s *FileStore) Get(ctx context.Context, key string) (*models.CacheEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return nil, false, err
	}
	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	return &entry, true, nil
}

// Set 写入一条记录并立即落盘
func (s *FileStore) Set(ctx context.Context, key string, entry models.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return err
	}

	previous, existed := s.entries[key]
	s.entries[key] = entry
	if err := utils.SaveJSONFile(s.path, s.entries); err != nil {
		// 落盘失败时恢复内存中的状态
		if existed {
			s.entries[key] = previous
		} else {
			delete(s.entries, key)
		}
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Len 返回记录数
func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return 0
	}
	return len(s.entries)
}

// Close 文件存储没有需要释放的资源
func (s *FileStore) Close() error {
	return nil
}
