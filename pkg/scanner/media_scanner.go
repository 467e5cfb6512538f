// Package scanner 查找文件夹中待转写的媒体文件
package scanner

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/utils"
)

// MediaFile 表示一个媒体文件
type MediaFile struct {
	Path    string    // 文件路径
	Name    string    // 文件名
	Ext     string    // 文件扩展名
	Size    int64     // 文件大小（字节）
	ModTime time.Time // 修改时间
	IsVideo bool      // 是否为视频文件
	IsAudio bool      // 是否为音频文件
}

// MediaScanner 用于扫描媒体文件
type MediaScanner struct {
	AudioExtensions []string
	VideoExtensions []string
}

// NewMediaScanner 创建新的媒体扫描器
func NewMediaScanner() *MediaScanner {
	return &MediaScanner{
		AudioExtensions: []string{".mp3", ".wav", ".m4a", ".flac", ".ogg", ".aac", ".opus"},
		VideoExtensions: []string{".mp4", ".mov", ".avi", ".mkv", ".wmv", ".webm", ".flv"},
	}
}

// Extensions 返回所有支持的扩展名
func (s *MediaScanner) Extensions() []string {
	exts := make([]string, 0, len(s.AudioExtensions)+len(s.VideoExtensions))
	exts = append(exts, s.AudioExtensions...)
	return append(exts, s.VideoExtensions...)
}

// Classify 按扩展名判断文件类型
func (s *MediaScanner) Classify(path string) (isAudio, isVideo bool) {
	ext := strings.ToLower(filepath.Ext(path))
	return contains(s.AudioExtensions, ext), contains(s.VideoExtensions, ext)
}

// IsMediaFile 是否为支持的媒体文件（不检查文件是否存在）
func (s *MediaScanner) IsMediaFile(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	isAudio, isVideo := s.Classify(path)
	return isAudio || isVideo
}

// ScanDirectory 扫描指定目录中的媒体文件（非递归），结果按文件名排序
func (s *MediaScanner) ScanDirectory(dir string) ([]MediaFile, error) {
	utils.Info("开始扫描目录: %s", dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var mediaFiles []MediaFile
	for _, entry := range entries {
		// 跳过目录和隐藏文件
		if entry.IsDir() || !s.IsMediaFile(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			utils.Warn("获取文件信息失败: %v", err)
			continue
		}

		path := filepath.Join(dir, entry.Name())
		isAudio, isVideo := s.Classify(path)
		mediaFiles = append(mediaFiles, MediaFile{
			Path:    path,
			Name:    entry.Name(),
			Ext:     strings.ToLower(filepath.Ext(path)),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsVideo: isVideo,
			IsAudio: isAudio,
		})
	}

	sort.Slice(mediaFiles, func(i, j int) bool {
		return mediaFiles[i].Name < mediaFiles[j].Name
	})

	utils.Info("扫描完成，共找到 %d 个媒体文件", len(mediaFiles))
	return mediaFiles, nil
}

// FilterNewFiles 过滤掉已处理的文件
func (s *MediaScanner) FilterNewFiles(files []MediaFile, processed func(path string) bool) []MediaFile {
	var newFiles []MediaFile
	for _, file := range files {
		if processed == nil || !processed(file.Path) {
			newFiles = append(newFiles, file)
		}
	}

	utils.Info("过滤后剩余 %d 个新文件需要处理", len(newFiles))
	return newFiles
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
