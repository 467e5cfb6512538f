package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 创建测试目录和测试文件
func setupTestDirectory(t *testing.T) string {
	dir := t.TempDir()
	testFiles := []string{
		"audio2.wav",
		"audio1.MP3",
		"video1.mp4",
		"document.pdf",
		"image.jpg",
		".hidden.mp3",
		"subfolder/a.mp3",
	}

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "subfolder"), 0755))
	for _, name := range testFiles {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("test content"), 0644))
	}
	return dir
}

func TestScanDirectory(t *testing.T) {
	dir := setupTestDirectory(t)

	files, err := NewMediaScanner().ScanDirectory(dir)
	require.NoError(t, err)

	// 不包括隐藏文件和子目录文件，按文件名排序
	require.Len(t, files, 3)
	assert.Equal(t, "audio1.MP3", files[0].Name)
	assert.Equal(t, "audio2.wav", files[1].Name)
	assert.Equal(t, "video1.mp4", files[2].Name)

	assert.True(t, files[0].IsAudio)
	assert.Equal(t, ".mp3", files[0].Ext)
	assert.True(t, files[2].IsVideo)
	for _, file := range files {
		assert.NotZero(t, file.Size)
		assert.Equal(t, dir, filepath.Dir(file.Path))
	}
}

func TestScanDirectoryMissing(t *testing.T) {
	_, err := NewMediaScanner().ScanDirectory(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestIsMediaFile(t *testing.T) {
	s := NewMediaScanner()
	assert.True(t, s.IsMediaFile("/a/clase.mkv"))
	assert.True(t, s.IsMediaFile("nota.M4A"))
	assert.False(t, s.IsMediaFile("/a/.clase.mp4"))
	assert.False(t, s.IsMediaFile("/a/clase_transcript.txt"))
	assert.Len(t, s.Extensions(), len(s.AudioExtensions)+len(s.VideoExtensions))
}

func TestFilterNewFiles(t *testing.T) {
	files := []MediaFile{
		{Path: "/path/to/file1.mp3", Name: "file1.mp3", IsAudio: true},
		{Path: "/path/to/file2.mp4", Name: "file2.mp4", IsVideo: true},
		{Path: "/path/to/file3.wav", Name: "file3.wav", IsAudio: true},
	}
	processed := map[string]bool{"/path/to/file1.mp3": true}

	s := NewMediaScanner()
	newFiles := s.FilterNewFiles(files, func(path string) bool { return processed[path] })
	require.Len(t, newFiles, 2)
	assert.Equal(t, "/path/to/file2.mp4", newFiles[0].Path)
	assert.Equal(t, "/path/to/file3.wav", newFiles[1].Path)

	assert.Len(t, s.FilterNewFiles(files, nil), 3)
}
