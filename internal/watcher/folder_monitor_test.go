package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingProcessor 记录被处理的文件
type recordingProcessor struct {
	mu         sync.Mutex
	processed  []string
	recognized map[string]bool
	delay      time.Duration
}

func (p *recordingProcessor) ProcessFile(filePath string) bool {
	time.Sleep(p.delay)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed = append(p.processed, filePath)
	return true
}

func (p *recordingProcessor) IsRecognizedFile(filePath string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recognized[filePath]
}

func (p *recordingProcessor) files() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.processed...)
}

func TestTranscribeHandlerProcessesInOrder(t *testing.T) {
	proc := &recordingProcessor{delay: 10 * time.Millisecond}
	h := NewTranscribeHandler(proc, 8)

	h.OnFileCreated("/media/a.mp4")
	h.OnFileCreated("/media/b.mp4")
	h.OnFileCreated("/media/c.mp4")
	h.Close()

	assert.Equal(t, []string{"/media/a.mp4", "/media/b.mp4", "/media/c.mp4"}, proc.files())
}

func TestTranscribeHandlerSkipsDuplicatesAndRecognized(t *testing.T) {
	proc := &recordingProcessor{
		delay:      20 * time.Millisecond,
		recognized: map[string]bool{"/media/done.mp4": true},
	}
	h := NewTranscribeHandler(proc, 8)

	h.OnFileCreated("/media/a.mp4")
	h.OnFileCreated("/media/b.mp4")
	h.OnFileCreated("/media/b.mp4") // 仍在队列中
	h.OnFileCreated("/media/done.mp4")
	h.Close()

	assert.Equal(t, []string{"/media/a.mp4", "/media/b.mp4"}, proc.files())

	// 关闭后不再接收
	h.OnFileCreated("/media/late.mp4")
	h.Close()
	assert.Len(t, proc.files(), 2)
}

func TestFolderMonitorTargetFiles(t *testing.T) {
	dir := t.TempDir()
	m, err := NewFolderMonitor(dir, []string{".mp4", ".mp3"}, nil, time.Millisecond)
	require.NoError(t, err)
	defer m.Stop()

	media := filepath.Join(dir, "clase.MP4")
	require.NoError(t, os.WriteFile(media, []byte("x"), 0644))
	text := filepath.Join(dir, "clase_transcript.txt")
	require.NoError(t, os.WriteFile(text, []byte("x"), 0644))
	hidden := filepath.Join(dir, ".tmp.mp3")
	require.NoError(t, os.WriteFile(hidden, []byte("x"), 0644))

	assert.True(t, m.isTargetFile(media))
	assert.False(t, m.isTargetFile(text))
	assert.False(t, m.isTargetFile(hidden))
	assert.False(t, m.isTargetFile(dir))
	assert.False(t, m.isTargetFile(filepath.Join(dir, "missing.mp4")))
}

func TestMediaFolderMonitoringTranscribesNewFile(t *testing.T) {
	dir := t.TempDir()
	proc := &recordingProcessor{}

	stop, err := StartMediaFolderMonitoring(dir, proc, []string{".mp4"}, 50*time.Millisecond)
	require.NoError(t, err)

	path := filepath.Join(dir, "nueva.mp4")
	require.NoError(t, os.WriteFile(path, []byte("media"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notas.txt"), []byte("x"), 0644))

	assert.Eventually(t, func() bool {
		return len(proc.files()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	stop()
	assert.Equal(t, []string{path}, proc.files())
}

func TestFolderMonitorStopIsIdempotent(t *testing.T) {
	m, err := NewFolderMonitor(t.TempDir(), []string{".mp4"}, nil, time.Second)
	require.NoError(t, err)
	require.NoError(t, m.Start())

	m.Stop()
	m.Stop()
}
