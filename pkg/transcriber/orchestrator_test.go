package transcriber

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/asr"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/audio"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/cache"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	mu       sync.Mutex
	duration float64
	err      error
	calls    int
}

func (p *fakeProber) Duration(ctx context.Context, path string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.duration, p.err
}

// fakeExtractor 写一个假的 wav 文件，failOn 中的片段导出失败
type fakeExtractor struct {
	failOn   map[int]bool
	maxDelay time.Duration
}

func (e *fakeExtractor) Extract(ctx context.Context, source string, spec models.ChunkSpec, outPath string) error {
	randomSleep(e.maxDelay)
	if e.failOn[spec.Index] {
		return &audio.ExtractionError{Index: spec.Index, Output: outPath, Err: errors.New("ffmpeg exited with status 1")}
	}
	return os.WriteFile(outPath, make([]byte, 128), 0644)
}

// fakeClient 根据片段文件名返回文本，kinds 中的片段返回对应错误
type fakeClient struct {
	mu       sync.Mutex
	kinds    map[int]asr.ErrorKind
	maxDelay time.Duration
	calls    map[int]int
}

func (c *fakeClient) Name() string { return "fake" }

func (c *fakeClient) Transcribe(ctx context.Context, req asr.Request) (string, error) {
	var index int
	if _, err := fmt.Sscanf(filepath.Base(req.AudioPath), "chunk_%03d.wav", &index); err != nil {
		return "", err
	}
	if _, err := os.Stat(req.AudioPath); err != nil {
		return "", &asr.TranscriptionError{Kind: asr.Fatal, Model: req.Model, Err: err}
	}

	c.mu.Lock()
	if c.calls == nil {
		c.calls = make(map[int]int)
	}
	c.calls[index]++
	kind, failing := c.kinds[index]
	c.mu.Unlock()

	randomSleep(c.maxDelay)
	if failing {
		return "", &asr.TranscriptionError{Kind: kind, Model: req.Model, Err: errors.New(kind.String())}
	}
	return fmt.Sprintf("texto %d", index), nil
}

func (c *fakeClient) callsFor(index int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[index]
}

type mockProgress struct {
	mock.Mock
}

func (m *mockProgress) CreateProgressBar(id string, total int, prefix string, suffix string) {
	m.Called(id, total, prefix, suffix)
}

func (m *mockProgress) UpdateProgressBar(id string, current int, suffix string) {
	m.Called(id, current, suffix)
}

func (m *mockProgress) CompleteProgressBar(id string, suffix string) {
	m.Called(id, suffix)
}

func randomSleep(max time.Duration) {
	if max > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(max))))
	}
}

func testConfig(t *testing.T) *models.Config {
	cfg := models.NewDefaultConfig()
	cfg.TempDir = t.TempDir()
	cfg.ChunkSeconds = 10
	cfg.MaxWorkers = 3
	cfg.BackoffBase = 0.001
	cfg.MaxBackoff = 0.005
	cfg.RequestTimeout = 5
	return cfg
}

func writeMedia(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "clase.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not really media"), 0644))
	return path
}

func newTestTranscriber(t *testing.T, cfg *models.Config, deps Deps) *Transcriber {
	if deps.NewRunID == nil {
		deps.NewRunID = func() string { return "run-1" }
	}
	tr, err := New(cfg, deps)
	require.NoError(t, err)
	return tr
}

func TestRunMergesInIndexOrder(t *testing.T) {
	cfg := testConfig(t)
	client := &fakeClient{maxDelay: 15 * time.Millisecond}
	tr := newTestTranscriber(t, cfg, Deps{
		Client:    client,
		Prober:    &fakeProber{duration: 95},
		Extractor: &fakeExtractor{maxDelay: 5 * time.Millisecond},
	})

	result, err := tr.Run(context.Background(), writeMedia(t))
	require.NoError(t, err)

	assert.Equal(t, models.StatusComplete, result.Status)
	require.Len(t, result.Tasks, 10)
	expected := make([]string, 10)
	for i := range expected {
		expected[i] = fmt.Sprintf("texto %d", i)
		assert.Equal(t, i, result.Tasks[i].Chunk.Index)
	}
	assert.Equal(t, strings.Join(expected, "\n\n"), result.MergedText)
	assert.Empty(t, result.FailedChunks)
	assert.Equal(t, 10, result.Performance.SucceededChunks)
	assert.Equal(t, 10, result.Performance.TotalChunks)
	assert.Equal(t, 95.0, result.Duration)
	assert.Equal(t, "run-1", result.RunID)
}

func TestRunPartialFailureKeepsGap(t *testing.T) {
	cfg := testConfig(t)
	client := &fakeClient{kinds: map[int]asr.ErrorKind{2: asr.Fatal}}
	tr := newTestTranscriber(t, cfg, Deps{
		Client:    client,
		Prober:    &fakeProber{duration: 50},
		Extractor: &fakeExtractor{},
	})

	result, err := tr.Run(context.Background(), writeMedia(t))
	require.NoError(t, err)

	assert.Equal(t, models.StatusPartialFailure, result.Status)
	assert.Equal(t, []int{2}, result.FailedIndices())
	assert.Equal(t, "fatal", result.FailedChunks[0].Kind)
	assert.Equal(t, 20.0, result.FailedChunks[0].Start)
	assert.Equal(t, 30.0, result.FailedChunks[0].End)

	// Fatal 不重试也不回退
	assert.Equal(t, 1, client.callsFor(2))
	assert.Equal(t, 1, result.Tasks[2].TotalAttempts)

	expected := strings.Join([]string{
		"texto 0",
		"texto 1",
		"[CHUNK 3/5 FAILED 00:00:20-00:00:30]",
		"texto 3",
		"texto 4",
	}, "\n\n")
	assert.Equal(t, expected, result.MergedText)
	assert.Equal(t, 4, result.Performance.SucceededChunks)
}

func TestRunTransientExhaustsThenFallsBack(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxAttempts = 2
	client := &fakeClient{kinds: map[int]asr.ErrorKind{0: asr.Transient}}
	tr := newTestTranscriber(t, cfg, Deps{
		Client:    client,
		Prober:    &fakeProber{duration: 5},
		Extractor: &fakeExtractor{},
	})

	result, err := tr.Run(context.Background(), writeMedia(t))
	require.NoError(t, err)

	task := result.Tasks[0]
	assert.Equal(t, models.TaskFailedFinal, task.Status)
	assert.True(t, task.FallbackUsed)
	assert.Equal(t, cfg.FallbackModel, task.ModelUsed)
	assert.Equal(t, 4, task.TotalAttempts)
	assert.Equal(t, 4, client.callsFor(0))
	assert.Equal(t, 3, result.Performance.RetryAttempts)
	assert.Equal(t, 1, result.Performance.FallbackCount)
}

func TestRunExtractionFailureIsIsolated(t *testing.T) {
	cfg := testConfig(t)
	client := &fakeClient{}
	tr := newTestTranscriber(t, cfg, Deps{
		Client:    client,
		Prober:    &fakeProber{duration: 30},
		Extractor: &fakeExtractor{failOn: map[int]bool{1: true}},
	})

	result, err := tr.Run(context.Background(), writeMedia(t))
	require.NoError(t, err)

	assert.Equal(t, []int{1}, result.FailedIndices())
	assert.Equal(t, KindExtraction, result.FailedChunks[0].Kind)
	assert.True(t, errors.Is(result.Tasks[1].Err, audio.ErrExtraction))
	assert.Zero(t, client.callsFor(1))
	assert.Equal(t, models.TaskSucceeded, result.Tasks[0].Status)
	assert.Equal(t, models.TaskSucceeded, result.Tasks[2].Status)
	assert.Equal(t, 1, tr.Errors().Total("导出片段 2/3"))
}

func TestRunInvalidMediaAborts(t *testing.T) {
	cfg := testConfig(t)
	client := &fakeClient{}

	t.Run("missing file", func(t *testing.T) {
		tr := newTestTranscriber(t, cfg, Deps{Client: client, Prober: &fakeProber{duration: 10}, Extractor: &fakeExtractor{}})
		_, err := tr.Run(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"))
		assert.True(t, errors.Is(err, audio.ErrInvalidMedia))
	})

	t.Run("probe failure", func(t *testing.T) {
		tr := newTestTranscriber(t, cfg, Deps{
			Client:    client,
			Prober:    &fakeProber{err: errors.New("moov atom not found")},
			Extractor: &fakeExtractor{},
		})
		_, err := tr.Run(context.Background(), writeMedia(t))
		assert.True(t, errors.Is(err, audio.ErrInvalidMedia))
	})

	t.Run("zero duration", func(t *testing.T) {
		tr := newTestTranscriber(t, cfg, Deps{Client: client, Prober: &fakeProber{duration: 0}, Extractor: &fakeExtractor{}})
		_, err := tr.Run(context.Background(), writeMedia(t))
		assert.True(t, errors.Is(err, audio.ErrInvalidMedia))
	})

	assert.Zero(t, client.callsFor(0))
}

func TestRunUsesMetadataCache(t *testing.T) {
	cfg := testConfig(t)
	prober := &fakeProber{duration: 12}
	store := cache.NewFileStore(filepath.Join(t.TempDir(), "cache.json"))
	deps := Deps{
		Client:    &fakeClient{},
		Prober:    prober,
		Extractor: &fakeExtractor{},
		Cache:     cache.NewMetadataCache(store, true),
	}
	media := writeMedia(t)

	first, err := newTestTranscriber(t, cfg, deps).Run(context.Background(), media)
	require.NoError(t, err)
	assert.Zero(t, first.Performance.CacheHits)
	assert.Equal(t, 1, prober.calls)

	// 新实例读取同一缓存文件
	deps.Cache = cache.NewMetadataCache(cache.NewFileStore(store.Path()), true)
	second, err := newTestTranscriber(t, cfg, deps).Run(context.Background(), media)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Performance.CacheHits)
	assert.Equal(t, 1, prober.calls)
	assert.Equal(t, 12.0, second.Duration)
	assert.Len(t, second.Tasks, 2)
}

func TestRunCacheUnavailableAborts(t *testing.T) {
	cfg := testConfig(t)
	// 缓存路径是目录，读取失败
	store := cache.NewFileStore(t.TempDir())
	tr := newTestTranscriber(t, cfg, Deps{
		Client:    &fakeClient{},
		Prober:    &fakeProber{duration: 12},
		Extractor: &fakeExtractor{},
		Cache:     cache.NewMetadataCache(store, true),
	})

	_, err := tr.Run(context.Background(), writeMedia(t))
	assert.True(t, errors.Is(err, cache.ErrCacheUnavailable))
}

func TestRunAdaptiveChunking(t *testing.T) {
	cfg := testConfig(t)
	cfg.AdaptiveChunking = true
	cfg.ChunkSeconds = 10
	cfg.MaxChunks = 4
	cfg.MinChunkSeconds = 5
	tr := newTestTranscriber(t, cfg, Deps{
		Client:    &fakeClient{},
		Prober:    &fakeProber{duration: 100},
		Extractor: &fakeExtractor{},
	})

	result, err := tr.Run(context.Background(), writeMedia(t))
	require.NoError(t, err)
	assert.Len(t, result.Tasks, 4)
	assert.Equal(t, 25.0, result.Tasks[0].Chunk.Length())
}

func TestRunCleansUpWorkDir(t *testing.T) {
	cfg := testConfig(t)
	tr := newTestTranscriber(t, cfg, Deps{
		Client:    &fakeClient{},
		Prober:    &fakeProber{duration: 25},
		Extractor: &fakeExtractor{},
	})

	_, err := tr.Run(context.Background(), writeMedia(t))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.TempDir, "run-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunKeepChunks(t *testing.T) {
	cfg := testConfig(t)
	cfg.KeepChunks = true
	tr := newTestTranscriber(t, cfg, Deps{
		Client:    &fakeClient{},
		Prober:    &fakeProber{duration: 25},
		Extractor: &fakeExtractor{},
	})

	_, err := tr.Run(context.Background(), writeMedia(t))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.FileExists(t, filepath.Join(cfg.TempDir, "run-1", audio.ChunkFileName(i)))
	}
}

func TestRunCancelledContext(t *testing.T) {
	cfg := testConfig(t)
	client := &fakeClient{}
	tr := newTestTranscriber(t, cfg, Deps{
		Client:    client,
		Prober:    &fakeProber{duration: 40},
		Extractor: &fakeExtractor{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := tr.Run(ctx, writeMedia(t))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartialFailure, result.Status)
	assert.Len(t, result.FailedChunks, 4)
	for _, fc := range result.FailedChunks {
		assert.Equal(t, "fatal", fc.Kind)
	}
	assert.Zero(t, client.callsFor(0))
}

func TestRunReportsProgress(t *testing.T) {
	cfg := testConfig(t)
	progress := &mockProgress{}
	progress.On("CreateProgressBar", "transcribe_run-1", 3, mock.Anything, "0/3 片段").Return().Once()
	progress.On("UpdateProgressBar", "transcribe_run-1", mock.AnythingOfType("int"), mock.Anything).Return().Times(3)
	progress.On("CompleteProgressBar", "transcribe_run-1", "3/3 片段成功").Return().Once()

	tr := newTestTranscriber(t, cfg, Deps{
		Client:    &fakeClient{maxDelay: 5 * time.Millisecond},
		Prober:    &fakeProber{duration: 30},
		Extractor: &fakeExtractor{},
		Progress:  progress,
	})

	_, err := tr.Run(context.Background(), writeMedia(t))
	require.NoError(t, err)
	progress.AssertExpectations(t)

	// 进度值单调递增到 3
	var seen []int
	for _, call := range progress.Calls {
		if call.Method == "UpdateProgressBar" {
			seen = append(seen, call.Arguments.Int(1))
		}
	}
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(nil, Deps{})
	assert.Error(t, err)

	cfg := testConfig(t)
	_, err = New(cfg, Deps{Client: &fakeClient{}})
	assert.Error(t, err)

	cfg.MaxWorkers = 0
	_, err = New(cfg, Deps{Client: &fakeClient{}, Prober: &fakeProber{}, Extractor: &fakeExtractor{}})
	var validationErr *models.ConfigValidationError
	assert.True(t, errors.As(err, &validationErr))
}

func TestNewCopiesConfig(t *testing.T) {
	cfg := testConfig(t)
	tr, err := New(cfg, Deps{Client: &fakeClient{}, Prober: &fakeProber{duration: 10}, Extractor: &fakeExtractor{}})
	require.NoError(t, err)

	cfg.PrimaryModel = "changed"
	assert.Equal(t, "gpt-4o-mini-transcribe", tr.cfg.PrimaryModel)
}

// stubResolver 记录每次运行请求的服务
type stubResolver struct {
	mu       sync.Mutex
	client   asr.Client
	err      error
	services []string
}

func (r *stubResolver) Resolve(ctx context.Context, serviceName string) (asr.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = append(r.services, serviceName)
	return r.client, r.err
}

func TestRunResolvesClientPerFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.ASRService = "auto"
	resolver := &stubResolver{client: &fakeClient{}}
	tr := newTestTranscriber(t, cfg, Deps{
		Resolver:  resolver,
		Prober:    &fakeProber{duration: 25},
		Extractor: &fakeExtractor{},
	})

	for i := 0; i < 2; i++ {
		result, err := tr.Run(context.Background(), writeMedia(t))
		require.NoError(t, err)
		assert.Equal(t, models.StatusComplete, result.Status)
		assert.Equal(t, "fake", result.Service)
	}
	assert.Equal(t, []string{"auto", "auto"}, resolver.services)
}

func TestRunFailsWithoutService(t *testing.T) {
	cfg := testConfig(t)
	extractor := &fakeExtractor{failOn: map[int]bool{}}
	tr := newTestTranscriber(t, cfg, Deps{
		Resolver:  &stubResolver{err: asr.ErrNoService},
		Prober:    &fakeProber{duration: 25},
		Extractor: extractor,
	})

	result, err := tr.Run(context.Background(), writeMedia(t))
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, asr.ErrNoService))

	// 没有开始调度，工作目录没有创建
	entries, err := os.ReadDir(cfg.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
