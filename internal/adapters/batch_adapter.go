package adapters

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/models"
)

// MediaProcessor 是处理媒体文件的接口，批量和监听模式共用
type MediaProcessor interface {
	ProcessFile(filePath string) bool
	IsRecognizedFile(filePath string) bool
}

// Runner 转写一个媒体文件
type Runner interface {
	Run(ctx context.Context, inputPath string) (*models.AggregateResult, error)
}

// ResultWriter 写出结果文件，并能判断某个输入是否已完整转写
type ResultWriter interface {
	Write(result *models.AggregateResult) (map[string]string, error)
	Completed(inputPath string) bool
}

// ResultCallback 每个文件处理完后调用
type ResultCallback func(result *models.Result, err error)

// TranscriberAdapter 把转写器和结果写入器适配为 MediaProcessor
type TranscriberAdapter struct {
	ctx      context.Context
	runner   Runner
	writer   ResultWriter
	onResult ResultCallback

	mu         sync.Mutex
	processing map[string]bool
}

// NewTranscriberAdapter 创建新的转写适配器
func NewTranscriberAdapter(ctx context.Context, runner Runner, writer ResultWriter) *TranscriberAdapter {
	return &TranscriberAdapter{
		ctx:        ctx,
		runner:     runner,
		writer:     writer,
		processing: make(map[string]bool),
	}
}

// SetResultCallback 设置结果回调
func (a *TranscriberAdapter) SetResultCallback(cb ResultCallback) {
	a.onResult = cb
}

// ProcessFile 处理文件，全部片段成功时返回 true
func (a *TranscriberAdapter) ProcessFile(filePath string) bool {
	result, err := a.Transcribe(filePath)
	return err == nil && result.Status == models.StatusComplete
}

// Transcribe 转写并写出结果文件
// 同一文件正在处理时直接返回错误，避免监听模式重复触发
func (a *TranscriberAdapter) Transcribe(filePath string) (*models.Result, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		absPath = filePath
	}

	a.mu.Lock()
	if a.processing[absPath] {
		a.mu.Unlock()
		return nil, fmt.Errorf("文件正在处理中: %s", filepath.Base(absPath))
	}
	a.processing[absPath] = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.processing, absPath)
		a.mu.Unlock()
	}()

	start := time.Now()
	result, err := a.transcribe(absPath)
	if result != nil {
		result.ProcessTimeMs = time.Since(start).Milliseconds()
	}
	if a.onResult != nil {
		a.onResult(result, err)
	}
	return result, err
}

func (a *TranscriberAdapter) transcribe(filePath string) (*models.Result, error) {
	aggregate, err := a.runner.Run(a.ctx, filePath)
	if err != nil {
		return nil, err
	}

	result := &models.Result{
		FilePath:    filePath,
		Service:     aggregate.Service,
		Status:      aggregate.Status,
		ChunkCount:  aggregate.Performance.TotalChunks,
		FailedCount: len(aggregate.FailedChunks),
		DurationMs:  int64(aggregate.Duration * 1000),

		FailedChunks: aggregate.FailedChunks,
		Performance:  aggregate.Performance,
	}

	outputFiles, err := a.writer.Write(aggregate)
	if err != nil {
		return result, fmt.Errorf("写出结果失败: %w", err)
	}
	result.OutputFiles = outputFiles
	return result, nil
}

// IsRecognizedFile 检查文件是否已完整转写，部分失败的文件会再次处理
func (a *TranscriberAdapter) IsRecognizedFile(filePath string) bool {
	return a.writer.Completed(filePath)
}
