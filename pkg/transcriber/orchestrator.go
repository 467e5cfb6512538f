package transcriber

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/asr"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/audio"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/cache"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/pool"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DurationProber 获取媒体时长
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// ChunkExtractor 导出一个片段
type ChunkExtractor interface {
	Extract(ctx context.Context, source string, spec models.ChunkSpec, outPath string) error
}

// ProgressReporter 接收片段完成进度
type ProgressReporter interface {
	CreateProgressBar(id string, total int, prefix string, suffix string)
	UpdateProgressBar(id string, current int, suffix string)
	CompleteProgressBar(id string, suffix string)
}

// ClientResolver 每个文件开始前选择转写客户端
type ClientResolver interface {
	Resolve(ctx context.Context, serviceName string) (asr.Client, error)
}

// Deps 转写器依赖的外部组件，Client 和 Resolver 至少提供一个
type Deps struct {
	Client    asr.Client
	Resolver  ClientResolver // 设置后每个文件按 asr_service 重新选择服务，优先于 Client
	Prober    DurationProber
	Extractor ChunkExtractor
	Cache     *cache.MetadataCache // 为空表示不使用缓存
	Progress  ProgressReporter     // 可选
	Errors    *utils.ErrorHandler  // 可选
	NewRunID  func() string        // 可选，默认使用 uuid
}

// Transcriber 对单个媒体文件执行分片转写
type Transcriber struct {
	cfg    models.Config
	deps   Deps
	policy *asr.RetryPolicy
	pool   *pool.Pool
}

// New 创建转写器，cfg 会被复制，之后对原配置的修改不影响本实例
func New(cfg *models.Config, deps Deps) (*Transcriber, error) {
	if cfg == nil {
		return nil, errors.New("配置不能为空")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if (deps.Client == nil && deps.Resolver == nil) || deps.Prober == nil || deps.Extractor == nil {
		return nil, errors.New("缺少转写依赖: Client(或 Resolver)、Prober 和 Extractor 都是必需的")
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewMetadataCache(nil, false)
	}
	if deps.Errors == nil {
		deps.Errors = utils.NewErrorHandler()
	}
	if deps.NewRunID == nil {
		deps.NewRunID = uuid.NewString
	}

	own := cfg.Clone()
	return &Transcriber{
		cfg:    own,
		deps:   deps,
		policy: asr.NewRetryPolicy(asr.PolicyConfigFromConfig(own)).WithErrorHandler(deps.Errors),
		pool:   pool.New(own.MaxWorkers),
	}, nil
}

// Errors 返回错误统计
func (t *Transcriber) Errors() *utils.ErrorHandler {
	return t.deps.Errors
}

// Run 转写一个媒体文件
// 只有源文件无效、缓存不可用、没有可用服务或工作目录无法创建时返回错误；单个片段的失败体现在结果中
func (t *Transcriber) Run(ctx context.Context, inputPath string) (*models.AggregateResult, error) {
	startedAt := time.Now()
	runID := t.deps.NewRunID()
	log := utils.WithField("run_id", runID)

	identity, err := cache.IdentityOf(inputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrInvalidMedia, err)
	}

	source, probeTime, cacheHits, err := t.resolveSource(ctx, identity)
	if err != nil {
		return nil, err
	}
	log.Infof("音频时长: %s (%s)", utils.FormatClock(source.Duration), filepath.Base(identity.Path))

	client, err := t.client(ctx)
	if err != nil {
		return nil, err
	}

	chunkLen := t.chunkLength(source.Duration)
	specs, err := audio.Segment(source.Duration, chunkLen)
	if err != nil {
		return nil, err
	}
	if chunkLen != t.cfg.ChunkLength() {
		log.Infof("调整片段长度为 %.0fs", chunkLen)
	}

	workDir := filepath.Join(t.tempBase(), runID)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("创建工作目录失败: %w", err)
	}

	// 每个片段一个槽位，只由负责它的 worker 写入
	tasks := make([]*models.TranscriptionTask, len(specs))
	for i, spec := range specs {
		tasks[i] = models.NewTask(spec, t.cfg.PrimaryModel)
	}

	log.WithFields(logrus.Fields{
		"chunks":  len(specs),
		"workers": t.pool.Workers(),
		"model":   t.cfg.PrimaryModel,
		"service": client.Name(),
	}).Infof("开始转写 %d 个片段", len(specs))

	progressID := "transcribe_" + runID
	t.createProgress(progressID, len(specs), filepath.Base(identity.Path))

	var (
		mu        sync.Mutex
		completed int
	)
	t.pool.Run(ctx, len(tasks), func(ctx context.Context, index int) {
		t.runTask(ctx, client, runID, identity.Path, workDir, tasks[index], len(tasks))
	}, func(index int) {
		mu.Lock()
		defer mu.Unlock()
		completed++
		t.updateProgress(progressID, completed, len(tasks))
	})

	t.cleanup(log, workDir)

	result := Aggregate(AggregateInput{
		RunID:         runID,
		InputPath:     identity.Path,
		Service:       client.Name(),
		Duration:      source.Duration,
		PrimaryModel:  t.cfg.PrimaryModel,
		FallbackModel: t.cfg.FallbackModel,
		Tasks:         tasks,
		CacheHits:     cacheHits,
		ProbeTime:     probeTime,
		StartedAt:     startedAt,
		FinishedAt:    time.Now(),
	})

	summary := fmt.Sprintf("%d/%d 片段成功", result.Performance.SucceededChunks, result.Performance.TotalChunks)
	t.completeProgress(progressID, summary)
	if result.IsComplete() {
		log.Infof("转写完成: %s，耗时 %v", summary, result.Performance.TotalTime.Round(time.Millisecond))
	} else {
		log.Warnf("部分片段失败: %s，失败片段 %v", summary, result.FailedIndices())
	}

	return result, nil
}

// resolveSource 获取时长：启用缓存时先查缓存，未命中再探测并写回
func (t *Transcriber) resolveSource(ctx context.Context, identity models.MediaIdentity) (models.SourceMedia, time.Duration, int, error) {
	source := models.SourceMedia{Identity: identity}

	if t.deps.Cache.Enabled() {
		duration, hit, err := t.deps.Cache.Lookup(ctx, identity)
		if err != nil {
			return source, 0, 0, err
		}
		if hit {
			utils.Debug("缓存命中: %s", identity.Path)
			source.Duration = duration
			return source, 0, 1, nil
		}
	}

	start := time.Now()
	duration, err := t.deps.Prober.Duration(ctx, identity.Path)
	probeTime := time.Since(start)
	if err != nil {
		if !errors.Is(err, audio.ErrInvalidMedia) {
			err = fmt.Errorf("%w: %v", audio.ErrInvalidMedia, err)
		}
		return source, probeTime, 0, err
	}
	if duration <= 0 {
		return source, probeTime, 0, fmt.Errorf("%w: 时长 %v", audio.ErrInvalidMedia, duration)
	}
	source.Duration = duration

	if err := t.deps.Cache.Store(ctx, identity, duration); err != nil {
		return source, probeTime, 0, err
	}
	return source, probeTime, 0, nil
}

// client 返回本次运行使用的客户端
func (t *Transcriber) client(ctx context.Context) (asr.Client, error) {
	if t.deps.Resolver == nil {
		return t.deps.Client, nil
	}
	return t.deps.Resolver.Resolve(ctx, t.cfg.ASRService)
}

func (t *Transcriber) chunkLength(duration float64) float64 {
	if t.cfg.AdaptiveChunking {
		return audio.OptimalChunkSeconds(duration, t.cfg.MaxChunks, t.cfg.MinChunkSeconds, t.cfg.ChunkSeconds)
	}
	return t.cfg.ChunkLength()
}

func (t *Transcriber) tempBase() string {
	if t.cfg.TempDir != "" {
		return t.cfg.TempDir
	}
	return filepath.Join(os.TempDir(), "transcriber")
}

func (t *Transcriber) cleanup(log *logrus.Entry, workDir string) {
	if t.cfg.KeepChunks {
		log.Infof("保留片段文件: %s", workDir)
		return
	}
	if err := os.RemoveAll(workDir); err != nil {
		log.Warnf("清理工作目录失败: %v", err)
	}
}

func (t *Transcriber) createProgress(id string, total int, name string) {
	if t.deps.Progress != nil {
		t.deps.Progress.CreateProgressBar(id, total, "转写 "+name, fmt.Sprintf("0/%d 片段", total))
	}
}

func (t *Transcriber) updateProgress(id string, current, total int) {
	if t.deps.Progress != nil {
		t.deps.Progress.UpdateProgressBar(id, current, fmt.Sprintf("%d/%d 片段", current, total))
	}
}

func (t *Transcriber) completeProgress(id string, summary string) {
	if t.deps.Progress != nil {
		t.deps.Progress.CompleteProgressBar(id, summary)
	}
}
