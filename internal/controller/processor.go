// Package controller 组装转写所需的各个组件，提供单文件、批量和监听三种运行方式
package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/ccp-p/asr-media-cli/transcriber/internal/adapters"
	"github.com/ccp-p/asr-media-cli/transcriber/internal/ui"
	"github.com/ccp-p/asr-media-cli/transcriber/internal/watcher"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/asr"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/audio"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/cache"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/export"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/scanner"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/transcriber"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/utils"
)

// 监听模式下文件停止变化多久后开始处理
const watchDebounce = 5 * time.Second

// Options 构建控制器时可替换的组件，为空时按配置创建
type Options struct {
	APIKey    string
	Client    asr.Client
	Prober    transcriber.DurationProber
	Extractor transcriber.ChunkExtractor
	Store     cache.Store
	Progress  *ui.ProgressManager
}

// ProcessorController 处理器控制器，协调各个组件工作
type ProcessorController struct {
	Config *models.Config

	// UI组件
	ProgressManager *ui.ProgressManager
	Terminal        *ui.TerminalManager

	// 处理组件
	ASRSelector *asr.ASRSelector
	Scanner     *scanner.MediaScanner
	Transcriber *transcriber.Transcriber
	Writer      *export.Writer
	Adapter     *adapters.TranscriberAdapter
	Cache       *cache.MetadataCache
	Errors      *utils.ErrorHandler

	// 上下文控制
	ctx        context.Context
	cancelFunc context.CancelFunc

	// 状态数据
	Stats struct {
		StartTime       time.Time
		TotalFiles      int
		SuccessfulFiles int
		PartialFiles    int
		FailedFiles     int
	}

	cleanup []func() // 清理函数列表
	mu      sync.Mutex
}

// NewProcessorController 创建处理器控制器
func NewProcessorController(cfg *models.Config, opts Options) (*ProcessorController, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	own := cfg.Clone()
	pc := &ProcessorController{
		Config:     &own,
		Terminal:   ui.GetTerminalManager(),
		Scanner:    scanner.NewMediaScanner(),
		Errors:     utils.NewErrorHandler(),
		ctx:        ctx,
		cancelFunc: cancel,
	}
	pc.addCleanup(cancel)

	if err := pc.initComponents(opts); err != nil {
		pc.Cleanup()
		return nil, err
	}
	return pc, nil
}

// 初始化所有组件
func (pc *ProcessorController) initComponents(opts Options) error {
	cfg := pc.Config

	pc.ProgressManager = opts.Progress
	if pc.ProgressManager == nil {
		pc.ProgressManager = ui.NewProgressManager(cfg.ShowProgress)
	}

	// ffmpeg 工具
	prober, extractor := opts.Prober, opts.Extractor
	if prober == nil || extractor == nil {
		if err := audio.CheckTools(cfg.FFmpegPath, cfg.FFprobePath); err != nil {
			return err
		}
		runner := audio.ExecRunner{}
		if prober == nil {
			prober = audio.NewProber(cfg.FFprobePath, runner)
		}
		if extractor == nil {
			extractor = audio.NewExtractor(cfg.FFmpegPath, cfg.SampleRate, runner)
		}
	}

	// ASR 服务：未注入客户端时每个文件开始前由选择器选择，启动时先检查一次
	pc.ASRSelector = asr.NewASRSelector()
	pc.ASRSelector.SetStrategy(cfg.ASRStrategy)
	deps := transcriber.Deps{Client: opts.Client}
	if opts.Client == nil {
		pc.registerASRServices(opts.APIKey)
		if err := pc.ASRSelector.Check(pc.ctx, cfg.ASRService); err != nil {
			return err
		}
		deps.Resolver = pc.ASRSelector
	}

	// 元数据缓存
	store := opts.Store
	if store == nil && cfg.UseCache {
		created, err := pc.createCacheStore()
		if err != nil {
			return err
		}
		store = created
	}
	pc.Cache = cache.NewMetadataCache(store, cfg.UseCache)
	pc.addCleanup(func() {
		if err := pc.Cache.Close(); err != nil {
			utils.Warn("关闭缓存失败: %v", err)
		}
	})

	deps.Prober = prober
	deps.Extractor = extractor
	deps.Cache = pc.Cache
	deps.Progress = pc.ProgressManager
	deps.Errors = pc.Errors
	tr, err := transcriber.New(cfg, deps)
	if err != nil {
		return err
	}
	pc.Transcriber = tr

	pc.Writer = export.NewWriter(cfg)
	pc.Adapter = adapters.NewTranscriberAdapter(pc.ctx, pc.Transcriber, pc.Writer)
	pc.Adapter.SetResultCallback(pc.recordResult)
	return nil
}

// 注册ASR服务，auto 时按权重优先使用 openai
func (pc *ProcessorController) registerASRServices(apiKey string) {
	cfg := pc.Config
	pc.ASRSelector.RegisterService(asr.OpenAIServiceName,
		func() (asr.Client, error) {
			return asr.NewOpenAIClient(apiKey, cfg.OpenAIBaseURL)
		},
		30,
	)

	pc.ASRSelector.RegisterService(asr.WhisperServiceName,
		func() (asr.Client, error) {
			return asr.NewWhisperClient(cfg.WhisperURL, nil), nil
		},
		10,
	)
}

func (pc *ProcessorController) createCacheStore() (cache.Store, error) {
	cfg := pc.Config
	switch cfg.CacheBackend {
	case models.CacheBackendRedis:
		ctx, cancel := context.WithTimeout(pc.ctx, 5*time.Second)
		defer cancel()
		return cache.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKeyPrefix)
	default:
		return cache.NewFileStore(cfg.CacheFile), nil
	}
}

// Context 返回控制器的上下文，收到中断信号后被取消
func (pc *ProcessorController) Context() context.Context {
	return pc.ctx
}

// Cancel 取消正在进行的处理
func (pc *ProcessorController) Cancel() {
	pc.cancelFunc()
}

// SetupSignalHandlers 收到 SIGINT/SIGTERM 时取消上下文
func (pc *ProcessorController) SetupSignalHandlers() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	pc.addCleanup(func() { signal.Stop(c) })

	go func() {
		select {
		case <-c:
			utils.Info("接收到中断信号，正在停止...")
			pc.Terminal.PrintMsg("%s", color.YellowString("接收到中断信号，正在停止..."))
			pc.cancelFunc()
		case <-pc.ctx.Done():
		}
	}()
}

// ProcessFile 转写单个文件并写出结果
func (pc *ProcessorController) ProcessFile(path string) (*models.Result, error) {
	if pc.Stats.StartTime.IsZero() {
		pc.Stats.StartTime = time.Now()
	}
	return pc.Adapter.Transcribe(path)
}

// ProcessFolder 转写文件夹中所有尚未处理的媒体文件
// 单个文件失败不影响其他文件；中断后停止处理剩余文件
func (pc *ProcessorController) ProcessFolder(folder string) ([]*models.Result, error) {
	pc.Stats.StartTime = time.Now()

	files, err := pc.Scanner.ScanDirectory(folder)
	if err != nil {
		return nil, fmt.Errorf("扫描目录失败: %w", err)
	}
	files = pc.Scanner.FilterNewFiles(files, pc.Adapter.IsRecognizedFile)

	results := make([]*models.Result, 0, len(files))
	for i, file := range files {
		if pc.ctx.Err() != nil {
			utils.Warn("处理已中断，剩余 %d 个文件未处理", len(files)-i)
			break
		}

		pc.Terminal.PrintMsg("[%d/%d] 开始处理: %s (%s)", i+1, len(files), file.Name, utils.FormatFileSize(file.Size))
		result, err := pc.Adapter.Transcribe(file.Path)
		if err != nil {
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// StartWatchMode 先处理文件夹中已有的文件，再监听新文件，直到上下文被取消
func (pc *ProcessorController) StartWatchMode(folder string) error {
	if err := utils.EnsureDirExists(folder); err != nil {
		return fmt.Errorf("创建监听目录失败: %w", err)
	}

	if _, err := pc.ProcessFolder(folder); err != nil {
		return err
	}

	stop, err := watcher.StartMediaFolderMonitoring(folder, pc.Adapter, pc.Scanner.Extensions(), watchDebounce)
	if err != nil {
		return err
	}
	pc.addCleanup(stop)

	utils.Info("监控已启动，按Ctrl+C退出...")
	pc.Terminal.PrintMsg("%s", color.CyanString("正在监听 %s，按Ctrl+C退出...", folder))

	<-pc.ctx.Done()
	return nil
}

// recordResult 更新统计并打印单个文件的结果
func (pc *ProcessorController) recordResult(result *models.Result, err error) {
	pc.mu.Lock()
	pc.Stats.TotalFiles++
	switch {
	case err != nil:
		pc.Stats.FailedFiles++
	case result.Status == models.StatusComplete:
		pc.Stats.SuccessfulFiles++
	default:
		pc.Stats.PartialFiles++
	}
	pc.mu.Unlock()

	if err != nil {
		pc.Terminal.PrintMsg("%s", color.RedString("处理失败: %v", err))
		if errors.Is(err, audio.ErrInvalidMedia) {
			utils.Debug("源文件无效: %v", err)
		}
		return
	}

	name := filepath.Base(result.FilePath)
	if result.Status == models.StatusComplete {
		pc.Terminal.PrintMsg("%s", color.GreenString("处理成功: %s (%d 个片段)", name, result.ChunkCount))
	} else {
		pc.Terminal.PrintMsg("%s", color.YellowString("部分片段失败: %s (%d/%d 个片段失败)", name, result.FailedCount, result.ChunkCount))
	}
	pc.Terminal.PrintMsg("处理用时: %s (ASR服务: %s)", utils.FormatTimeDuration(float64(result.ProcessTimeMs)/1000), result.Service)
	pc.printChunkReport(result)
	for _, fileType := range []string{"txt", "json", "srt"} {
		if path, ok := result.OutputFiles[fileType]; ok {
			pc.Terminal.PrintMsg("- %s: %s", fileType, path)
		}
	}
}

// printChunkReport 打印片段级性能统计和失败片段
func (pc *ProcessorController) printChunkReport(result *models.Result) {
	perf := result.Performance
	pc.Terminal.PrintMsg("性能统计:")
	pc.Terminal.PrintMsg("  总用时: %.2fs", perf.TotalTime.Seconds())
	pc.Terminal.PrintMsg("  片段导出: %.2fs", perf.ExtractionTime.Seconds())
	pc.Terminal.PrintMsg("  转写: %.2fs", perf.TranscriptionTime.Seconds())
	pc.Terminal.PrintMsg("  成功片段: %d/%d", perf.SucceededChunks, perf.TotalChunks)
	pc.Terminal.PrintMsg("  平均每片段: %.2fs", perf.AvgChunkTime.Seconds())
	if perf.RetryAttempts > 0 || perf.FallbackCount > 0 {
		pc.Terminal.PrintMsg("  重试: %d 次, 使用回退模型: %d 个片段", perf.RetryAttempts, perf.FallbackCount)
	}

	if len(result.FailedChunks) == 0 {
		return
	}
	indices := make([]int, 0, len(result.FailedChunks))
	for _, fc := range result.FailedChunks {
		indices = append(indices, fc.Index)
	}
	pc.Terminal.PrintMsg("%s", color.YellowString("失败片段序号: %v", indices))
	for _, fc := range result.FailedChunks {
		pc.Terminal.PrintMsg("  - 片段 %d/%d (%s-%s) %s: %s", fc.Index+1, result.ChunkCount,
			utils.FormatClock(fc.Start), utils.FormatClock(fc.End), fc.Kind, fc.Error)
	}
}

// PrintSummary 打印处理统计
func (pc *ProcessorController) PrintSummary() {
	pc.mu.Lock()
	stats := pc.Stats
	pc.mu.Unlock()

	if stats.TotalFiles == 0 {
		pc.Terminal.PrintMsg("没有需要处理的文件")
		return
	}

	elapsed := time.Since(stats.StartTime).Seconds()
	pc.Terminal.PrintMsg("\n处理完成，共 %d 个文件，用时 %s", stats.TotalFiles, utils.FormatTimeDuration(elapsed))
	pc.Terminal.PrintMsg("%s", color.GreenString("  成功: %d", stats.SuccessfulFiles))
	if stats.PartialFiles > 0 {
		pc.Terminal.PrintMsg("%s", color.YellowString("  部分失败: %d", stats.PartialFiles))
	}
	if stats.FailedFiles > 0 {
		pc.Terminal.PrintMsg("%s", color.RedString("  失败: %d", stats.FailedFiles))
	}

	for name, stat := range pc.ASRSelector.GetStats() {
		utils.Info("%s: 调用次数=%v, 成功率=%v, 可用=%v", name, stat["calls"], stat["success_rate"], stat["available"])
	}
	pc.Errors.PrintErrorStats()
}

// 添加清理函数
func (pc *ProcessorController) addCleanup(cleanup func()) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.cleanup = append(pc.cleanup, cleanup)
}

// Cleanup 逆序执行所有清理
func (pc *ProcessorController) Cleanup() {
	pc.mu.Lock()
	cleanups := pc.cleanup
	pc.cleanup = nil
	pc.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}

	if pc.ProgressManager != nil {
		pc.ProgressManager.CloseAll("已中断")
	}
}
