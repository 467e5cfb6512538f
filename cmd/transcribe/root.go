package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ccp-p/asr-media-cli/transcriber/internal/controller"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/utils"
)

var errPartialFailure = errors.New("部分文件或片段转写失败")

// cliOptions 命令行参数，只有显式指定的参数才会覆盖配置文件
type cliOptions struct {
	configFile string
	envFile    string

	output        string
	tempDir       string
	keepChunks    bool
	chunkSeconds  int
	adaptive      bool
	workers       int
	service       string
	strategy      string
	model         string
	fallbackModel string
	language      string
	maxAttempts   int
	backoffBase   float64
	timeout       float64
	useCache      bool
	cacheBackend  string
	srt           bool
	noJSON        bool
	noHeaders     bool
	noProgress    bool
	logLevel      string
	logFile       string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "transcribe <媒体文件>",
		Short:         "分片并发转写音频/视频文件",
		Long:          "把媒体文件切成固定长度的片段，并发调用语音识别服务，按顺序合并结果。",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer teardown(pc)

			result, err := pc.ProcessFile(args[0])
			pc.PrintSummary()
			if err != nil {
				return err
			}
			if result.Status != models.StatusComplete {
				return errPartialFailure
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "配置文件路径 (JSON)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "环境变量文件，用于读取 OPENAI_API_KEY")
	flags.StringVarP(&opts.output, "output", "o", "", "输出目录")
	flags.StringVar(&opts.tempDir, "temp", "", "片段临时目录")
	flags.BoolVar(&opts.keepChunks, "keep-chunks", false, "保留切好的音频片段")
	flags.IntVar(&opts.chunkSeconds, "chunk-seconds", 0, "片段时长（秒）")
	flags.BoolVar(&opts.adaptive, "adaptive", false, "按总时长自动调整片段时长")
	flags.IntVarP(&opts.workers, "workers", "w", 0, "同时转写的片段数")
	flags.StringVar(&opts.service, "service", "", "ASR服务 (openai, whisper, auto)")
	flags.StringVar(&opts.strategy, "strategy", "", "auto 时的选择策略 (priority, round_robin, weighted_random)")
	flags.StringVarP(&opts.model, "model", "m", "", "主模型")
	flags.StringVar(&opts.fallbackModel, "fallback-model", "", "回退模型，设为 none 表示不回退")
	flags.StringVarP(&opts.language, "language", "l", "", "语言提示")
	flags.IntVar(&opts.maxAttempts, "max-attempts", 0, "每个模型的最大尝试次数")
	flags.Float64Var(&opts.backoffBase, "backoff-base", 0, "指数退避基准间隔（秒）")
	flags.Float64Var(&opts.timeout, "timeout", 0, "单次请求超时（秒）")
	flags.BoolVar(&opts.useCache, "cache", false, "缓存媒体时长")
	flags.StringVar(&opts.cacheBackend, "cache-backend", "", "缓存后端 (file, redis)")
	flags.BoolVar(&opts.srt, "srt", false, "同时导出SRT字幕")
	flags.BoolVar(&opts.noJSON, "no-json", false, "不导出JSON记录")
	flags.BoolVar(&opts.noHeaders, "no-headers", false, "文本中不写片段标题")
	flags.BoolVar(&opts.noProgress, "no-progress", false, "不显示进度条")
	flags.StringVar(&opts.logLevel, "log-level", "", "日志级别 (debug, info, warn, error)")
	flags.StringVar(&opts.logFile, "log-file", "", "日志文件路径")

	root.AddCommand(newBatchCmd(opts), newWatchCmd(opts), newConfigCmd(opts))
	return root
}

func newBatchCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "batch [文件夹]",
		Short: "转写文件夹中所有尚未处理的媒体文件",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer teardown(pc)

			folder := pc.Config.MediaFolder
			if len(args) == 1 {
				folder = args[0]
			}

			if _, err := pc.ProcessFolder(folder); err != nil {
				return err
			}
			pc.PrintSummary()
			if pc.Stats.FailedFiles > 0 || pc.Stats.PartialFiles > 0 {
				return errPartialFailure
			}
			return nil
		},
	}
}

func newWatchCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [文件夹]",
		Short: "监听文件夹，自动转写新出现的媒体文件",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer teardown(pc)

			folder := pc.Config.MediaFolder
			if len(args) == 1 {
				folder = args[0]
			}

			err = pc.StartWatchMode(folder)
			pc.PrintSummary()
			return err
		},
	}
}

func newConfigCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config [输出路径]",
		Short: "打印合并后的配置，指定路径时保存为配置文件",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, opts)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				if err := cfg.SaveToFile(args[0]); err != nil {
					return err
				}
				color.Green("配置已保存: %s", args[0])
				return nil
			}
			cfg.PrintConfig()
			return nil
		},
	}
}

// setup 读取配置、初始化日志并创建控制器
func setup(cmd *cobra.Command, opts *cliOptions) (*controller.ProcessorController, error) {
	loadEnvFile(opts.envFile)

	cfg, err := buildConfig(cmd, opts)
	if err != nil {
		return nil, err
	}

	if cfg.ShowProgress {
		utils.EnableTerminalProgress()
	}
	if err := utils.InitLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	printWelcome()

	pc, err := controller.NewProcessorController(cfg, controller.Options{
		APIKey: os.Getenv("OPENAI_API_KEY"),
	})
	if err != nil {
		return nil, err
	}
	pc.SetupSignalHandlers()
	return pc, nil
}

// teardown 释放控制器资源，并把日志恢复到终端
func teardown(pc *controller.ProcessorController) {
	pc.Cleanup()
	utils.DisableTerminalProgress()
}

// loadEnvFile 加载 .env，文件不存在时忽略，已有的环境变量不会被覆盖
func loadEnvFile(path string) {
	if path == "" || !utils.CheckFileExists(path) {
		return
	}
	if err := godotenv.Load(path); err != nil {
		color.Yellow("警告: 读取环境变量文件失败: %v", err)
	}
}

// buildConfig 默认配置 < 配置文件 < 命令行参数
func buildConfig(cmd *cobra.Command, opts *cliOptions) (*models.Config, error) {
	cfg := models.NewDefaultConfig()
	if opts.configFile != "" {
		if err := cfg.LoadFromFile(opts.configFile); err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
	}

	changed := cmd.Flags().Changed
	if changed("output") {
		cfg.OutputFolder = opts.output
	}
	if changed("temp") {
		cfg.TempDir = opts.tempDir
	}
	if changed("keep-chunks") {
		cfg.KeepChunks = opts.keepChunks
	}
	if changed("chunk-seconds") {
		cfg.ChunkSeconds = opts.chunkSeconds
	}
	if changed("adaptive") {
		cfg.AdaptiveChunking = opts.adaptive
	}
	if changed("workers") {
		cfg.MaxWorkers = opts.workers
	}
	if changed("service") {
		cfg.ASRService = opts.service
	}
	if changed("strategy") {
		cfg.ASRStrategy = opts.strategy
	}
	if changed("model") {
		cfg.PrimaryModel = opts.model
	}
	if changed("fallback-model") {
		cfg.FallbackModel = opts.fallbackModel
		if opts.fallbackModel == "none" {
			cfg.FallbackModel = ""
		}
	}
	if changed("language") {
		cfg.Language = opts.language
	}
	if changed("max-attempts") {
		cfg.MaxAttempts = opts.maxAttempts
	}
	if changed("backoff-base") {
		cfg.BackoffBase = opts.backoffBase
	}
	if changed("timeout") {
		cfg.RequestTimeout = opts.timeout
	}
	if changed("cache") {
		cfg.UseCache = opts.useCache
	}
	if changed("cache-backend") {
		cfg.CacheBackend = opts.cacheBackend
	}
	if changed("srt") {
		cfg.ExportSRT = opts.srt
	}
	if changed("no-json") {
		cfg.ExportJSON = !opts.noJSON
	}
	if changed("no-headers") {
		cfg.ChunkHeaders = !opts.noHeaders
	}
	if changed("no-progress") {
		cfg.ShowProgress = !opts.noProgress
	}
	if changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if changed("log-file") {
		cfg.LogFile = opts.logFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printWelcome() {
	fmt.Println()
	color.Cyan("================================")
	color.Cyan("     分片转写工具 - Go 实现      ")
	color.Cyan("================================")
	fmt.Println()
}
