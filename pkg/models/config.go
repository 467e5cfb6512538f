package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// 缓存后端
const (
	CacheBackendFile  = "file"
	CacheBackendRedis = "redis"
)

// Config 表示应用程序的配置
type Config struct {
	MediaFolder  string `json:"media_folder"`  // 批量/监听模式下的媒体文件夹
	OutputFolder string `json:"output_folder"` // 输出结果文件夹
	TempDir      string `json:"temp_dir"`      // 片段临时目录，空则使用系统临时目录
	KeepChunks   bool   `json:"keep_chunks"`   // 完成后保留切好的音频片段

	// 切片
	ChunkSeconds     int  `json:"chunk_seconds"`     // 每个片段的时长（秒）
	AdaptiveChunking bool `json:"adaptive_chunking"` // 按总时长自动调整片段长度
	MaxChunks        int  `json:"max_chunks"`        // 自动调整时期望的最大片段数
	MinChunkSeconds  int  `json:"min_chunk_seconds"` // 自动调整时片段的最小时长（秒）
	SampleRate       int  `json:"sample_rate"`       // 片段采样率

	// 并发与重试
	MaxWorkers     int     `json:"max_workers"`     // 同时转写的片段数
	MaxAttempts    int     `json:"max_attempts"`    // 每个模型的最大尝试次数
	BackoffBase    float64 `json:"backoff_base"`    // 指数退避基准间隔（秒）
	MaxBackoff     float64 `json:"max_backoff"`     // 单次退避上限（秒）
	RequestTimeout float64 `json:"request_timeout"` // 单次请求超时（秒）

	// ASR
	ASRService    string `json:"asr_service"`     // ASR服务名称 (openai, whisper, auto)
	ASRStrategy   string `json:"asr_strategy"`    // auto 时的选择策略 (priority, round_robin, weighted_random)
	PrimaryModel  string `json:"primary_model"`   // 主模型
	FallbackModel string `json:"fallback_model"`  // 回退模型，空表示不回退
	Language      string `json:"language"`        // 语言提示
	OpenAIBaseURL string `json:"openai_base_url"` // 兼容 OpenAI 的服务地址，空则使用官方地址
	WhisperURL    string `json:"whisper_url"`     // whisper HTTP 服务地址

	// 元数据缓存
	UseCache       bool   `json:"use_cache"`        // 是否缓存媒体时长
	CacheBackend   string `json:"cache_backend"`    // file 或 redis
	CacheFile      string `json:"cache_file"`       // file 后端的缓存文件
	RedisAddr      string `json:"redis_addr"`       // redis 地址
	RedisPassword  string `json:"redis_password"`   // redis 密码
	RedisDB        int    `json:"redis_db"`         // redis 库
	RedisKeyPrefix string `json:"redis_key_prefix"` // redis 键前缀

	// 外部工具
	FFmpegPath  string `json:"ffmpeg_path"`
	FFprobePath string `json:"ffprobe_path"`

	// 输出
	ChunkHeaders bool `json:"chunk_headers"` // 文本中写入 [Chunk i/N] 标题
	ExportJSON   bool `json:"export_json"`   // 是否导出JSON记录
	ExportSRT    bool `json:"export_srt"`    // 是否导出SRT字幕文件
	ShowProgress bool `json:"show_progress"` // 显示进度条

	LogLevel string `json:"log_level"` // 日志级别
	LogFile  string `json:"log_file"`  // 日志文件
}

// ConfigValidationError 表示配置验证错误
type ConfigValidationError struct {
	Field   string
	Message string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("配置验证错误: %s - %s", e.Field, e.Message)
}

// NewDefaultConfig 创建默认配置
func NewDefaultConfig() *Config {
	return &Config{
		MediaFolder:      "./media",
		OutputFolder:     "salida_transcripcion",
		TempDir:          "",
		KeepChunks:       false,
		ChunkSeconds:     900,
		AdaptiveChunking: false,
		MaxChunks:        10,
		MinChunkSeconds:  300,
		SampleRate:       16000,
		MaxWorkers:       3,
		MaxAttempts:      3,
		BackoffBase:      1.0,
		MaxBackoff:       30.0,
		RequestTimeout:   300.0,
		ASRService:       "openai",
		ASRStrategy:      "priority",
		PrimaryModel:     "gpt-4o-mini-transcribe",
		FallbackModel:    "whisper-1",
		Language:         "es",
		WhisperURL:       "http://localhost:8387",
		UseCache:         false,
		CacheBackend:     CacheBackendFile,
		CacheFile:        ".transcriber_cache.json",
		RedisAddr:        "localhost:6379",
		RedisKeyPrefix:   "transcriber:",
		FFmpegPath:       "ffmpeg",
		FFprobePath:      "ffprobe",
		ChunkHeaders:     true,
		ExportJSON:       true,
		ExportSRT:        false,
		ShowProgress:     true,
		LogLevel:         "INFO",
		LogFile:          "",
	}
}

// Validate 验证配置是否有效
func (c *Config) Validate() error {
	if c.OutputFolder == "" {
		return &ConfigValidationError{"OutputFolder", "不能为空"}
	}

	if c.ChunkSeconds < 1 || c.ChunkSeconds > 86400 {
		return &ConfigValidationError{"ChunkSeconds", "必须在1-86400秒之间"}
	}

	if c.AdaptiveChunking {
		if c.MaxChunks < 1 {
			return &ConfigValidationError{"MaxChunks", "必须大于0"}
		}
		if c.MinChunkSeconds < 1 {
			return &ConfigValidationError{"MinChunkSeconds", "必须大于0"}
		}
	}

	if c.MaxWorkers < 1 || c.MaxWorkers > 64 {
		return &ConfigValidationError{"MaxWorkers", "必须在1-64之间"}
	}

	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		return &ConfigValidationError{"MaxAttempts", "必须在1-10之间"}
	}

	if c.BackoffBase < 0 || c.BackoffBase > 60 {
		return &ConfigValidationError{"BackoffBase", "必须在0-60秒之间"}
	}

	if c.MaxBackoff < c.BackoffBase {
		return &ConfigValidationError{"MaxBackoff", "不能小于 BackoffBase"}
	}

	if c.RequestTimeout <= 0 {
		return &ConfigValidationError{"RequestTimeout", "必须大于0"}
	}

	if c.PrimaryModel == "" {
		return &ConfigValidationError{"PrimaryModel", "不能为空"}
	}

	switch c.ASRService {
	case "openai", "whisper", "auto":
	default:
		return &ConfigValidationError{"ASRService", "必须是 openai、whisper 或 auto"}
	}

	switch c.ASRStrategy {
	case "priority", "round_robin", "weighted_random":
	default:
		return &ConfigValidationError{"ASRStrategy", "必须是 priority、round_robin 或 weighted_random"}
	}

	if c.UseCache {
		switch c.CacheBackend {
		case CacheBackendFile:
			if c.CacheFile == "" {
				return &ConfigValidationError{"CacheFile", "file 缓存需要指定缓存文件"}
			}
		case CacheBackendRedis:
			if c.RedisAddr == "" {
				return &ConfigValidationError{"RedisAddr", "redis 缓存需要指定地址"}
			}
		default:
			return &ConfigValidationError{"CacheBackend", "必须是 file 或 redis"}
		}
	}

	if c.SampleRate < 8000 || c.SampleRate > 48000 {
		return &ConfigValidationError{"SampleRate", "必须在8000-48000之间"}
	}

	return nil
}

// ChunkLength 返回片段长度
func (c *Config) ChunkLength() float64 {
	return float64(c.ChunkSeconds)
}

// BackoffBaseDuration 返回退避基准间隔
func (c *Config) BackoffBaseDuration() time.Duration {
	return secondsToDuration(c.BackoffBase)
}

// MaxBackoffDuration 返回单次退避上限
func (c *Config) MaxBackoffDuration() time.Duration {
	return secondsToDuration(c.MaxBackoff)
}

// RequestTimeoutDuration 返回单次请求超时
func (c *Config) RequestTimeoutDuration() time.Duration {
	return secondsToDuration(c.RequestTimeout)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// LoadFromFile 从文件加载配置
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		logrus.Errorf("读取配置文件失败: %v", err)
		return err
	}

	if err := json.Unmarshal(data, c); err != nil {
		logrus.Errorf("解析配置文件失败: %v", err)
		return err
	}

	if err := c.Validate(); err != nil {
		logrus.Errorf("配置验证失败: %v", err)
		return err
	}

	return nil
}

// SaveToFile 保存配置到文件
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}

	return nil
}

// Update 批量更新配置，验证失败时回滚
func (c *Config) Update(updates map[string]interface{}) error {
	tempConfig := *c

	// 将更新序列化为JSON再反序列化到结构体中
	updateBytes, err := json.Marshal(updates)
	if err != nil {
		return fmt.Errorf("序列化更新数据失败: %w", err)
	}

	if err := json.Unmarshal(updateBytes, c); err != nil {
		*c = tempConfig
		return fmt.Errorf("应用配置更新失败: %w", err)
	}

	if err := c.Validate(); err != nil {
		*c = tempConfig
		return err
	}

	return nil
}

// Reset 重置为默认配置
func (c *Config) Reset() {
	*c = *NewDefaultConfig()
}

// Clone 返回配置的副本，交给各组件持有，运行中不再被外部修改
func (c *Config) Clone() Config {
	return *c
}

// PrintConfig 打印当前配置
func (c *Config) PrintConfig() {
	bytes, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		logrus.Errorf("序列化配置失败: %v", err)
		return
	}
	logrus.Infof("当前配置:\n%s", string(bytes))
}
