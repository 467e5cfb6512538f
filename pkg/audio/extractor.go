package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/utils"
)

// ErrExtraction 片段提取失败，只影响对应片段
var ErrExtraction = errors.New("片段提取失败")

// 只有 WAV 头没有采样数据的文件视为空文件
const wavHeaderSize = 44

// ExtractionError 描述某个片段的提取失败
type ExtractionError struct {
	Index  int
	Output string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("片段 %d 提取失败 (%s): %v", e.Index, e.Output, e.Err)
}

// Unwrap 支持error chain
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is(err, ErrExtraction) 成立
func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtraction
}

// Extractor 调用 ffmpeg 把源媒体的一段时间范围导出为单声道 PCM WAV
type Extractor struct {
	FFmpegPath string
	SampleRate int
	Runner     CommandRunner
}

// NewExtractor 创建提取器
func NewExtractor(ffmpegPath string, sampleRate int, runner CommandRunner) *Extractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Extractor{
		FFmpegPath: ffmpegPath,
		SampleRate: sampleRate,
		Runner:     runner,
	}
}

// Extract 导出 spec 描述的时间范围到 outPath
// 失败时删除残留的输出文件并返回 *ExtractionError，这里不做重试
func (e *Extractor) Extract(ctx context.Context, source string, spec models.ChunkSpec, outPath string) error {
	if spec.End <= spec.Start {
		return &ExtractionError{Index: spec.Index, Output: outPath, Err: fmt.Errorf("时间范围无效 [%.3f, %.3f)", spec.Start, spec.End)}
	}

	start := time.Now()
	_, err := e.Runner.Run(ctx, e.FFmpegPath,
		"-y",
		"-ss", formatSeconds(spec.Start),
		"-t", formatSeconds(spec.Length()),
		"-i", source,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(e.SampleRate),
		"-ac", "1",
		outPath,
	)
	if err != nil {
		os.Remove(outPath)
		return &ExtractionError{Index: spec.Index, Output: outPath, Err: err}
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return &ExtractionError{Index: spec.Index, Output: outPath, Err: fmt.Errorf("输出文件不存在: %w", err)}
	}
	if info.Size() <= wavHeaderSize {
		os.Remove(outPath)
		return &ExtractionError{Index: spec.Index, Output: outPath, Err: fmt.Errorf("输出文件为空 (%d 字节)", info.Size())}
	}

	utils.Debug("导出片段完成: %s (%s, 耗时 %v)", ChunkFileName(spec.Index), utils.FormatFileSize(info.Size()), time.Since(start))
	return nil
}

// ChunkFileName 返回片段文件名
func ChunkFileName(index int) string {
	return fmt.Sprintf("chunk_%03d.wav", index)
}

// CheckTools 检查 ffmpeg 和 ffprobe 是否可用
func CheckTools(ffmpegPath, ffprobePath string) error {
	if err := utils.CheckFFmpeg(ffmpegPath, ffprobePath); err != nil {
		return utils.NewError("缺少外部工具", err)
	}
	return nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
