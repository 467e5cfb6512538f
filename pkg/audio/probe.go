package audio

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/utils"
)

// Prober 使用 ffprobe 获取媒体时长
type Prober struct {
	FFprobePath string
	Runner      CommandRunner
}

// NewProber 创建探测器，ffprobePath 为空时使用 PATH 中的 ffprobe
func NewProber(ffprobePath string, runner CommandRunner) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Prober{FFprobePath: ffprobePath, Runner: runner}
}

// Duration 返回媒体总时长（秒）
// 探测失败、输出无法解析或时长不为正数时返回 ErrInvalidMedia
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	start := time.Now()
	output, err := p.Runner.Run(ctx, p.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: 获取时长失败: %v", ErrInvalidMedia, err)
	}

	duration, err := parseDuration(string(output))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidMedia, path, err)
	}

	utils.Debug("ffprobe %s: %.2fs (耗时 %v)", path, duration, time.Since(start))
	return duration, nil
}

func parseDuration(output string) (float64, error) {
	text := strings.TrimSpace(output)
	if text == "" {
		return 0, fmt.Errorf("ffprobe 没有输出时长")
	}
	// 容器带多个 format 行时取第一行
	if idx := strings.IndexAny(text, "\r\n"); idx >= 0 {
		text = strings.TrimSpace(text[:idx])
	}
	duration, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("无法解析时长 %q", text)
	}
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration <= 0 {
		return 0, fmt.Errorf("时长不合法: %v", duration)
	}
	return duration, nil
}
