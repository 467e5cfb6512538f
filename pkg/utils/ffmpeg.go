package utils

import (
	"fmt"
	"os/exec"
)

// CheckFFmpeg 检查ffmpeg与ffprobe是否可用，返回第一个找不到的工具
func CheckFFmpeg(ffmpegPath, ffprobePath string) error {
	for _, exe := range []string{ffmpegPath, ffprobePath} {
		if _, err := exec.LookPath(exe); err != nil {
			return fmt.Errorf("'%s' 未安装或不在 PATH 中: %w", exe, err)
		}
	}
	return nil
}
