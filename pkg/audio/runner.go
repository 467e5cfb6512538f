package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner 执行外部命令，返回标准输出
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner 通过 os/exec 执行命令
type ExecRunner struct{}

// Run 执行命令，失败时把 stderr 附在错误信息中
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return output, fmt.Errorf("%s 执行失败: %w", name, err)
		}
		// ffmpeg 的 stderr 很长，只保留最后一行
		if idx := strings.LastIndex(msg, "\n"); idx >= 0 {
			msg = msg[idx+1:]
		}
		return output, fmt.Errorf("%s 执行失败: %w: %s", name, err, msg)
	}
	return output, nil
}
