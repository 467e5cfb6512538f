package export

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/utils"
)

// SRTExporter 负责将转写结果导出为SRT字幕文件，每个成功片段一条字幕
type SRTExporter struct {
	OutputFolder string
}

// NewSRTExporter 创建一个新的SRT导出器
func NewSRTExporter(outputFolder string) *SRTExporter {
	return &SRTExporter{
		OutputFolder: outputFolder,
	}
}

// OutputPath 返回输入文件对应的 srt 路径
func (e *SRTExporter) OutputPath(inputPath string) string {
	return filepath.Join(e.OutputFolder, utils.BaseName(inputPath)+".srt")
}

// FormatSRTTime 将秒数格式化为SRT时间格式 (HH:MM:SS,mmm)
func FormatSRTTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMs := int64(math.Round(seconds * 1000))
	hours := totalMs / 3600000
	minutes := (totalMs % 3600000) / 60000
	secs := (totalMs % 60000) / 1000
	milliseconds := totalMs % 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, milliseconds)
}

// GenerateSRTContent 生成SRT格式内容，序号连续，跳过失败和空白片段
func (e *SRTExporter) GenerateSRTContent(result *models.AggregateResult) string {
	var srtLines []string
	cue := 0

	for _, task := range result.Tasks {
		text := strings.TrimSpace(task.Text)
		if task.Status != models.TaskSucceeded || text == "" {
			continue
		}
		cue++

		srtLines = append(srtLines, fmt.Sprintf("%d", cue))
		srtLines = append(srtLines, fmt.Sprintf("%s --> %s", FormatSRTTime(task.Chunk.Start), FormatSRTTime(task.Chunk.End)))
		srtLines = append(srtLines, text)
		srtLines = append(srtLines, "") // 空行分隔
	}

	return strings.Join(srtLines, "\n")
}

// ExportSRT 导出SRT格式字幕文件
func (e *SRTExporter) ExportSRT(result *models.AggregateResult) (string, error) {
	if err := utils.EnsureDirExists(e.OutputFolder); err != nil {
		return "", fmt.Errorf("创建输出目录失败: %w", err)
	}

	outputFile := e.OutputPath(result.InputPath)
	if err := os.WriteFile(outputFile, []byte(e.GenerateSRTContent(result)), 0644); err != nil {
		return "", fmt.Errorf("写入SRT文件失败: %w", err)
	}

	utils.Info("已导出SRT字幕: %s", outputFile)
	return outputFile, nil
}
