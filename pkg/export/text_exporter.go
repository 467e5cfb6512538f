package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/audio"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/utils"
)

// TextExporter 负责将合并后的转写文本写入 txt 文件
type TextExporter struct {
	OutputFolder string
	ChunkHeaders bool // 多片段时在每段前写 [Chunk i/N - 文件名]
}

// NewTextExporter 创建一个新的文本导出器
func NewTextExporter(outputFolder string, chunkHeaders bool) *TextExporter {
	return &TextExporter{
		OutputFolder: outputFolder,
		ChunkHeaders: chunkHeaders,
	}
}

// OutputPath 返回输入文件对应的 txt 路径
func (e *TextExporter) OutputPath(inputPath string) string {
	return filepath.Join(e.OutputFolder, utils.BaseName(inputPath)+"_transcript.txt")
}

// GenerateTextContent 生成文本内容
// 不带标题时与 AggregateResult.MergedText 一致；失败片段始终保留占位标记
func (e *TextExporter) GenerateTextContent(result *models.AggregateResult) string {
	total := len(result.Tasks)
	if !e.ChunkHeaders || total <= 1 {
		if result.MergedText == "" {
			return ""
		}
		return result.MergedText + "\n"
	}

	var b strings.Builder
	for _, task := range result.Tasks {
		b.WriteString(fmt.Sprintf("[Chunk %d/%d - %s]\n", task.Chunk.Index+1, total, audio.ChunkFileName(task.Chunk.Index)))
		if task.Status == models.TaskSucceeded {
			b.WriteString(strings.TrimSpace(task.Text))
		} else {
			b.WriteString(models.GapMarker(task.Chunk.Index, total, task.Chunk.Start, task.Chunk.End))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

// ExportText 写入 txt 文件
func (e *TextExporter) ExportText(result *models.AggregateResult) (string, error) {
	if err := utils.EnsureDirExists(e.OutputFolder); err != nil {
		return "", fmt.Errorf("创建输出目录失败: %w", err)
	}

	outputFile := e.OutputPath(result.InputPath)
	if err := os.WriteFile(outputFile, []byte(e.GenerateTextContent(result)), 0644); err != nil {
		return "", fmt.Errorf("写入文本文件失败: %w", err)
	}

	utils.Info("已导出文本: %s", outputFile)
	return outputFile, nil
}
