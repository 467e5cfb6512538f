// Package export 把一次转写运行的结果写成 txt/json/srt 文件
package export

import (
	"os"
	"time"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/utils"
)

// Writer 根据配置写出所有结果文件
type Writer struct {
	exportJSON bool
	exportSRT  bool

	Text *TextExporter
	JSON *JSONExporter
	SRT  *SRTExporter
}

// NewWriter 创建结果写入器
func NewWriter(cfg *models.Config) *Writer {
	return &Writer{
		exportJSON: cfg.ExportJSON,
		exportSRT:  cfg.ExportSRT,
		Text:       NewTextExporter(cfg.OutputFolder, cfg.ChunkHeaders),
		JSON:       NewJSONExporter(cfg.OutputFolder),
		SRT:        NewSRTExporter(cfg.OutputFolder),
	}
}

// Write 写出结果文件，返回类型到路径的映射
// txt 写入失败返回错误；json 和 srt 失败只记录警告
func (w *Writer) Write(result *models.AggregateResult) (map[string]string, error) {
	outputFiles := make(map[string]string)

	textPath, err := w.Text.ExportText(result)
	if err != nil {
		return nil, err
	}
	outputFiles["txt"] = textPath

	if w.exportJSON {
		jsonPath, err := w.JSON.ExportJSON(result)
		if err != nil {
			utils.Warn("导出JSON文件失败: %v", err)
		} else {
			outputFiles["json"] = jsonPath
		}
	}

	if w.exportSRT && result.Performance.SucceededChunks > 0 {
		srtPath, err := w.SRT.ExportSRT(result)
		if err != nil {
			utils.Warn("导出SRT字幕失败: %v", err)
		} else {
			outputFiles["srt"] = srtPath
		}
	}

	return outputFiles, nil
}

// Completed 判断输入文件是否已完整转写过
// 导出JSON时以记录中的状态为准，部分失败的文件会被重新转写；不导出JSON时只能以文本文件是否存在判断
func (w *Writer) Completed(inputPath string) bool {
	if !w.exportJSON {
		return utils.CheckFileExists(w.Text.OutputPath(inputPath))
	}

	status, err := w.JSON.ReadStatus(inputPath)
	if err != nil {
		if !os.IsNotExist(err) {
			utils.Warn("读取转写记录失败，将重新转写: %v", err)
		}
		return false
	}
	return status == models.StatusComplete
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
