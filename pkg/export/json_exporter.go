package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/audio"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/utils"
)

// PerformanceMetrics 性能指标，时间单位为秒
type PerformanceMetrics struct {
	TotalTime         float64 `json:"total_time"`
	ProbeTime         float64 `json:"probe_time"`
	ExtractionTime    float64 `json:"extraction_time"`
	TranscriptionTime float64 `json:"transcription_time"`
	AvgChunkTime      float64 `json:"avg_chunk_time"`
	CacheHits         int     `json:"cache_hits"`
	RetryAttempts     int     `json:"retry_attempts"`
	FallbackCount     int     `json:"fallback_count"`
}

// Metadata 运行信息
type Metadata struct {
	RunID              string               `json:"run_id"`
	InputFile          string               `json:"input_file"`
	Duration           float64              `json:"duration"`
	Service            string               `json:"asr_service,omitempty"`
	ModelUsed          string               `json:"model_used"`
	FallbackModel      string               `json:"fallback_model,omitempty"`
	Status             models.JobStatus     `json:"status"`
	ChunksProcessed    int                  `json:"chunks_processed"`
	TotalChunks        int                  `json:"total_chunks"`
	FailedChunks       []int                `json:"failed_chunks"`
	Failures           []models.FailedChunk `json:"failures,omitempty"`
	StartedAt          string               `json:"started_at"`
	FinishedAt         string               `json:"finished_at"`
	PerformanceMetrics PerformanceMetrics   `json:"performance_metrics"`
}

// ChunkTimings 单个片段的耗时（秒）
type ChunkTimings struct {
	Extraction    float64 `json:"extraction"`
	Transcription float64 `json:"transcription"`
}

// ChunkTranscription 单个片段的转写记录
type ChunkTranscription struct {
	Index     int                    `json:"index"`
	Start     float64                `json:"start"`
	End       float64                `json:"end"`
	File      string                 `json:"file"`
	Status    models.TaskStatus      `json:"status"`
	ModelUsed string                 `json:"model_used"`
	Fallback  bool                   `json:"fallback"`
	Attempts  int                    `json:"attempts"`
	Text      string                 `json:"text,omitempty"`
	Error     string                 `json:"error,omitempty"`
	ErrorKind string                 `json:"error_kind,omitempty"`
	Timings   ChunkTimings           `json:"timings"`
	History   []models.AttemptRecord `json:"history,omitempty"`
}

// TranscriptDocument JSON 文件的完整结构
type TranscriptDocument struct {
	Metadata       Metadata             `json:"metadata"`
	Transcriptions []ChunkTranscription `json:"transcriptions"`
}

// JSONExporter 负责将转写结果导出为JSON文件
type JSONExporter struct {
	OutputFolder string
}

// NewJSONExporter 创建一个新的JSON导出器
func NewJSONExporter(outputFolder string) *JSONExporter {
	return &JSONExporter{
		OutputFolder: outputFolder,
	}
}

// OutputPath 返回输入文件对应的 json 路径
func (e *JSONExporter) OutputPath(inputPath string) string {
	return filepath.Join(e.OutputFolder, utils.BaseName(inputPath)+"_transcript.json")
}

// GenerateJSONContent 根据运行结果生成文档结构
func (e *JSONExporter) GenerateJSONContent(result *models.AggregateResult) TranscriptDocument {
	perf := result.Performance
	doc := TranscriptDocument{
		Metadata: Metadata{
			RunID:           result.RunID,
			InputFile:       result.InputPath,
			Duration:        result.Duration,
			Service:         result.Service,
			ModelUsed:       result.PrimaryModel,
			FallbackModel:   result.FallbackModel,
			Status:          result.Status,
			ChunksProcessed: perf.SucceededChunks,
			TotalChunks:     perf.TotalChunks,
			FailedChunks:    result.FailedIndices(),
			Failures:        result.FailedChunks,
			StartedAt:       formatTime(result.StartedAt),
			FinishedAt:      formatTime(result.FinishedAt),
			PerformanceMetrics: PerformanceMetrics{
				TotalTime:         perf.TotalTime.Seconds(),
				ProbeTime:         perf.ProbeTime.Seconds(),
				ExtractionTime:    perf.ExtractionTime.Seconds(),
				TranscriptionTime: perf.TranscriptionTime.Seconds(),
				AvgChunkTime:      perf.AvgChunkTime.Seconds(),
				CacheHits:         perf.CacheHits,
				RetryAttempts:     perf.RetryAttempts,
				FallbackCount:     perf.FallbackCount,
			},
		},
		Transcriptions: make([]ChunkTranscription, 0, len(result.Tasks)),
	}

	for _, task := range result.Tasks {
		doc.Transcriptions = append(doc.Transcriptions, ChunkTranscription{
			Index:     task.Chunk.Index,
			Start:     task.Chunk.Start,
			End:       task.Chunk.End,
			File:      audio.ChunkFileName(task.Chunk.Index),
			Status:    task.Status,
			ModelUsed: task.ModelUsed,
			Fallback:  task.FallbackUsed,
			Attempts:  task.TotalAttempts,
			Text:      task.Text,
			Error:     task.ErrorMessage(),
			ErrorKind: task.ErrorKind,
			Timings: ChunkTimings{
				Extraction:    task.Timings.Extraction.Seconds(),
				Transcription: task.Timings.Transcription.Seconds(),
			},
			History: task.Attempts,
		})
	}
	return doc
}

// ExportJSON 导出JSON格式文件
func (e *JSONExporter) ExportJSON(result *models.AggregateResult) (string, error) {
	outputFile := e.OutputPath(result.InputPath)
	if err := utils.SaveJSONFile(outputFile, e.GenerateJSONContent(result)); err != nil {
		return "", fmt.Errorf("写入JSON文件失败: %w", err)
	}

	utils.Info("已导出JSON文件: %s", outputFile)
	return outputFile, nil
}

// ReadStatus 读取已导出记录中的运行状态
func (e *JSONExporter) ReadStatus(inputPath string) (models.JobStatus, error) {
	data, err := os.ReadFile(e.OutputPath(inputPath))
	if err != nil {
		return "", err
	}

	var doc struct {
		Metadata struct {
			Status models.JobStatus `json:"status"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("解析JSON记录失败: %w", err)
	}
	return doc.Metadata.Status, nil
}
