package models

import (
	"fmt"
	"time"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/utils"
)

// JobStatus 整体运行状态
type JobStatus string

const (
	StatusComplete       JobStatus = "complete"
	StatusPartialFailure JobStatus = "partial_failure"
)

// GapMarker 失败片段的占位标记，序号从1开始
// 合并文本和文本导出都用它，保证两处一致
func GapMarker(index, total int, start, end float64) string {
	return fmt.Sprintf("[CHUNK %d/%d FAILED %s-%s]", index+1, total, utils.FormatClock(start), utils.FormatClock(end))
}

// FailedChunk 失败片段的报告，便于调用方针对性重跑
type FailedChunk struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Kind  string  `json:"kind"`
	Error string  `json:"error"`
}

// PerformanceSummary 性能统计
type PerformanceSummary struct {
	TotalTime         time.Duration `json:"total_time"`
	ProbeTime         time.Duration `json:"probe_time"`
	ExtractionTime    time.Duration `json:"extraction_time"`
	TranscriptionTime time.Duration `json:"transcription_time"`
	AvgChunkTime      time.Duration `json:"avg_chunk_time"`
	CacheHits         int           `json:"cache_hits"`
	RetryAttempts     int           `json:"retry_attempts"`
	FallbackCount     int           `json:"fallback_count"`
	SucceededChunks   int           `json:"succeeded_chunks"`
	TotalChunks       int           `json:"total_chunks"`
}

// AggregateResult 一次运行的最终结果
type AggregateResult struct {
	RunID         string               `json:"run_id"`
	InputPath     string               `json:"input_path"`
	Service       string               `json:"service"` // 本次使用的ASR服务
	Duration      float64              `json:"duration"`
	PrimaryModel  string               `json:"primary_model"`
	FallbackModel string               `json:"fallback_model"`
	Status        JobStatus            `json:"status"`
	Tasks         []*TranscriptionTask `json:"-"` // 按片段序号排列
	MergedText    string               `json:"merged_text"`
	FailedChunks  []FailedChunk        `json:"failed_chunks"`
	Performance   PerformanceSummary   `json:"performance"`
	StartedAt     time.Time            `json:"started_at"`
	FinishedAt    time.Time            `json:"finished_at"`
}

// FailedIndices 返回失败片段序号
func (r *AggregateResult) FailedIndices() []int {
	indices := make([]int, 0, len(r.FailedChunks))
	for _, fc := range r.FailedChunks {
		indices = append(indices, fc.Index)
	}
	return indices
}

// IsComplete 所有片段是否都成功
func (r *AggregateResult) IsComplete() bool {
	return r.Status == StatusComplete
}

// Result 单个文件处理后的汇总信息，批量模式用来统计
type Result struct {
	FilePath      string            `json:"file_path"`       // 处理的文件路径
	Service       string            `json:"service"`         // 使用的ASR服务
	OutputFiles   map[string]string `json:"output_files"`    // 输出文件路径
	Status        JobStatus         `json:"status"`          // 运行状态
	ChunkCount    int               `json:"chunk_count"`     // 片段数
	FailedCount   int               `json:"failed_count"`    // 失败片段数
	DurationMs    int64             `json:"duration_ms"`     // 音频时长（毫秒）
	ProcessTimeMs int64             `json:"process_time_ms"` // 处理时间（毫秒）

	FailedChunks []FailedChunk      `json:"failed_chunks,omitempty"` // 失败片段及最后的错误
	Performance  PerformanceSummary `json:"performance"`             // 片段级性能统计
}
