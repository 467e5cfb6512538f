package transcriber

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/models"
)

// AggregateInput 汇总所需的全部数据
type AggregateInput struct {
	RunID         string
	InputPath     string
	Service       string
	Duration      float64
	PrimaryModel  string
	FallbackModel string
	Tasks         []*models.TranscriptionTask
	CacheHits     int
	ProbeTime     time.Duration
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Aggregate 按片段序号排序，合并文本并统计性能
// 失败片段以 models.GapMarker 占位，不会被静默丢弃
func Aggregate(in AggregateInput) *models.AggregateResult {
	tasks := make([]*models.TranscriptionTask, 0, len(in.Tasks))
	for _, task := range in.Tasks {
		if task != nil {
			tasks = append(tasks, task)
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Chunk.Index < tasks[j].Chunk.Index
	})

	total := len(tasks)
	perf := models.PerformanceSummary{
		TotalTime:   in.FinishedAt.Sub(in.StartedAt),
		ProbeTime:   in.ProbeTime,
		CacheHits:   in.CacheHits,
		TotalChunks: total,
	}

	parts := make([]string, 0, total)
	failed := make([]models.FailedChunk, 0)

	for _, task := range tasks {
		perf.ExtractionTime += task.Timings.Extraction
		perf.TranscriptionTime += task.Timings.Transcription
		if task.TotalAttempts > 1 {
			perf.RetryAttempts += task.TotalAttempts - 1
		}
		if task.FallbackUsed {
			perf.FallbackCount++
		}

		if task.Status == models.TaskSucceeded {
			perf.SucceededChunks++
			if text := strings.TrimSpace(task.Text); text != "" {
				parts = append(parts, text)
			}
			continue
		}

		// 未成功的片段一律按失败处理
		kind := task.ErrorKind
		msg := task.ErrorMessage()
		if task.Status != models.TaskFailedFinal {
			kind = "incomplete"
			msg = fmt.Sprintf("片段状态为 %s", task.Status)
		}
		failed = append(failed, models.FailedChunk{
			Index: task.Chunk.Index,
			Start: task.Chunk.Start,
			End:   task.Chunk.End,
			Kind:  kind,
			Error: msg,
		})
		parts = append(parts, models.GapMarker(task.Chunk.Index, total, task.Chunk.Start, task.Chunk.End))
	}

	if total > 0 {
		perf.AvgChunkTime = (perf.ExtractionTime + perf.TranscriptionTime) / time.Duration(total)
	}

	status := models.StatusComplete
	if len(failed) > 0 {
		status = models.StatusPartialFailure
	}

	return &models.AggregateResult{
		RunID:         in.RunID,
		InputPath:     in.InputPath,
		Service:       in.Service,
		Duration:      in.Duration,
		PrimaryModel:  in.PrimaryModel,
		FallbackModel: in.FallbackModel,
		Status:        status,
		Tasks:         tasks,
		MergedText:    strings.Join(parts, "\n\n"),
		FailedChunks:  failed,
		Performance:   perf,
		StartedAt:     in.StartedAt,
		FinishedAt:    in.FinishedAt,
	}
}
