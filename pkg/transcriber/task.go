package transcriber

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/asr"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/audio"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/utils"
	"github.com/sirupsen/logrus"
)

// KindExtraction 片段导出失败时记录的错误类型
const KindExtraction = "extraction"

// runTask 处理一个片段：导出、转写、清理
// 只写入自己的 task，任何错误都不会向外传播
func (t *Transcriber) runTask(ctx context.Context, client asr.Client, runID, source, workDir string, task *models.TranscriptionTask, total int) {
	log := utils.WithFields(logrus.Fields{
		"run_id": runID,
		"chunk":  task.Chunk.Index,
	})

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("片段处理发生panic: %v", r)
			task.Fail(asr.Fatal.String(), fmt.Errorf("片段 %d 处理异常: %v", task.Chunk.Index, r))
		}
	}()

	if err := ctx.Err(); err != nil {
		task.Fail(asr.Fatal.String(), err)
		return
	}

	outPath := filepath.Join(workDir, audio.ChunkFileName(task.Chunk.Index))
	op := fmt.Sprintf("导出片段 %d/%d", task.Chunk.Index+1, total)

	start := time.Now()
	err := t.deps.Errors.SafeExecute(op, func() error {
		return t.deps.Extractor.Extract(ctx, source, task.Chunk, outPath)
	}, func() {
		os.Remove(outPath)
	})
	task.Timings.Extraction = time.Since(start)
	if err != nil {
		log.Warnf("片段导出失败: %v", err)
		task.Fail(KindExtraction, err)
		return
	}
	task.Chunk.SourcePath = outPath

	if !t.cfg.KeepChunks {
		defer os.Remove(outPath)
	}

	t.policy.Execute(ctx, task, func(ctx context.Context, model string) (string, error) {
		return client.Transcribe(ctx, asr.Request{
			AudioPath: outPath,
			Model:     model,
			Language:  t.cfg.Language,
		})
	})

	if task.Status == models.TaskSucceeded {
		log.Debugf("片段完成，尝试 %d 次，耗时 %v", task.TotalAttempts, task.Timings.Total().Round(time.Millisecond))
	}
}
