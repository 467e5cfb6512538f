package asr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/models"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/utils"
	"github.com/sirupsen/logrus"
)

// PolicyConfig 重试与回退参数
type PolicyConfig struct {
	PrimaryModel   string
	FallbackModel  string // 为空或与主模型相同表示不回退
	MaxAttempts    int    // 每个模型的最大尝试次数
	BackoffBase    time.Duration
	MaxBackoff     time.Duration // 0 表示不设上限
	RequestTimeout time.Duration // 单次尝试超时，0 表示不限制
}

// PolicyConfigFromConfig 从应用配置构造策略参数
func PolicyConfigFromConfig(cfg models.Config) PolicyConfig {
	return PolicyConfig{
		PrimaryModel:   cfg.PrimaryModel,
		FallbackModel:  cfg.FallbackModel,
		MaxAttempts:    cfg.MaxAttempts,
		BackoffBase:    cfg.BackoffBaseDuration(),
		MaxBackoff:     cfg.MaxBackoffDuration(),
		RequestTimeout: cfg.RequestTimeoutDuration(),
	}
}

// CallFunc 用指定模型执行一次转写
type CallFunc func(ctx context.Context, model string) (string, error)

type policyState int

const (
	stateAttempting policyState = iota
	stateEscalating
	stateFailedFinal
)

// RetryPolicy 为单个片段执行有界重试、指数退避和一次模型回退
type RetryPolicy struct {
	cfg    PolicyConfig
	sleep  func(ctx context.Context, d time.Duration) error
	errors *utils.ErrorHandler
}

// NewRetryPolicy 创建重试策略
func NewRetryPolicy(cfg PolicyConfig) *RetryPolicy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &RetryPolicy{
		cfg:   cfg,
		sleep: sleepContext,
	}
}

// WithErrorHandler 把每次失败记录到错误统计中
func (p *RetryPolicy) WithErrorHandler(h *utils.ErrorHandler) *RetryPolicy {
	p.errors = h
	return p
}

// MaxTotalAttempts 单个任务最多的尝试次数
func (p *RetryPolicy) MaxTotalAttempts() int {
	if p.hasFallback() {
		return 2 * p.cfg.MaxAttempts
	}
	return p.cfg.MaxAttempts
}

func (p *RetryPolicy) hasFallback() bool {
	return p.cfg.FallbackModel != "" && p.cfg.FallbackModel != p.cfg.PrimaryModel
}

// Backoff 第 attempt 次失败后的等待时间：base * 2^(attempt-1)，不超过 MaxBackoff
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.cfg.MaxBackoff > 0 && d >= p.cfg.MaxBackoff {
			return p.cfg.MaxBackoff
		}
	}
	if p.cfg.MaxBackoff > 0 && d > p.cfg.MaxBackoff {
		return p.cfg.MaxBackoff
	}
	return d
}

// Execute 运行状态机直到任务成功或最终失败，只修改传入的 task
func (p *RetryPolicy) Execute(ctx context.Context, task *models.TranscriptionTask, call CallFunc) {
	task.Status = models.TaskRunning
	task.ModelUsed = p.cfg.PrimaryModel
	task.Attempt = 1

	log := utils.WithField("chunk", task.Chunk.Index)
	fallbackTried := false
	state := stateAttempting

	var (
		lastErr  error
		lastKind ErrorKind
	)

	for {
		switch state {
		case stateAttempting:
			if err := ctx.Err(); err != nil {
				lastErr = &TranscriptionError{Kind: Fatal, Model: task.ModelUsed, Err: err}
				lastKind = Fatal
				state = stateFailedFinal
				continue
			}

			text, err := p.attempt(ctx, task, call)
			if err == nil {
				task.Succeed(text)
				if task.FallbackUsed {
					log.WithField("model", task.ModelUsed).Warnf("使用回退模型完成转写")
				}
				return
			}

			lastErr = err
			lastKind = Classify(err)
			entry := log.WithFields(logrus.Fields{
				"model":   task.ModelUsed,
				"attempt": task.Attempt,
				"kind":    lastKind.String(),
			})

			switch {
			case lastKind == Fatal:
				entry.Errorf("转写失败，不再重试: %v", err)
				state = stateFailedFinal
			case lastKind == ModelUnavailable:
				entry.Warnf("模型不可用: %v", err)
				state = stateEscalating
			case task.Attempt < p.cfg.MaxAttempts:
				delay := p.Backoff(task.Attempt)
				entry.Warnf("重试 %d/%d，%v 后重试: %v", task.Attempt, p.cfg.MaxAttempts, delay, err)
				if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
					lastErr = &TranscriptionError{Kind: Fatal, Model: task.ModelUsed, Err: fmt.Errorf("等待重试时被取消: %w", sleepErr)}
					lastKind = Fatal
					state = stateFailedFinal
					continue
				}
				task.Attempt++
			default:
				entry.Warnf("已用完 %d 次尝试: %v", p.cfg.MaxAttempts, err)
				state = stateEscalating
			}

		case stateEscalating:
			if p.hasFallback() && !fallbackTried {
				fallbackTried = true
				log.WithFields(logrus.Fields{
					"from": task.ModelUsed,
					"to":   p.cfg.FallbackModel,
				}).Warnf("切换到回退模型")
				task.ModelUsed = p.cfg.FallbackModel
				task.FallbackUsed = true
				task.Attempt = 1
				state = stateAttempting
			} else {
				state = stateFailedFinal
			}

		case stateFailedFinal:
			task.Fail(lastKind.String(), lastErr)
			return
		}
	}
}

// attempt 执行一次调用，记录耗时和尝试记录，返回已分类的错误
func (p *RetryPolicy) attempt(ctx context.Context, task *models.TranscriptionTask, call CallFunc) (string, error) {
	attemptCtx := ctx
	if p.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	text, err := call(attemptCtx, task.ModelUsed)
	elapsed := time.Since(start)

	task.TotalAttempts++
	task.Timings.Transcription += elapsed

	record := models.AttemptRecord{
		Model:    task.ModelUsed,
		Attempt:  task.Attempt,
		Duration: elapsed,
	}

	if err != nil {
		// 单次超时但调用方没有取消：按瞬时错误处理
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && Classify(err) != Transient {
			err = &TranscriptionError{Kind: Transient, Model: task.ModelUsed, Err: err}
		}
		var te *TranscriptionError
		if !errors.As(err, &te) {
			err = NewTranscriptionError(task.ModelUsed, err)
		}
		record.Kind = Classify(err).String()
		record.Error = err.Error()
		if p.errors != nil {
			p.errors.Record("转写 "+task.ModelUsed, err)
		}
	}

	task.Attempts = append(task.Attempts, record)
	return text, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
