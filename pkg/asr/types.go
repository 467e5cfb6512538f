package asr

import "context"

// Request 一次转写请求
type Request struct {
	AudioPath string // 片段文件路径
	Model     string // 模型标识
	Language  string // 语言提示，可为空
}

// Client 定义了语音识别服务的接口
// Transcribe 只调用一次远端服务，失败时返回可被 Classify 分类的错误，重试由 RetryPolicy 负责
type Client interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (string, error)
}

// AvailabilityChecker 可选接口，自动选择服务时用来跳过不可达的服务
type AvailabilityChecker interface {
	IsAvailable(ctx context.Context) bool
}
