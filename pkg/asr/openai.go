package asr

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIServiceName openai 服务名称
const OpenAIServiceName = "openai"

// audioTranscriber 是 go-openai 客户端中用到的部分，测试时替换
type audioTranscriber interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// OpenAIClient 调用 OpenAI 兼容的 /audio/transcriptions 接口
type OpenAIClient struct {
	client audioTranscriber
}

// NewOpenAIClient 创建 OpenAI 客户端，baseURL 为空时使用官方地址
func NewOpenAIClient(apiKey, baseURL string) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: 未设置 OPENAI_API_KEY", ErrMissingCredentials)
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}, nil
}

// Name 返回服务名称
func (c *OpenAIClient) Name() string { return OpenAIServiceName }

// Transcribe 上传片段并返回文本，只请求一次
func (c *OpenAIClient) Transcribe(ctx context.Context, req Request) (string, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    req.Model,
		FilePath: req.AudioPath,
		Language: req.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", NewTranscriptionError(req.Model, err)
	}
	return resp.Text, nil
}
