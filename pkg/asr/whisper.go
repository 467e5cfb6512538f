package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const (
	// WhisperServiceName whisper 服务名称
	WhisperServiceName = "whisper"

	defaultWhisperURL = "http://localhost:8387"
)

var _ AvailabilityChecker = (*WhisperClient)(nil)

// WhisperClient 调用本地 faster-whisper HTTP 服务
// 超时由调用方的 context 控制
type WhisperClient struct {
	baseURL string
	client  *http.Client
}

// NewWhisperClient 创建 whisper 客户端，httpClient 为空时使用默认客户端
func NewWhisperClient(baseURL string, httpClient *http.Client) *WhisperClient {
	if baseURL == "" {
		baseURL = defaultWhisperURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &WhisperClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
	}
}

// Name 返回服务名称
func (c *WhisperClient) Name() string { return WhisperServiceName }

// IsAvailable 检查服务是否可达
func (c *WhisperClient) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type whisperResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Transcribe 上传片段并返回文本，只请求一次
func (c *WhisperClient) Transcribe(ctx context.Context, req Request) (string, error) {
	audioData, err := os.ReadFile(req.AudioPath)
	if err != nil {
		return "", &TranscriptionError{Kind: Fatal, Model: req.Model, Err: fmt.Errorf("读取音频文件失败: %w", err)}
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("audio", filepath.Base(req.AudioPath))
	if err != nil {
		return "", &TranscriptionError{Kind: Fatal, Model: req.Model, Err: err}
	}
	if _, err := part.Write(audioData); err != nil {
		return "", &TranscriptionError{Kind: Fatal, Model: req.Model, Err: err}
	}
	_ = writer.WriteField("model", req.Model)
	if req.Language != "" {
		_ = writer.WriteField("language", req.Language)
	}
	writer.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", &buf)
	if err != nil {
		return "", &TranscriptionError{Kind: Fatal, Model: req.Model, Err: err}
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", NewTranscriptionError(req.Model, fmt.Errorf("whisper 请求失败: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewTranscriptionError(req.Model, fmt.Errorf("读取 whisper 响应失败: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		var payload map[string]interface{}
		if jsonErr := json.Unmarshal(body, &payload); jsonErr != nil {
			payload = map[string]interface{}{"message": string(body)}
		}
		return "", &TranscriptionError{
			Kind:       ClassifyStatus(resp.StatusCode, payload),
			Model:      req.Model,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("whisper 错误 (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var result whisperResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &TranscriptionError{Kind: Transient, Model: req.Model, StatusCode: resp.StatusCode, Err: fmt.Errorf("解析 whisper 响应失败: %w", err)}
	}
	return result.Text, nil
}
