package asr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/utils"
	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrNoService 没有可用的ASR服务
	ErrNoService = errors.New("没有可用的ASR服务")
	// ErrMissingCredentials 缺少调用远端服务所需的凭据
	ErrMissingCredentials = errors.New("缺少 API 凭据")
)

// ErrorKind 转写错误的分类
type ErrorKind int

const (
	// RateLimited 被限流，退避后重试
	RateLimited ErrorKind = iota + 1
	// Transient 网络错误或超时，退避后重试
	Transient
	// ModelUnavailable 模型不存在或不可用，切换到回退模型
	ModelUnavailable
	// Fatal 不可恢复，不重试
	Fatal
)

func (k ErrorKind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case Transient:
		return "transient"
	case ModelUnavailable:
		return "model_unavailable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Retryable 同一模型下是否值得重试
func (k ErrorKind) Retryable() bool {
	return k == RateLimited || k == Transient
}

// TranscriptionError 已分类的转写错误
type TranscriptionError struct {
	Kind       ErrorKind
	Model      string
	StatusCode int
	Err        error
}

func (e *TranscriptionError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("转写失败 [%s, model=%s, status=%d]: %v", e.Kind, e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("转写失败 [%s, model=%s]: %v", e.Kind, e.Model, e.Err)
}

// Unwrap 支持error chain
func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// NewTranscriptionError 对原始错误分类并包装
func NewTranscriptionError(model string, err error) *TranscriptionError {
	return &TranscriptionError{
		Kind:       Classify(err),
		Model:      model,
		StatusCode: statusCodeOf(err),
		Err:        err,
	}
}

// Classify 把任意错误映射到固定的分类
// 远端返回的松散错误只在这里和 ClassifyStatus 中检查
func Classify(err error) ErrorKind {
	if err == nil {
		return 0
	}

	var te *TranscriptionError
	if errors.As(err, &te) {
		return te.Kind
	}

	// 先看上下文：取消是调用方的决定，单次请求超时按瞬时错误处理
	if errors.Is(err, context.Canceled) {
		return Fatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return ClassifyStatus(apiErr.HTTPStatusCode, apiErrorPayload(apiErr))
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return ClassifyStatus(reqErr.HTTPStatusCode, map[string]interface{}{"message": msg})
	}

	// 片段文件不存在，重试也没有意义
	if errors.Is(err, os.ErrNotExist) {
		return Fatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}

	return Transient
}

// ClassifyStatus 根据 HTTP 状态码和错误内容分类
// payload 中的 code/type/message 可以在顶层，也可以嵌套在 error 字段下
func ClassifyStatus(status int, payload map[string]interface{}) ErrorKind {
	code, typ, msg := payloadFields(payload)

	if code == "insufficient_quota" || mentionsQuota(msg) {
		return Fatal
	}

	if status == http.StatusTooManyRequests {
		return RateLimited
	}

	if isModelUnavailable(code, typ, msg) {
		return ModelUnavailable
	}

	switch {
	case status == 0:
		// 没有状态码：连接层面的失败
		if code == "rate_limit_exceeded" || typ == "rate_limit_error" {
			return RateLimited
		}
		return Transient
	case status == http.StatusRequestTimeout, status == http.StatusConflict, status >= 500:
		return Transient
	case status == http.StatusNotFound:
		return ModelUnavailable
	case status >= 400:
		return Fatal
	}
	return Transient
}

func payloadFields(payload map[string]interface{}) (code, typ, msg string) {
	code = utils.GetStringValue(payload, "code", "")
	typ = utils.GetStringValue(payload, "type", "")
	msg = utils.GetStringValue(payload, "message", "")

	if nested := utils.GetMapValue(payload, "error"); nested != nil {
		if code == "" {
			code = utils.GetStringValue(nested, "code", "")
		}
		if typ == "" {
			typ = utils.GetStringValue(nested, "type", "")
		}
		if msg == "" {
			msg = utils.GetStringValue(nested, "message", "")
		}
	} else if msg == "" {
		// {"error": "..."} 形式
		msg = utils.GetStringValue(payload, "error", "")
	}

	return strings.ToLower(code), strings.ToLower(typ), strings.ToLower(msg)
}

func mentionsQuota(msg string) bool {
	return strings.Contains(msg, "quota") || strings.Contains(msg, "billing")
}

func isModelUnavailable(code, typ, msg string) bool {
	if code == "model_not_found" || typ == "model_not_found" {
		return true
	}
	if !strings.Contains(msg, "model") {
		return false
	}
	for _, phrase := range []string{"does not exist", "not supported", "not available", "not found"} {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

func apiErrorPayload(apiErr *openai.APIError) map[string]interface{} {
	payload := map[string]interface{}{
		"type":    apiErr.Type,
		"message": apiErr.Message,
	}
	if code, ok := apiErr.Code.(string); ok {
		payload["code"] = code
	}
	return payload
}

func statusCodeOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var te *TranscriptionError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}
