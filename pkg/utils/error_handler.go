package utils

import (
	"fmt"
	"sort"
	"sync"
)

// AudioToolsError 是音频工具错误的基础类型
type AudioToolsError struct {
	Message string
	Cause   error
}

// Error 实现error接口
func (e *AudioToolsError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause.Error())
	}
	return e.Message
}

// Unwrap 支持error chain
func (e *AudioToolsError) Unwrap() error {
	return e.Cause
}

// NewError 创建一个新的AudioToolsError
func NewError(message string, cause error) error {
	return &AudioToolsError{
		Message: message,
		Cause:   cause,
	}
}

// ErrorHandler 汇总各个操作的错误，并在失败时执行清理
// 多个 worker 会同时上报错误，内部用互斥锁保护
type ErrorHandler struct {
	mu         sync.Mutex
	errorStats map[string]map[string]int // 操作 -> 错误信息 -> 计数
}

// NewErrorHandler 创建新的错误处理器
func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{
		errorStats: make(map[string]map[string]int),
	}
}

// Record 记录一次操作失败
func (h *ErrorHandler) Record(operation string, err error) {
	if err == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.errorStats[operation] == nil {
		h.errorStats[operation] = make(map[string]int)
	}
	h.errorStats[operation][err.Error()]++
}

// SafeExecute 安全地执行函数，并在失败时进行清理
func (h *ErrorHandler) SafeExecute(operation string, fn func() error, cleanup func()) error {
	err := fn()
	if err != nil {
		h.Record(operation, err)

		if cleanup != nil {
			Debug("操作 %s 失败，执行清理...", operation)
			cleanup()
		}

		return NewError(fmt.Sprintf("操作 %s 失败", operation), err)
	}
	return nil
}

// GetErrorStats 获取错误统计信息的副本
func (h *ErrorHandler) GetErrorStats() map[string]map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := make(map[string]map[string]int, len(h.errorStats))
	for op, errs := range h.errorStats {
		inner := make(map[string]int, len(errs))
		for msg, count := range errs {
			inner[msg] = count
		}
		stats[op] = inner
	}
	return stats
}

// Total 返回某个操作的错误总数
func (h *ErrorHandler) Total(operation string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	total := 0
	for _, count := range h.errorStats[operation] {
		total += count
	}
	return total
}

// PrintErrorStats 打印错误统计信息
func (h *ErrorHandler) PrintErrorStats() {
	stats := h.GetErrorStats()
	if len(stats) == 0 {
		Debug("没有错误记录")
		return
	}

	operations := make([]string, 0, len(stats))
	for op := range stats {
		operations = append(operations, op)
	}
	sort.Strings(operations)

	Info("错误统计:")
	for _, operation := range operations {
		Info("操作: %s", operation)
		for errMsg, count := range stats[operation] {
			Info("  - %s: %d次", errMsg, count)
		}
	}
}
