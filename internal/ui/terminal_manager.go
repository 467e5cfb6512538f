package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// TerminalManager 管理终端输出，确保进度条和消息不会混乱
type TerminalManager struct {
	mu     sync.Mutex
	writer io.Writer
	active bool // 当前行是否为进度条
}

var (
	// 全局终端管理器实例
	globalTerminalManager *TerminalManager
	once                  sync.Once
)

// GetTerminalManager 获取全局终端管理器实例
func GetTerminalManager() *TerminalManager {
	once.Do(func() {
		globalTerminalManager = NewTerminalManager(os.Stdout)
	})
	return globalTerminalManager
}

// NewTerminalManager 创建输出到 w 的终端管理器
func NewTerminalManager(w io.Writer) *TerminalManager {
	return &TerminalManager{writer: w}
}

// PrintMsg 安全地打印消息
func (tm *TerminalManager) PrintMsg(format string, args ...interface{}) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	// 清除当前行，以防止与进度条冲突
	if tm.active {
		fmt.Fprint(tm.writer, "\033[2K\r")
		tm.active = false
	}
	fmt.Fprintf(tm.writer, format+"\n", args...)
}

// UpdateProgress 覆盖当前行显示进度
func (tm *TerminalManager) UpdateProgress(line string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	// 直接打印文本，避免%造成的问题
	fmt.Fprint(tm.writer, "\033[2K\r"+line)
	tm.active = true
}

// EndProgress 结束进度行并换行
func (tm *TerminalManager) EndProgress() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.active {
		fmt.Fprintln(tm.writer)
		tm.active = false
	}
}
