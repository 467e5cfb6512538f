// Package watcher 监听文件夹，新出现的媒体文件稳定后交给转写
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ccp-p/asr-media-cli/transcriber/internal/adapters"
	"github.com/ccp-p/asr-media-cli/transcriber/pkg/utils"
	"github.com/fsnotify/fsnotify"
)

// FileEventHandler 是处理文件事件的接口
type FileEventHandler interface {
	OnFileCreated(filePath string)
	OnFileDeleted(filePath string)
}

// FolderMonitor 监控文件夹变化
type FolderMonitor struct {
	watcher        *fsnotify.Watcher
	folderPath     string
	fileExtensions []string
	handler        FileEventHandler
	debounceTime   time.Duration
	pendingFiles   map[string]*time.Timer
	mutex          sync.Mutex
	stopChan       chan struct{}
	stopOnce       sync.Once
}

// NewFolderMonitor 创建新的文件夹监控器
func NewFolderMonitor(folderPath string, extensions []string, handler FileEventHandler, debounceTime time.Duration) (*FolderMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	return &FolderMonitor{
		watcher:        watcher,
		folderPath:     folderPath,
		fileExtensions: extensions,
		handler:        handler,
		debounceTime:   debounceTime,
		pendingFiles:   make(map[string]*time.Timer),
		stopChan:       make(chan struct{}),
	}, nil
}

// Start 开始监控文件夹
func (m *FolderMonitor) Start() error {
	// 确保文件夹存在
	if err := os.MkdirAll(m.folderPath, 0755); err != nil {
		return fmt.Errorf("创建文件夹失败: %w", err)
	}

	if err := m.watcher.Add(m.folderPath); err != nil {
		return fmt.Errorf("添加监控文件夹失败: %w", err)
	}

	go m.watchLoop()

	utils.Info("开始监控文件夹: %s", m.folderPath)
	return nil
}

// Stop 停止监控，可重复调用
func (m *FolderMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.watcher.Close()
		utils.Info("停止监控文件夹: %s", m.folderPath)

		// 取消所有待处理的文件定时器
		m.mutex.Lock()
		defer m.mutex.Unlock()
		for path, timer := range m.pendingFiles {
			timer.Stop()
			delete(m.pendingFiles, path)
		}
	})
}

// watchLoop 监控循环
func (m *FolderMonitor) watchLoop() {
	for {
		select {
		case <-m.stopChan:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleFileEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			utils.Error("监控文件夹时出错: %v", err)
		}
	}
}

// 处理文件事件：创建和写入会重置去抖定时器，删除和移走会取消定时器
func (m *FolderMonitor) handleFileEvent(event fsnotify.Event) {
	filePath := event.Name

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		m.mutex.Lock()
		if timer, exists := m.pendingFiles[filePath]; exists {
			timer.Stop()
			delete(m.pendingFiles, filePath)
		}
		m.mutex.Unlock()
		if m.handler != nil && m.hasTargetExt(filePath) {
			m.handler.OnFileDeleted(filePath)
		}
		return
	}

	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if !m.isTargetFile(filePath) {
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	select {
	case <-m.stopChan:
		return
	default:
	}

	if timer, exists := m.pendingFiles[filePath]; exists {
		timer.Stop()
	}
	m.pendingFiles[filePath] = time.AfterFunc(m.debounceTime, func() {
		m.processFile(filePath)
	})

	utils.Debug("检测到文件变化: %s", filePath)
}

// 判断是否为目标文件类型
func (m *FolderMonitor) isTargetFile(filePath string) bool {
	fileInfo, err := os.Stat(filePath)
	if err != nil || fileInfo.IsDir() {
		return false
	}
	return m.hasTargetExt(filePath)
}

func (m *FolderMonitor) hasTargetExt(filePath string) bool {
	if strings.HasPrefix(filepath.Base(filePath), ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, targetExt := range m.fileExtensions {
		if ext == targetExt {
			return true
		}
	}
	return false
}

// 文件在去抖时间内没有再变化，交给处理器
func (m *FolderMonitor) processFile(filePath string) {
	m.mutex.Lock()
	delete(m.pendingFiles, filePath)
	m.mutex.Unlock()

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return
	}

	utils.Info("准备处理文件: %s", filePath)
	if m.handler != nil {
		m.handler.OnFileCreated(filePath)
	}
}

// TranscribeHandler 把稳定下来的新文件排队，逐个转写
type TranscribeHandler struct {
	processor adapters.MediaProcessor
	queue     chan string
	done      chan struct{}

	mutex  sync.Mutex
	queued map[string]bool
	closed bool
}

// NewTranscribeHandler 创建转写处理器并启动处理协程
func NewTranscribeHandler(processor adapters.MediaProcessor, queueSize int) *TranscribeHandler {
	if queueSize < 1 {
		queueSize = 1
	}
	h := &TranscribeHandler{
		processor: processor,
		queue:     make(chan string, queueSize),
		done:      make(chan struct{}),
		queued:    make(map[string]bool),
	}
	go h.loop()
	return h
}

// OnFileCreated 处理文件创建事件；已有结果或已在队列中的文件会被跳过
func (h *TranscribeHandler) OnFileCreated(filePath string) {
	if h.processor.IsRecognizedFile(filePath) {
		utils.Debug("文件已有转写结果，跳过: %s", filePath)
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.closed || h.queued[filePath] {
		return
	}

	select {
	case h.queue <- filePath:
		h.queued[filePath] = true
	default:
		// 队列已满，丢弃本次事件，下次变化时会再次触发
		utils.Warn("处理队列已满，暂不处理: %s", filepath.Base(filePath))
	}
}

// OnFileDeleted 处理文件删除事件
func (h *TranscribeHandler) OnFileDeleted(filePath string) {
	utils.Debug("文件已移除: %s", filePath)
}

// Close 停止接收新文件并等待当前文件处理完
func (h *TranscribeHandler) Close() {
	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		return
	}
	h.closed = true
	h.mutex.Unlock()

	close(h.queue)
	<-h.done
}

func (h *TranscribeHandler) loop() {
	defer close(h.done)
	for filePath := range h.queue {
		if h.processor.ProcessFile(filePath) {
			utils.Info("转写完成: %s", filepath.Base(filePath))
		} else {
			utils.Warn("转写未完全成功: %s", filepath.Base(filePath))
		}

		h.mutex.Lock()
		delete(h.queued, filePath)
		h.mutex.Unlock()
	}
}

// StartMediaFolderMonitoring 开始监控媒体文件夹，新文件自动转写，返回停止函数
func StartMediaFolderMonitoring(folder string, processor adapters.MediaProcessor, extensions []string, debounce time.Duration) (func(), error) {
	handler := NewTranscribeHandler(processor, 64)

	monitor, err := NewFolderMonitor(folder, extensions, handler, debounce)
	if err != nil {
		handler.Close()
		return nil, err
	}

	if err := monitor.Start(); err != nil {
		monitor.Stop()
		handler.Close()
		return nil, err
	}

	return func() {
		monitor.Stop()
		handler.Close()
	}, nil
}
