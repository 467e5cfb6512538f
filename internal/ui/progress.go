package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// ProgressBar 进度条结构
type ProgressBar struct {
	mu sync.Mutex

	Total      int       // 总片段数
	Current    int       // 已完成片段数
	Prefix     string    // 前缀
	Suffix     string    // 后缀
	Width      int       // 进度条宽度
	FillChar   string    // 填充字符
	EmptyChar  string    // 空白字符
	StartTime  time.Time // 开始时间
	LastUpdate time.Time // 上次更新时间

	term *TerminalManager
}

// newProgressBar 创建进度条，由 ProgressManager 统一管理
func newProgressBar(term *TerminalManager, total int, prefix string, suffix string) *ProgressBar {
	return &ProgressBar{
		Total:      total,
		Prefix:     prefix,
		Suffix:     suffix,
		Width:      30,
		FillChar:   "█",
		EmptyChar:  "░",
		StartTime:  time.Now(),
		LastUpdate: time.Now(),
		term:       term,
	}
}

// Update 更新进度，超出范围的值会被截断
func (p *ProgressBar) Update(current int, suffix string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set(current, suffix)
}

// Increment 增加进度
func (p *ProgressBar) Increment(suffix string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set(p.Current+1, suffix)
}

// Complete 完成进度条
func (p *ProgressBar) Complete(suffix string) {
	p.mu.Lock()
	p.set(p.Total, suffix)
	p.mu.Unlock()
	p.term.EndProgress()
}

// Percent 完成百分比
func (p *ProgressBar) Percent() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percent()
}

// set 调用方持有锁
func (p *ProgressBar) set(current int, suffix string) {
	if current < 0 {
		return
	}
	if current > p.Total {
		current = p.Total
	}

	p.Current = current
	if suffix != "" {
		p.Suffix = suffix
	}
	p.LastUpdate = time.Now()
	p.draw()
}

func (p *ProgressBar) percent() float64 {
	if p.Total <= 0 {
		return 100
	}
	return float64(p.Current) / float64(p.Total) * 100
}

// 绘制进度条，调用方持有锁
func (p *ProgressBar) draw() {
	ratio := p.percent() / 100
	filled := int(ratio * float64(p.Width))
	if filled > p.Width {
		filled = p.Width
	}

	bar := strings.Repeat(p.FillChar, filled) + strings.Repeat(p.EmptyChar, p.Width-filled)

	elapsed := time.Since(p.StartTime)
	var remaining time.Duration
	if p.Current > 0 && ratio < 1 {
		remaining = time.Duration(float64(elapsed) / ratio * (1 - ratio))
	}

	line := fmt.Sprintf("%s [%s] %3.0f%% | %d/%d | %s<%s | %s",
		p.Prefix, bar, ratio*100, p.Current, p.Total, formatDuration(elapsed), formatDuration(remaining), p.Suffix)

	p.term.UpdateProgress(color.CyanString(line))
}

// String 返回进度条的字符串表示
func (p *ProgressBar) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("%s %s %3.0f%% | %d/%d",
		p.Prefix, renderProgressBar(p.Current, p.Total, 30), p.percent(), p.Current, p.Total)
}

func renderProgressBar(current, total, width int) string {
	filled := width
	if total > 0 {
		filled = int(float64(current) / float64(total) * float64(width))
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

// 格式化持续时间为 MM:SS 格式
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
