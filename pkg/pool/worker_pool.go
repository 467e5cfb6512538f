// Package pool 提供有界并发的任务执行
package pool

import (
	"context"
	"sync"
)

// Pool 最多同时运行 workers 个任务，任务按序号顺序准入
type Pool struct {
	workers int
}

// New 创建任务池，workers 小于 1 时按 1 处理
func New(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{workers: workers}
}

// Workers 返回并发上限
func (p *Pool) Workers() int {
	return p.workers
}

// Run 为 0..n-1 每个序号执行一次 work，完成后以同一序号调用 onDone
// 某个任务失败不影响其他任务；ctx 取消后尚未准入的任务仍会执行，由 work 自行检查 ctx
// 所有任务结束后返回
func (p *Pool) Run(ctx context.Context, n int, work func(ctx context.Context, index int), onDone func(index int)) {
	if n <= 0 {
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, p.workers) // 信号量限制并发

	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{} // 获取信号量

		go func(index int) {
			defer wg.Done()
			defer func() { <-sem }() // 释放信号量

			work(ctx, index)
			if onDone != nil {
				onDone(index)
			}
		}(i)
	}

	wg.Wait()
}
