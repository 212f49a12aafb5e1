package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"tabguard/internal/logger"
)

// Pool 有界的一次性任务池，容量满或已关闭时拒绝提交
type Pool struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	log    logger.Logger
	mu     sync.Mutex
	closed bool
}

// Handle 已提交任务的完成句柄
type Handle struct {
	done chan struct{}
}

// New 创建任务池
func New(size int, l logger.Logger) *Pool {
	if size <= 0 {
		size = 4
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), log: l}
}

// Submit 提交任务，返回 false 表示未能启动
func (p *Pool) Submit(task func()) (*Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || !p.sem.TryAcquire(1) {
		return nil, false
	}
	h := &Handle{done: make(chan struct{})}
	p.wg.Add(1)
	go func() {
		defer close(h.done)
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("任务异常退出", "panic", r)
			}
		}()
		task()
	}()
	return h, true
}

// Close 拒绝后续提交并等待已提交任务结束
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

// Done 任务结束时关闭的通道
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait 等待任务结束或 ctx 取消
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
