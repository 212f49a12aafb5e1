// Package plugerr 跨线程投递的插件错误记录与队列
package plugerr

import (
	"fmt"
	"os"
	"sync"
)

// 错误分类
const (
	ErrorThread = 1 + iota
	ErrorFilterLoad
	ErrorTransport
)

// 子分类
const (
	SubTabThreadCreate = 1 + iota
	SubFilterLoaderCreate
	SubFilterLoaderRun
	SubTransportForward
)

// PluginError 插件错误值记录
type PluginError struct {
	ProcessID   int
	ThreadID    int
	ErrorCode   int
	ErrorID     int
	SubID       int
	Description string
}

// New 创建错误记录并填充当前进程和线程 ID
func New(errorID, subID, code int, description string) PluginError {
	return PluginError{
		ProcessID:   os.Getpid(),
		ThreadID:    currentThreadID(),
		ErrorCode:   code,
		ErrorID:     errorID,
		SubID:       subID,
		Description: description,
	}
}

func (e PluginError) String() string {
	return fmt.Sprintf("%d.%d error=%d/%d code=%d %s", e.ProcessID, e.ThreadID, e.ErrorID, e.SubID, e.ErrorCode, e.Description)
}

// Queue 无界 FIFO 错误队列，单锁保护
type Queue struct {
	mu    sync.Mutex
	items []PluginError
}

// NewQueue 创建错误队列
func NewQueue() *Queue {
	return &Queue{}
}

// Post 投递一条错误
func (q *Queue) Post(e PluginError) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, e)
}

// PopFirst 取出最早的一条错误，队列为空时返回 false
func (q *Queue) PopFirst() (PluginError, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return PluginError{}, false
	}
	e := q.items[0]
	q.items[0] = PluginError{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return e, true
}

// Len 当前排队数量
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
