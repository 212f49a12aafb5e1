package tab

import (
	"context"
	"sync"
)

// HideFilter 当前文档的元素隐藏选择器，以及可重置的“规则已加载”事件
type HideFilter struct {
	mu        sync.Mutex
	gen       uint64
	domain    string
	selectors []string
	loaded    chan struct{}
}

func newHideFilter() *HideFilter {
	return &HideFilter{loaded: make(chan struct{})}
}

// reset 为新导航清空选择器并重置事件，返回本次加载的代号
func (h *HideFilter) reset(domain string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gen++
	h.domain = domain
	h.selectors = nil
	h.loaded = make(chan struct{})
	return h.gen
}

// load 写入选择器并触发事件，代号过期时丢弃
func (h *HideFilter) load(gen uint64, selectors []string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.gen {
		return false
	}
	h.selectors = selectors
	close(h.loaded)
	return true
}

// Wait 等待当前导航的规则加载完成
func (h *HideFilter) Wait(ctx context.Context) error {
	h.mu.Lock()
	ch := h.loaded
	h.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Selectors 已加载的选择器副本
func (h *HideFilter) Selectors() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.selectors))
	copy(out, h.selectors)
	return out
}

func (h *HideFilter) Domain() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.domain
}
