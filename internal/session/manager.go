package session

import (
	"context"
	"errors"
	"sync"

	"tabguard/internal/logger"
	"tabguard/internal/tab"
	"tabguard/pkg/model"
)

// ErrTabNotFound 标签页不存在
var ErrTabNotFound = errors.New("tab not found")

// Factory 按 ID 创建标签页
type Factory func(id model.TabID) *tab.Tab

// Manager 标签页注册表
type Manager struct {
	mu      sync.RWMutex
	tabs    map[model.TabID]*tab.Tab
	factory Factory
	log     logger.Logger
}

// NewManager 创建标签页注册表
func NewManager(factory Factory, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		tabs:    make(map[model.TabID]*tab.Tab),
		factory: factory,
		log:     l,
	}
}

// Open 返回已存在的标签页，不存在时创建并注册
func (m *Manager) Open(id model.TabID) *tab.Tab {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tabs[id]; ok {
		return t
	}
	t := m.factory(id)
	m.tabs[id] = t
	m.log.Info("创建标签页", "tab", string(id))
	return t
}

// Get 获取标签页
func (m *Manager) Get(id model.TabID) (*tab.Tab, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tabs[id]
	return t, ok
}

// Close 注销并关闭标签页
func (m *Manager) Close(ctx context.Context, id model.TabID) error {
	m.mu.Lock()
	t, ok := m.tabs[id]
	delete(m.tabs, id)
	m.mu.Unlock()
	if !ok {
		return ErrTabNotFound
	}
	m.log.Info("销毁标签页", "tab", string(id))
	return t.Close(ctx)
}

// CloseAll 关闭全部标签页，返回遇到的第一个错误
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	tabs := m.tabs
	m.tabs = make(map[model.TabID]*tab.Tab)
	m.mu.Unlock()

	var first error
	for id, t := range tabs {
		if err := t.Close(ctx); err != nil && first == nil {
			first = err
		}
		m.log.Info("销毁标签页", "tab", string(id))
	}
	return first
}

// List 返回所有标签页快照
func (m *Manager) List() []model.TabInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]model.TabInfo, 0, len(m.tabs))
	for _, t := range m.tabs {
		list = append(list, t.Info())
	}
	return list
}
