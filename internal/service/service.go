// Package service 应用上下文：持有错误队列、任务池、过滤客户端、
// 标签页注册表和存储，替代进程级单例。
package service

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"tabguard/internal/config"
	"tabguard/internal/handler"
	"tabguard/internal/logger"
	"tabguard/internal/plugerr"
	"tabguard/internal/pool"
	"tabguard/internal/rules"
	"tabguard/internal/session"
	"tabguard/internal/sink"
	"tabguard/internal/storage"
	"tabguard/internal/tab"
	"tabguard/pkg/model"
)

// eventBuffer 事件通道容量
const eventBuffer = 256

// Service 应用上下文
type Service struct {
	cfg     *config.Config
	log     logger.Logger
	errors  *plugerr.Queue
	pool    *pool.Pool
	loaders *pool.Pool
	engine  *rules.Engine
	store   *storage.Store
	tabs    *session.Manager
	handler *handler.Handler
	events  chan model.Event

	closeOnce sync.Once
}

// New 按配置创建应用上下文，Sqlite.Dsn 为空时不落地诊断数据
func New(cfg *config.Config, l logger.Logger) (*Service, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if l == nil {
		l = logger.NewNop()
	}
	s := &Service{
		cfg:     cfg,
		log:     l,
		errors:  plugerr.NewQueue(),
		pool:    pool.New(cfg.Pool.Size, l.With("component", "pool")),
		loaders: pool.New(cfg.Pool.LoaderSize, l.With("component", "loaders")),
		engine:  rules.New(cfg.Filters, l.With("component", "rules")),
		events:  make(chan model.Event, eventBuffer),
	}
	if cfg.Sqlite.Dsn != "" {
		store, err := storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, l.With("component", "storage"))
		if err != nil {
			s.pool.Close()
			s.loaders.Close()
			return nil, err
		}
		s.store = store
	}

	hcfg := handler.Config{
		Filter:           s.engine,
		PluginEnabled:    cfg.Host.PluginEnabled,
		HostMajorVersion: cfg.Host.MajorVersion,
		Debug:            cfg.Host.DebugBlock,
		Events:           s.events,
		Logger:           l,
	}
	if s.store != nil {
		hcfg.Recorder = s.store
	}
	s.handler = handler.New(hcfg)
	s.tabs = session.NewManager(s.newTab, l)
	return s, nil
}

func (s *Service) newTab(id model.TabID) *tab.Tab {
	tcfg := tab.Config{
		ID:               id,
		Client:           s.engine,
		Errors:           s.errors,
		Pool:             s.loaders,
		Logger:           s.log,
		OnRefresh:        s.refresh,
		DrainInterval:    s.cfg.Tab.DrainInterval,
		ActivatedOnStart: s.cfg.TabActivatedOnStart(),
	}
	if s.store != nil {
		tcfg.ErrorSink = s.store
	}
	return tab.New(tcfg)
}

// refresh 激活后刷新：记录当前文档和已加载的隐藏规则
func (s *Service) refresh(t *tab.Tab) {
	hide := t.HideFilter()
	s.log.Debug("刷新标签页", "tab", string(t.ID()), "url", t.DocumentURL(), "selectors", len(hide.Selectors()))
}

// OpenTab 打开标签页，id 为空时分配新 ID
func (s *Service) OpenTab(id model.TabID) *tab.Tab {
	if id == "" {
		id = model.TabID(uuid.NewString())
	}
	return s.tabs.Open(id)
}

// CloseTab 关闭标签页并等待其加载任务结束
func (s *Service) CloseTab(ctx context.Context, id model.TabID) error {
	return s.tabs.Close(ctx, id)
}

// Tab 获取标签页
func (s *Service) Tab(id model.TabID) (*tab.Tab, bool) { return s.tabs.Get(id) }

// ListTabs 标签页快照
func (s *Service) ListTabs() []model.TabInfo { return s.tabs.List() }

// NewSink 为标签页创建拦截状态机，标签页不存在时不带文档上下文
func (s *Service) NewSink(id model.TabID) *sink.Sink {
	if t, ok := s.tabs.Get(id); ok {
		return s.handler.NewSink(t)
	}
	return s.handler.NewSink(nil)
}

// PostError 投递插件错误，由标签页循环排空
func (s *Service) PostError(e plugerr.PluginError) { s.errors.Post(e) }

// LoadRules 替换规则集
func (s *Service) LoadRules(rs model.RuleSet) { s.engine.Update(rs) }

// Stats 规则统计
func (s *Service) Stats() model.EngineStats { return s.engine.Stats() }

// Events 事件通道
func (s *Service) Events() <-chan model.Event { return s.events }

func (s *Service) Handler() *handler.Handler { return s.handler }
func (s *Service) Tabs() *session.Manager    { return s.tabs }
func (s *Service) Pool() *pool.Pool          { return s.pool }
func (s *Service) Loaders() *pool.Pool       { return s.loaders }
func (s *Service) Store() *storage.Store     { return s.store }
func (s *Service) Config() *config.Config    { return s.cfg }

// Close 关闭全部标签页并等待任务池和存储退出
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	s.closeOnce.Do(func() {
		if err := s.tabs.CloseAll(ctx); err != nil {
			errs = append(errs, err)
		}
		s.loaders.Close()
		s.pool.Close()
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.log.Info("服务已关闭")
	})
	return errors.Join(errs...)
}
