// Package cdp Chrome 宿主：每个页面目标对应一个标签页，
// 通过 Fetch 域暂停子资源请求并交给拦截状态机决策。
package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/rpcc"

	"tabguard/internal/handler"
	"tabguard/internal/logger"
	"tabguard/internal/pool"
	"tabguard/internal/tab"
	"tabguard/pkg/model"
)

// Tabs 标签页注册表
type Tabs interface {
	Open(id model.TabID) *tab.Tab
	Close(ctx context.Context, id model.TabID) error
}

// Config 配置选项
type Config struct {
	DevToolsURL      string
	Handler          *handler.Handler
	Tabs             Tabs
	Pool             *pool.Pool
	Events           chan model.Event
	ProcessTimeoutMS int
	Logger           logger.Logger
}

// Manager 管理所有已附加的页面目标
type Manager struct {
	devtoolsURL      string
	handler          *handler.Handler
	tabs             Tabs
	pool             *pool.Pool
	events           chan model.Event
	processTimeoutMS int
	log              logger.Logger

	enabled   atomic.Bool
	targetsMu sync.Mutex
	targets   map[model.TabID]*targetSession
}

type targetSession struct {
	id     model.TabID
	tab    *tab.Tab
	conn   *rpcc.Conn
	client *cdp.Client
	ctx    context.Context
	cancel context.CancelFunc

	frameMu   sync.Mutex
	mainFrame page.FrameID
}

func (ts *targetSession) setMainFrame(id page.FrameID) {
	ts.frameMu.Lock()
	defer ts.frameMu.Unlock()
	ts.mainFrame = id
}

func (ts *targetSession) isMainFrame(id page.FrameID) bool {
	ts.frameMu.Lock()
	defer ts.frameMu.Unlock()
	return ts.mainFrame != "" && ts.mainFrame == id
}

// isTopLevelDocument 主框架的文档请求，即顶层导航本身
func (ts *targetSession) isTopLevelDocument(ev *fetch.RequestPausedReply) bool {
	return ev.ResourceType == network.ResourceTypeDocument && ts.isMainFrame(ev.FrameID)
}

// New 创建管理器
func New(cfg Config) *Manager {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		devtoolsURL:      cfg.DevToolsURL,
		handler:          cfg.Handler,
		tabs:             cfg.Tabs,
		pool:             cfg.Pool,
		events:           cfg.Events,
		processTimeoutMS: cfg.ProcessTimeoutMS,
		log:              l,
		targets:          make(map[model.TabID]*targetSession),
	}
}

// AttachAll 附加浏览器当前所有页面目标，返回成功附加的数量
func (m *Manager) AttachAll(ctx context.Context) (int, error) {
	dt := devtool.New(m.devtoolsURL)
	targets, err := dt.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list targets: %w", err)
	}
	m.enabled.Store(true)

	n := 0
	var errs []error
	for _, t := range targets {
		if t.Type != devtool.Page {
			continue
		}
		if err := m.Attach(ctx, t); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Attach 附加单个页面目标并开始拦截
func (m *Manager) Attach(ctx context.Context, target *devtool.Target) error {
	id := model.TabID(target.ID)
	m.targetsMu.Lock()
	if _, ok := m.targets[id]; ok {
		m.targetsMu.Unlock()
		return nil
	}
	m.targetsMu.Unlock()

	conn, err := rpcc.DialContext(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		return fmt.Errorf("dial target %s: %w", id, err)
	}
	sctx, cancel := context.WithCancel(context.Background())
	ts := &targetSession{
		id:     id,
		conn:   conn,
		client: cdp.NewClient(conn),
		ctx:    sctx,
		cancel: cancel,
	}

	if err := ts.client.Page.Enable(ctx); err != nil {
		m.closeTargetSession(ts)
		return fmt.Errorf("enable page %s: %w", id, err)
	}
	if tree, err := ts.client.Page.GetFrameTree(ctx); err != nil {
		m.log.Warn("获取框架树失败，等待框架导航事件确定主框架", "target", string(id), "error", err)
	} else {
		ts.setMainFrame(tree.FrameTree.Frame.ID)
	}
	pattern := "*"
	err = ts.client.Fetch.Enable(ctx, &fetch.EnableArgs{
		Patterns: []fetch.RequestPattern{{URLPattern: &pattern, RequestStage: fetch.RequestStageRequest}},
	})
	if err != nil {
		m.closeTargetSession(ts)
		return fmt.Errorf("enable fetch %s: %w", id, err)
	}

	ts.tab = m.tabs.Open(id)
	if target.URL != "" {
		ts.tab.OnNavigate(target.URL)
	}

	m.targetsMu.Lock()
	m.targets[id] = ts
	m.targetsMu.Unlock()

	go m.consumeFrames(ts)
	go m.consume(ts)
	m.log.Info("目标已附加", "target", string(id), "url", target.URL)
	return nil
}

// Detach 分离目标并关闭对应标签页
func (m *Manager) Detach(ctx context.Context, id model.TabID) error {
	m.targetsMu.Lock()
	ts, ok := m.targets[id]
	delete(m.targets, id)
	m.targetsMu.Unlock()
	if !ok {
		return fmt.Errorf("target %s not attached", id)
	}
	m.closeTargetSession(ts)
	return m.tabs.Close(ctx, id)
}

// Close 停止拦截并分离全部目标
func (m *Manager) Close(ctx context.Context) error {
	m.enabled.Store(false)
	m.targetsMu.Lock()
	targets := m.targets
	m.targets = make(map[model.TabID]*targetSession)
	m.targetsMu.Unlock()

	var errs []error
	for id, ts := range targets {
		disableCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		_ = ts.client.Fetch.Disable(disableCtx)
		cancel()
		m.closeTargetSession(ts)
		if err := m.tabs.Close(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Targets 已附加的标签页
func (m *Manager) Targets() []model.TabID {
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	out := make([]model.TabID, 0, len(m.targets))
	for id := range m.targets {
		out = append(out, id)
	}
	return out
}

func (m *Manager) isEnabled() bool { return m.enabled.Load() }

func (m *Manager) closeTargetSession(ts *targetSession) {
	ts.cancel()
	if err := ts.conn.Close(); err != nil {
		m.log.Err(err, "关闭目标连接失败", "target", string(ts.id))
	}
}
