// Package tab 标签页驱动：持有文档上下文和帧缓存，运行后台事件循环，
// 并在每次导航后异步加载元素隐藏规则。
package tab

import (
	"context"
	"sync"
	"time"

	"tabguard/internal/framecache"
	"tabguard/internal/logger"
	"tabguard/internal/plugerr"
	"tabguard/internal/pool"
	"tabguard/pkg/model"
)

// DefaultDrainInterval 错误队列排空节拍
const DefaultDrainInterval = 50 * time.Millisecond

// Client 标签页依赖的外部能力
type Client interface {
	GetHostFromURL(url string) string
	GetElementHidingSelectors(domain string) []string
	IsWhitelistedURL(url string) bool
	IsElemhideWhitelistedOnDomain(url string) bool
}

// ErrorSink 排空后的插件错误落地
type ErrorSink interface {
	SaveError(ctx context.Context, e plugerr.PluginError) error
}

// Config 标签页配置
type Config struct {
	ID               model.TabID
	Client           Client
	Errors           *plugerr.Queue
	Pool             *pool.Pool
	Logger           logger.Logger
	ErrorSink        ErrorSink
	OnRefresh        func(*Tab)
	DrainInterval    time.Duration
	ActivatedOnStart bool
}

// Tab 单个标签页的状态，方法可并发调用
type Tab struct {
	id        model.TabID
	client    Client
	errors    *plugerr.Queue
	pool      *pool.Pool
	log       logger.Logger
	errorSink ErrorSink
	onRefresh func(*Tab)

	mu             sync.RWMutex
	documentURL    string
	documentDomain string

	frames *framecache.Cache
	hide   *HideFilter

	activate  chan struct{}
	stop      chan struct{}
	done      chan struct{}
	loaderMu  sync.Mutex
	loaders   sync.WaitGroup
	closeOnce sync.Once
}

// New 创建标签页并启动后台循环
func New(cfg Config) *Tab {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	errs := cfg.Errors
	if errs == nil {
		errs = plugerr.NewQueue()
	}
	interval := cfg.DrainInterval
	if interval <= 0 {
		interval = DefaultDrainInterval
	}

	t := &Tab{
		id:        cfg.ID,
		client:    cfg.Client,
		errors:    errs,
		pool:      cfg.Pool,
		log:       l.With("tab", string(cfg.ID)),
		errorSink: cfg.ErrorSink,
		onRefresh: cfg.OnRefresh,
		frames:    framecache.New(),
		hide:      newHideFilter(),
		activate:  make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if cfg.ActivatedOnStart {
		t.activate <- struct{}{}
	}
	go t.run(interval)
	t.log.Info("标签页线程启动")
	return t
}

func (t *Tab) ID() model.TabID { return t.id }

// SetDocumentURL 在同一把锁内更新 URL 并重新计算域名
func (t *Tab) SetDocumentURL(url string) {
	var domain string
	if t.client != nil {
		domain = t.client.GetHostFromURL(url)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.documentURL = url
	t.documentDomain = domain
}

func (t *Tab) DocumentURL() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.documentURL
}

func (t *Tab) DocumentDomain() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.documentDomain
}

func (t *Tab) IsFrameCached(url string) bool { return t.frames.IsCached(url) }

func (t *Tab) CacheFrame(url string) { t.frames.Insert(url) }

// ClearFrameCache 域名变化时清空帧缓存
func (t *Tab) ClearFrameCache(domain string) { t.frames.ClearIfDomainChanged(domain) }

// HideFilter 当前文档的隐藏规则
func (t *Tab) HideFilter() *HideFilter { return t.hide }

// OnNavigate 更新文档、清理帧缓存并异步重新加载隐藏规则，不阻塞导航
func (t *Tab) OnNavigate(url string) {
	t.SetDocumentURL(url)
	domain := t.DocumentDomain()
	t.ClearFrameCache(domain)
	gen := t.hide.reset(domain)

	t.log.Debug("标签页导航", "url", url, "domain", domain)
	t.startLoader(url, domain, gen)
}

// OnDocumentComplete 顶层文档 URL 在没有导航事件的情况下变化时补记
func (t *Tab) OnDocumentComplete(url string, isTopLevel bool) {
	if isTopLevel && url != t.DocumentURL() {
		t.SetDocumentURL(url)
	}
}

// OnActivate 请求一次界面刷新，多次请求在循环处理前合并
func (t *Tab) OnActivate() {
	select {
	case t.activate <- struct{}{}:
	default:
	}
}

// OnUpdate 同 OnActivate
func (t *Tab) OnUpdate() { t.OnActivate() }

// Info 标签页快照
func (t *Tab) Info() model.TabInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return model.TabInfo{
		ID:          t.id,
		DocumentURL: t.documentURL,
		Domain:      t.documentDomain,
		Frames:      t.frames.Len(),
	}
}

// Close 停止循环并等待加载任务结束后返回，ctx 取消时不再等待加载任务
func (t *Tab) Close(ctx context.Context) error {
	var err error
	t.closeOnce.Do(func() {
		// stop 关闭后不再有新的加载任务计入 loaders
		t.loaderMu.Lock()
		close(t.stop)
		t.loaderMu.Unlock()
		<-t.done

		waited := make(chan struct{})
		go func() {
			t.loaders.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-ctx.Done():
			err = ctx.Err()
		}
		t.log.Info("标签页线程退出")
	})
	return err
}

func (t *Tab) startLoader(url, domain string, gen uint64) {
	if t.client == nil {
		t.hide.load(gen, nil)
		return
	}
	task := func() {
		defer t.loaders.Done()
		var selectors []string
		if !t.client.IsWhitelistedURL(url) && !t.client.IsElemhideWhitelistedOnDomain(url) {
			selectors = t.client.GetElementHidingSelectors(domain)
		}
		if t.hide.load(gen, selectors) {
			t.log.Debug("隐藏规则已加载", "domain", domain, "count", len(selectors))
		}
	}

	t.loaderMu.Lock()
	select {
	case <-t.stop:
		t.loaderMu.Unlock()
		return
	default:
	}
	t.loaders.Add(1)
	t.loaderMu.Unlock()

	if t.pool == nil {
		go task()
		return
	}
	if _, ok := t.pool.Submit(task); !ok {
		t.loaders.Done()
		t.errors.Post(plugerr.New(plugerr.ErrorThread, plugerr.SubFilterLoaderCreate, 0,
			"Tab::Navigate - failed to start filter loader for "+domain))
		t.log.Warn("隐藏规则加载任务提交失败", "domain", domain)
	}
}

// run 后台循环：处理激活请求，并按固定节拍每次排空至多一条插件错误
func (t *Tab) run(interval time.Duration) {
	defer close(t.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-t.activate:
			if t.onRefresh != nil {
				t.onRefresh(t)
			}
		case <-ticker.C:
			t.drainOne()
		}
	}
}

func (t *Tab) drainOne() {
	e, ok := t.errors.PopFirst()
	if !ok {
		return
	}
	t.log.Error("插件错误",
		"processId", e.ProcessID,
		"threadId", e.ThreadID,
		"errorId", e.ErrorID,
		"subId", e.SubID,
		"code", e.ErrorCode,
		"description", e.Description,
	)
	if t.errorSink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := t.errorSink.SaveError(ctx, e); err != nil {
		t.log.Err(err, "插件错误落地失败")
	}
}
