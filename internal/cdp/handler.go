package cdp

import (
	"context"
	"time"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"

	adapter "tabguard/internal/adapter/cdp"
	"tabguard/internal/handler"
	"tabguard/internal/sink"
	"tabguard/pkg/model"
	"tabguard/pkg/traffic"
)

const defaultTimeout = 3 * time.Second

// handle 处理一次暂停的请求，按决策放行、替代应答或直接失败
func (m *Manager) handle(ts *targetSession, ev *fetch.RequestPausedReply) {
	to := defaultTimeout
	if m.processTimeoutMS > 0 {
		to = time.Duration(m.processTimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ts.ctx, to)
	defer cancel()
	start := time.Now()

	req, out := m.evaluate(ctx, ts, ev)

	var err error
	switch args := decide(ev.RequestID, out).(type) {
	case *fetch.FulfillRequestArgs:
		err = ts.client.Fetch.FulfillRequest(ctx, args)
	case *fetch.FailRequestArgs:
		err = ts.client.Fetch.FailRequest(ctx, args)
	case *fetch.ContinueRequestArgs:
		err = ts.client.Fetch.ContinueRequest(ctx, args)
	}
	if err != nil {
		m.log.Err(err, "执行拦截动作失败", "target", string(ts.id), "url", req.URL, "action", out.Action.String())
		return
	}
	m.log.Debug("拦截事件处理完成", "url", req.URL, "action", out.Action.String(), "duration", time.Since(start))
}

// evaluate 顶层文档请求先让标签页导航到该文档，再交给事务驱动，
// 文档自身因此总是放行
func (m *Manager) evaluate(ctx context.Context, ts *targetSession, ev *fetch.RequestPausedReply) (*traffic.Request, handler.Outcome) {
	req := adapter.ToNeutralRequest(ev)
	if ts.isTopLevelDocument(ev) {
		ts.tab.OnNavigate(req.URL)
	}
	blob := req.Headers.Blob()
	host := sink.Host{Negotiator: adapter.NewNegotiator(blob)}
	return req, m.handler.Handle(ctx, ts.id, ts.tab, req.URL, string(blob), host, adapter.NewPausedTransport(blob))
}

// decide 把事务结果映射为 Fetch 域命令参数
func decide(id fetch.RequestID, out handler.Outcome) any {
	switch out.Action {
	case handler.ActionSynthetic:
		return &fetch.FulfillRequestArgs{
			RequestID:    id,
			ResponseCode: 200,
			ResponseHeaders: adapter.ToHeaderEntries(traffic.Headers{
				{Name: "Content-Type", Value: "text/html; charset=utf-8"},
			}),
			Body: out.Body,
		}
	case handler.ActionFail:
		return &fetch.FailRequestArgs{RequestID: id, ErrorReason: network.ErrorReasonBlockedByClient}
	}
	return &fetch.ContinueRequestArgs{RequestID: id}
}

// dispatchPaused 根据并发配置调度单次拦截事件处理
func (m *Manager) dispatchPaused(ts *targetSession, ev *fetch.RequestPausedReply) {
	if m.pool == nil {
		go m.handle(ts, ev)
		return
	}
	if _, ok := m.pool.Submit(func() { m.handle(ts, ev) }); !ok {
		m.degradeAndContinue(ts, ev, "并发队列已满")
	}
}

// consume 持续接收拦截事件并按并发限制分发处理
func (m *Manager) consume(ts *targetSession) {
	rp, err := ts.client.Fetch.RequestPaused(ts.ctx)
	if err != nil {
		m.log.Err(err, "订阅拦截事件流失败", "target", string(ts.id))
		m.handleTargetStreamClosed(ts, err)
		return
	}
	defer rp.Close()

	m.log.Info("开始消费拦截事件流", "target", string(ts.id))
	for {
		ev, err := rp.Recv()
		if err != nil {
			m.handleTargetStreamClosed(ts, err)
			return
		}
		m.dispatchPaused(ts, ev)
	}
}

// consumeFrames 主框架导航驱动标签页导航，子框架导航进入帧缓存
func (m *Manager) consumeFrames(ts *targetSession) {
	fn, err := ts.client.Page.FrameNavigated(ts.ctx)
	if err != nil {
		m.log.Err(err, "订阅框架导航失败", "target", string(ts.id))
		return
	}
	defer fn.Close()

	for {
		ev, err := fn.Recv()
		if err != nil {
			return
		}
		if ev.Frame.ParentID == nil {
			ts.setMainFrame(ev.Frame.ID)
			// 未经拦截的导航（历史记录、缓存）在这里补记
			if ts.tab.DocumentURL() != ev.Frame.URL {
				ts.tab.OnNavigate(ev.Frame.URL)
			}
			ts.tab.OnActivate()
		} else {
			ts.tab.CacheFrame(ev.Frame.URL)
		}
	}
}

// handleTargetStreamClosed 处理单个目标的拦截流终止
func (m *Manager) handleTargetStreamClosed(ts *targetSession, err error) {
	if !m.isEnabled() {
		m.log.Info("拦截已禁用，停止目标事件消费", "target", string(ts.id))
		return
	}

	m.log.Warn("拦截流被中断，自动移除目标", "target", string(ts.id), "error", err)

	m.targetsMu.Lock()
	cur, ok := m.targets[ts.id]
	if ok && cur == ts {
		delete(m.targets, ts.id)
	}
	m.targetsMu.Unlock()

	if ok && cur == ts {
		m.closeTargetSession(ts)
		ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
		defer cancel()
		_ = m.tabs.Close(ctx, ts.id)
	}
}

// degradeAndContinue 统一的降级处理：直接放行请求
func (m *Manager) degradeAndContinue(ts *targetSession, ev *fetch.RequestPausedReply, reason string) {
	m.log.Warn("执行降级策略：直接放行", "target", string(ts.id), "reason", reason, "requestID", string(ev.RequestID))
	ctx, cancel := context.WithTimeout(ts.ctx, time.Second)
	defer cancel()
	if err := ts.client.Fetch.ContinueRequest(ctx, &fetch.ContinueRequestArgs{RequestID: ev.RequestID}); err != nil {
		m.log.Err(err, "降级放行失败", "target", string(ts.id))
	}
	m.sendEvent(model.Event{Type: model.EventAllowed, Tab: ts.id, URL: ev.Request.URL})
}

// sendEvent 安全发送事件到通道，自动添加时间戳
func (m *Manager) sendEvent(evt model.Event) {
	if m.events == nil {
		return
	}
	evt.Timestamp = time.Now().UnixMilli()
	select {
	case m.events <- evt:
	default:
	}
}
