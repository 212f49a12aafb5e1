// Package handler 与宿主无关的事务驱动：为每个请求创建拦截状态机，
// 走完启动和头部协商，并把决策结果交给宿主执行。
package handler

import (
	"context"
	"errors"
	"io"
	"time"

	"tabguard/internal/ctxkeys"
	"tabguard/internal/logger"
	"tabguard/internal/sink"
	"tabguard/pkg/model"
)

// Action 宿主需要执行的动作
type Action int

const (
	// ActionAllow 放行，真实传输继续
	ActionAllow Action = iota
	// ActionSynthetic 以替代内容应答
	ActionSynthetic
	// ActionFail 直接失败
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionSynthetic:
		return "synthetic"
	case ActionFail:
		return "fail"
	}
	return "allow"
}

// Outcome 一次事务的决策结果
type Outcome struct {
	Action      Action
	Sink        *sink.Sink
	Body        []byte
	ContentType model.ContentType
	Additional  string
	Err         error
}

// BlockRecorder 拦截记录落地
type BlockRecorder interface {
	SaveBlock(ctx context.Context, evt model.Event) error
}

// Config 配置选项
type Config struct {
	Filter           sink.Filter
	PluginEnabled    bool
	HostMajorVersion int
	Debug            bool
	Events           chan model.Event
	Recorder         BlockRecorder
	Logger           logger.Logger
}

// Handler 事务驱动
type Handler struct {
	cfg Config
	log logger.Logger
}

// New 创建事务驱动
func New(cfg Config) *Handler {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	cfg.Logger = l
	return &Handler{cfg: cfg, log: l}
}

// NewSink 按当前配置为标签页创建拦截状态机，tab 可为空
func (h *Handler) NewSink(tab sink.Tab) *sink.Sink {
	return sink.New(sink.Config{
		Tab:              tab,
		Filter:           h.cfg.Filter,
		PluginEnabled:    h.cfg.PluginEnabled,
		HostMajorVersion: h.cfg.HostMajorVersion,
		Debug:            h.cfg.Debug,
		Logger:           h.log,
	})
}

// Handle 启动事务并完成头部协商；替代内容在返回前已经通过状态机完整读出
func (h *Handler) Handle(ctx context.Context, tabID model.TabID, tab sink.Tab, url, headers string, host sink.Host, target sink.Protocol) Outcome {
	s := h.NewSink(tab)
	ctx = ctxkeys.WithTraceID(ctx, s.TraceID())
	l := h.log.With("traceId", s.TraceID(), "tab", string(tabID))

	h.sendEvent(model.Event{Type: model.EventIntercepted, Tab: tabID, TraceID: s.TraceID(), URL: url})

	out := Outcome{Sink: s}
	if err := s.Start(url, host, target); err != nil {
		l.Err(err, "传输启动失败", "url", url)
		out.Err = err
		h.sendEvent(model.Event{Type: model.EventFailed, Tab: tabID, TraceID: s.TraceID(), URL: url, Error: err.Error()})
		return out
	}

	additional, err := s.BeginningTransaction(url, headers)
	out.Additional = additional
	out.ContentType = s.ContentType()

	switch {
	case s.State() == sink.StateSyntheticDelivering:
		body, rerr := io.ReadAll(s)
		if rerr != nil {
			l.Err(rerr, "替代内容读取失败", "url", url)
			out.Action = ActionFail
			out.Err = rerr
			break
		}
		out.Action = ActionSynthetic
		out.Body = body
	case errors.Is(err, sink.ErrAbort) || s.State() == sink.StateCompleted:
		out.Action = ActionFail
	default:
		out.Action = ActionAllow
		out.Err = err
	}

	evt := model.Event{
		Tab:         tabID,
		TraceID:     s.TraceID(),
		URL:         url,
		ContentType: out.ContentType,
		Referrer:    s.BoundDomain(),
		Synthetic:   s.Synthetic(),
		Timestamp:   time.Now().UnixMilli(),
	}
	if out.Err != nil {
		evt.Error = out.Err.Error()
	}
	if out.Action == ActionAllow {
		evt.Type = model.EventAllowed
	} else {
		evt.Type = model.EventBlocked
		h.record(ctx, evt, l)
	}
	h.sendEvent(evt)
	l.Debug("事务处理完成", "url", url, "action", out.Action.String(), "contentType", out.ContentType.String())
	return out
}

func (h *Handler) record(ctx context.Context, evt model.Event, l logger.Logger) {
	if h.cfg.Recorder == nil {
		return
	}
	if err := h.cfg.Recorder.SaveBlock(ctx, evt); err != nil {
		l.Err(err, "拦截记录保存失败", "url", evt.URL)
	}
}

// sendEvent 非阻塞发送，订阅方处理不过来时丢弃
func (h *Handler) sendEvent(evt model.Event) {
	if h.cfg.Events == nil {
		return
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}
	select {
	case h.cfg.Events <- evt:
	default:
	}
}
