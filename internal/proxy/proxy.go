// Package proxy HTTP 代理宿主：每个客户端（或显式标签页头）对应一个标签页，
// 请求经拦截状态机决策，放行请求的响应体通过状态机转发给客户端。
package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/elazarl/goproxy"

	"tabguard/internal/handler"
	"tabguard/internal/logger"
	"tabguard/internal/sink"
	"tabguard/internal/tab"
	"tabguard/pkg/model"
	"tabguard/pkg/traffic"
)

// TabHeader 客户端可用该请求头显式指定标签页，转发前会被移除
const TabHeader = "X-Tabguard-Tab"

// Tabs 标签页注册表
type Tabs interface {
	Open(id model.TabID) *tab.Tab
}

// Config 配置选项
type Config struct {
	Addr    string
	Handler *handler.Handler
	Tabs    Tabs
	Logger  logger.Logger
}

// Server 代理服务
type Server struct {
	addr    string
	proxy   *goproxy.ProxyHttpServer
	handler *handler.Handler
	tabs    Tabs
	log     logger.Logger
}

// transaction 挂在 goproxy 请求上下文上的事务状态
type transaction struct {
	sink     *sink.Sink
	upstream *upstream
	reqBlob  traffic.Blob
}

// New 创建代理服务
func New(cfg Config) *Server {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	p := goproxy.NewProxyHttpServer()
	p.Tr = &http.Transport{
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		DisableCompression:    true,
	}
	s := &Server{
		addr:    cfg.Addr,
		proxy:   p,
		handler: cfg.Handler,
		tabs:    cfg.Tabs,
		log:     l,
	}
	p.OnRequest().DoFunc(s.handleRequest)
	p.OnResponse().DoFunc(s.handleResponse)
	return s
}

// Handler 返回底层 http.Handler
func (s *Server) Handler() http.Handler { return s.proxy }

// ListenAndServe 监听配置地址，ctx 取消时优雅退出
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve 在给定监听器上提供服务，ctx 取消时优雅退出
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.proxy, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("代理服务启动", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		<-errCh
		s.log.Info("代理服务退出")
		return err
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleRequest(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	id := tabID(r)
	r.Header.Del(TabHeader)
	t := s.tabs.Open(id)
	url := r.URL.String()

	switch r.Header.Get("Sec-Fetch-Dest") {
	case "document":
		t.OnNavigate(url)
	case "iframe", "frame":
		t.CacheFrame(url)
	}

	blob := traffic.FromHTTP(r.Header).Blob()
	up := &upstream{headers: blob}
	host := sink.Host{Negotiator: requestNegotiator{headers: blob}}

	out := s.handler.Handle(r.Context(), id, t, url, string(blob), host, up)
	switch out.Action {
	case handler.ActionSynthetic:
		return r, goproxy.NewResponse(r, "text/html; charset=utf-8", http.StatusOK, string(out.Body))
	case handler.ActionFail:
		return r, goproxy.NewResponse(r, goproxy.ContentTypeText, http.StatusForbidden, "")
	}

	ctx.UserData = &transaction{sink: out.Sink, upstream: up, reqBlob: blob}
	return r, nil
}

func (s *Server) handleResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	tx, ok := ctx.UserData.(*transaction)
	if !ok || resp == nil {
		return resp
	}
	respBlob := traffic.FromHTTP(resp.Header).Blob()
	if _, err := tx.sink.OnResponse(resp.StatusCode, string(respBlob), string(tx.reqBlob)); err != nil {
		s.log.Err(err, "响应头协商失败", "traceId", tx.sink.TraceID())
	}
	tx.upstream.attach(resp.Body)
	resp.Body = &sinkBody{sink: tx.sink}
	return resp
}

// tabID 优先使用显式请求头，否则按客户端地址归组
func tabID(r *http.Request) model.TabID {
	if v := r.Header.Get(TabHeader); v != "" {
		return model.TabID(v)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return model.TabID("client:" + host)
}

type requestNegotiator struct {
	headers traffic.Blob
}

func (n requestNegotiator) BeginningTransaction(string, string) (string, error) {
	return string(n.headers), nil
}

func (n requestNegotiator) OnResponse(int, string, string) (string, error) { return "", nil }

// upstream 真实传输：响应到达前没有数据，到达后读取上游响应体
type upstream struct {
	headers traffic.Blob

	mu   sync.Mutex
	body io.ReadCloser
}

func (u *upstream) attach(body io.ReadCloser) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.body = body
}

func (u *upstream) Start(string, sink.ProtocolSink, sink.BindStatus) error { return nil }

func (u *upstream) Read(p []byte) (int, error) {
	u.mu.Lock()
	body := u.body
	u.mu.Unlock()
	if body == nil {
		return 0, io.EOF
	}
	return body.Read(p)
}

func (u *upstream) Abort(error) error {
	u.mu.Lock()
	body := u.body
	u.mu.Unlock()
	if body == nil {
		return nil
	}
	return body.Close()
}

func (u *upstream) RawRequestHeaders() (string, error) { return string(u.headers), nil }

// sinkBody 客户端读取的响应体，经过拦截状态机
type sinkBody struct {
	sink *sink.Sink
}

func (b *sinkBody) Read(p []byte) (int, error) { return b.sink.Read(p) }

func (b *sinkBody) Close() error { return b.sink.Abort(nil) }
