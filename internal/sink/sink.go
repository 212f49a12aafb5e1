// Package sink 实现单个请求的拦截状态机。
//
// 宿主为每个子资源请求创建一个 Sink，Sink 以自身作为回调启动真实传输，
// 在头部协商时完成分类和拦截决策；被拦截的请求由固定替代内容应答，
// 对宿主表现为一次正常完成的短下载。
package sink

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"tabguard/internal/classify"
	"tabguard/internal/logger"
	"tabguard/pkg/model"
	"tabguard/pkg/traffic"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrAbort           = errors.New("operation aborted")
	ErrUnexpected      = errors.New("unexpected call")
	ErrCompleted       = errors.New("transaction completed")
)

// TransportError 真实传输转发调用失败
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// State 拦截状态
type State int

const (
	StateIdle State = iota
	StateTransactionStarted
	StateForwarding
	StateSyntheticDelivering
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTransactionStarted:
		return "started"
	case StateForwarding:
		return "forwarding"
	case StateSyntheticDelivering:
		return "synthetic"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}

// Config Sink 依赖，Tab 可为空（请求不属于任何已知标签页）
type Config struct {
	Tab              Tab
	Filter           Filter
	PluginEnabled    bool
	HostMajorVersion int
	Debug            bool
	Logger           logger.Logger
}

// Sink 单个请求的拦截状态机，可被宿主从任意线程调用
type Sink struct {
	cfg     Config
	traceID string
	log     logger.Logger

	mu          sync.Mutex
	state       State
	forwarded   bool
	url         string
	target      Protocol
	host        Host
	contentType model.ContentType
	boundDomain string
	synthetic   bool
	resp        responder
}

// New 创建拦截状态机
func New(cfg Config) *Sink {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	id := uuid.NewString()
	return &Sink{
		cfg:     cfg,
		traceID: id,
		log:     l.With("traceId", id),
	}
}

// Start 记录目标传输并无条件启动它，真实传输需要完成头部协商才能得到 Referer
func (s *Sink) Start(url string, host Host, target Protocol) error {
	if target == nil {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrUnexpected
	}
	s.url = url
	s.target = target
	s.host = host
	s.state = StateTransactionStarted
	s.mu.Unlock()

	if err := target.Start(url, s, host.Bind); err != nil {
		return &TransportError{Op: "start", Err: err}
	}
	return nil
}

// BeginningTransaction 协商头部、分类并做出拦截决策。
// 被拦截时返回 ErrAbort 让宿主的协商短路；协商得到的附加头总是原样返回。
func (s *Sink) BeginningTransaction(url, headers string) (string, error) {
	if url == "" {
		return "", ErrInvalidArgument
	}

	s.mu.Lock()
	host, target := s.host, s.target
	s.mu.Unlock()

	accept := acceptHeader(target)

	var additional string
	var nativeErr error
	if host.Negotiator != nil {
		additional, nativeErr = host.Negotiator.BeginningTransaction(url, headers)
	}
	blob := traffic.Blob(additional)
	referrer := blob.Extract("Referer:")

	in := classify.Input{
		MimeType:         accept,
		ReferrerDomain:   referrer,
		URL:              url,
		Headers:          blob,
		HostMajorVersion: s.cfg.HostMajorVersion,
	}

	if tab := s.cfg.Tab; tab != nil {
		documentURL := tab.DocumentURL()
		if documentURL == url {
			// 文档本身永不拦截
			s.mu.Lock()
			s.boundDomain = referrer
			s.contentType = classify.Base(accept, referrer, url, s.cfg.HostMajorVersion >= classify.XDROriginMinVersion)
			s.state = StateForwarding
			s.mu.Unlock()
			s.log.Debug("文档请求放行", "url", url)
			return additional, nativeErr
		}
		if s.cfg.PluginEnabled && s.cfg.Filter != nil && !s.cfg.Filter.IsWhitelistedURL(documentURL) {
			in.FrameCached = tab.IsFrameCached(url)
		}
	}

	if host.Bind != nil {
		if bi, err := host.Bind.BindInfo(); err == nil {
			in.Bind = &bi
		}
	}
	ct := classify.Classify(in)

	blocked := s.cfg.Filter != nil && s.cfg.Filter.ShouldBlock(url, ct, referrer, s.cfg.Debug)

	s.mu.Lock()
	s.boundDomain = referrer
	s.contentType = ct
	if blocked {
		// 插件子请求直接失败，给 Flash 喂 HTML 会破坏嵌入内容
		s.synthetic = ct != model.ContentTypeObjectSubrequest
		if s.synthetic {
			s.state = StateSyntheticDelivering
		} else {
			s.state = StateCompleted
		}
	} else {
		s.state = StateForwarding
	}
	synthetic := s.synthetic
	s.mu.Unlock()

	if blocked {
		s.log.Info("请求被阻止", "url", url, "contentType", ct.String(), "referrer", referrer, "synthetic", synthetic)
		return additional, ErrAbort
	}
	s.log.Debug("请求放行", "url", url, "contentType", ct.String())
	return additional, nativeErr
}

// OnResponse 响应头协商，原样转发给宿主
func (s *Sink) OnResponse(code int, responseHeaders, requestHeaders string) (string, error) {
	s.mu.Lock()
	n := s.host.Negotiator
	s.mu.Unlock()
	if n == nil {
		return "", nil
	}
	return n.OnResponse(code, responseHeaders, requestHeaders)
}

// Read 转发模式透传真实传输；替代模式从固定内容按游标分块输出，
// 末块之后恰好返回一次 io.EOF
func (s *Sink) Read(p []byte) (int, error) {
	if p == nil {
		return 0, ErrInvalidArgument
	}

	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return 0, ErrUnexpected
	case StateTransactionStarted:
		s.state = StateForwarding
		fallthrough
	case StateForwarding:
		return s.forwardLocked(p)
	case StateCompleted:
		if s.forwarded {
			return s.forwardLocked(p)
		}
		s.mu.Unlock()
		return 0, ErrCompleted
	}

	// StateSyntheticDelivering
	if len(p) == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	n, done := s.resp.next(p)
	if done {
		s.state = StateCompleted
		s.mu.Unlock()
		return 0, io.EOF
	}
	cursor, total := uint64(s.resp.cursor), uint64(s.resp.total())
	hostSink := s.host.Sink
	s.mu.Unlock()

	if hostSink != nil {
		_ = hostSink.ReportData(DataIntermediate, cursor, total)
		if cursor == total {
			_ = hostSink.ReportData(DataFullyAvailable, total, total)
			_ = hostSink.ReportResult(nil, 0, "")
		}
	}
	return n, nil
}

// forwardLocked 调用前持有锁，返回前释放
func (s *Sink) forwardLocked(p []byte) (int, error) {
	s.forwarded = true
	target := s.target
	s.mu.Unlock()

	n, err := target.Read(p)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		s.mu.Lock()
		s.state = StateCompleted
		s.mu.Unlock()
	default:
		err = &TransportError{Op: "read", Err: err}
	}
	return n, err
}

// Abort 中止真实传输并结束事务
func (s *Sink) Abort(reason error) error {
	s.mu.Lock()
	target := s.target
	s.state = StateCompleted
	s.mu.Unlock()
	if target == nil {
		return nil
	}
	if err := target.Abort(reason); err != nil {
		return &TransportError{Op: "abort", Err: err}
	}
	return nil
}

// ReportResult 替代模式下吞掉真实传输的结果，由替代内容自行报告完成
func (s *Sink) ReportResult(result error, code uint32, text string) error {
	s.mu.Lock()
	synthetic, hostSink := s.synthetic, s.host.Sink
	s.mu.Unlock()
	if synthetic || hostSink == nil {
		return nil
	}
	return hostSink.ReportResult(result, code, text)
}

// ReportProgress 透传
func (s *Sink) ReportProgress(status uint32, text string) error {
	hostSink := s.hostSink()
	if hostSink == nil {
		return nil
	}
	return hostSink.ReportProgress(status, text)
}

// ReportData 透传
func (s *Sink) ReportData(flags DataFlag, progress, max uint64) error {
	hostSink := s.hostSink()
	if hostSink == nil {
		return nil
	}
	return hostSink.ReportData(flags, progress, max)
}

// Switch 透传给宿主，宿主会在拥有事务的线程上回调，不能在工作线程上直接完成
func (s *Sink) Switch(data *ProtocolData) error {
	hostSink := s.hostSink()
	if hostSink == nil {
		return ErrUnexpected
	}
	return hostSink.Switch(data)
}

func (s *Sink) hostSink() ProtocolSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host.Sink
}

func (s *Sink) TraceID() string { return s.traceID }

func (s *Sink) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *Sink) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sink) ContentType() model.ContentType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contentType
}

func (s *Sink) BoundDomain() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundDomain
}

// Synthetic 是否以替代内容应答
func (s *Sink) Synthetic() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synthetic
}

// acceptHeader 从传输的原始请求头中提取 Accept
func acceptHeader(target Protocol) string {
	info, ok := target.(HTTPInfo)
	if !ok {
		return ""
	}
	raw, err := info.RawRequestHeaders()
	if err != nil {
		return ""
	}
	return traffic.Blob(raw).Extract("Accept:")
}
