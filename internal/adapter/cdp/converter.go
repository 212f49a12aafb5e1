package cdp

import (
	"io"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/tidwall/gjson"

	"tabguard/internal/sink"
	"tabguard/pkg/traffic"
)

// ToNeutralRequest 将 CDP 事件转换为中立 Request 模型，头部保持原始顺序和大小写
func ToNeutralRequest(ev *fetch.RequestPausedReply) *traffic.Request {
	req := traffic.NewRequest()
	req.ID = string(ev.RequestID)
	req.URL = ev.Request.URL
	req.Method = ev.Request.Method
	req.ResourceType = string(ev.ResourceType)
	req.Headers = ParseHeaders(ev.Request.Headers)
	return req
}

// ParseHeaders 解析 CDP 头部 JSON 对象
func ParseHeaders(raw []byte) traffic.Headers {
	if len(raw) == 0 {
		return nil
	}
	var out traffic.Headers
	gjson.ParseBytes(raw).ForEach(func(key, value gjson.Result) bool {
		out = append(out, traffic.HeaderEntry{Name: key.String(), Value: value.String()})
		return true
	})
	return out
}

// ToHeaderEntries 将中立 Header 转换为 CDP Header 条目
func ToHeaderEntries(h traffic.Headers) []fetch.HeaderEntry {
	entries := make([]fetch.HeaderEntry, 0, len(h))
	for _, e := range h {
		entries = append(entries, fetch.HeaderEntry{Name: e.Name, Value: e.Value})
	}
	return entries
}

// PausedTransport 已暂停请求的传输视图：浏览器持有真实连接，
// 放行后由浏览器自行读取响应，因此这里没有数据可读
type PausedTransport struct {
	headers traffic.Blob
}

// NewPausedTransport 以请求头创建传输视图
func NewPausedTransport(headers traffic.Blob) *PausedTransport {
	return &PausedTransport{headers: headers}
}

func (p *PausedTransport) Start(string, sink.ProtocolSink, sink.BindStatus) error { return nil }

func (p *PausedTransport) Read([]byte) (int, error) { return 0, io.EOF }

func (p *PausedTransport) Abort(error) error { return nil }

// RawRequestHeaders 原始请求头
func (p *PausedTransport) RawRequestHeaders() (string, error) { return string(p.headers), nil }

// Negotiator 头部协商：把浏览器发出的请求头作为附加头交给拦截状态机
type Negotiator struct {
	headers traffic.Blob
}

func NewNegotiator(headers traffic.Blob) Negotiator { return Negotiator{headers: headers} }

func (n Negotiator) BeginningTransaction(string, string) (string, error) {
	return string(n.headers), nil
}

func (n Negotiator) OnResponse(int, string, string) (string, error) { return "", nil }
