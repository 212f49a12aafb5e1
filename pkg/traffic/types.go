package traffic

import (
	"net/http"
	"strings"
)

// Blob 原始头部文本，每行一个 "name: value"，以换行分隔
type Blob string

// Extract 按字面 "name:" 前缀查找头部，返回到下一个换行前的内容（已去空白）
// 未找到或缺少行终止符时返回空串
func (b Blob) Extract(nameWithColon string) string {
	s := string(b)
	begin := strings.Index(s, nameWithColon)
	if begin < 0 {
		return ""
	}
	begin += len(nameWithColon)
	end := strings.Index(s[begin:], "\n")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(s[begin : begin+end])
}

// HeaderEntry 保留原始大小写和顺序的头部条目
type HeaderEntry struct {
	Name  string
	Value string
}

// Headers 有序头部列表
type Headers []HeaderEntry

// Get 获取指定 Header 的值（大小写不敏感）
func (h Headers) Get(key string) string {
	for _, e := range h {
		if strings.EqualFold(e.Name, key) {
			return e.Value
		}
	}
	return ""
}

// Set 设置指定 Header 的值，已存在则覆盖
func (h *Headers) Set(key, value string) {
	for i := range *h {
		if strings.EqualFold((*h)[i].Name, key) {
			(*h)[i].Value = value
			return
		}
	}
	*h = append(*h, HeaderEntry{Name: key, Value: value})
}

// Del 删除指定 Header
func (h *Headers) Del(key string) {
	out := (*h)[:0]
	for _, e := range *h {
		if !strings.EqualFold(e.Name, key) {
			out = append(out, e)
		}
	}
	*h = out
}

// Blob 序列化为 CRLF 分隔的原始头部文本
func (h Headers) Blob() Blob {
	var b strings.Builder
	for _, e := range h {
		b.WriteString(e.Name)
		b.WriteString(": ")
		b.WriteString(e.Value)
		b.WriteString("\r\n")
	}
	return Blob(b.String())
}

// FromHTTP 从 net/http 头部构造有序列表
func FromHTTP(h http.Header) Headers {
	out := make(Headers, 0, len(h))
	for k, vs := range h {
		for _, v := range vs {
			out = append(out, HeaderEntry{Name: k, Value: v})
		}
	}
	return out
}

// Request 中立的请求模型
type Request struct {
	ID           string  // 事务唯一ID
	URL          string  // 完整URL
	Method       string  // HTTP方法
	Headers      Headers // 请求头
	ResourceType string  // 宿主给出的资源类型 (如 Document, XHR)
}

// Response 中立的响应模型
type Response struct {
	StatusCode int     // 状态码
	Headers    Headers // 响应头
	Body       []byte  // 响应体数据
}

// NewRequest 创建初始化请求对象
func NewRequest() *Request {
	return &Request{}
}

// NewResponse 创建初始化响应对象
func NewResponse() *Response {
	return &Response{
		StatusCode: http.StatusOK,
	}
}
