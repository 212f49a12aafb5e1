package model

import "strings"

type TabID string
type RuleID string

// ContentType 请求内容类型标签，每个请求恰好分配一个
type ContentType int

const (
	ContentTypeAny ContentType = iota
	ContentTypeImage
	ContentTypeStyleSheet
	ContentTypeScript
	ContentTypeObject
	ContentTypeObjectSubrequest
	ContentTypeSubdocument
	ContentTypeXMLHTTPRequest
)

var contentTypeNames = [...]string{
	ContentTypeAny:              "any",
	ContentTypeImage:            "image",
	ContentTypeStyleSheet:       "stylesheet",
	ContentTypeScript:           "script",
	ContentTypeObject:           "object",
	ContentTypeObjectSubrequest: "object-subrequest",
	ContentTypeSubdocument:      "subdocument",
	ContentTypeXMLHTTPRequest:   "xmlhttprequest",
}

// String 返回过滤规则中使用的类型名
func (c ContentType) String() string {
	if c < 0 || int(c) >= len(contentTypeNames) {
		return "any"
	}
	return contentTypeNames[c]
}

// ParseContentType 解析类型名，未知名称返回 false
func ParseContentType(s string) (ContentType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range contentTypeNames {
		if name == s {
			return ContentType(i), true
		}
	}
	return ContentTypeAny, false
}

// Event 拦截事件
type Event struct {
	Type        string      `json:"type"`
	Tab         TabID       `json:"tab"`
	TraceID     string      `json:"traceId"`
	URL         string      `json:"url"`
	ContentType ContentType `json:"contentType"`
	Referrer    string      `json:"referrer"`
	Synthetic   bool        `json:"synthetic"`
	Error       string      `json:"error,omitempty"`
	Timestamp   int64       `json:"timestamp"`
}

const (
	EventIntercepted = "intercepted"
	EventAllowed     = "allowed"
	EventBlocked     = "blocked"
	EventFailed      = "failed"
)

type TabInfo struct {
	ID          TabID  `json:"id"`
	DocumentURL string `json:"documentURL"`
	Domain      string `json:"domain"`
	Frames      int    `json:"frames"`
}

type EngineStats struct {
	Total   int64            `json:"total"`
	Blocked int64            `json:"blocked"`
	ByRule  map[RuleID]int64 `json:"byRule"`
}
