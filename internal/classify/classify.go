// Package classify 根据 MIME、URL 扩展名和请求头推断请求的内容类型标签。
//
// 判定顺序固定：无 MIME 且无 Referer 的 XHR 推断 → MIME 子串 → URL 扩展名，
// 之后依次应用帧缓存、Flash 启发式和 X-Requested-With 三个强制覆盖，后者生效。
package classify

import (
	"strings"

	"tabguard/pkg/model"
	"tabguard/pkg/traffic"
)

// XDROriginMinVersion 宿主可提供 XDR 来源绑定字符串的最低主版本
const XDROriginMinVersion = 8

// 绑定标志，取值与宿主传输层一致
const (
	BindAsynchronous uint32 = 0x00000001
	BindAsyncStorage uint32 = 0x00000002
	BindPullData     uint32 = 0x00000080
)

// 绑定选项
const (
	BindOptionEnableUTF8    uint32 = 0x00020000
	BindOptionUseIEEncoding uint32 = 0x00080000
)

const (
	flashBindFlags   = BindAsynchronous | BindAsyncStorage | BindPullData
	flashBindOptions = BindOptionEnableUTF8 | BindOptionUseIEEncoding
)

// BindInfo 宿主回调给出的绑定信息
type BindInfo struct {
	Flags   uint32
	Options uint32
}

// Input 一次分类所需的全部信号
type Input struct {
	MimeType         string
	ReferrerDomain   string
	URL              string
	Headers          traffic.Blob
	Bind             *BindInfo
	FrameCached      bool
	HostMajorVersion int
}

// Classify 计算请求的内容类型标签
func Classify(in Input) model.ContentType {
	ct := Base(in.MimeType, in.ReferrerDomain, in.URL, in.HostMajorVersion >= XDROriginMinVersion)
	if in.FrameCached {
		ct = model.ContentTypeSubdocument
	}
	if IsFlashRequest(in.Headers, in.Bind) {
		ct = model.ContentTypeObjectSubrequest
	}
	if IsXMLHTTPRequest(in.Headers) {
		ct = model.ContentTypeXMLHTTPRequest
	}
	return ct
}

// Base 不含强制覆盖的基础分类
func Base(mimeType, referrerDomain, url string, xdrOrigin bool) model.ContentType {
	if mimeType == "" && referrerDomain == "" && xdrOrigin {
		return model.ContentTypeXMLHTTPRequest
	}
	ct := FromMimeType(mimeType)
	if ct == model.ContentTypeAny {
		ct = FromURL(url)
	}
	return ct
}

// FromMimeType 按 MIME 子串分类
func FromMimeType(mimeType string) model.ContentType {
	switch {
	case strings.Contains(mimeType, "image/"):
		return model.ContentTypeImage
	case strings.Contains(mimeType, "text/css"):
		return model.ContentTypeStyleSheet
	case strings.Contains(mimeType, "application/javascript"), strings.Contains(mimeType, "application/json"):
		return model.ContentTypeScript
	case strings.Contains(mimeType, "application/x-shockwave-flash"):
		return model.ContentTypeObject
	case strings.Contains(mimeType, "text/html"):
		return model.ContentTypeSubdocument
	// 必须放在最后，"xml" 过于宽泛
	case strings.Contains(mimeType, "xml"):
		return model.ContentTypeXMLHTTPRequest
	}
	return model.ContentTypeAny
}

// FromURL 按扩展名分类，忽略第一个 '?' 之后的内容
func FromURL(src string) model.ContentType {
	if pos := strings.IndexByte(src, '?'); pos > 0 {
		src = src[:pos]
	}
	dot := strings.LastIndexByte(src, '.')
	if dot < 0 {
		return model.ContentTypeAny
	}
	ext := src[dot:]
	switch {
	case ext == ".jpg" || ext == ".gif" || ext == ".png" || ext == ".jpeg":
		return model.ContentTypeImage
	case ext == ".css":
		return model.ContentTypeStyleSheet
	case strings.HasSuffix(ext, ".js"):
		return model.ContentTypeScript
	case ext == ".xml":
		return model.ContentTypeXMLHTTPRequest
	case ext == ".swf":
		return model.ContentTypeObject
	case ext == ".jsp" || ext == ".php" || ext == ".html":
		return model.ContentTypeSubdocument
	}
	return model.ContentTypeAny
}

// IsFlashRequest 识别 Flash 控件发出的请求：显式的 flash 版本头，
// 或者只含最小绑定标志组合且没有版本头。
// net/http 会把头名规范化为 X-Flash-Version，所以两种写法都认
func IsFlashRequest(headers traffic.Blob, bind *BindInfo) bool {
	if headers.Extract("x-flash-version:") != "" || headers.Extract("X-Flash-Version:") != "" {
		return true
	}
	if bind == nil {
		return false
	}
	return bind.Flags == flashBindFlags && bind.Options == flashBindOptions
}

// IsXMLHTTPRequest X-Requested-With 去空白后严格等于 "XMLHttpRequest"
func IsXMLHTTPRequest(headers traffic.Blob) bool {
	return headers.Extract("X-Requested-With:") == "XMLHttpRequest"
}
