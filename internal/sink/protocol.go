package sink

import (
	"tabguard/internal/classify"
	"tabguard/pkg/model"
)

// 数据通知标志
type DataFlag uint32

const (
	DataFirst          DataFlag = 0x1
	DataIntermediate   DataFlag = 0x2
	DataLast           DataFlag = 0x4
	DataFullyAvailable DataFlag = 0x8
)

// ForceSwitch 要求宿主切回拥有事务的线程
const ForceSwitch uint32 = 0x1

// ProtocolData 线程切换时携带的数据
type ProtocolData struct {
	Flags uint32
	State uint32
	Data  []byte
}

// Protocol 被拦截的真实传输
type Protocol interface {
	Start(url string, sink ProtocolSink, bind BindStatus) error
	Read(p []byte) (int, error)
	Abort(reason error) error
}

// HTTPInfo 传输的可选能力：查询原始请求头
type HTTPInfo interface {
	RawRequestHeaders() (string, error)
}

// ProtocolSink 宿主一侧接收传输进度和结果的回调
type ProtocolSink interface {
	Switch(data *ProtocolData) error
	ReportProgress(status uint32, text string) error
	ReportData(flags DataFlag, progress, max uint64) error
	ReportResult(result error, code uint32, text string) error
}

// Negotiator 宿主的头部协商服务
type Negotiator interface {
	BeginningTransaction(url, headers string) (string, error)
	OnResponse(code int, responseHeaders, requestHeaders string) (string, error)
}

// BindStatus 宿主的绑定状态回调
type BindStatus interface {
	BindInfo() (classify.BindInfo, error)
}

// Host 宿主在事务开始时提供的服务，Negotiator 和 Bind 可为空
type Host struct {
	Sink       ProtocolSink
	Negotiator Negotiator
	Bind       BindStatus
}

// Tab 拦截层查询的标签页状态
type Tab interface {
	DocumentURL() string
	IsFrameCached(url string) bool
}

// Filter 外部提供的拦截决策
type Filter interface {
	ShouldBlock(url string, ct model.ContentType, documentDomain string, debug bool) bool
	IsWhitelistedURL(url string) bool
}
