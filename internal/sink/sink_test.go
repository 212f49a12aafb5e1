package sink

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabguard/internal/classify"
	"tabguard/pkg/model"
)

type dataCall struct {
	flags         DataFlag
	progress, max uint64
}

type fakeHostSink struct {
	mu       sync.Mutex
	data     []dataCall
	results  []error
	progress []uint32
	switches int
}

func (h *fakeHostSink) Switch(*ProtocolData) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.switches++
	return nil
}

func (h *fakeHostSink) ReportProgress(status uint32, _ string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.progress = append(h.progress, status)
	return nil
}

func (h *fakeHostSink) ReportData(flags DataFlag, progress, max uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = append(h.data, dataCall{flags, progress, max})
	return nil
}

func (h *fakeHostSink) ReportResult(result error, _ uint32, _ string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = append(h.results, result)
	return nil
}

type fakeTarget struct {
	body    *strings.Reader
	started bool
	aborted error
	readErr error
	raw     string
	sink    ProtocolSink
}

func (f *fakeTarget) Start(_ string, s ProtocolSink, _ BindStatus) error {
	f.started = true
	f.sink = s
	return nil
}

func (f *fakeTarget) Read(p []byte) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	return f.body.Read(p)
}

func (f *fakeTarget) Abort(reason error) error {
	f.aborted = reason
	return nil
}

func (f *fakeTarget) RawRequestHeaders() (string, error) { return f.raw, nil }

type fakeNegotiator struct {
	additional string
}

func (n fakeNegotiator) BeginningTransaction(string, string) (string, error) {
	return n.additional, nil
}

func (n fakeNegotiator) OnResponse(int, string, string) (string, error) { return "", nil }

type fakeTab struct {
	doc    string
	frames map[string]bool
}

func (t fakeTab) DocumentURL() string           { return t.doc }
func (t fakeTab) IsFrameCached(url string) bool { return t.frames[url] }

type fakeFilter struct {
	block       bool
	whitelisted bool
	calls       int
	gotType     model.ContentType
	gotDomain   string
}

func (f *fakeFilter) ShouldBlock(_ string, ct model.ContentType, domain string, _ bool) bool {
	f.calls++
	f.gotType = ct
	f.gotDomain = domain
	return f.block
}

func (f *fakeFilter) IsWhitelistedURL(string) bool { return f.whitelisted }

type fixture struct {
	sink   *Sink
	host   *fakeHostSink
	target *fakeTarget
	filter *fakeFilter
}

func newFixture(t *testing.T, block bool, tab Tab, additional string) *fixture {
	t.Helper()
	f := &fixture{
		host:   &fakeHostSink{},
		target: &fakeTarget{body: strings.NewReader("real body")},
		filter: &fakeFilter{block: block},
	}
	f.sink = New(Config{Tab: tab, Filter: f.filter, PluginEnabled: true, HostMajorVersion: 11})
	err := f.sink.Start("http://ads.example/banner.js", Host{
		Sink:       f.host,
		Negotiator: fakeNegotiator{additional: additional},
	}, f.target)
	require.NoError(t, err)
	require.True(t, f.target.started)
	assert.Equal(t, StateTransactionStarted, f.sink.State())
	return f
}

func readAll(t *testing.T, s *Sink, chunk int) ([]byte, int) {
	t.Helper()
	var out []byte
	eofs := 0
	buf := make([]byte, chunk)
	for i := 0; i < 1000; i++ {
		n, err := s.Read(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			eofs++
			break
		}
		require.NoError(t, err)
	}
	return out, eofs
}

func TestBlockedScriptDeliversSyntheticPage(t *testing.T) {
	tab := fakeTab{doc: "http://pub.example/"}
	f := newFixture(t, true, tab, "Referer: http://pub.example/\r\n")

	additional, err := f.sink.BeginningTransaction("http://ads.example/banner.js", "")
	assert.ErrorIs(t, err, ErrAbort)
	assert.Equal(t, "Referer: http://pub.example/\r\n", additional)
	assert.Equal(t, model.ContentTypeScript, f.sink.ContentType())
	assert.Equal(t, model.ContentTypeScript, f.filter.gotType)
	assert.Equal(t, "http://pub.example/", f.filter.gotDomain)
	assert.True(t, f.sink.Synthetic())
	assert.Equal(t, StateSyntheticDelivering, f.sink.State())

	body, eofs := readAll(t, f.sink, 16)
	assert.Equal(t, BlockedPage, string(body))
	assert.Equal(t, 1, eofs)
	assert.Equal(t, StateCompleted, f.sink.State())

	total := uint64(len(BlockedPage))
	require.Len(t, f.host.results, 1)
	assert.NoError(t, f.host.results[0])
	last := f.host.data[len(f.host.data)-1]
	assert.Equal(t, dataCall{DataFullyAvailable, total, total}, last)

	var prev uint64
	for _, d := range f.host.data[:len(f.host.data)-1] {
		assert.Equal(t, DataIntermediate, d.flags)
		assert.Greater(t, d.progress, prev)
		assert.Equal(t, total, d.max)
		prev = d.progress
	}

	n, err := f.sink.Read(make([]byte, 8))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrCompleted)
}

func TestSyntheticChunkSizesSumToPayload(t *testing.T) {
	for _, chunk := range []int{1, 7, 64, 4096} {
		f := newFixture(t, true, nil, "Referer: http://pub.example/\r\n")
		_, err := f.sink.BeginningTransaction("http://ads.example/banner.js", "")
		require.ErrorIs(t, err, ErrAbort)

		body, eofs := readAll(t, f.sink, chunk)
		assert.Equal(t, BlockedPage, string(body), "chunk %d", chunk)
		assert.Equal(t, 1, eofs)
	}
}

func TestReportResultSwallowedWhenSynthetic(t *testing.T) {
	f := newFixture(t, true, nil, "Referer: http://pub.example/\r\n")
	_, _ = f.sink.BeginningTransaction("http://ads.example/banner.js", "")

	require.NoError(t, f.target.sink.ReportResult(ErrAbort, 0, "aborted"))
	assert.Empty(t, f.host.results)
}

func TestBlockedObjectSubrequestFails(t *testing.T) {
	f := newFixture(t, true, nil, "Referer: http://pub.example/\r\nx-flash-version: 15,0,0,152\r\n")

	_, err := f.sink.BeginningTransaction("http://ads.example/video.flv", "")
	assert.ErrorIs(t, err, ErrAbort)
	assert.Equal(t, model.ContentTypeObjectSubrequest, f.sink.ContentType())
	assert.False(t, f.sink.Synthetic())

	// 真实传输的中止结果照常上报给宿主
	require.NoError(t, f.sink.ReportResult(ErrAbort, 0, ""))
	require.Len(t, f.host.results, 1)
	assert.ErrorIs(t, f.host.results[0], ErrAbort)
	assert.Empty(t, f.host.data)
}

func TestDocumentURLNeverBlocked(t *testing.T) {
	url := "http://pub.example/home"
	tab := fakeTab{doc: url, frames: map[string]bool{url: true}}
	f := newFixture(t, true, tab, "Referer: http://pub.example/\r\n")

	_, err := f.sink.BeginningTransaction(url, "")
	assert.NoError(t, err)
	assert.Zero(t, f.filter.calls)
	assert.Equal(t, StateForwarding, f.sink.State())
	assert.NotEqual(t, model.ContentTypeSubdocument, f.sink.ContentType())
	assert.False(t, f.sink.Synthetic())
}

func TestFrameCacheForcesSubdocument(t *testing.T) {
	frame := "http://ads.example/frame.png"
	tab := fakeTab{doc: "http://pub.example/", frames: map[string]bool{frame: true}}

	f := newFixture(t, false, tab, "Referer: http://pub.example/\r\n")
	_, err := f.sink.BeginningTransaction(frame, "")
	require.NoError(t, err)
	assert.Equal(t, model.ContentTypeSubdocument, f.filter.gotType)

	f = newFixture(t, false, tab, "Referer: http://pub.example/\r\n")
	f.filter.whitelisted = true
	_, err = f.sink.BeginningTransaction(frame, "")
	require.NoError(t, err)
	assert.Equal(t, model.ContentTypeImage, f.filter.gotType)
}

func TestAcceptHeaderFromTransport(t *testing.T) {
	f := newFixture(t, false, nil, "Referer: http://pub.example/\r\n")
	f.target.raw = "GET /x HTTP/1.1\r\nAccept: text/css,*/*;q=0.1\r\n\r\n"
	_, err := f.sink.BeginningTransaction("http://cdn.example/x", "")
	require.NoError(t, err)
	assert.Equal(t, model.ContentTypeStyleSheet, f.sink.ContentType())
}

func TestForwardingReadPassesThrough(t *testing.T) {
	f := newFixture(t, false, nil, "Referer: http://pub.example/\r\n")
	_, err := f.sink.BeginningTransaction("http://cdn.example/app.js", "")
	require.NoError(t, err)
	assert.Equal(t, StateForwarding, f.sink.State())

	body, eofs := readAll(t, f.sink, 4)
	assert.Equal(t, "real body", string(body))
	assert.Equal(t, 1, eofs)

	require.NoError(t, f.sink.ReportResult(nil, 0, ""))
	assert.Len(t, f.host.results, 1)
	assert.Empty(t, f.host.data)
}

func TestForwardingReadWrapsTransportFailure(t *testing.T) {
	f := newFixture(t, false, nil, "")
	boom := errors.New("connection reset")
	f.target.readErr = boom
	_, _ = f.sink.BeginningTransaction("http://cdn.example/app.js", "")

	_, err := f.sink.Read(make([]byte, 4))
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, boom)
}

func TestReadPreconditions(t *testing.T) {
	s := New(Config{})
	n, err := s.Read(nil)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = s.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrUnexpected)

	assert.ErrorIs(t, s.Start("http://x/", Host{}, nil), ErrInvalidArgument)

	_, err = s.BeginningTransaction("", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestStartIsNotReentrant(t *testing.T) {
	f := newFixture(t, false, nil, "")
	assert.ErrorIs(t, f.sink.Start("http://x/", Host{}, f.target), ErrUnexpected)
}

func TestPassThroughCallbacks(t *testing.T) {
	f := newFixture(t, false, nil, "")
	require.NoError(t, f.sink.Switch(&ProtocolData{Flags: ForceSwitch}))
	require.NoError(t, f.sink.ReportProgress(1, "connecting"))
	assert.Equal(t, 1, f.host.switches)
	assert.Equal(t, []uint32{1}, f.host.progress)

	s := New(Config{})
	assert.ErrorIs(t, s.Switch(&ProtocolData{}), ErrUnexpected)
}

func TestAbortCompletes(t *testing.T) {
	f := newFixture(t, false, nil, "")
	reason := errors.New("navigated away")
	require.NoError(t, f.sink.Abort(reason))
	assert.Equal(t, reason, f.target.aborted)
	assert.Equal(t, StateCompleted, f.sink.State())
}

func TestFlashBindInfoFromHost(t *testing.T) {
	host := &fakeHostSink{}
	target := &fakeTarget{body: strings.NewReader("")}
	filter := &fakeFilter{}
	s := New(Config{Filter: filter, HostMajorVersion: 11})
	require.NoError(t, s.Start("http://x/", Host{
		Sink:       host,
		Negotiator: fakeNegotiator{additional: "Referer: http://pub.example/\r\n"},
		Bind:       flashBind{},
	}, target))

	_, err := s.BeginningTransaction("http://cdn.example/clip.mp4", "")
	require.NoError(t, err)
	assert.Equal(t, model.ContentTypeObjectSubrequest, filter.gotType)
}

type flashBind struct{}

func (flashBind) BindInfo() (classify.BindInfo, error) {
	return classify.BindInfo{
		Flags:   classify.BindAsynchronous | classify.BindAsyncStorage | classify.BindPullData,
		Options: classify.BindOptionEnableUTF8 | classify.BindOptionUseIEEncoding,
	}, nil
}
