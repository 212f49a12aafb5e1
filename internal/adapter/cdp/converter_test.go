package cdp

import (
	"io"
	"testing"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabguard/pkg/traffic"
)

func TestToNeutralRequest(t *testing.T) {
	ev := &fetch.RequestPausedReply{
		RequestID:    "req-1",
		ResourceType: network.ResourceTypeScript,
		Request: network.Request{
			URL:     "http://ads.example/a.js",
			Method:  "GET",
			Headers: network.Headers(`{"Referer":"http://pub.example/","X-Requested-With":"XMLHttpRequest","Accept":"*/*"}`),
		},
	}

	req := ToNeutralRequest(ev)
	assert.Equal(t, "req-1", req.ID)
	assert.Equal(t, "http://ads.example/a.js", req.URL)
	assert.Equal(t, "Script", req.ResourceType)
	require.Len(t, req.Headers, 3)
	assert.Equal(t, "Referer", req.Headers[0].Name)

	blob := req.Headers.Blob()
	assert.Equal(t, "http://pub.example/", blob.Extract("Referer:"))
	assert.Equal(t, "XMLHttpRequest", blob.Extract("X-Requested-With:"))
}

func TestParseHeadersEmpty(t *testing.T) {
	assert.Nil(t, ParseHeaders(nil))
	assert.Empty(t, ParseHeaders([]byte(`{}`)))
}

func TestToHeaderEntries(t *testing.T) {
	entries := ToHeaderEntries(traffic.Headers{{Name: "Content-Type", Value: "text/html"}})
	assert.Equal(t, []fetch.HeaderEntry{{Name: "Content-Type", Value: "text/html"}}, entries)
}

func TestPausedTransport(t *testing.T) {
	p := NewPausedTransport("Accept: text/css\r\n")
	require.NoError(t, p.Start("http://x.example/", nil, nil))

	raw, err := p.RawRequestHeaders()
	require.NoError(t, err)
	assert.Equal(t, "text/css", traffic.Blob(raw).Extract("Accept:"))

	n, err := p.Read(make([]byte, 8))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)

	additional, err := NewNegotiator("Referer: a\r\n").BeginningTransaction("http://x.example/", "")
	require.NoError(t, err)
	assert.Equal(t, "Referer: a\r\n", additional)
}
