package rewrite

import (
	"net/netip"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shoalproxy/shoal/internal/httpx"
	"github.com/shoalproxy/shoal/internal/matcher"
)

var peer = netip.MustParseAddr("198.51.100.10")

func mkreq(t *testing.T, line string, headers ...string) *httpx.Request {
	t.Helper()
	req, err := httpx.ParseRequestLine(line, 4)
	require.NoError(t, err)
	for _, h := range headers {
		req.AddHeader(h)
	}
	return req
}

func TestSetHeaderAppendAndReplace(t *testing.T) {
	req := mkreq(t, "GET / HTTP/1.1", "Host: a", "X-Old: 1")
	r := &Rule{Ops: []Op{
		{Kind: SetHeader, Template: "X-New: hello"},
		{Kind: SetHeader, Template: "X-Old: 2"},
	}}
	r.Apply(req, nil, peer)
	require.Equal(t, "hello", req.NamedHeader("X-New").Value())
	require.Equal(t, "2", req.NamedHeader("X-Old").Value())
	require.Len(t, req.Headers, 3)
}

func TestDelHeader(t *testing.T) {
	req := mkreq(t, "GET / HTTP/1.1", "Host: a", "X-Secret: 1", "X-Keep: 2")
	r := &Rule{Ops: []Op{
		{Kind: DelHeader, Re: regexp.MustCompile(`(?i)^x-secret:`)},
	}}
	r.Apply(req, nil, peer)
	require.Nil(t, req.NamedHeader("X-Secret"))
	require.NotNil(t, req.NamedHeader("X-Keep"))
}

func TestSetURLWithSubmatch(t *testing.T) {
	req := mkreq(t, "GET /old/thing HTTP/1.1", "Host: a")
	r := &Rule{
		Cond: &matcher.URLCond{Re: regexp.MustCompile(`^/old/(.*)`)},
		Ops:  []Op{{Kind: SetURL, Template: "/new/$1"}},
	}
	r.Apply(req, nil, peer)
	require.Equal(t, "/new/thing", req.URL())
	require.Equal(t, "GET /new/thing HTTP/1.1", req.RequestLine())
}

func TestSetURLEscapesSubmatch(t *testing.T) {
	req := mkreq(t, "GET /old/a%20b%3Cc HTTP/1.1", "Host: a")
	// decoded target is /old/a b<c; the substitution must re-encode it
	r := &Rule{
		Cond: &matcher.URLCond{Re: regexp.MustCompile(`^/old/(.*)`)},
		Ops:  []Op{{Kind: SetURL, Template: "/new/$1"}},
	}
	r.Apply(req, nil, peer)
	require.Equal(t, "GET /new/a%20b%3Cc HTTP/1.1", req.RequestLine())
}

func TestElseBranch(t *testing.T) {
	req := mkreq(t, "GET /x HTTP/1.1", "Host: a")
	r := &Rule{
		Cond: &matcher.PathCond{Re: regexp.MustCompile(`^/never$`)},
		Ops:  []Op{{Kind: SetHeader, Template: "X-Branch: then"}},
		Else: &Rule{Ops: []Op{{Kind: SetHeader, Template: "X-Branch: else"}}},
	}
	r.Apply(req, nil, peer)
	require.Equal(t, "else", req.NamedHeader("X-Branch").Value())
}

func TestSubRuleNesting(t *testing.T) {
	req := mkreq(t, "GET /api/v2/x HTTP/1.1", "Host: a")
	inner := &Rule{
		Cond: &matcher.PathCond{Re: regexp.MustCompile(`/v2/`)},
		Ops:  []Op{{Kind: SetHeader, Template: "X-V: 2"}},
	}
	outer := &Rule{
		Cond: &matcher.PathCond{Re: regexp.MustCompile(`^/api/`)},
		Ops: []Op{
			{Kind: SetHeader, Template: "X-API: yes"},
			{Kind: SubRule, Rule: inner},
		},
	}
	outer.Apply(req, nil, peer)
	require.Equal(t, "yes", req.NamedHeader("X-API").Value())
	require.Equal(t, "2", req.NamedHeader("X-V").Value())
}

func TestSetQueryParam(t *testing.T) {
	req := mkreq(t, "GET /p?keep=1 HTTP/1.1", "Host: a")
	r := &Rule{Ops: []Op{{Kind: SetQueryParam, Name: "tag", Template: "%{X-Tag}i"}}}
	req.AddHeader("X-Tag: blue")
	r.Apply(req, nil, peer)
	require.Equal(t, "/p?keep=1&tag=blue", req.URL())
}

func TestResponsePhase(t *testing.T) {
	req := mkreq(t, "GET / HTTP/1.1", "Host: a")
	res, err := httpx.ParseStatusLine("HTTP/1.1 200 OK")
	require.NoError(t, err)
	res.SetHeader("Server: upstream/1.0")

	r := &Rule{Ops: []Op{
		{Kind: SetHeader, Template: "Server: shoal"},
		{Kind: SetURL, Template: "/ignored"}, // URL ops are no-ops on responses
	}}
	r.Apply(req, res, peer)
	require.Equal(t, "shoal", res.NamedHeader("Server").Value())
	require.Equal(t, "/", req.URL())
}

func TestRewriteLocation(t *testing.T) {
	res, err := httpx.ParseStatusLine("HTTP/1.1 301 Moved Permanently")
	require.NoError(t, err)
	res.SetHeader("Location: http://10.0.0.5:8080/new/path?x=1")

	known := func(host string) bool { return host == "10.0.0.5:8080" }

	RewriteLocation(res, "www.example.org", true, known)
	require.Equal(t, "https://www.example.org/new/path?x=1",
		res.NamedHeader("Location").Value())
}

func TestRewriteLocation_SchemeTracksTLS(t *testing.T) {
	res, _ := httpx.ParseStatusLine("HTTP/1.1 302 Found")
	res.SetHeader("Location: http://backend:80/p")
	RewriteLocation(res, "h.example", false, func(string) bool { return true })
	require.Equal(t, "http://h.example/p", res.NamedHeader("Location").Value())
}

func TestRewriteLocation_UnknownHostUntouched(t *testing.T) {
	res, _ := httpx.ParseStatusLine("HTTP/1.1 302 Found")
	res.SetHeader("Location: http://elsewhere.example/p")
	RewriteLocation(res, "h.example", false, func(string) bool { return false })
	require.Equal(t, "http://elsewhere.example/p", res.NamedHeader("Location").Value())
}

func TestRewriteLocation_RelativeUntouched(t *testing.T) {
	res, _ := httpx.ParseStatusLine("HTTP/1.1 302 Found")
	res.SetHeader("Location: /relative/only")
	RewriteLocation(res, "h.example", false, func(string) bool { return true })
	require.Equal(t, "/relative/only", res.NamedHeader("Location").Value())
}

func TestRewriteDestination(t *testing.T) {
	req := mkreq(t, "MOVE /src HTTP/1.1",
		"Host: proxy.example",
		"Destination: https://proxy.example/dst")
	RewriteDestination(req, "10.0.0.9:8080", false)
	require.Equal(t, "http://10.0.0.9:8080/dst", req.NamedHeader("Destination").Value())
}
