package httpx

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRequestLine(t *testing.T) {
	req, err := ParseRequestLine("GET /foo/bar?x=1 HTTP/1.1", 0)
	require.NoError(t, err)
	require.Equal(t, MethodGet, req.Method)
	require.Equal(t, 1, req.Version)
	require.Equal(t, "/foo/bar?x=1", req.URL())
	require.Equal(t, "/foo/bar", req.Path())
	require.Equal(t, "x=1", req.Query())
}

func TestParseRequestLine_GroupGate(t *testing.T) {
	cases := []struct {
		line  string
		group int
		ok    bool
	}{
		{"GET / HTTP/1.1", 0, true},
		{"PUT / HTTP/1.1", 0, false},
		{"PUT / HTTP/1.1", 1, true},
		{"PROPFIND / HTTP/1.1", 1, false},
		{"PROPFIND / HTTP/1.1", 2, true},
		{"BPROPFIND / HTTP/1.1", 2, false},
		{"RPC_IN_DATA / HTTP/1.1", 3, false},
		{"RPC_IN_DATA / HTTP/1.1", 4, true},
		{"BREW / HTTP/1.1", 4, false},
	}
	for _, tc := range cases {
		_, err := ParseRequestLine(tc.line, tc.group)
		if tc.ok && err != nil {
			t.Errorf("%q group %d: unexpected error %v", tc.line, tc.group, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%q group %d: want error", tc.line, tc.group)
		}
	}
}

func TestParseRequestLine_Versions(t *testing.T) {
	if _, err := ParseRequestLine("GET / HTTP/1.0", 0); err != nil {
		t.Fatalf("HTTP/1.0: %v", err)
	}
	if _, err := ParseRequestLine("GET / HTTP/2.0", 0); err == nil {
		t.Fatal("HTTP/2.0 accepted")
	}
	if _, err := ParseRequestLine("GET /", 0); err == nil {
		t.Fatal("two-field line accepted")
	}
}

func TestDecodeURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"/plain", "/plain"},
		{"/a%20b", "/a b"},
		{"/a%2Fb", "/a/b"},
		{"/%zz", "/%zz"},       // malformed escape kept literally
		{"/%4", "/%4"},         // truncated escape kept literally
		{"/%4z", "/%4z"},       // second digit bad
		{"/%e4%b8%ad", "/\xe4\xb8\xad"},
	}
	for _, tc := range cases {
		got, err := DecodeURL(tc.in)
		if err != nil {
			t.Errorf("DecodeURL(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("DecodeURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDecodeURL_Nul(t *testing.T) {
	if _, err := DecodeURL("/a%00b"); err != ErrNulByte {
		t.Fatalf("want ErrNulByte, got %v", err)
	}
}

func TestEncodeURLComponent(t *testing.T) {
	require.Equal(t, "abc/DEF-1.2", EncodeURLComponent("abc/DEF-1.2"))
	require.Equal(t, "a%20b", EncodeURLComponent("a b"))
	require.Equal(t, "%22%3E%3Cscript%3E", EncodeURLComponent(`"><script>`))
	require.Equal(t, "a%0D%0Ab", EncodeURLComponent("a\r\nb"))
}

func TestClassifyHeader(t *testing.T) {
	cases := []struct {
		text string
		code HeaderCode
	}{
		{"Content-Length: 5", HdrContentLength},
		{"content-length: 5", HdrContentLength},
		{"Transfer-Encoding: chunked", HdrTransferEncoding},
		{"Host: example.org", HdrHost},
		{"X-Custom: v", HdrOther},
		{"NoColonHere", HdrIllegal},
		{"Bad Name: v", HdrIllegal},
		{"X: a\x01b", HdrIllegal},
	}
	for _, tc := range cases {
		if got := ClassifyHeader(tc.text); got != tc.code {
			t.Errorf("ClassifyHeader(%q) = %v, want %v", tc.text, got, tc.code)
		}
	}
}

func TestReadLine(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("hello\r\nworld\n"))
	l, err := ReadLine(br)
	require.NoError(t, err)
	require.Equal(t, "hello", l)
	l, err = ReadLine(br)
	require.NoError(t, err)
	require.Equal(t, "world", l)
}

func TestReadLine_BareCR(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("he\rllo\r\n"))
	if _, err := ReadLine(br); err != ErrBadChar {
		t.Fatalf("want ErrBadChar, got %v", err)
	}
}

func TestReadLine_Control(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("a\x00b\r\n"))
	if _, err := ReadLine(br); err != ErrBadChar {
		t.Fatalf("want ErrBadChar, got %v", err)
	}
	br = bufio.NewReader(strings.NewReader("a\tb\r\n"))
	if _, err := ReadLine(br); err != nil {
		t.Fatalf("tab rejected: %v", err)
	}
}

func TestReadLine_TooLong(t *testing.T) {
	long := strings.Repeat("x", maxLine+10) + "\r\nnext\r\n"
	br := bufio.NewReader(strings.NewReader(long))
	if _, err := ReadLine(br); err != ErrLineTooLong {
		t.Fatalf("want ErrLineTooLong, got %v", err)
	}
	// reader resynchronizes at the next line
	l, err := ReadLine(br)
	require.NoError(t, err)
	require.Equal(t, "next", l)
}

func TestReadHeaders_PreservesOrderAndDropsIllegal(t *testing.T) {
	raw := "Host: a\r\nX-One: 1\r\nbad header: x\r\nX-Two: 2\r\n\r\n"
	req := &Request{}
	dropped, err := req.ReadHeaders(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	require.Equal(t, 1, dropped)
	var names []string
	for _, h := range req.Headers {
		names = append(names, h.Name())
	}
	require.Equal(t, []string{"Host", "X-One", "X-Two"}, names)
	// serialization is verbatim
	require.Equal(t, "X-One: 1", req.Headers[1].Text)
}

func TestParseContentLength(t *testing.T) {
	n, err := ParseContentLength("12345")
	require.NoError(t, err)
	require.Equal(t, int64(12345), n)

	for _, bad := range []string{"", "12,13", "-1", "+5", " 5", "5 ", "0x10"} {
		if _, err := ParseContentLength(bad); err == nil {
			t.Errorf("ParseContentLength(%q): want error", bad)
		}
	}
}

func TestExtractBasicAuth(t *testing.T) {
	req := &Request{}
	req.AddHeader("Authorization: Basic YWxpY2U6c2VjcmV0") // alice:secret
	req.ExtractBasicAuth()
	require.Equal(t, "alice", req.BasicUser)
	require.Equal(t, "secret", req.BasicPass)

	req2 := &Request{}
	req2.AddHeader("Authorization: Bearer tok")
	req2.ExtractBasicAuth()
	require.Empty(t, req2.BasicUser)
}

func TestSetHeaderReplaces(t *testing.T) {
	req := &Request{}
	req.AddHeader("X-A: 1")
	req.AddHeader("X-B: 2")
	req.SetHeader("x-a: 9")
	require.Len(t, req.Headers, 2)
	require.Equal(t, "x-a: 9", req.Headers[0].Text)
	req.SetHeader("X-C: 3")
	require.Len(t, req.Headers, 3)
}

func TestSetQueryParam(t *testing.T) {
	req, err := ParseRequestLine("GET /p?a=1&b=2 HTTP/1.1", 0)
	require.NoError(t, err)
	req.SetQueryParam("b", "9")
	require.Equal(t, "/p?a=1&b=9", req.URL())
	req.SetQueryParam("c", "3")
	require.Equal(t, "/p?a=1&b=9&c=3", req.URL())

	req2, _ := ParseRequestLine("GET /p HTTP/1.1", 0)
	req2.SetQueryParam("a", "1")
	require.Equal(t, "/p?a=1", req2.URL())
}

func TestRequestLineRoundTrip(t *testing.T) {
	line := "GET /a%20b?q=1 HTTP/1.1"
	req, err := ParseRequestLine(line, 0)
	require.NoError(t, err)
	// untouched requests serialize byte for byte
	require.Equal(t, line, req.RequestLine())
	req.SetPath("/c")
	require.Equal(t, "GET /c?q=1 HTTP/1.1", req.RequestLine())
}

func TestSubmatchStack(t *testing.T) {
	req := &Request{}
	require.Equal(t, "", req.Submatch(1))
	req.PushSubmatches([]string{"/foo/bar", "bar"})
	require.Equal(t, "bar", req.Submatch(1))
	depth := req.SubmatchDepth()
	req.PushSubmatches([]string{"x", "y"})
	require.Equal(t, "y", req.Submatch(1))
	req.PopSubmatches(depth)
	require.Equal(t, "bar", req.Submatch(1))
}

func TestParseStatusLine(t *testing.T) {
	res, err := ParseStatusLine("HTTP/1.1 200 OK")
	require.NoError(t, err)
	require.Equal(t, 200, res.Status)
	require.Equal(t, "OK", res.Reason)

	res, err = ParseStatusLine("HTTP/1.0 404")
	require.NoError(t, err)
	require.Equal(t, 404, res.Status)

	for _, bad := range []string{"HTTP/2 200 OK", "200 OK", "HTTP/1.1 abc"} {
		if _, err := ParseStatusLine(bad); err == nil {
			t.Errorf("ParseStatusLine(%q): want error", bad)
		}
	}
}

func TestResponseNoBody(t *testing.T) {
	for _, st := range []int{100, 101, 204, 304} {
		r := &Response{Status: st}
		if !r.NoBody() {
			t.Errorf("status %d should have no body", st)
		}
	}
	r := &Response{Status: 200}
	if r.NoBody() {
		t.Error("200 should have a body")
	}
}
