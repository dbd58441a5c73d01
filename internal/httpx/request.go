package httpx

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Parse errors reported to the connection driver, which maps them to
// client-facing status codes.
var (
	ErrBadRequestLine = errors.New("httpx: malformed request line")
	ErrBadMethod      = errors.New("httpx: unknown or disallowed method")
	ErrBadVersion     = errors.New("httpx: unsupported HTTP version")
	ErrBadContentLen  = errors.New("httpx: invalid Content-Length")
	ErrDupContentLen  = errors.New("httpx: conflicting Content-Length")
)

// Request is one in-flight client request. The original request line is
// kept verbatim; matching runs over the percent-decoded target. Header
// order is preserved through rewriting and forwarding.
type Request struct {
	RawLine    string
	Method     Method
	MethodName string
	Version    int // HTTP minor version: 0 or 1
	Headers    []*Header

	url      string // current request target, as sent unless rewritten
	decoded  string // percent-decoded form of url, for matching
	rebuilt  bool
	path     string
	query    string
	hasQuery bool

	BasicUser string
	BasicPass string

	submatches [][]string
}

// ParseRequestLine parses "METHOD target HTTP/1.x". group caps the
// allowed method group per the listener's xHTTP setting.
func ParseRequestLine(line string, group int) (*Request, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return nil, ErrBadRequestLine
	}
	meth, mgroup, ok := FindMethod(fields[0])
	if !ok || mgroup > group {
		return nil, ErrBadMethod
	}
	var minor int
	switch fields[2] {
	case "HTTP/1.0":
		minor = 0
	case "HTTP/1.1":
		minor = 1
	default:
		return nil, ErrBadVersion
	}
	decoded, err := DecodeURL(fields[1])
	if err != nil {
		return nil, err
	}
	req := &Request{
		RawLine:    line,
		Method:     meth,
		MethodName: fields[0],
		Version:    minor,
		url:        fields[1],
		decoded:    decoded,
	}
	req.splitTarget()
	return req, nil
}

func (r *Request) splitTarget() {
	target := r.decoded
	if i := strings.IndexByte(target, '?'); i >= 0 {
		r.path, r.query, r.hasQuery = target[:i], target[i+1:], true
	} else {
		r.path, r.query, r.hasQuery = target, "", false
	}
}

// URL returns the current request target (decoded form).
func (r *Request) URL() string { return r.decoded }

// RawURL returns the target as it will be sent to the backend.
func (r *Request) RawURL() string { return r.url }

// Path and Query return the split components of the target.
func (r *Request) Path() string  { return r.path }
func (r *Request) Query() string { return r.query }

// SetURL replaces the whole request target.
func (r *Request) SetURL(u string) {
	r.url = u
	r.decoded = u
	r.rebuilt = true
	r.splitTarget()
}

// SetPath replaces the path component, keeping the query.
func (r *Request) SetPath(p string) {
	if r.hasQuery {
		r.SetURL(p + "?" + r.query)
	} else {
		r.SetURL(p)
	}
}

// SetQuery replaces the query component. An empty query keeps a bare
// "?" off the target.
func (r *Request) SetQuery(q string) {
	if q == "" {
		r.SetURL(r.path)
	} else {
		r.SetURL(r.path + "?" + q)
	}
}

// QueryParams splits the query string into decoded (name, value) pairs,
// preserving order and duplicates.
func (r *Request) QueryParams() [][2]string {
	if !r.hasQuery {
		return nil
	}
	var out [][2]string
	for _, kv := range strings.Split(r.query, "&") {
		if kv == "" {
			continue
		}
		name, value, _ := strings.Cut(kv, "=")
		dn, err := DecodeURL(name)
		if err != nil {
			continue
		}
		dv, err := DecodeURL(value)
		if err != nil {
			continue
		}
		out = append(out, [2]string{dn, dv})
	}
	return out
}

// SetQueryParam sets the first query parameter named name, or appends
// one. The value must already be URL-safe.
func (r *Request) SetQueryParam(name, value string) {
	if !r.hasQuery || r.query == "" {
		r.SetQuery(name + "=" + value)
		return
	}
	parts := strings.Split(r.query, "&")
	for i, kv := range parts {
		n, _, _ := strings.Cut(kv, "=")
		if n == name {
			parts[i] = name + "=" + value
			r.SetQuery(strings.Join(parts, "&"))
			return
		}
	}
	r.SetQuery(r.query + "&" + name + "=" + value)
}

// RequestLine serializes the request line for forwarding. Unless the
// target was rewritten, the original line is reproduced byte for byte.
func (r *Request) RequestLine() string {
	if !r.rebuilt {
		return r.RawLine
	}
	return fmt.Sprintf("%s %s HTTP/1.%d", r.MethodName, r.url, r.Version)
}

// Header list operations. The list keeps arrival order; lookups by
// classification code take the first match, like the original scan.

// FindHeader returns the first header with the given code.
func (r *Request) FindHeader(code HeaderCode) *Header {
	for _, h := range r.Headers {
		if h.Code == code {
			return h
		}
	}
	return nil
}

// HeaderValue returns the value of the first header with code, or "".
func (r *Request) HeaderValue(code HeaderCode) string {
	if h := r.FindHeader(code); h != nil {
		return h.Value()
	}
	return ""
}

// NamedHeader returns the first header whose name matches case-insensitively.
func (r *Request) NamedHeader(name string) *Header {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name(), name) {
			return h
		}
	}
	return nil
}

// AddHeader appends a raw header line, classifying it. Illegal lines
// are dropped and reported.
func (r *Request) AddHeader(text string) bool {
	code := ClassifyHeader(text)
	if code == HdrIllegal {
		return false
	}
	r.Headers = append(r.Headers, &Header{Text: text, Code: code})
	return true
}

// SetHeader replaces the first header with the same name, or appends.
func (r *Request) SetHeader(text string) {
	name, _, _ := strings.Cut(text, ":")
	name = strings.TrimSpace(name)
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name(), name) {
			h.SetText(text)
			return
		}
	}
	r.Headers = append(r.Headers, &Header{Text: text, Code: ClassifyHeader(text)})
}

// RemoveHeaders deletes every header for which drop returns true.
func (r *Request) RemoveHeaders(drop func(*Header) bool) {
	out := r.Headers[:0]
	for _, h := range r.Headers {
		if !drop(h) {
			out = append(out, h)
		}
	}
	r.Headers = out
}

// Host returns the Host header value.
func (r *Request) Host() string { return r.HeaderValue(HdrHost) }

// ExtractBasicAuth decodes an Authorization: Basic credential into
// BasicUser/BasicPass. Other schemes are ignored.
func (r *Request) ExtractBasicAuth() {
	v := r.HeaderValue(HdrAuthorization)
	scheme, cred, ok := strings.Cut(v, " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cred))
	if err != nil {
		return
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return
	}
	r.BasicUser, r.BasicPass = user, pass
}

// Submatch stack. Each successful regex match during condition
// evaluation pushes its groups; $N templates read the top.

// PushSubmatches records the groups of a successful match.
func (r *Request) PushSubmatches(groups []string) {
	r.submatches = append(r.submatches, groups)
}

// PopSubmatches drops match scopes down to depth n.
func (r *Request) PopSubmatches(n int) {
	if n < len(r.submatches) {
		r.submatches = r.submatches[:n]
	}
}

// SubmatchDepth returns the current stack depth, for scoped evaluation.
func (r *Request) SubmatchDepth() int { return len(r.submatches) }

// Submatch returns group n of the most recent successful match.
func (r *Request) Submatch(n int) string {
	if len(r.submatches) == 0 {
		return ""
	}
	top := r.submatches[len(r.submatches)-1]
	if n < 0 || n >= len(top) {
		return ""
	}
	return top[n]
}

// ParseContentLength validates a Content-Length value: one decimal
// token, no signs, no lists.
func ParseContentLength(v string) (int64, error) {
	if v == "" {
		return 0, ErrBadContentLen
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return 0, ErrBadContentLen
		}
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, ErrBadContentLen
	}
	return n, nil
}

// ReadHeaders reads header lines until the blank line, appending them
// to the request. Illegal lines are dropped; the count of dropped lines
// is returned so the driver can log them.
func (r *Request) ReadHeaders(br *bufio.Reader) (dropped int, err error) {
	for {
		line, err := ReadLine(br)
		if err != nil {
			return dropped, err
		}
		if line == "" {
			return dropped, nil
		}
		if !r.AddHeader(line) {
			dropped++
		}
	}
}
