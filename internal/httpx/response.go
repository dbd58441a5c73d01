package httpx

import (
	"bufio"
	"errors"
	"strconv"
	"strings"
)

// ErrBadStatusLine reports an unparseable backend status line.
var ErrBadStatusLine = errors.New("httpx: malformed status line")

// Response is a backend reply in flight to the client. Same header
// representation as Request so the rewrite pipeline applies to both.
type Response struct {
	RawLine string
	Version int // HTTP minor version
	Status  int
	Reason  string
	Headers []*Header
}

// ParseStatusLine parses "HTTP/1.x NNN reason".
func ParseStatusLine(line string) (*Response, error) {
	rest, ok := strings.CutPrefix(line, "HTTP/1.")
	if !ok || len(rest) < 1 {
		return nil, ErrBadStatusLine
	}
	minor := int(rest[0] - '0')
	if minor != 0 && minor != 1 {
		return nil, ErrBadStatusLine
	}
	rest = strings.TrimLeft(rest[1:], " ")
	code := rest
	reason := ""
	if i := strings.IndexByte(rest, ' '); i >= 0 {
		code, reason = rest[:i], rest[i+1:]
	}
	status, err := strconv.Atoi(code)
	if err != nil || status < 100 || status > 999 {
		return nil, ErrBadStatusLine
	}
	return &Response{
		RawLine: line,
		Version: minor,
		Status:  status,
		Reason:  reason,
	}, nil
}

// ReadHeaders reads response header lines until the blank line.
func (r *Response) ReadHeaders(br *bufio.Reader) error {
	for {
		line, err := ReadLine(br)
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
		code := ClassifyHeader(line)
		if code == HdrIllegal {
			continue
		}
		r.Headers = append(r.Headers, &Header{Text: line, Code: code})
	}
}

// FindHeader returns the first header with the given code.
func (r *Response) FindHeader(code HeaderCode) *Header {
	for _, h := range r.Headers {
		if h.Code == code {
			return h
		}
	}
	return nil
}

// HeaderValue returns the value of the first header with code, or "".
func (r *Response) HeaderValue(code HeaderCode) string {
	if h := r.FindHeader(code); h != nil {
		return h.Value()
	}
	return ""
}

// NamedHeader returns the first header matching name case-insensitively.
func (r *Response) NamedHeader(name string) *Header {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name(), name) {
			return h
		}
	}
	return nil
}

// SetHeader replaces the first header with the same name, or appends.
func (r *Response) SetHeader(text string) {
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
func (r *Response) RemoveHeaders(drop func(*Header) bool) {
	out := r.Headers[:0]
	for _, h := range r.Headers {
		if !drop(h) {
			out = append(out, h)
		}
	}
	r.Headers = out
}

// NoBody reports whether the status code forbids a message body.
func (r *Response) NoBody() bool {
	return r.Status == 204 || r.Status == 304 || (r.Status >= 100 && r.Status < 200)
}
