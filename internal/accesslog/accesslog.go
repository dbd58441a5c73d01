// Package accesslog compiles the per-request log format DSL at startup
// and renders one line per exchange.
//
// Directives:
//
//	%a  client address        %r  request line
//	%s  response status       %b  bytes written ("-" when zero)
//	%t  completion time       %T  duration in seconds
//	%u  basic-auth user       %v  listener name
//	%{name}i  request header  %{name}o  response header
//	%{listener|service|backend}N  chosen object's name
//	%{s|ms|us}T  duration in the given unit
//	%%  a literal percent sign
package accesslog

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Record carries everything a format can reference for one exchange.
type Record struct {
	Time        time.Time
	ClientAddr  string
	RequestLine string
	Status      int
	BytesOut    int64
	Duration    time.Duration
	Listener    string
	Service     string
	Backend     string
	User        string

	// Header lookups; nil-safe.
	ReqHeader func(name string) string
	ResHeader func(name string) string
}

type fragKind int

const (
	fragLiteral fragKind = iota
	fragClient
	fragRequest
	fragStatus
	fragBytes
	fragTime
	fragDuration
	fragUser
	fragListener
	fragReqHeader
	fragResHeader
	fragName
)

type fragment struct {
	kind fragKind
	arg  string
}

// Format is a compiled log format: a sequence of literal and templated
// fragments.
type Format struct {
	frags []fragment
}

// Predefined formats selectable by name in the configuration.
var predefined = map[string]string{
	"common":   `%a - %u %t "%r" %s %b`,
	"extended": `%a - %u %t "%r" %s %b "%{Referer}i" "%{User-agent}i"`,
	"detailed": `%a - %u %t "%r" %s %b "%{Referer}i" "%{User-agent}i" (%{service}N -> %{backend}N) %{ms}T`,
}

// Compile parses a format string, or looks up a predefined name.
func Compile(format string) (*Format, error) {
	if f, ok := predefined[format]; ok {
		format = f
	}
	out := &Format{}
	lit := strings.Builder{}
	flush := func() {
		if lit.Len() > 0 {
			out.frags = append(out.frags, fragment{kind: fragLiteral, arg: lit.String()})
			lit.Reset()
		}
	}
	for i := 0; i < len(format); {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			lit.WriteByte(c)
			i++
			continue
		}
		next := format[i+1]
		arg := ""
		j := i + 1
		if next == '{' {
			end := strings.IndexByte(format[i+2:], '}')
			if end < 0 || i+2+end+1 >= len(format) {
				return nil, fmt.Errorf("log format: unterminated %%{...} at offset %d", i)
			}
			arg = format[i+2 : i+2+end]
			j = i + 2 + end + 1
			next = format[j]
		}
		var kind fragKind
		switch next {
		case '%':
			lit.WriteByte('%')
			i = j + 1
			continue
		case 'a':
			kind = fragClient
		case 'r':
			kind = fragRequest
		case 's':
			kind = fragStatus
		case 'b':
			kind = fragBytes
		case 't':
			kind = fragTime
		case 'T':
			kind = fragDuration
		case 'u':
			kind = fragUser
		case 'v':
			kind = fragListener
		case 'i':
			kind = fragReqHeader
		case 'o':
			kind = fragResHeader
		case 'N':
			kind = fragName
			switch arg {
			case "listener", "service", "backend":
			default:
				return nil, fmt.Errorf("log format: bad %%{...}N object %q", arg)
			}
		default:
			return nil, fmt.Errorf("log format: unknown directive %%%c", next)
		}
		flush()
		out.frags = append(out.frags, fragment{kind: kind, arg: arg})
		i = j + 1
	}
	flush()
	return out, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Render writes one formatted line, newline included.
func (f *Format) Render(w io.Writer, r *Record) error {
	var sb strings.Builder
	for _, fr := range f.frags {
		switch fr.kind {
		case fragLiteral:
			sb.WriteString(fr.arg)
		case fragClient:
			sb.WriteString(orDash(r.ClientAddr))
		case fragRequest:
			sb.WriteString(r.RequestLine)
		case fragStatus:
			sb.WriteString(strconv.Itoa(r.Status))
		case fragBytes:
			if r.BytesOut == 0 {
				sb.WriteByte('-')
			} else {
				sb.WriteString(strconv.FormatInt(r.BytesOut, 10))
			}
		case fragTime:
			sb.WriteString(r.Time.Format("[02/Jan/2006:15:04:05 -0700]"))
		case fragDuration:
			switch fr.arg {
			case "ms":
				sb.WriteString(strconv.FormatInt(r.Duration.Milliseconds(), 10))
			case "us":
				sb.WriteString(strconv.FormatInt(r.Duration.Microseconds(), 10))
			default:
				sb.WriteString(strconv.FormatInt(int64(r.Duration/time.Second), 10))
			}
		case fragUser:
			sb.WriteString(orDash(r.User))
		case fragListener:
			sb.WriteString(orDash(r.Listener))
		case fragReqHeader:
			if r.ReqHeader != nil {
				sb.WriteString(orDash(r.ReqHeader(fr.arg)))
			} else {
				sb.WriteByte('-')
			}
		case fragResHeader:
			if r.ResHeader != nil {
				sb.WriteString(orDash(r.ResHeader(fr.arg)))
			} else {
				sb.WriteByte('-')
			}
		case fragName:
			switch fr.arg {
			case "listener":
				sb.WriteString(orDash(r.Listener))
			case "service":
				sb.WriteString(orDash(r.Service))
			case "backend":
				sb.WriteString(orDash(r.Backend))
			}
		}
	}
	sb.WriteByte('\n')
	_, err := io.WriteString(w, sb.String())
	return err
}

// AnonymiseAddr zeroes the last octet of an IPv4 address or the last
// group of an IPv6 address for privacy-preserving logs.
func AnonymiseAddr(addr string) string {
	if i := strings.LastIndexByte(addr, '.'); i >= 0 && !strings.Contains(addr, ":") {
		return addr[:i] + ".0"
	}
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		return addr[:i] + ":0"
	}
	return addr
}
