package httpx

import "strings"

// ExpandTemplate substitutes into a rewrite template:
//
//	$N       group N of the most recent successful regex match
//	$$       a literal $
//	%{name}i value of the named request header
//	%{name}o value of the named response header
//
// When urlEscape is set, substituted values are percent-encoded so a
// user-controlled submatch cannot introduce URL delimiters. res may be
// nil outside response rewriting.
func ExpandTemplate(tmpl string, req *Request, res *Response, urlEscape bool) string {
	var sb strings.Builder
	sb.Grow(len(tmpl))
	emit := func(v string) {
		if urlEscape {
			v = EncodeURLComponent(v)
		}
		sb.WriteString(v)
	}
	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		switch {
		case c == '$' && i+1 < len(tmpl):
			next := tmpl[i+1]
			if next == '$' {
				sb.WriteByte('$')
				i += 2
				continue
			}
			if next >= '0' && next <= '9' {
				if req != nil {
					emit(req.Submatch(int(next - '0')))
				}
				i += 2
				continue
			}
			sb.WriteByte(c)
			i++
		case c == '%' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			end := strings.IndexByte(tmpl[i+2:], '}')
			if end < 0 {
				sb.WriteByte(c)
				i++
				continue
			}
			name := tmpl[i+2 : i+2+end]
			after := i + 2 + end + 1
			if after >= len(tmpl) {
				sb.WriteString(tmpl[i:])
				i = len(tmpl)
				continue
			}
			switch tmpl[after] {
			case 'i':
				if req != nil {
					if h := req.NamedHeader(name); h != nil {
						emit(h.Value())
					}
				}
			case 'o':
				if res != nil {
					if h := res.NamedHeader(name); h != nil {
						emit(h.Value())
					}
				}
			default:
				sb.WriteString(tmpl[i : after+1])
			}
			i = after + 1
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}
