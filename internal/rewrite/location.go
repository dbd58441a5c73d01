package rewrite

import (
	"net/url"
	"strings"

	"github.com/shoalproxy/shoal/internal/httpx"
)

// RewriteLocation rewrites Location and Content-Location response
// headers whose value is an absolute URL pointing at a known backend,
// so redirects issued by a backend come back through the proxy under
// the client's original Host. The scheme tracks the inbound
// connection's TLS state.
func RewriteLocation(res *httpx.Response, reqHost string, tlsIn bool, knownHost func(host string) bool) {
	if reqHost == "" {
		return
	}
	scheme := "http"
	if tlsIn {
		scheme = "https"
	}
	for _, code := range []httpx.HeaderCode{httpx.HdrLocation, httpx.HdrContentLocation} {
		h := res.FindHeader(code)
		if h == nil {
			continue
		}
		u, err := url.Parse(h.Value())
		if err != nil || !u.IsAbs() || u.Host == "" {
			continue
		}
		if !knownHost(normalizeHostPort(u)) {
			continue
		}
		target := scheme + "://" + reqHost + u.RequestURI()
		if u.Fragment != "" {
			target += "#" + u.Fragment
		}
		h.SetText(h.Name() + ": " + target)
	}
}

// normalizeHostPort returns host:port with the scheme default filled in.
func normalizeHostPort(u *url.URL) string {
	host := u.Host
	if strings.Contains(host, ":") {
		return host
	}
	switch u.Scheme {
	case "https":
		return host + ":443"
	default:
		return host + ":80"
	}
}

// RewriteDestination rewrites a WebDAV Destination request header the
// same way requests are rewritten: the backend sees its own authority
// rather than the proxy's.
func RewriteDestination(req *httpx.Request, backendAddr string, backendTLS bool) {
	h := req.FindHeader(httpx.HdrDestination)
	if h == nil {
		return
	}
	u, err := url.Parse(h.Value())
	if err != nil || !u.IsAbs() || u.Host == "" {
		return
	}
	scheme := "http"
	if backendTLS {
		scheme = "https"
	}
	target := scheme + "://" + backendAddr + u.RequestURI()
	h.SetText(h.Name() + ": " + target)
}
