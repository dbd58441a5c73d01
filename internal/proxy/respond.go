package proxy

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/shoalproxy/shoal/internal/httpx"
	"github.com/shoalproxy/shoal/internal/model"
)

var statusText = map[int]string{
	200: "OK",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	413: "Request Entity Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	503: "Service Unavailable",
}

var defaultBodies = map[int]string{
	400: "<html><head><title>Bad Request</title></head><body><h1>Bad Request</h1></body></html>",
	404: "<html><head><title>Not Found</title></head><body><h1>Not Found</h1></body></html>",
	413: "<html><head><title>Request Too Large</title></head><body><h1>Request Too Large</h1></body></html>",
	500: "<html><head><title>Internal Error</title></head><body><h1>Internal Error</h1></body></html>",
	501: "<html><head><title>Not Implemented</title></head><body><h1>Not Implemented</h1></body></html>",
	503: "<html><head><title>Service Unavailable</title></head><body><h1>Service Unavailable</h1></body></html>",
}

func reasonFor(status int) string {
	if t, ok := statusText[status]; ok {
		return t
	}
	return "Unknown"
}

// writeReply emits a complete generated reply. Generated replies always
// carry HTTP/1.0 on the status line.
func writeReply(w io.Writer, status int, extraHeaders []string, body string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "HTTP/1.0 %d %s\r\n", status, reasonFor(status))
	for _, h := range extraHeaders {
		sb.WriteString(h)
		sb.WriteString("\r\n")
	}
	fmt.Fprintf(&sb, "Content-Length: %d\r\n", len(body))
	sb.WriteString("\r\n")
	sb.WriteString(body)
	_, err := io.WriteString(w, sb.String())
	return err
}

// replyError sends the canned reply for an error status, honoring the
// listener's per-status body overrides.
func (c *Conn) replyError(status int) {
	body := c.lst.ErrBody(status)
	if body == "" {
		body = defaultBodies[status]
	}
	_ = writeReply(c.cw, status, []string{"Content-Type: text/html"}, body)
	_ = c.cw.Flush()
}

// respondTerminal serves a terminal backend locally. Returns the status
// sent, for logging.
func (c *Conn) respondTerminal(b *model.Backend, req *httpx.Request) int {
	switch b.Kind {
	case model.BackendRedirect:
		return c.respondRedirect(b, req)
	case model.BackendACME:
		return c.respondACME(b, req)
	case model.BackendError:
		status := b.ErrStatus
		if status == 0 {
			status = 503
		}
		body := b.ErrBody
		if body == "" {
			body = defaultBodies[status]
		}
		_ = writeReply(c.cw, status, []string{"Content-Type: text/html"}, body)
		_ = c.cw.Flush()
		return status
	case model.BackendControl, model.BackendMetrics:
		if b.Control == nil {
			c.replyError(503)
			return 503
		}
		status := b.Control.Handle(c.cw, req, c.peer.Addr(), b)
		_ = c.cw.Flush()
		return status
	}
	c.replyError(503)
	return 503
}

// respondRedirect expands the target template with the submatches of
// the URL match that routed the request here, percent-encoding the
// substitutions.
func (c *Conn) respondRedirect(b *model.Backend, req *httpx.Request) int {
	target := httpx.ExpandTemplate(b.RedirectURL, req, nil, true)
	if !b.HasURI {
		target += req.RawURL()
	}
	status := b.RedirectStatus
	if status == 0 {
		status = 302
	}
	body := fmt.Sprintf(
		"<html><head><title>Redirect</title></head><body><h1>Redirect</h1><p>You should go to <a href=%q>%s</a></p></body></html>",
		target, target)
	_ = writeReply(c.cw, status, []string{
		"Location: " + target,
		"Content-Type: text/html",
	}, body)
	_ = c.cw.Flush()
	return status
}

// respondACME serves the last path segment out of the pre-opened
// challenge directory.
func (c *Conn) respondACME(b *model.Backend, req *httpx.Request) int {
	name := path.Base(req.Path())
	if b.ChallengeRoot == nil || name == "/" || name == "." || name == ".." {
		c.replyError(404)
		return 404
	}
	f, err := b.ChallengeRoot.Open(name)
	if err != nil {
		c.replyError(404)
		return 404
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil || st.IsDir() {
		c.replyError(404)
		return 404
	}
	fmt.Fprintf(c.cw, "HTTP/1.0 200 OK\r\nContent-Type: text/plain\r\nContent-Length: %d\r\n\r\n", st.Size())
	_, _ = copyFixed(c.cw, f, st.Size())
	_ = c.cw.Flush()
	return 200
}
