// Package proxy implements the per-connection HTTP state machine:
// parse, match, rewrite, forward, stream, loop.
package proxy

import (
	"bufio"
	"crypto/tls"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/shoalproxy/shoal/internal/accesslog"
	"github.com/shoalproxy/shoal/internal/httpx"
	"github.com/shoalproxy/shoal/internal/lb"
	"github.com/shoalproxy/shoal/internal/metrics"
	"github.com/shoalproxy/shoal/internal/model"
	"github.com/shoalproxy/shoal/internal/rewrite"
	"github.com/shoalproxy/shoal/internal/session"
)

// WebSocket upgrade state bits. The tunnel engages only when the full
// set is present across request and response.
const (
	wsReqGet = 1 << iota
	wsReqConnUpgrade
	wsReqUpgradeWS
	wsResp101
	wsRespConnUpgrade
	wsRespUpgradeWS
	wsComplete = wsReqGet | wsReqConnUpgrade | wsReqUpgradeWS |
		wsResp101 | wsRespConnUpgrade | wsRespUpgradeWS
)

// RPC_IN_DATA/RPC_OUT_DATA bodies stream until EOF when the announced
// length falls in this window.
const (
	rpcLenMin = 0x20000
	rpcLenMax = 0x80000000
)

// Conn drives one client connection through the keep-alive loop.
type Conn struct {
	lst  *model.Listener
	mtr  *metrics.Registry
	logw io.Writer

	client   net.Conn
	ctc      *timeoutConn
	cr       *bufio.Reader
	cw       *bufio.Writer
	peer     netip.AddrPort
	tlsState *tls.ConnectionState

	be       *backendConn
	noHTTP11 bool
}

// New wraps an accepted client socket.
func New(lst *model.Listener, client net.Conn, peer netip.AddrPort, mtr *metrics.Registry, logw io.Writer) *Conn {
	return &Conn{
		lst:    lst,
		mtr:    mtr,
		logw:   logw,
		client: client,
		peer:   peer,
	}
}

// Serve runs the connection to completion.
func (c *Conn) Serve() {
	defer func() {
		c.be.Close()
		_ = c.client.Close()
	}()

	if c.mtr != nil {
		c.mtr.IncActiveConns(c.lst.Name)
		defer c.mtr.DecActiveConns(c.lst.Name)
	}

	if c.lst.TLS != nil {
		tlsConn := tls.Server(c.client, c.lst.TLS)
		if c.lst.ClientTimeout > 0 {
			_ = tlsConn.SetDeadline(time.Now().Add(c.lst.ClientTimeout))
		}
		if err := tlsConn.Handshake(); err != nil {
			// handshake failures close silently
			_ = tlsConn.Close()
			return
		}
		_ = tlsConn.SetDeadline(time.Time{})
		st := tlsConn.ConnectionState()
		c.tlsState = &st
		c.client = tlsConn
		if c.lst.NoHTTPS11 == 1 {
			c.noHTTP11 = true
		}
	}

	c.ctc = &timeoutConn{Conn: c.client, readTO: c.lst.ClientTimeout}
	c.cr = bufio.NewReaderSize(c.ctc, copyBufSize)
	c.cw = bufio.NewWriterSize(c.client, copyBufSize)

	for c.serveOne() {
	}
}

// reqMeta is the outcome of the single header scan.
type reqMeta struct {
	hasCL     bool
	cl        int64
	chunked   bool
	connClose bool
	rpcIn     bool
	rpcOut    bool
	wsBits    int
	bodyBuf   []byte // pre-read body for form-parameter affinity
	bodyDone  bool   // request body fully consumed from the client
}

// serveOne handles one request/response exchange. The return value is
// the keep-alive decision.
func (c *Conn) serveOne() bool {
	// request line, permitting leading blank lines
	var line string
	for {
		var err error
		line, err = httpx.ReadLine(c.cr)
		if err != nil {
			return false
		}
		if line != "" {
			break
		}
	}

	start := time.Now()

	req, err := httpx.ParseRequestLine(line, c.lst.XHTTP)
	if err != nil {
		switch err {
		case httpx.ErrBadMethod, httpx.ErrBadVersion:
			c.replyError(501)
		default:
			c.replyError(400)
		}
		return false
	}
	if _, err := req.ReadHeaders(c.cr); err != nil {
		c.replyError(400)
		return false
	}

	if c.lst.CheckURL != nil && !c.lst.CheckURL.MatchString(req.URL()) {
		c.replyError(501)
		c.logExchange(req, nil, nil, nil, 501, 0, start)
		return false
	}

	meta, ok := c.scanRequest(req)
	if !ok {
		return false
	}

	if c.lst.MaxRequest > 0 && meta.hasCL && meta.cl > c.lst.MaxRequest {
		c.replyError(413)
		c.logExchange(req, nil, nil, nil, 413, 0, start)
		return false
	}

	// listener-level request rewriting, then service selection
	rewrite.ApplyAll(c.lst.RequestRules, req, nil, c.peer.Addr())

	svc := c.selectService(req)
	if svc == nil {
		c.replyError(503)
		c.logExchange(req, nil, nil, nil, 503, 0, start)
		return false
	}

	rewrite.ApplyAll(svc.RequestRules, req, nil, c.peer.Addr())

	// form-parameter affinity needs the body up front
	if svc.Session.Type == session.Parm && meta.hasCL && !meta.chunked {
		if !c.bufferBody(&meta) {
			return false
		}
	}

	be, sessKey := c.pickBackend(svc, req, &meta)
	if be == nil {
		c.replyError(503)
		c.logExchange(req, svc, nil, nil, 503, 0, start)
		return c.keepAlive(req, &meta) && c.drainBody(&meta)
	}
	be.Ref()
	defer be.Unref()

	if be.Terminal() {
		status := c.respondTerminal(be, req)
		c.logExchange(req, svc, be, nil, status, 0, start)
		return c.keepAlive(req, &meta) && c.drainBody(&meta)
	}

	be, ok = c.ensureBackend(be, svc, req, sessKey)
	if !ok {
		c.logExchange(req, svc, be, nil, 503, 0, start)
		return false
	}

	if err := c.forwardRequest(svc, be, req, &meta); err != nil {
		// nothing sent to the client yet; one clean 500
		c.replyError(500)
		c.be.Close()
		c.be = nil
		c.logExchange(req, svc, be, nil, 500, 0, start)
		return false
	}

	res, bytesOut, keep := c.relayResponse(svc, be, req, &meta)
	if res == nil {
		c.replyError(500)
		c.be.Close()
		c.be = nil
		c.logExchange(req, svc, be, nil, 500, 0, start)
		return false
	}

	if c.mtr != nil {
		c.mtr.ObserveLatency(svc.Name, be.Addr, time.Since(start))
	}
	c.logExchange(req, svc, be, res, res.Status, bytesOut, start)

	return keep && c.keepAlive(req, &meta)
}

// keepAlive is the end-of-exchange continuation decision.
func (c *Conn) keepAlive(req *httpx.Request, meta *reqMeta) bool {
	if req.Version == 0 || meta.connClose || c.noHTTP11 || meta.rpcIn || meta.rpcOut {
		return false
	}
	// mode 2 disables TLS keep-alive only for agents known to mishandle it
	if c.tlsState != nil && c.lst.NoHTTPS11 == 2 &&
		strings.Contains(req.HeaderValue(httpx.HdrUserAgent), "MSIE") {
		return false
	}
	return true
}

// drainBody consumes an unforwarded request body so the next request
// starts at a clean framing boundary. Returns false when the connection
// must close instead.
func (c *Conn) drainBody(meta *reqMeta) bool {
	if meta.bodyDone {
		return true
	}
	meta.bodyDone = true
	switch {
	case meta.chunked:
		_, err := copyChunked(io.Discard, c.cr)
		return err == nil
	case meta.hasCL && meta.cl > 0:
		n, err := copyFixed(io.Discard, c.cr, meta.cl)
		return err == nil && n == meta.cl
	}
	return true
}

// scanRequest walks the header list once, extracting framing and
// upgrade state and enforcing the smuggling defenses.
func (c *Conn) scanRequest(req *httpx.Request) (reqMeta, bool) {
	var meta reqMeta
	if req.Method == httpx.MethodGet {
		meta.wsBits |= wsReqGet
	}
	seenCL := false
	var dropExpect []*httpx.Header
	for _, h := range req.Headers {
		switch h.Code {
		case httpx.HdrConnection:
			v := h.Value()
			if connectionHasToken(v, "close") {
				meta.connClose = true
			}
			if connectionHasToken(v, "upgrade") {
				meta.wsBits |= wsReqConnUpgrade
			}
		case httpx.HdrUpgrade:
			if strings.EqualFold(h.Value(), "websocket") {
				meta.wsBits |= wsReqUpgradeWS
			}
		case httpx.HdrTransferEncoding:
			if strings.EqualFold(h.Value(), "chunked") {
				meta.chunked = true
			}
		case httpx.HdrContentLength:
			if seenCL {
				c.replyError(400)
				return meta, false
			}
			seenCL = true
			n, err := httpx.ParseContentLength(h.Value())
			if err != nil {
				c.replyError(400)
				return meta, false
			}
			meta.hasCL = true
			meta.cl = n
		case httpx.HdrExpect:
			if strings.EqualFold(h.Value(), "100-continue") {
				dropExpect = append(dropExpect, h)
			}
			// other Expect tokens pass through untouched
		case httpx.HdrAuthorization:
			req.ExtractBasicAuth()
		}
	}
	for _, h := range dropExpect {
		drop := h
		req.RemoveHeaders(func(x *httpx.Header) bool { return x == drop })
	}

	// exactly one framing may be present
	if meta.chunked && meta.hasCL {
		c.replyError(400)
		return meta, false
	}

	switch req.Method {
	case httpx.MethodRPCInData:
		meta.rpcIn = meta.hasCL && meta.cl >= rpcLenMin && meta.cl < rpcLenMax
	case httpx.MethodRPCOutData:
		meta.rpcOut = meta.hasCL && meta.cl >= rpcLenMin && meta.cl < rpcLenMax
	}
	return meta, true
}

func connectionHasToken(v, token string) bool {
	for _, t := range strings.Split(v, ",") {
		if strings.EqualFold(strings.TrimSpace(t), token) {
			return true
		}
	}
	return false
}

// selectService walks the listener's service list in order; the first
// whose condition holds wins. Submatches of failed candidates are
// discarded.
func (c *Conn) selectService(req *httpx.Request) *model.Service {
	for _, svc := range c.lst.Services {
		depth := req.SubmatchDepth()
		if svc.Matches(req, c.peer.Addr()) {
			return svc
		}
		req.PopSubmatches(depth)
	}
	return nil
}

const maxParmBody = 64 * 1024

// bufferBody pre-reads a small fixed-length body so form-parameter
// affinity can inspect it; the buffer is replayed on forward. Oversized
// bodies skip the key derivation and stream normally.
func (c *Conn) bufferBody(meta *reqMeta) bool {
	if meta.cl == 0 || meta.cl > maxParmBody {
		return true
	}
	buf := make([]byte, meta.cl)
	if _, err := io.ReadFull(c.cr, buf); err != nil {
		return false
	}
	meta.bodyBuf = buf
	meta.bodyDone = true
	return true
}

// sessionKey derives the affinity key for the request, or "".
func sessionKey(svc *model.Service, req *httpx.Request, peer netip.Addr, meta *reqMeta) string {
	switch svc.Session.Type {
	case session.IP:
		return peer.Unmap().String()
	case session.Cookie:
		for _, h := range req.Headers {
			if !strings.EqualFold(h.Name(), "Cookie") {
				continue
			}
			if v, ok := session.CookieValue(h.Value(), svc.Session.ID); ok {
				return v
			}
		}
	case session.URL:
		for _, kv := range req.QueryParams() {
			if kv[0] == svc.Session.ID {
				return kv[1]
			}
		}
	case session.Parm:
		for _, kv := range strings.Split(string(meta.bodyBuf), "&") {
			name, value, ok := strings.Cut(kv, "=")
			if !ok || name != svc.Session.ID {
				continue
			}
			if dv, err := httpx.DecodeURL(value); err == nil {
				return dv
			}
		}
	case session.Basic:
		return req.BasicUser
	case session.Header:
		if h := req.NamedHeader(svc.Session.ID); h != nil {
			return h.Value()
		}
	}
	return ""
}

// pickBackend applies session affinity, then weighted selection.
func (c *Conn) pickBackend(svc *model.Service, req *httpx.Request, meta *reqMeta) (*model.Backend, string) {
	key := ""
	if svc.Session.Type != session.None {
		key = sessionKey(svc, req, c.peer.Addr(), meta)
	}
	if key != "" && svc.Sessions != nil {
		if b, ok := svc.Sessions.Get(key); ok && b.Usable() {
			return b, key
		}
	}
	b := svc.SelectBackend()
	if b == nil {
		return nil, key
	}
	if key != "" && svc.Sessions != nil {
		svc.Sessions.Put(key, b)
	}
	return b, key
}

// ensureBackend produces a live connection to a regular backend,
// reusing the pooled one when possible and retrying across siblings
// when dials fail. On a session-pinned failure, selection falls through
// to the normal lists. Returns the backend actually connected.
func (c *Conn) ensureBackend(be *model.Backend, svc *model.Service, req *httpx.Request, sessKey string) (*model.Backend, bool) {
	for {
		if c.be != nil && c.be.be == be && !c.be.stale() {
			return be, true
		}
		c.be.Close()
		c.be = nil

		bc, err := dialBackend(be, c.lst)
		if err == nil {
			c.be = bc
			return be, true
		}
		log.Printf("backend %s: connect: %v", be.Addr, err)
		be.Kill()
		if c.mtr != nil {
			c.mtr.IncBackendDead(svc.Name, be.Addr)
		}
		if sessKey != "" && svc.Sessions != nil {
			svc.Sessions.Delete(sessKey)
		}
		next := svc.SelectBackend()
		if next == nil || next == be {
			c.replyError(503)
			return be, false
		}
		if next.Terminal() {
			// emergency lists may carry a static responder
			c.respondTerminal(next, req)
			return next, false
		}
		if sessKey != "" && svc.Sessions != nil {
			svc.Sessions.Put(sessKey, next)
		}
		be = next
	}
}

// forwardRequest writes the request head and streams the body to the
// backend.
func (c *Conn) forwardRequest(svc *model.Service, be *model.Backend, req *httpx.Request, meta *reqMeta) error {
	if c.lst.RewriteDestination {
		rewrite.RewriteDestination(req, be.Addr, be.TLS != nil)
	}
	w := c.be.w
	if _, err := fmt.Fprintf(w, "%s\r\n", req.RequestLine()); err != nil {
		return err
	}
	fwdName := fwdHeaderName(svc)
	for _, h := range req.Headers {
		if strings.EqualFold(h.Name(), fwdName) {
			continue // re-emitted by writeForwarded
		}
		if _, err := fmt.Fprintf(w, "%s\r\n", h.Text); err != nil {
			return err
		}
	}
	for _, h := range c.lst.ExtraHeaders {
		if _, err := fmt.Fprintf(w, "%s\r\n", h); err != nil {
			return err
		}
	}
	if err := c.writeForwarded(w, svc, req); err != nil {
		return err
	}
	if c.tlsState != nil && c.lst.ClientCertHdrs {
		if err := writeTLSHeaders(w, c.tlsState); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}

	// request body
	meta.bodyDone = true
	switch {
	case meta.bodyBuf != nil:
		if _, err := w.Write(meta.bodyBuf); err != nil {
			return err
		}
	case meta.chunked:
		if _, err := copyChunked(w, c.cr); err != nil {
			return err
		}
	case meta.rpcIn:
		if err := w.Flush(); err != nil {
			return err
		}
		if _, err := copyUntilEOF(w, c.cr); err != nil {
			return err
		}
	case meta.rpcOut:
		// the announced length is the response channel's budget, not a
		// request body
	case meta.hasCL && meta.cl > 0:
		if n, err := copyFixed(w, c.cr, meta.cl); err != nil {
			return err
		} else if n < meta.cl {
			return io.ErrUnexpectedEOF
		}
	}
	return w.Flush()
}

func fwdHeaderName(svc *model.Service) string {
	if svc.ForwardedHeader != "" {
		return svc.ForwardedHeader
	}
	return "X-Forwarded-For"
}

// writeForwarded emits the forwarded-for header: a trusted peer's own
// header is extended, anything else is replaced outright.
func (c *Conn) writeForwarded(w io.Writer, svc *model.Service, req *httpx.Request) error {
	name := fwdHeaderName(svc)
	peerIP := c.peer.Addr().Unmap().String()
	value := peerIP
	if h := req.NamedHeader(name); h != nil && svc.TrustedIPs != nil && svc.TrustedIPs.Match(c.peer.Addr()) {
		value = h.Value() + ", " + peerIP
	}
	_, err := fmt.Fprintf(w, "%s: %s\r\n", name, value)
	return err
}

// writeTLSHeaders appends the TLS session and client-certificate
// description headers.
func writeTLSHeaders(w io.Writer, st *tls.ConnectionState) error {
	if _, err := fmt.Fprintf(w, "X-SSL-cipher: %s\r\n", tls.CipherSuiteName(st.CipherSuite)); err != nil {
		return err
	}
	if len(st.PeerCertificates) == 0 {
		return nil
	}
	crt := st.PeerCertificates[0]
	fmt.Fprintf(w, "X-SSL-Subject: %s\r\n", crt.Subject.String())
	fmt.Fprintf(w, "X-SSL-Issuer: %s\r\n", crt.Issuer.String())
	fmt.Fprintf(w, "X-SSL-notBefore: %s\r\n", crt.NotBefore.Format(time.RFC1123))
	fmt.Fprintf(w, "X-SSL-notAfter: %s\r\n", crt.NotAfter.Format(time.RFC1123))
	fmt.Fprintf(w, "X-SSL-serial: %s\r\n", crt.SerialNumber.String())
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: crt.Raw})
	oneLine := base64.StdEncoding.EncodeToString(block)
	_, err := fmt.Fprintf(w, "X-SSL-certificate: %s\r\n", oneLine)
	return err
}

// relayResponse reads the backend's reply, applies response rewriting,
// forwards it, and streams the body. 1xx responses other than 101 are
// consumed without forwarding. Returns the final response, the body
// byte count, and whether the backend exchange left the connection
// reusable.
func (c *Conn) relayResponse(svc *model.Service, be *model.Backend, req *httpx.Request, meta *reqMeta) (*httpx.Response, int64, bool) {
	var res *httpx.Response
	for {
		line, err := httpx.ReadLine(c.be.r)
		if err != nil {
			return nil, 0, false
		}
		res, err = httpx.ParseStatusLine(line)
		if err != nil {
			return nil, 0, false
		}
		if err := res.ReadHeaders(c.be.r); err != nil {
			return nil, 0, false
		}
		if res.Status >= 100 && res.Status < 200 && res.Status != 101 {
			continue // interim response, not forwarded
		}
		break
	}

	if res.Status == 101 {
		meta.wsBits |= wsResp101
	}
	if connectionHasToken(res.HeaderValue(httpx.HdrConnection), "upgrade") {
		meta.wsBits |= wsRespConnUpgrade
	}
	if h := res.FindHeader(httpx.HdrUpgrade); h != nil && strings.EqualFold(h.Value(), "websocket") {
		meta.wsBits |= wsRespUpgradeWS
	}

	rewrite.ApplyAll(svc.ResponseRules, req, res, c.peer.Addr())
	rewrite.ApplyAll(c.lst.ResponseRules, req, res, c.peer.Addr())

	if c.lst.RewriteLocation > 0 {
		rewrite.RewriteLocation(res, req.Host(), c.tlsState != nil, c.knownBackendHost)
	}

	c.recordCookieSession(svc, be, res)

	// response framing
	resChunked := strings.EqualFold(res.HeaderValue(httpx.HdrTransferEncoding), "chunked")
	resCL := int64(-1)
	if h := res.FindHeader(httpx.HdrContentLength); h != nil {
		if n, err := httpx.ParseContentLength(h.Value()); err == nil {
			resCL = n
		}
	}

	if _, err := fmt.Fprintf(c.cw, "%s\r\n", res.RawLine); err != nil {
		return res, 0, false
	}
	for _, h := range res.Headers {
		if _, err := fmt.Fprintf(c.cw, "%s\r\n", h.Text); err != nil {
			return res, 0, false
		}
	}
	if _, err := io.WriteString(c.cw, "\r\n"); err != nil {
		return res, 0, false
	}
	if err := c.cw.Flush(); err != nil {
		return res, 0, false
	}

	if meta.wsBits == wsComplete {
		c.noHTTP11 = true
		wsTO := be.WSTimeout
		if wsTO <= 0 {
			wsTO = c.lst.WSTimeout
		}
		c.ctc.readTO = wsTO
		c.be.tc.readTO = wsTO
		tunnel(
			tunnelSide{conn: c.client, r: c.cr, w: c.cw},
			tunnelSide{conn: c.be.conn, r: c.be.r, w: c.be.w},
		)
		return res, 0, false
	}

	var bytesOut int64
	keep := true
	switch {
	case res.NoBody() || req.Method == httpx.MethodHead:
		// no body follows
	case resChunked:
		n, err := copyChunked(c.cw, c.be.r)
		bytesOut = n
		if err != nil {
			return res, bytesOut, false
		}
	case meta.rpcOut, resCL < 0:
		// stream until the backend closes; nothing to reuse after
		n, _ := copyUntilEOF(c.cw, c.be.r)
		bytesOut = n
		c.be.Close()
		c.be = nil
		keep = false
	default:
		n, err := copyFixed(c.cw, c.be.r, resCL)
		bytesOut = n
		if err != nil || n < resCL {
			return res, bytesOut, false
		}
	}
	if err := c.cw.Flush(); err != nil {
		return res, bytesOut, false
	}

	if keep && connectionHasToken(res.HeaderValue(httpx.HdrConnection), "close") {
		// backend is done with its side; the client may continue
		c.be.Close()
		c.be = nil
	}
	return res, bytesOut, keep
}

// knownBackendHost reports whether host:port belongs to one of the
// listener's regular backends (or, in mode 2, the listener itself),
// which makes a Location header eligible for rewriting.
func (c *Conn) knownBackendHost(host string) bool {
	inList := func(l *lb.List) bool {
		if l == nil {
			return false
		}
		for _, b := range l.Backends() {
			if mb, ok := b.(*model.Backend); ok && mb.Kind == model.BackendRegular && mb.Addr == host {
				return true
			}
		}
		return false
	}
	for _, svc := range c.lst.Services {
		if inList(svc.Normal) || inList(svc.Emergency) {
			return true
		}
	}
	if c.lst.RewriteLocation == 2 && host == c.lst.Addr {
		return true
	}
	return false
}

// recordCookieSession pins a cookie-affine session when the backend
// issues the tracking cookie.
func (c *Conn) recordCookieSession(svc *model.Service, be *model.Backend, res *httpx.Response) {
	if svc.Session.Type != session.Cookie || svc.Sessions == nil {
		return
	}
	for _, h := range res.Headers {
		if !strings.EqualFold(h.Name(), "Set-Cookie") {
			continue
		}
		head, _, _ := strings.Cut(h.Value(), ";")
		name, value, ok := strings.Cut(strings.TrimSpace(head), "=")
		if ok && name == svc.Session.ID {
			svc.Sessions.Put(value, be)
		}
	}
}

// logExchange renders one access-log line unless the status class is
// suppressed for the service, and bumps the request counter.
func (c *Conn) logExchange(req *httpx.Request, svc *model.Service, be *model.Backend, res *httpx.Response, status int, bytesOut int64, start time.Time) {
	svcName, beAddr := "", ""
	if svc != nil {
		svcName = svc.Name
	}
	if be != nil {
		beAddr = be.Addr
	}
	if c.mtr != nil && status != 0 {
		c.mtr.IncRequest(c.lst.Name, svcName, beAddr, status)
	}
	if c.logw == nil || c.lst.LogFormat == nil {
		return
	}
	if svc != nil && svc.Suppressed(status) {
		return
	}
	addr := c.peer.Addr().Unmap().String()
	if c.lst.AnonymiseClient {
		addr = accesslog.AnonymiseAddr(addr)
	}
	rec := &accesslog.Record{
		Time:        time.Now(),
		ClientAddr:  addr,
		RequestLine: req.RawLine,
		Status:      status,
		BytesOut:    bytesOut,
		Duration:    time.Since(start),
		Listener:    c.lst.Name,
		Service:     svcName,
		Backend:     beAddr,
		User:        req.BasicUser,
		ReqHeader: func(name string) string {
			if h := req.NamedHeader(name); h != nil {
				return h.Value()
			}
			return ""
		},
	}
	if res != nil {
		rec.ResHeader = func(name string) string {
			if h := res.NamedHeader(name); h != nil {
				return h.Value()
			}
			return ""
		}
	}
	if err := c.lst.LogFormat.Render(c.logw, rec); err != nil {
		log.Printf("access log: %v", err)
	}
}
