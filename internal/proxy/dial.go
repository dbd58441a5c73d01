package proxy

import (
	"bufio"
	"crypto/tls"
	"net"
	"time"

	"github.com/shoalproxy/shoal/internal/model"
)

// timeoutConn refreshes the read deadline before every read, turning an
// absolute socket deadline into a per-read idle timeout.
type timeoutConn struct {
	net.Conn
	readTO time.Duration
}

func (tc *timeoutConn) Read(p []byte) (int, error) {
	if tc.readTO > 0 {
		_ = tc.Conn.SetReadDeadline(time.Now().Add(tc.readTO))
	}
	return tc.Conn.Read(p)
}

// backendConn is one open connection to a regular backend, kept across
// keep-alive requests to the same backend.
type backendConn struct {
	be   *model.Backend
	conn net.Conn
	tc   *timeoutConn
	r    *bufio.Reader
	w    *bufio.Writer
}

func (bc *backendConn) Close() {
	if bc != nil && bc.conn != nil {
		_ = bc.conn.Close()
	}
}

// stale reports whether a pooled connection has become readable: either
// the backend closed it or sent unsolicited bytes, and both mean it
// cannot carry another request.
func (bc *backendConn) stale() bool {
	if bc == nil || bc.conn == nil {
		return true
	}
	saved := bc.tc.readTO
	bc.tc.readTO = 0
	defer func() { bc.tc.readTO = saved }()

	_ = bc.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	_, err := bc.r.Peek(1)
	_ = bc.conn.SetReadDeadline(time.Time{})
	if err == nil {
		return true // unsolicited data
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return false
	}
	return true // EOF or hard error
}

// dialBackend opens a connection to a regular backend, with the
// listener's connect timeout as the fallback and an optional TLS
// handshake carrying the configured SNI name.
func dialBackend(be *model.Backend, lst *model.Listener) (*backendConn, error) {
	timeout := be.ConnectTimeout
	if timeout <= 0 {
		timeout = lst.ConnectTimeout
	}
	conn, err := net.DialTimeout("tcp", be.Addr, timeout)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	if be.TLS != nil {
		cfg := be.TLS
		if be.ServerName != "" && cfg.ServerName != be.ServerName {
			cfg = cfg.Clone()
			cfg.ServerName = be.ServerName
		}
		tlsConn := tls.Client(conn, cfg)
		_ = tlsConn.SetDeadline(time.Now().Add(timeout))
		if err := tlsConn.Handshake(); err != nil {
			_ = conn.Close()
			return nil, err
		}
		_ = tlsConn.SetDeadline(time.Time{})
		conn = tlsConn
	}
	readTO := be.ReadTimeout
	if readTO <= 0 {
		readTO = lst.BackendTimeout
	}
	tc := &timeoutConn{Conn: conn, readTO: readTO}
	return &backendConn{
		be:   be,
		conn: conn,
		tc:   tc,
		r:    bufio.NewReaderSize(tc, copyBufSize),
		w:    bufio.NewWriterSize(conn, copyBufSize),
	}, nil
}
