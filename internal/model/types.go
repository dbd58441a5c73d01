// Package model holds the configuration tree the proxy runs on:
// listeners, services, and backends. The tree is read-only after
// startup except for backend health/disabled bits and session tables,
// which their owners mutate under the service mutex.
package model

import (
	"crypto/tls"
	"net/netip"
	"regexp"
	"time"

	"github.com/shoalproxy/shoal/internal/accesslog"
	"github.com/shoalproxy/shoal/internal/acl"
	"github.com/shoalproxy/shoal/internal/httpx"
	"github.com/shoalproxy/shoal/internal/lb"
	"github.com/shoalproxy/shoal/internal/matcher"
	"github.com/shoalproxy/shoal/internal/rewrite"
	"github.com/shoalproxy/shoal/internal/session"
)

// Listener is one bound endpoint with its attached services.
type Listener struct {
	Name string
	Addr string

	// TLS is nil for plain HTTP listeners.
	TLS *tls.Config
	// ClientCheck: 0 none, 1 verify if given, 2 require and verify,
	// 3 request but do not verify.
	ClientCheck int
	// NoHTTPS11: 0 off, 1 force HTTP/1.0 replies on TLS, 2 only for
	// user agents that mishandle TLS keep-alive (MSIE).
	NoHTTPS11 int

	ClientTimeout  time.Duration // client read/write
	ConnectTimeout time.Duration // backend connect, listener default
	BackendTimeout time.Duration // backend read, listener default
	WSTimeout      time.Duration // websocket idle, listener default

	CheckURL   *regexp.Regexp // allow-pattern; 501 on miss
	MaxRequest int64          // request body cap; 0 = unlimited
	XHTTP      int            // max allowed method group, 0..4

	RewriteLocation    int // 0 off, 1 on, 2 also match listener address
	RewriteDestination bool

	Services        []*Service
	RequestRules    []*rewrite.Rule
	ResponseRules   []*rewrite.Rule
	ErrBodies       map[int]string // per-status error body overrides
	LogFormat       *accesslog.Format
	ExtraHeaders    []string // appended to every forwarded request
	ClientCertHdrs  bool     // append X-SSL-* headers on TLS clients
	AnonymiseClient bool
}

// ErrBody returns the configured override body for a status code, or "".
func (l *Listener) ErrBody(status int) string {
	if l.ErrBodies == nil {
		return ""
	}
	return l.ErrBodies[status]
}

// SessionPolicy configures a service's affinity.
type SessionPolicy struct {
	Type session.Type
	ID   string // cookie/parameter/header name
	TTL  time.Duration
}

// Service is one match+routing scope. It owns its backends; balancer
// lists and the session table hang off it.
type Service struct {
	Name string
	Cond matcher.Cond // root is an implicit AND; nil matches everything

	Normal    *lb.List
	Emergency *lb.List

	RequestRules  []*rewrite.Rule
	ResponseRules []*rewrite.Rule

	Session  SessionPolicy
	Sessions *session.Table[*Backend]

	ForwardedHeader string // X-Forwarded-For override; "" = default
	TrustedIPs      *acl.ACL

	// LogSuppress is a bitmask over status classes 1..5: bit n-1 set
	// silences n00-class responses in the access log.
	LogSuppress uint8
}

// Matches evaluates the service's condition tree.
func (s *Service) Matches(req *httpx.Request, peer netip.Addr) bool {
	if s.Cond == nil {
		return true
	}
	return s.Cond.Match(req, peer)
}

// Suppressed reports whether a status falls in a silenced log class.
func (s *Service) Suppressed(status int) bool {
	class := status / 100
	if class < 1 || class > 5 {
		return false
	}
	return s.LogSuppress&(1<<uint(class-1)) != 0
}

// SelectBackend picks from the normal list, falling back to the
// emergency list when no normal backend is usable.
func (s *Service) SelectBackend() *Backend {
	if b := s.Normal.Next(); b != nil {
		return b.(*Backend)
	}
	if s.Emergency != nil {
		if b := s.Emergency.Next(); b != nil {
			return b.(*Backend)
		}
	}
	return nil
}

// RebuildLists recomputes both balancer lists' priority caches. Safe
// to call while the service is still being assembled.
func (s *Service) RebuildLists() {
	if s.Normal != nil {
		s.Normal.Rebuild()
	}
	if s.Emergency != nil {
		s.Emergency.Rebuild()
	}
}
