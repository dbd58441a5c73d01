package model

import (
	"crypto/tls"
	"io"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/shoalproxy/shoal/internal/httpx"
)

// BackendKind tags the backend sum type.
type BackendKind int

const (
	BackendRegular BackendKind = iota
	BackendMatrix
	BackendRef
	BackendRedirect
	BackendACME
	BackendError
	BackendControl
	BackendMetrics
)

// ResolveMode selects how a matrix backend expands through DNS.
type ResolveMode int

const (
	ResolveImmediate ResolveMode = iota // resolve once at startup
	ResolveFirst                       // track the first address
	ResolveAll                         // one backend per address
	ResolveSRV                         // SRV targets with priorities
)

// ControlHandler serves CONTROL and METRICS backends. The proxy hands
// it the parsed request and writes whatever it returns to the client.
type ControlHandler interface {
	Handle(w io.Writer, req *httpx.Request, peer netip.Addr, b *Backend) int
}

// Backend is a forwarding target. Kind decides which field group is
// meaningful; the selector switch is exhaustive over kinds.
type Backend struct {
	Kind     BackendKind
	Weight   int // selection priority, >= 0
	Service  *Service
	Dynamic  bool // created by the resolver, retired on re-resolve

	mu       sync.Mutex
	alive    bool
	disabled bool
	refs     int

	// REGULAR
	Addr           string // host:port
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WSTimeout      time.Duration
	TLS            *tls.Config // nil for plain backends
	ServerName     string      // SNI sent on backend TLS handshakes

	// MATRIX
	Hostname      string
	Port          int
	Family        int // 0 any, 4, or 6
	Resolve       ResolveMode
	RetryInterval time.Duration

	// BACKEND_REF
	RefName string

	// REDIRECT
	RedirectStatus int    // 301, 302, 303, 307, 308
	RedirectURL    string // template with $N substitutions
	HasURI         bool   // template already carries a request-URI part

	// ACME
	ChallengeRoot *os.Root

	// ERROR
	ErrStatus int
	ErrBody   string

	// CONTROL / METRICS
	Control ControlHandler
}

// Priority and Usable satisfy lb.Backend.
func (b *Backend) Priority() int { return b.Weight }

func (b *Backend) Usable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alive && !b.disabled
}

// Alive reports the health bit alone.
func (b *Backend) Alive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alive
}

// Disabled reports the admin-disable bit alone.
func (b *Backend) Disabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disabled
}

// Kill clears the alive bit after a connect failure and rebuilds the
// owning service's balancer caches. The prober revives it.
func (b *Backend) Kill() {
	b.mu.Lock()
	b.alive = false
	b.mu.Unlock()
	if b.Service != nil {
		b.Service.RebuildLists()
	}
}

// Revive restores the alive bit after a successful reprobe.
func (b *Backend) Revive() {
	b.mu.Lock()
	b.alive = true
	b.mu.Unlock()
	if b.Service != nil {
		b.Service.RebuildLists()
	}
}

// SetDisabled flips the admin-disable bit and rebuilds.
func (b *Backend) SetDisabled(v bool) {
	b.mu.Lock()
	b.disabled = v
	b.mu.Unlock()
	if b.Service != nil {
		b.Service.RebuildLists()
	}
}

// Ref and Unref track asynchronous holders of the backend pointer so a
// resolver cycle cannot retire a backend a worker is still talking to.
func (b *Backend) Ref() {
	b.mu.Lock()
	b.refs++
	b.mu.Unlock()
}

func (b *Backend) Unref() {
	b.mu.Lock()
	if b.refs > 0 {
		b.refs--
	}
	b.mu.Unlock()
}

// Refs returns the current reference count.
func (b *Backend) Refs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refs
}

// Terminal reports whether the backend replies locally instead of
// forwarding.
func (b *Backend) Terminal() bool {
	switch b.Kind {
	case BackendRedirect, BackendACME, BackendError, BackendControl, BackendMetrics:
		return true
	}
	return false
}

// NewRegular builds an alive REGULAR backend.
func NewRegular(addr string, weight int) *Backend {
	return &Backend{
		Kind:   BackendRegular,
		Addr:   addr,
		Weight: weight,
		alive:  true,
	}
}

// NewTerminal builds an alive terminal backend of the given kind.
func NewTerminal(kind BackendKind, weight int) *Backend {
	return &Backend{Kind: kind, Weight: weight, alive: true}
}
