// Package control serves the admin protocol behind CONTROL and METRICS
// backends: state listing, backend enable/disable, and metrics export.
package control

import (
	"encoding/json"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"

	"github.com/shoalproxy/shoal/internal/httpx"
	"github.com/shoalproxy/shoal/internal/lb"
	"github.com/shoalproxy/shoal/internal/metrics"
	"github.com/shoalproxy/shoal/internal/model"
)

// Core is the view of the running configuration the control plane
// iterates over.
type Core struct {
	Listeners []*model.Listener
	Metrics   *metrics.Registry
}

// ForeachListener visits every listener.
func (c *Core) ForeachListener(fn func(*model.Listener)) {
	for _, l := range c.Listeners {
		fn(l)
	}
}

// ForeachService visits every service of every listener.
func (c *Core) ForeachService(fn func(*model.Listener, *model.Service)) {
	for _, l := range c.Listeners {
		for _, s := range l.Services {
			fn(l, s)
		}
	}
}

// ForeachBackend visits every backend on both balancer lists.
func (c *Core) ForeachBackend(fn func(*model.Listener, *model.Service, *model.Backend)) {
	c.ForeachService(func(l *model.Listener, s *model.Service) {
		visit := func(list *lb.List) {
			if list == nil {
				return
			}
			for _, b := range list.Backends() {
				fn(l, s, b.(*model.Backend))
			}
		}
		visit(s.Normal)
		visit(s.Emergency)
	})
}

type backendState struct {
	Addr     string `json:"addr,omitempty"`
	Kind     string `json:"kind"`
	Weight   int    `json:"weight"`
	Alive    bool   `json:"alive"`
	Disabled bool   `json:"disabled"`
}

type serviceState struct {
	Name      string         `json:"name"`
	Backends  []backendState `json:"backends"`
	Emergency []backendState `json:"emergency,omitempty"`
	Sessions  int            `json:"sessions"`
}

type listenerState struct {
	Name     string         `json:"name"`
	Addr     string         `json:"addr"`
	TLS      bool           `json:"tls"`
	Services []serviceState `json:"services"`
}

var kindNames = map[model.BackendKind]string{
	model.BackendRegular:  "regular",
	model.BackendMatrix:   "matrix",
	model.BackendRef:      "ref",
	model.BackendRedirect: "redirect",
	model.BackendACME:     "acme",
	model.BackendError:    "error",
	model.BackendControl:  "control",
	model.BackendMetrics:  "metrics",
}

func backendStates(list *lb.List) []backendState {
	if list == nil {
		return nil
	}
	var out []backendState
	for _, it := range list.Backends() {
		b := it.(*model.Backend)
		out = append(out, backendState{
			Addr:     b.Addr,
			Kind:     kindNames[b.Kind],
			Weight:   b.Weight,
			Alive:    b.Alive(),
			Disabled: b.Disabled(),
		})
	}
	return out
}

func (c *Core) snapshot() []listenerState {
	var out []listenerState
	c.ForeachListener(func(l *model.Listener) {
		ls := listenerState{Name: l.Name, Addr: l.Addr, TLS: l.TLS != nil}
		for _, s := range l.Services {
			ss := serviceState{
				Name:      s.Name,
				Backends:  backendStates(s.Normal),
				Emergency: backendStates(s.Emergency),
			}
			if s.Sessions != nil {
				ss.Sessions = s.Sessions.Len()
			}
			ls.Services = append(ls.Services, ss)
		}
		out = append(out, ls)
	})
	return out
}

// findBackend resolves /services/<svc>/backends/<n> path elements.
func (c *Core) findBackend(svcName string, index int) *model.Backend {
	var found *model.Backend
	n := 0
	c.ForeachBackend(func(_ *model.Listener, s *model.Service, b *model.Backend) {
		if s.Name != svcName {
			return
		}
		if n == index && found == nil {
			found = b
		}
		n++
	})
	return found
}

// Handle implements model.ControlHandler. Endpoints:
//
//	GET  /              full state as JSON
//	GET  /metrics       Prometheus text export
//	POST /services/<name>/backends/<n>/disable
//	POST /services/<name>/backends/<n>/enable
func (c *Core) Handle(w io.Writer, req *httpx.Request, _ netip.Addr, b *model.Backend) int {
	path := req.Path()
	if b.Kind == model.BackendMetrics || path == "/metrics" {
		return c.serveMetrics(w)
	}

	switch {
	case path == "/" || path == "":
		if req.Method != httpx.MethodGet {
			return replyStatus(w, 501, "method not supported\n")
		}
		body, err := json.MarshalIndent(c.snapshot(), "", "  ")
		if err != nil {
			return replyStatus(w, 500, "internal error\n")
		}
		fmt.Fprintf(w, "HTTP/1.0 200 OK\r\nContent-Type: application/json\r\nContent-Length: %d\r\n\r\n", len(body)+1)
		_, _ = w.Write(append(body, '\n'))
		return 200

	case strings.HasPrefix(path, "/services/"):
		parts := strings.Split(strings.Trim(path, "/"), "/")
		// services/<name>/backends/<n>/<verb>
		if len(parts) != 5 || parts[2] != "backends" {
			return replyStatus(w, 404, "not found\n")
		}
		if req.Method != httpx.MethodPost {
			return replyStatus(w, 501, "method not supported\n")
		}
		idx, err := strconv.Atoi(parts[3])
		if err != nil {
			return replyStatus(w, 404, "not found\n")
		}
		be := c.findBackend(parts[1], idx)
		if be == nil {
			return replyStatus(w, 404, "no such backend\n")
		}
		switch parts[4] {
		case "disable":
			be.SetDisabled(true)
		case "enable":
			be.SetDisabled(false)
		default:
			return replyStatus(w, 404, "not found\n")
		}
		return replyStatus(w, 200, "ok\n")
	}
	return replyStatus(w, 404, "not found\n")
}

func (c *Core) serveMetrics(w io.Writer) int {
	if c.Metrics == nil {
		return replyStatus(w, 503, "metrics not enabled\n")
	}
	var sb strings.Builder
	c.Metrics.WritePrometheus(&sb)
	body := sb.String()
	fmt.Fprintf(w, "HTTP/1.0 200 OK\r\nContent-Type: text/plain; version=0.0.4\r\nContent-Length: %d\r\n\r\n%s",
		len(body), body)
	return 200
}

var reasons = map[int]string{
	200: "OK", 404: "Not Found", 500: "Internal Server Error",
	501: "Not Implemented", 503: "Service Unavailable",
}

func replyStatus(w io.Writer, status int, body string) int {
	fmt.Fprintf(w, "HTTP/1.0 %d %s\r\nContent-Type: text/plain\r\nContent-Length: %d\r\n\r\n%s",
		status, reasons[status], len(body), body)
	return status
}
