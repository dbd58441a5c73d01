// Package resolver expands matrix backends into live address sets. One
// runner per matrix backend periodically resolves its hostname and
// diffs the result into dynamic regular backends on the owning
// balancer list.
package resolver

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/netip"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/shoalproxy/shoal/internal/lb"
	"github.com/shoalproxy/shoal/internal/model"
)

// Querier is the one DNS primitive the resolve strategies share. TTL
// may be a default when the transport does not surface it.
type Querier interface {
	LookupIP(ctx context.Context, host string, family int) ([]netip.Addr, time.Duration, error)
	LookupSRV(ctx context.Context, name string) ([]*net.SRV, time.Duration, error)
}

const defaultTTL = 60 * time.Second

// NetQuerier resolves through the process resolver.
type NetQuerier struct {
	R *net.Resolver
}

func (q *NetQuerier) resolver() *net.Resolver {
	if q.R != nil {
		return q.R
	}
	return net.DefaultResolver
}

func (q *NetQuerier) LookupIP(ctx context.Context, host string, family int) ([]netip.Addr, time.Duration, error) {
	network := "ip"
	switch family {
	case 4:
		network = "ip4"
	case 6:
		network = "ip6"
	}
	addrs, err := q.resolver().LookupNetIP(ctx, network, host)
	if err != nil {
		return nil, 0, err
	}
	return addrs, defaultTTL, nil
}

func (q *NetQuerier) LookupSRV(ctx context.Context, name string) ([]*net.SRV, time.Duration, error) {
	_, srvs, err := q.resolver().LookupSRV(ctx, "", "", name)
	if err != nil {
		return nil, 0, err
	}
	return srvs, defaultTTL, nil
}

// target is one resolved endpoint a matrix wants alive.
type target struct {
	addr   netip.AddrPort
	weight int
}

// Matrix drives the resolve loop for one matrix backend.
type Matrix struct {
	Backend *model.Backend // the template
	List    *lb.List       // balancer list the children join

	querier  Querier
	limiter  *rate.Limiter
	children map[netip.AddrPort]*model.Backend
}

// New builds a runner. The limiter paces resolve cycles so a flapping
// zone cannot turn the loop into a query storm.
func New(b *model.Backend, list *lb.List, q Querier) *Matrix {
	interval := b.RetryInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Matrix{
		Backend:  b,
		List:     list,
		querier:  q,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		children: make(map[netip.AddrPort]*model.Backend),
	}
}

// Children returns the current dynamic backend set.
func (m *Matrix) Children() []*model.Backend {
	out := make([]*model.Backend, 0, len(m.children))
	for _, c := range m.children {
		out = append(out, c)
	}
	return out
}

// Cycle performs one resolve and reconciles the child set. The returned
// duration is how long the result may be cached.
func (m *Matrix) Cycle(ctx context.Context) (time.Duration, error) {
	targets, ttl, err := m.resolveTargets(ctx)
	if err != nil {
		return 0, err
	}
	m.reconcile(targets)
	return ttl, nil
}

func (m *Matrix) resolveTargets(ctx context.Context) ([]target, time.Duration, error) {
	b := m.Backend
	switch b.Resolve {
	case model.ResolveSRV:
		srvs, ttl, err := m.querier.LookupSRV(ctx, b.Hostname)
		if err != nil {
			return nil, 0, fmt.Errorf("srv %s: %w", b.Hostname, err)
		}
		var out []target
		for _, srv := range srvs {
			addrs, _, err := m.querier.LookupIP(ctx, srv.Target, b.Family)
			if err != nil {
				continue
			}
			w := int(srv.Weight)
			if w <= 0 {
				w = b.Weight
			}
			for _, a := range addrs {
				out = append(out, target{addr: netip.AddrPortFrom(a.Unmap(), srv.Port), weight: w})
			}
		}
		return out, ttl, nil
	case model.ResolveFirst:
		addrs, ttl, err := m.querier.LookupIP(ctx, b.Hostname, b.Family)
		if err != nil {
			return nil, 0, fmt.Errorf("resolve %s: %w", b.Hostname, err)
		}
		if len(addrs) == 0 {
			return nil, ttl, nil
		}
		return []target{{addr: netip.AddrPortFrom(addrs[0].Unmap(), uint16(b.Port)), weight: b.Weight}}, ttl, nil
	default: // ResolveImmediate, ResolveAll
		addrs, ttl, err := m.querier.LookupIP(ctx, b.Hostname, b.Family)
		if err != nil {
			return nil, 0, fmt.Errorf("resolve %s: %w", b.Hostname, err)
		}
		out := make([]target, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, target{addr: netip.AddrPortFrom(a.Unmap(), uint16(b.Port)), weight: b.Weight})
		}
		return out, ttl, nil
	}
}

// reconcile adds children for new targets and retires ones the zone no
// longer lists. Sessions pinned to a retired child are dropped so no
// stale pointer survives.
func (m *Matrix) reconcile(targets []target) {
	want := make(map[netip.AddrPort]target, len(targets))
	for _, t := range targets {
		want[t.addr] = t
	}
	for ap, child := range m.children {
		if _, ok := want[ap]; ok {
			continue
		}
		m.List.Remove(child)
		delete(m.children, ap)
		if svc := m.Backend.Service; svc != nil && svc.Sessions != nil {
			svc.Sessions.DropBackend(func(b *model.Backend) bool { return b == child })
		}
	}
	for ap, t := range want {
		if _, ok := m.children[ap]; ok {
			continue
		}
		child := m.newChild(ap, t.weight)
		m.children[ap] = child
		m.List.Add(child)
	}
}

func (m *Matrix) newChild(ap netip.AddrPort, weight int) *model.Backend {
	tpl := m.Backend
	c := model.NewRegular(net.JoinHostPort(ap.Addr().String(), strconv.Itoa(int(ap.Port()))), weight)
	c.Dynamic = true
	c.Service = tpl.Service
	c.ConnectTimeout = tpl.ConnectTimeout
	c.ReadTimeout = tpl.ReadTimeout
	c.WSTimeout = tpl.WSTimeout
	c.TLS = tpl.TLS
	c.ServerName = tpl.ServerName
	return c
}

// Run loops Cycle until the context is cancelled. Immediate-mode
// matrices resolve once and return. Failed lookups retry at the paced
// interval; successful ones sleep out the TTL first.
func (m *Matrix) Run(ctx context.Context) {
	for {
		if err := m.limiter.Wait(ctx); err != nil {
			return
		}
		ttl, err := m.Cycle(ctx)
		if err != nil {
			log.Printf("resolver: %v", err)
			continue
		}
		if m.Backend.Resolve == model.ResolveImmediate {
			return
		}
		select {
		case <-time.After(ttl):
		case <-ctx.Done():
			return
		}
	}
}
