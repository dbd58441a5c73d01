// Package server binds the listening sockets and feeds accepted
// connections into the worker pool.
package server

import (
	"context"
	"io"
	"log"
	"net"
	"net/netip"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/shoalproxy/shoal/internal/metrics"
	"github.com/shoalproxy/shoal/internal/model"
	"github.com/shoalproxy/shoal/internal/proxy"
)

// Options tunes the worker pool.
type Options struct {
	WorkerMin   int
	WorkerMax   int
	WorkerIdle  time.Duration
	QueueDepth  int
	GraceWindow time.Duration
}

// DefaultOptions returns the pool sizing used when the configuration
// does not say otherwise.
func DefaultOptions() Options {
	return Options{
		WorkerMin:   8,
		WorkerMax:   256,
		WorkerIdle:  30 * time.Second,
		QueueDepth:  128,
		GraceWindow: 30 * time.Second,
	}
}

// Server owns the accept loops for a set of listeners.
type Server struct {
	Listeners []*model.Listener
	Metrics   *metrics.Registry
	AccessLog io.Writer
	Opts      Options

	pool *Pool
}

// New builds a server with its worker pool.
func New(listeners []*model.Listener, mtr *metrics.Registry, accessLog io.Writer, opts Options) *Server {
	return &Server{
		Listeners: listeners,
		Metrics:   mtr,
		AccessLog: accessLog,
		Opts:      opts,
		pool:      NewPool(opts.WorkerMin, opts.WorkerMax, opts.WorkerIdle, opts.QueueDepth),
	}
}

// listenConfig sets SO_REUSEADDR so restarts do not trip over sockets
// in TIME_WAIT.
var listenConfig = net.ListenConfig{
	Control: func(network, address string, c syscall.RawConn) error {
		var serr error
		err := c.Control(func(fd uintptr) {
			serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return serr
	},
}

// Run binds every listener and accepts until the context is cancelled,
// then drains the pool within the grace window.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	sockets := make([]net.Listener, 0, len(s.Listeners))
	for _, lst := range s.Listeners {
		ln, err := listenConfig.Listen(ctx, "tcp", lst.Addr)
		if err != nil {
			for _, open := range sockets {
				_ = open.Close()
			}
			return err
		}
		sockets = append(sockets, ln)
		log.Printf("listening on %s (%s)", lst.Addr, lst.Name)

		lst := lst
		ln := ln
		g.Go(func() error {
			return s.acceptLoop(ctx, lst, ln)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		for _, ln := range sockets {
			_ = ln.Close()
		}
		return nil
	})

	err := g.Wait()

	done := make(chan struct{})
	go func() {
		s.pool.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.Opts.GraceWindow):
		log.Printf("grace window elapsed, abandoning active connections")
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context, lst *model.Listener, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		peer := peerAddr(conn)
		s.pool.Submit(func() {
			proxy.New(lst, conn, peer, s.Metrics, s.AccessLog).Serve()
		})
	}
}

func peerAddr(conn net.Conn) netip.AddrPort {
	if ta, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return ta.AddrPort()
	}
	if ap, err := netip.ParseAddrPort(conn.RemoteAddr().String()); err == nil {
		return ap
	}
	return netip.AddrPort{}
}
