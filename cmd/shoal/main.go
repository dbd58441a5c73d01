// Command shoal runs the TLS-terminating reverse proxy.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cfg "github.com/shoalproxy/shoal/internal/config"
	"github.com/shoalproxy/shoal/internal/control"
	"github.com/shoalproxy/shoal/internal/lb"
	"github.com/shoalproxy/shoal/internal/metrics"
	"github.com/shoalproxy/shoal/internal/model"
	"github.com/shoalproxy/shoal/internal/resolver"
	"github.com/shoalproxy/shoal/internal/server"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "shoal",
		Short:         "shoal is a TLS-terminating HTTP reverse proxy and load balancer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "shoal.yaml", "path to configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Load the configuration and serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("%s: ok (%d listeners)\n", configPath, len(c.Listeners))
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	c, err := cfg.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	accessLog, closeLog, err := openAccessLog(c.AccessLog)
	if err != nil {
		return err
	}
	defer closeLog()

	mtr := metrics.NewRegistry()
	core := &control.Core{Listeners: c.Listeners, Metrics: mtr}
	wireControl(c.Listeners, core)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// background loops: matrix resolvers, session sweeps, cert reloads
	querier := &resolver.NetQuerier{}
	for _, m := range c.Matrices {
		runner := resolver.New(m.Backend, m.List, querier)
		go runner.Run(ctx)
	}
	startSessionSweeps(ctx, c.Listeners)
	for _, store := range c.CertStores {
		store := store
		go func() {
			if err := store.Watch(ctx); err != nil {
				log.Printf("cert watcher: %v", err)
			}
		}()
	}

	opts := server.DefaultOptions()
	if c.Pool.Min > 0 {
		opts.WorkerMin = c.Pool.Min
	}
	if c.Pool.Max > 0 {
		opts.WorkerMax = c.Pool.Max
	}
	if c.Pool.Idle > 0 {
		opts.WorkerIdle = c.Pool.Idle
	}
	if c.Pool.Queue > 0 {
		opts.QueueDepth = c.Pool.Queue
	}

	srv := server.New(c.Listeners, mtr, accessLog, opts)
	log.Printf("shoal starting: %d listeners", len(c.Listeners))
	return srv.Run(ctx)
}

// wireControl hands the admin handler to every CONTROL/METRICS backend.
func wireControl(listeners []*model.Listener, core *control.Core) {
	for _, lst := range listeners {
		for _, svc := range lst.Services {
			for _, list := range []*lb.List{svc.Normal, svc.Emergency} {
				if list == nil {
					continue
				}
				for _, it := range list.Backends() {
					b := it.(*model.Backend)
					if b.Kind == model.BackendControl || b.Kind == model.BackendMetrics {
						b.Control = core
					}
				}
			}
		}
	}
}

func startSessionSweeps(ctx context.Context, listeners []*model.Listener) {
	for _, lst := range listeners {
		for _, svc := range lst.Services {
			if svc.Sessions == nil {
				continue
			}
			tbl := svc.Sessions
			ttl := svc.Session.TTL
			go tbl.Sweep(ttl, ctx.Done())
		}
	}
}

func openAccessLog(target string) (io.Writer, func(), error) {
	switch target {
	case "", "stderr":
		return os.Stderr, func() {}, nil
	case "stdout":
		return os.Stdout, func() {}, nil
	case "none":
		return io.Discard, func() {}, nil
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("access_log: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
