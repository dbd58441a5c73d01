// Package metrics keeps request counters, connection gauges, and
// latency histograms, exported in Prometheus text format through the
// METRICS backend.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry holds all instruments.
type Registry struct {
	mu sync.RWMutex
	// Key is "name|labels"
	counters   map[string]uint64
	gauges     map[string]int64
	histograms map[string]*Histogram
}

type Histogram struct {
	Count   uint64
	Sum     float64
	Buckets []float64
	Counts  []uint64
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]uint64),
		gauges:     make(map[string]int64),
		histograms: make(map[string]*Histogram),
	}
}

func (r *Registry) IncRequest(listener, service, backend string, status int) {
	key := fmt.Sprintf("requests_total|listener=%q,service=%q,backend=%q,status=\"%d\"",
		listener, service, backend, status)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[key]++
}

func (r *Registry) IncBackendDead(service, backend string) {
	key := fmt.Sprintf("backend_dead_total|service=%q,backend=%q", service, backend)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[key]++
}

func (r *Registry) IncActiveConns(listener string) {
	key := fmt.Sprintf("active_connections|listener=%q", listener)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[key]++
}

func (r *Registry) DecActiveConns(listener string) {
	key := fmt.Sprintf("active_connections|listener=%q", listener)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[key]--
}

var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

func (r *Registry) ObserveLatency(service, backend string, duration time.Duration) {
	key := fmt.Sprintf("backend_latency_seconds|service=%q,backend=%q", service, backend)
	val := duration.Seconds()

	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.histograms[key]
	if !ok {
		h = &Histogram{
			Buckets: defaultBuckets,
			Counts:  make([]uint64, len(defaultBuckets)),
		}
		r.histograms[key] = h
	}

	h.Count++
	h.Sum += val
	for i, b := range h.Buckets {
		if val <= b {
			h.Counts[i]++
		}
	}
}

var counterHelp = map[string]string{
	"requests_total":     "Total number of proxied requests",
	"backend_dead_total": "Times a backend was marked dead",
}

// WritePrometheus renders every instrument in text exposition format.
func (r *Registry) WritePrometheus(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.counters))
	for k := range r.counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	seen := map[string]bool{}
	for _, k := range keys {
		name, labels, ok := strings.Cut(k, "|")
		if !ok {
			continue
		}
		if !seen[name] {
			seen[name] = true
			if help := counterHelp[name]; help != "" {
				_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
			}
			_, _ = fmt.Fprintf(w, "# TYPE %s counter\n", name)
		}
		_, _ = fmt.Fprintf(w, "%s{%s} %d\n", name, labels, r.counters[k])
	}

	keys = keys[:0]
	for k := range r.gauges {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		_, _ = fmt.Fprintln(w, "# HELP active_connections Number of open client connections")
		_, _ = fmt.Fprintln(w, "# TYPE active_connections gauge")
		for _, k := range keys {
			name, labels, ok := strings.Cut(k, "|")
			if ok {
				_, _ = fmt.Fprintf(w, "%s{%s} %d\n", name, labels, r.gauges[k])
			}
		}
	}

	keys = keys[:0]
	for k := range r.histograms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		_, _ = fmt.Fprintln(w, "# HELP backend_latency_seconds Backend response latency in seconds")
		_, _ = fmt.Fprintln(w, "# TYPE backend_latency_seconds histogram")
		for _, k := range keys {
			name, labels, ok := strings.Cut(k, "|")
			if !ok {
				continue
			}
			h := r.histograms[k]
			for i, b := range h.Buckets {
				_, _ = fmt.Fprintf(w, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, b, h.Counts[i])
			}
			_, _ = fmt.Fprintf(w, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, h.Count)
			_, _ = fmt.Fprintf(w, "%s_sum{%s} %g\n", name, labels, h.Sum)
			_, _ = fmt.Fprintf(w, "%s_count{%s} %d\n", name, labels, h.Count)
		}
	}
}
