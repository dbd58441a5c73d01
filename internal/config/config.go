// Package config loads the YAML configuration file and builds the
// model tree the proxy runs on.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shoalproxy/shoal/internal/accesslog"
	"github.com/shoalproxy/shoal/internal/acl"
	"github.com/shoalproxy/shoal/internal/lb"
	"github.com/shoalproxy/shoal/internal/matcher"
	"github.com/shoalproxy/shoal/internal/model"
	"github.com/shoalproxy/shoal/internal/rewrite"
	"github.com/shoalproxy/shoal/internal/session"
	"github.com/shoalproxy/shoal/internal/tlsutil"
)

// MatrixSpec pairs a matrix backend with the balancer list its
// resolved children join.
type MatrixSpec struct {
	Backend   *model.Backend
	Emergency bool
	List      *lb.List
}

// Pool mirrors the worker_pool block.
type Pool struct {
	Min   int
	Max   int
	Idle  time.Duration
	Queue int
}

// Config is the validated result of Load.
type Config struct {
	Listeners  []*model.Listener
	Matrices   []MatrixSpec
	Pool       Pool
	AccessLog  string // "stderr", "stdout", or a file path
	CertStores []*tlsutil.CertStore
}

// loader carries cross-section state while translating the raw tree.
type loader struct {
	dir        string // config file directory, base for relative paths
	acls       map[string]*acl.ACL
	named      map[string]*rawBackend
	passwds    map[string]*matcher.Htpasswd
	certStores []*tlsutil.CertStore
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var rc rawConfig
	if err := yaml.Unmarshal(b, &rc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	ld := &loader{
		dir:     filepath.Dir(path),
		acls:    make(map[string]*acl.ACL),
		named:   make(map[string]*rawBackend),
		passwds: make(map[string]*matcher.Htpasswd),
	}
	return ld.build(&rc)
}

// --- raw schema ---

type rawConfig struct {
	WorkerPool struct {
		Min   int    `yaml:"min"`
		Max   int    `yaml:"max"`
		Idle  string `yaml:"idle"`
		Queue int    `yaml:"queue"`
	} `yaml:"worker_pool"`
	AccessLog string `yaml:"access_log"`
	ACLs      []struct {
		Name  string   `yaml:"name"`
		CIDRs []string `yaml:"cidrs"`
	} `yaml:"acls"`
	Backends  []rawBackend  `yaml:"backends"` // named templates
	Listeners []rawListener `yaml:"listeners"`
}

type rawListener struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`

	ClientTimeout  string `yaml:"client_timeout"`
	ConnectTimeout string `yaml:"connect_timeout"`
	BackendTimeout string `yaml:"backend_timeout"`
	WSTimeout      string `yaml:"ws_timeout"`

	CheckURL   string `yaml:"check_url"`
	MaxRequest int64  `yaml:"max_request"`
	XHTTP      int    `yaml:"xhttp"`

	RewriteLocation    int  `yaml:"rewrite_location"`
	RewriteDestination bool `yaml:"rewrite_destination"`

	LogFormat string `yaml:"log_format"`
	Anonymise bool   `yaml:"log_anonymise"`

	Headers        []string       `yaml:"headers"`
	ClientCertHdrs bool           `yaml:"client_cert_headers"`
	ErrorBodies    map[int]string `yaml:"error_bodies"`

	TLS *struct {
		Certificates []rawCertPair `yaml:"certificates"`
		ClientCheck  int           `yaml:"client_check"`
		CAFile       string        `yaml:"ca_file"`
		NoHTTPS11    int           `yaml:"no_https11"`
	} `yaml:"tls"`

	RequestRewrite  []rawRule    `yaml:"request_rewrite"`
	ResponseRewrite []rawRule    `yaml:"response_rewrite"`
	Services        []rawService `yaml:"services"`
}

type rawService struct {
	Name    string    `yaml:"name"`
	Match   []rawCond `yaml:"match"` // implicit AND
	Balance string    `yaml:"balance"`

	Session struct {
		Type string `yaml:"type"`
		ID   string `yaml:"id"`
		TTL  string `yaml:"ttl"`
	} `yaml:"session"`

	ForwardedHeader string `yaml:"forwarded_header"`
	TrustedIPs      string `yaml:"trusted_ips"` // acl name
	LogSuppress     []int  `yaml:"log_suppress"`

	RequestRewrite  []rawRule `yaml:"request_rewrite"`
	ResponseRewrite []rawRule `yaml:"response_rewrite"`

	Backends []rawBackend `yaml:"backends"`
}

type rawBackend struct {
	Name      string `yaml:"name"` // templates only
	Use       string `yaml:"use"`  // reference to a template
	Emergency bool   `yaml:"emergency"`
	Weight    *int   `yaml:"weight"`
	Disabled  bool   `yaml:"disabled"`

	// regular
	Address        string `yaml:"address"`
	ConnectTimeout string `yaml:"connect_timeout"`
	ReadTimeout    string `yaml:"read_timeout"`
	WSTimeout      string `yaml:"ws_timeout"`
	TLS            *struct {
		ServerName string `yaml:"server_name"`
		Insecure   bool   `yaml:"insecure"`
		CAFile     string `yaml:"ca_file"`
	} `yaml:"tls"`

	// matrix
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Family  int    `yaml:"family"`
	Resolve string `yaml:"resolve"`
	Retry   string `yaml:"retry"`

	// redirect
	Redirect string `yaml:"redirect"`
	Status   int    `yaml:"status"`

	// acme
	ACME string `yaml:"acme"`

	// error
	Error *struct {
		Status int    `yaml:"status"`
		Body   string `yaml:"body"`
	} `yaml:"error"`

	Control bool `yaml:"control"`
	Metrics bool `yaml:"metrics"`
}

type rawCond struct {
	Kind string `yaml:"kind"` // posix, pcre, exact, prefix, suffix, contain

	ACL        string `yaml:"acl"`
	URL        string `yaml:"url"`
	URLFile    string `yaml:"url_file"`
	Path       string `yaml:"path"`
	Query      string `yaml:"query"`
	QueryParam *struct {
		Name    string `yaml:"name"`
		Pattern string `yaml:"pattern"`
	} `yaml:"query_param"`
	Header      string `yaml:"header"`
	Host        string `yaml:"host"`
	BasicAuth   string `yaml:"basic_auth"`
	StringMatch *struct {
		Template string `yaml:"template"`
		Pattern  string `yaml:"pattern"`
	} `yaml:"string_match"`

	And []rawCond `yaml:"and"`
	Or  []rawCond `yaml:"or"`
	Not []rawCond `yaml:"not"`
}

type rawRule struct {
	Cond []rawCond `yaml:"cond"`
	Ops  []rawOp   `yaml:"ops"`
	Else *rawRule  `yaml:"else"`
}

type rawOp struct {
	SetHeader     string `yaml:"set_header"`
	DelHeader     string `yaml:"del_header"`
	SetURL        string `yaml:"set_url"`
	SetPath       string `yaml:"set_path"`
	SetQuery      string `yaml:"set_query"`
	SetQueryParam *struct {
		Name  string `yaml:"name"`
		Value string `yaml:"value"`
	} `yaml:"set_query_param"`
	SubRule *rawRule `yaml:"sub_rule"`
}

// --- translation ---

func (ld *loader) build(rc *rawConfig) (*Config, error) {
	cfg := &Config{
		Pool: Pool{
			Min:   rc.WorkerPool.Min,
			Max:   rc.WorkerPool.Max,
			Queue: rc.WorkerPool.Queue,
		},
		AccessLog: rc.AccessLog,
	}
	var err error
	if cfg.Pool.Idle, err = optDuration(rc.WorkerPool.Idle, 30*time.Second); err != nil {
		return nil, fmt.Errorf("worker_pool.idle: %w", err)
	}

	for i, a := range rc.ACLs {
		if a.Name == "" {
			return nil, fmt.Errorf("acls[%d]: name is required", i)
		}
		if _, dup := ld.acls[a.Name]; dup {
			return nil, fmt.Errorf("acls[%d]: duplicate name %q", i, a.Name)
		}
		built, err := acl.New(a.Name, a.CIDRs)
		if err != nil {
			return nil, fmt.Errorf("acls[%d]: %w", i, err)
		}
		ld.acls[a.Name] = built
	}

	for i := range rc.Backends {
		t := &rc.Backends[i]
		if t.Name == "" {
			return nil, fmt.Errorf("backends[%d]: name is required", i)
		}
		if _, dup := ld.named[t.Name]; dup {
			return nil, fmt.Errorf("backends[%d]: duplicate name %q", i, t.Name)
		}
		ld.named[t.Name] = t
	}

	if len(rc.Listeners) == 0 {
		return nil, fmt.Errorf("listeners: at least one is required")
	}
	for i := range rc.Listeners {
		lst, err := ld.buildListener(&rc.Listeners[i], cfg)
		if err != nil {
			return nil, fmt.Errorf("listeners[%d]: %w", i, err)
		}
		cfg.Listeners = append(cfg.Listeners, lst)
	}
	cfg.CertStores = ld.certStores
	return cfg, nil
}

func (ld *loader) buildListener(r *rawListener, cfg *Config) (*model.Listener, error) {
	if r.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	lst := &model.Listener{
		Name:               r.Name,
		Addr:               r.Address,
		MaxRequest:         r.MaxRequest,
		XHTTP:              r.XHTTP,
		RewriteLocation:    r.RewriteLocation,
		RewriteDestination: r.RewriteDestination,
		ExtraHeaders:       r.Headers,
		ClientCertHdrs:     r.ClientCertHdrs,
		AnonymiseClient:    r.Anonymise,
		ErrBodies:          r.ErrorBodies,
	}
	if lst.Name == "" {
		lst.Name = r.Address
	}
	if r.XHTTP < 0 || r.XHTTP > 4 {
		return nil, fmt.Errorf("xhttp: must be 0..4")
	}

	var err error
	if lst.ClientTimeout, err = optDuration(r.ClientTimeout, 10*time.Second); err != nil {
		return nil, fmt.Errorf("client_timeout: %w", err)
	}
	if lst.ConnectTimeout, err = optDuration(r.ConnectTimeout, 5*time.Second); err != nil {
		return nil, fmt.Errorf("connect_timeout: %w", err)
	}
	if lst.BackendTimeout, err = optDuration(r.BackendTimeout, 30*time.Second); err != nil {
		return nil, fmt.Errorf("backend_timeout: %w", err)
	}
	if lst.WSTimeout, err = optDuration(r.WSTimeout, 600*time.Second); err != nil {
		return nil, fmt.Errorf("ws_timeout: %w", err)
	}

	if r.CheckURL != "" {
		if lst.CheckURL, err = regexp.Compile(r.CheckURL); err != nil {
			return nil, fmt.Errorf("check_url: %w", err)
		}
	}

	format := r.LogFormat
	if format == "" {
		format = "common"
	}
	if lst.LogFormat, err = accesslog.Compile(format); err != nil {
		return nil, fmt.Errorf("log_format: %w", err)
	}

	if r.TLS != nil {
		lst.ClientCheck = r.TLS.ClientCheck
		if r.TLS.NoHTTPS11 < 0 || r.TLS.NoHTTPS11 > 2 {
			return nil, fmt.Errorf("tls.no_https11: must be 0..2")
		}
		lst.NoHTTPS11 = r.TLS.NoHTTPS11
		tlsCfg, err := ld.buildServerTLS(r.TLS.Certificates, r.TLS.ClientCheck, r.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("tls: %w", err)
		}
		lst.TLS = tlsCfg
	}

	if lst.RequestRules, err = ld.buildRules(r.RequestRewrite); err != nil {
		return nil, fmt.Errorf("request_rewrite: %w", err)
	}
	if lst.ResponseRules, err = ld.buildRules(r.ResponseRewrite); err != nil {
		return nil, fmt.Errorf("response_rewrite: %w", err)
	}

	if len(r.Services) == 0 {
		return nil, fmt.Errorf("services: at least one is required")
	}
	for i := range r.Services {
		svc, err := ld.buildService(&r.Services[i], cfg)
		if err != nil {
			return nil, fmt.Errorf("services[%d]: %w", i, err)
		}
		lst.Services = append(lst.Services, svc)
	}
	return lst, nil
}

func (ld *loader) buildService(r *rawService, cfg *Config) (*model.Service, error) {
	svc := &model.Service{
		Name:            r.Name,
		ForwardedHeader: r.ForwardedHeader,
	}
	if svc.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	var err error
	if len(r.Match) > 0 {
		if svc.Cond, err = ld.buildCondList(r.Match); err != nil {
			return nil, fmt.Errorf("match: %w", err)
		}
	}

	algo := lb.Random
	switch strings.ToLower(r.Balance) {
	case "", "random":
	case "iwrr":
		algo = lb.IWRR
	default:
		return nil, fmt.Errorf("balance: unknown algorithm %q", r.Balance)
	}

	if r.TrustedIPs != "" {
		a, ok := ld.acls[r.TrustedIPs]
		if !ok {
			return nil, fmt.Errorf("trusted_ips: unknown acl %q", r.TrustedIPs)
		}
		svc.TrustedIPs = a
	}

	for _, class := range r.LogSuppress {
		if class < 1 || class > 5 {
			return nil, fmt.Errorf("log_suppress: status class %d out of range", class)
		}
		svc.LogSuppress |= 1 << uint(class-1)
	}

	st, ok := session.ParseType(r.Session.Type)
	if !ok {
		return nil, fmt.Errorf("session.type: unknown type %q", r.Session.Type)
	}
	if st != session.None {
		ttl, err := optDuration(r.Session.TTL, 300*time.Second)
		if err != nil {
			return nil, fmt.Errorf("session.ttl: %w", err)
		}
		if st != session.IP && st != session.Basic && r.Session.ID == "" {
			return nil, fmt.Errorf("session.id: required for type %q", r.Session.Type)
		}
		svc.Session = model.SessionPolicy{Type: st, ID: r.Session.ID, TTL: ttl}
		svc.Sessions = session.New[*model.Backend](ttl)
	}

	if svc.RequestRules, err = ld.buildRules(r.RequestRewrite); err != nil {
		return nil, fmt.Errorf("request_rewrite: %w", err)
	}
	if svc.ResponseRules, err = ld.buildRules(r.ResponseRewrite); err != nil {
		return nil, fmt.Errorf("response_rewrite: %w", err)
	}

	if len(r.Backends) == 0 {
		return nil, fmt.Errorf("backends: at least one is required")
	}
	var normal, emergency []lb.Backend
	for i := range r.Backends {
		rb := &r.Backends[i]
		if rb.Use != "" {
			// symbolic reference, resolved now against the template table
			tpl, ok := ld.named[rb.Use]
			if !ok {
				return nil, fmt.Errorf("backends[%d]: unknown backend %q", i, rb.Use)
			}
			merged := *tpl
			merged.Emergency = rb.Emergency
			if rb.Weight != nil {
				merged.Weight = rb.Weight
			}
			merged.Disabled = merged.Disabled || rb.Disabled
			rb = &merged
		}
		be, err := ld.buildBackend(rb, svc, cfg)
		if err != nil {
			return nil, fmt.Errorf("backends[%d]: %w", i, err)
		}
		if be == nil {
			continue // matrix: children arrive via the resolver
		}
		if rb.Emergency {
			emergency = append(emergency, be)
		} else {
			normal = append(normal, be)
		}
	}
	svc.Normal = lb.New(algo, normal)
	svc.Emergency = lb.New(algo, emergency)

	// matrices recorded in buildBackend get their destination list now
	// that the service's lists exist
	for i := range cfg.Matrices {
		m := &cfg.Matrices[i]
		if m.Backend.Service == svc && m.List == nil {
			if m.Emergency {
				m.List = svc.Emergency
			} else {
				m.List = svc.Normal
			}
		}
	}
	return svc, nil
}

func (ld *loader) buildBackend(r *rawBackend, svc *model.Service, cfg *Config) (*model.Backend, error) {
	weight := 1
	if r.Weight != nil {
		weight = *r.Weight
	}
	if weight < 0 {
		return nil, fmt.Errorf("weight: must be >= 0")
	}

	var err error
	switch {
	case r.Address != "":
		be := model.NewRegular(r.Address, weight)
		be.Service = svc
		if be.ConnectTimeout, err = optDuration(r.ConnectTimeout, 0); err != nil {
			return nil, fmt.Errorf("connect_timeout: %w", err)
		}
		if be.ReadTimeout, err = optDuration(r.ReadTimeout, 0); err != nil {
			return nil, fmt.Errorf("read_timeout: %w", err)
		}
		if be.WSTimeout, err = optDuration(r.WSTimeout, 0); err != nil {
			return nil, fmt.Errorf("ws_timeout: %w", err)
		}
		if r.TLS != nil {
			if err := ld.applyBackendTLS(be, r.TLS.ServerName, r.TLS.Insecure, r.TLS.CAFile); err != nil {
				return nil, err
			}
		}
		be.SetDisabled(r.Disabled)
		return be, nil

	case r.Host != "":
		if r.Port == 0 && !strings.EqualFold(r.Resolve, "srv") {
			return nil, fmt.Errorf("port: required for matrix backend %q", r.Host)
		}
		be := &model.Backend{
			Kind:     model.BackendMatrix,
			Weight:   weight,
			Service:  svc,
			Hostname: r.Host,
			Port:     r.Port,
			Family:   r.Family,
		}
		switch strings.ToLower(r.Resolve) {
		case "", "all":
			be.Resolve = model.ResolveAll
		case "immediate":
			be.Resolve = model.ResolveImmediate
		case "first":
			be.Resolve = model.ResolveFirst
		case "srv":
			be.Resolve = model.ResolveSRV
		default:
			return nil, fmt.Errorf("resolve: unknown mode %q", r.Resolve)
		}
		if be.RetryInterval, err = optDuration(r.Retry, 10*time.Second); err != nil {
			return nil, fmt.Errorf("retry: %w", err)
		}
		if r.TLS != nil {
			if err := ld.applyBackendTLS(be, r.TLS.ServerName, r.TLS.Insecure, r.TLS.CAFile); err != nil {
				return nil, err
			}
		}
		cfg.Matrices = append(cfg.Matrices, MatrixSpec{Backend: be, Emergency: r.Emergency})
		return nil, nil

	case r.Redirect != "":
		be := model.NewTerminal(model.BackendRedirect, weight)
		be.Service = svc
		be.RedirectURL = r.Redirect
		be.RedirectStatus = r.Status
		if be.RedirectStatus == 0 {
			be.RedirectStatus = 302
		}
		switch be.RedirectStatus {
		case 301, 302, 303, 307, 308:
		default:
			return nil, fmt.Errorf("status: %d is not a redirect status", be.RedirectStatus)
		}
		// a template that names a path of its own keeps it; a bare
		// authority gets the request URI appended
		be.HasURI = strings.Count(r.Redirect, "/") > 2 || strings.Contains(r.Redirect, "$")
		return be, nil

	case r.ACME != "":
		root, err := os.OpenRoot(ld.resolvePath(r.ACME))
		if err != nil {
			return nil, fmt.Errorf("acme: %w", err)
		}
		be := model.NewTerminal(model.BackendACME, weight)
		be.Service = svc
		be.ChallengeRoot = root
		return be, nil

	case r.Error != nil:
		be := model.NewTerminal(model.BackendError, weight)
		be.Service = svc
		be.ErrStatus = r.Error.Status
		be.ErrBody = r.Error.Body
		if be.ErrStatus == 0 {
			be.ErrStatus = 503
		}
		return be, nil

	case r.Control:
		be := model.NewTerminal(model.BackendControl, weight)
		be.Service = svc
		return be, nil

	case r.Metrics:
		be := model.NewTerminal(model.BackendMetrics, weight)
		be.Service = svc
		return be, nil
	}
	return nil, fmt.Errorf("backend needs one of address, host, use, redirect, acme, error, control, metrics")
}

// --- conditions and rules ---

func (ld *loader) buildCondList(raws []rawCond) (matcher.Cond, error) {
	if len(raws) == 1 {
		return ld.buildCond(&raws[0])
	}
	root := &matcher.BoolCond{Op: matcher.And}
	for i := range raws {
		c, err := ld.buildCond(&raws[i])
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, c)
	}
	return root, nil
}

func (ld *loader) compile(kind, pat string, ci bool) (*regexp.Regexp, error) {
	k := matcher.Posix
	if kind != "" {
		var ok bool
		if k, ok = matcher.ParsePatternKind(strings.ToLower(kind)); !ok {
			return nil, fmt.Errorf("unknown pattern kind %q", kind)
		}
	}
	return matcher.CompilePattern(k, pat, ci)
}

func (ld *loader) buildCond(r *rawCond) (matcher.Cond, error) {
	switch {
	case r.ACL != "":
		a, ok := ld.acls[r.ACL]
		if !ok {
			return nil, fmt.Errorf("unknown acl %q", r.ACL)
		}
		return &matcher.ACLCond{ACL: a}, nil
	case r.URL != "":
		re, err := ld.compile(r.Kind, r.URL, true)
		if err != nil {
			return nil, fmt.Errorf("url: %w", err)
		}
		return &matcher.URLCond{Re: re}, nil
	case r.URLFile != "":
		return matcher.LoadPatternFile(ld.resolvePath(r.URLFile), func(pat string) (matcher.Cond, error) {
			re, err := ld.compile(r.Kind, pat, true)
			if err != nil {
				return nil, err
			}
			return &matcher.URLCond{Re: re}, nil
		})
	case r.Path != "":
		re, err := ld.compile(r.Kind, r.Path, false)
		if err != nil {
			return nil, fmt.Errorf("path: %w", err)
		}
		return &matcher.PathCond{Re: re}, nil
	case r.Query != "":
		re, err := ld.compile(r.Kind, r.Query, false)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		return &matcher.QueryCond{Re: re}, nil
	case r.QueryParam != nil:
		if r.QueryParam.Name == "" {
			return nil, fmt.Errorf("query_param: name is required")
		}
		re, err := ld.compile(r.Kind, r.QueryParam.Pattern, false)
		if err != nil {
			return nil, fmt.Errorf("query_param: %w", err)
		}
		return &matcher.QueryParamCond{Name: r.QueryParam.Name, Re: re}, nil
	case r.Header != "":
		re, err := ld.compile(r.Kind, r.Header, true)
		if err != nil {
			return nil, fmt.Errorf("header: %w", err)
		}
		return &matcher.HdrCond{Re: re}, nil
	case r.Host != "":
		re, err := matcher.CompileHostPattern(r.Host)
		if err != nil {
			return nil, fmt.Errorf("host: %w", err)
		}
		return &matcher.HostCond{Re: re}, nil
	case r.BasicAuth != "":
		path := ld.resolvePath(r.BasicAuth)
		pw, ok := ld.passwds[path]
		if !ok {
			var err error
			if pw, err = matcher.LoadHtpasswd(path); err != nil {
				return nil, err
			}
			ld.passwds[path] = pw
		}
		return &matcher.BasicAuthCond{Passwd: pw}, nil
	case r.StringMatch != nil:
		re, err := ld.compile(r.Kind, r.StringMatch.Pattern, false)
		if err != nil {
			return nil, fmt.Errorf("string_match: %w", err)
		}
		return &matcher.StringMatchCond{Template: r.StringMatch.Template, Re: re}, nil
	case len(r.And) > 0:
		children, err := ld.buildChildren(r.And)
		if err != nil {
			return nil, err
		}
		return &matcher.BoolCond{Op: matcher.And, Children: children}, nil
	case len(r.Or) > 0:
		children, err := ld.buildChildren(r.Or)
		if err != nil {
			return nil, err
		}
		return &matcher.BoolCond{Op: matcher.Or, Children: children}, nil
	case len(r.Not) > 0:
		child, err := ld.buildCondList(r.Not)
		if err != nil {
			return nil, err
		}
		return &matcher.BoolCond{Op: matcher.Not, Children: []matcher.Cond{child}}, nil
	}
	return nil, fmt.Errorf("empty condition")
}

func (ld *loader) buildChildren(raws []rawCond) ([]matcher.Cond, error) {
	var out []matcher.Cond
	for i := range raws {
		c, err := ld.buildCond(&raws[i])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (ld *loader) buildRules(raws []rawRule) ([]*rewrite.Rule, error) {
	var out []*rewrite.Rule
	for i := range raws {
		r, err := ld.buildRule(&raws[i])
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (ld *loader) buildRule(r *rawRule) (*rewrite.Rule, error) {
	rule := &rewrite.Rule{}
	var err error
	if len(r.Cond) > 0 {
		if rule.Cond, err = ld.buildCondList(r.Cond); err != nil {
			return nil, err
		}
	}
	for i := range r.Ops {
		op, err := ld.buildOp(&r.Ops[i])
		if err != nil {
			return nil, fmt.Errorf("ops[%d]: %w", i, err)
		}
		rule.Ops = append(rule.Ops, op)
	}
	if r.Else != nil {
		if rule.Else, err = ld.buildRule(r.Else); err != nil {
			return nil, err
		}
	}
	return rule, nil
}

func (ld *loader) buildOp(r *rawOp) (rewrite.Op, error) {
	switch {
	case r.SetHeader != "":
		return rewrite.Op{Kind: rewrite.SetHeader, Template: r.SetHeader}, nil
	case r.DelHeader != "":
		re, err := regexp.Compile("(?i)" + r.DelHeader)
		if err != nil {
			return rewrite.Op{}, fmt.Errorf("del_header: %w", err)
		}
		return rewrite.Op{Kind: rewrite.DelHeader, Re: re}, nil
	case r.SetURL != "":
		return rewrite.Op{Kind: rewrite.SetURL, Template: r.SetURL}, nil
	case r.SetPath != "":
		return rewrite.Op{Kind: rewrite.SetPath, Template: r.SetPath}, nil
	case r.SetQuery != "":
		return rewrite.Op{Kind: rewrite.SetQuery, Template: r.SetQuery}, nil
	case r.SetQueryParam != nil:
		if r.SetQueryParam.Name == "" {
			return rewrite.Op{}, fmt.Errorf("set_query_param: name is required")
		}
		return rewrite.Op{
			Kind:     rewrite.SetQueryParam,
			Name:     r.SetQueryParam.Name,
			Template: r.SetQueryParam.Value,
		}, nil
	case r.SubRule != nil:
		sub, err := ld.buildRule(r.SubRule)
		if err != nil {
			return rewrite.Op{}, err
		}
		return rewrite.Op{Kind: rewrite.SubRule, Rule: sub}, nil
	}
	return rewrite.Op{}, fmt.Errorf("empty rewrite op")
}

// --- helpers ---

func (ld *loader) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(ld.dir, p)
}

func optDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
