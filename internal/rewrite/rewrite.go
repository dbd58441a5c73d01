// Package rewrite applies ordered header and URL rewrite rules to
// requests and responses.
package rewrite

import (
	"net/netip"
	"regexp"

	"github.com/shoalproxy/shoal/internal/httpx"
	"github.com/shoalproxy/shoal/internal/matcher"
)

// OpKind tags one rewrite operation.
type OpKind int

const (
	SetHeader OpKind = iota
	DelHeader
	SetURL
	SetPath
	SetQuery
	SetQueryParam
	SubRule
)

// Op is one operation of a rule's op-list.
type Op struct {
	Kind     OpKind
	Name     string         // SetQueryParam: parameter name
	Template string         // template-expanded argument
	Re       *regexp.Regexp // DelHeader: full-line pattern
	Rule     *Rule          // SubRule
}

// Rule is a guarded op-list with an optional else-branch. A nil Cond
// always fires.
type Rule struct {
	Cond matcher.Cond
	Ops  []Op
	Else *Rule
}

// Apply evaluates the rule against req (conditions always match on the
// request). When res is non-nil the rule runs in the response phase:
// header ops apply to the response and URL ops are no-ops.
func (r *Rule) Apply(req *httpx.Request, res *httpx.Response, peer netip.Addr) {
	if r.Cond != nil && !r.Cond.Match(req, peer) {
		if r.Else != nil {
			r.Else.Apply(req, res, peer)
		}
		return
	}
	for i := range r.Ops {
		r.Ops[i].run(req, res, peer)
	}
}

// ApplyAll runs a rule list in order.
func ApplyAll(rules []*Rule, req *httpx.Request, res *httpx.Response, peer netip.Addr) {
	for _, r := range rules {
		r.Apply(req, res, peer)
	}
}

func (op *Op) run(req *httpx.Request, res *httpx.Response, peer netip.Addr) {
	switch op.Kind {
	case SetHeader:
		text := httpx.ExpandTemplate(op.Template, req, res, false)
		if res != nil {
			res.SetHeader(text)
		} else {
			req.SetHeader(text)
		}
	case DelHeader:
		drop := func(h *httpx.Header) bool { return op.Re.MatchString(h.Text) }
		if res != nil {
			res.RemoveHeaders(drop)
		} else {
			req.RemoveHeaders(drop)
		}
	case SetURL:
		if res == nil {
			req.SetURL(httpx.ExpandTemplate(op.Template, req, nil, true))
		}
	case SetPath:
		if res == nil {
			req.SetPath(httpx.ExpandTemplate(op.Template, req, nil, true))
		}
	case SetQuery:
		if res == nil {
			req.SetQuery(httpx.ExpandTemplate(op.Template, req, nil, true))
		}
	case SetQueryParam:
		if res == nil {
			req.SetQueryParam(op.Name, httpx.ExpandTemplate(op.Template, req, nil, true))
		}
	case SubRule:
		if op.Rule != nil {
			op.Rule.Apply(req, res, peer)
		}
	}
}
