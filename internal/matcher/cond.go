// Package matcher evaluates the boolean condition trees that classify
// requests into services and gate rewrite rules.
package matcher

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"regexp"
	"strings"

	"github.com/shoalproxy/shoal/internal/acl"
	"github.com/shoalproxy/shoal/internal/httpx"
)

// Cond is one node of a condition tree. Evaluation is short-circuit;
// every successful regex match pushes its submatches on the request for
// later $N substitution.
type Cond interface {
	Match(req *httpx.Request, peer netip.Addr) bool
}

// BoolOp is the operator of a composite condition.
type BoolOp int

const (
	And BoolOp = iota
	Or
	Not
)

// BoolCond combines children with AND, OR, or NOT.
type BoolCond struct {
	Op       BoolOp
	Children []Cond
}

func (c *BoolCond) Match(req *httpx.Request, peer netip.Addr) bool {
	switch c.Op {
	case And:
		for _, ch := range c.Children {
			if !ch.Match(req, peer) {
				return false
			}
		}
		return true
	case Or:
		for _, ch := range c.Children {
			if ch.Match(req, peer) {
				return true
			}
		}
		return false
	default: // Not
		// submatches recorded under a negation are out of scope
		depth := req.SubmatchDepth()
		ok := len(c.Children) > 0 && c.Children[0].Match(req, peer)
		req.PopSubmatches(depth)
		return !ok
	}
}

// ACLCond matches the peer address against a CIDR list.
type ACLCond struct {
	ACL *acl.ACL
}

func (c *ACLCond) Match(_ *httpx.Request, peer netip.Addr) bool {
	return c.ACL.Match(peer)
}

// URLCond applies a regex to the full decoded request target.
type URLCond struct {
	Re *regexp.Regexp
}

func (c *URLCond) Match(req *httpx.Request, _ netip.Addr) bool {
	return matchAndRecord(c.Re, req.URL(), req)
}

// PathCond applies a regex to the path component.
type PathCond struct {
	Re *regexp.Regexp
}

func (c *PathCond) Match(req *httpx.Request, _ netip.Addr) bool {
	return matchAndRecord(c.Re, req.Path(), req)
}

// QueryCond applies a regex to the query component.
type QueryCond struct {
	Re *regexp.Regexp
}

func (c *QueryCond) Match(req *httpx.Request, _ netip.Addr) bool {
	return matchAndRecord(c.Re, req.Query(), req)
}

// QueryParamCond applies a regex to the value of the first query
// parameter whose name equals Name.
type QueryParamCond struct {
	Name string
	Re   *regexp.Regexp
}

func (c *QueryParamCond) Match(req *httpx.Request, _ netip.Addr) bool {
	for _, kv := range req.QueryParams() {
		if kv[0] == c.Name {
			return matchAndRecord(c.Re, kv[1], req)
		}
	}
	return false
}

// HdrCond applies a regex to full "Name: value" header lines; the
// condition holds if any header matches.
type HdrCond struct {
	Re *regexp.Regexp
}

func (c *HdrCond) Match(req *httpx.Request, _ netip.Addr) bool {
	for _, h := range req.Headers {
		if matchAndRecord(c.Re, h.Text, req) {
			return true
		}
	}
	return false
}

// HostCond applies an anchored regex to the Host header value.
type HostCond struct {
	Re *regexp.Regexp
}

func (c *HostCond) Match(req *httpx.Request, _ netip.Addr) bool {
	h := req.FindHeader(httpx.HdrHost)
	if h == nil {
		return false
	}
	return matchAndRecord(c.Re, h.Value(), req)
}

// BasicAuthCond verifies the request's basic-auth credentials against
// an htpasswd file.
type BasicAuthCond struct {
	Passwd *Htpasswd
}

func (c *BasicAuthCond) Match(req *httpx.Request, _ netip.Addr) bool {
	if req.BasicUser == "" {
		return false
	}
	return c.Passwd.Verify(req.BasicUser, req.BasicPass)
}

// StringMatchCond expands a template and applies a regex to the result.
type StringMatchCond struct {
	Template string
	Re       *regexp.Regexp
}

func (c *StringMatchCond) Match(req *httpx.Request, _ netip.Addr) bool {
	s := httpx.ExpandTemplate(c.Template, req, nil, false)
	return matchAndRecord(c.Re, s, req)
}

func matchAndRecord(re *regexp.Regexp, s string, req *httpx.Request) bool {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	req.PushSubmatches(m)
	return true
}

// LoadPatternFile reads one pattern per line (blank lines and #-comments
// skipped) and expands them into an OR of leaves built by mk.
func LoadPatternFile(path string, mk func(pat string) (Cond, error)) (Cond, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pattern file: %w", err)
	}
	defer f.Close()

	or := &BoolCond{Op: Or}
	sc := bufio.NewScanner(f)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		leaf, err := mk(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineno, err)
		}
		or.Children = append(or.Children, leaf)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("pattern file %s: %w", path, err)
	}
	return or, nil
}
