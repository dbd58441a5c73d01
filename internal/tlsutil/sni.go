// Package tlsutil builds server TLS configurations with SNI-based
// certificate selection and hot reload of certificate files.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"path"
	"strings"
	"sync/atomic"
)

// certEntry is one configured cert/key pair. names caches the leaf's
// CN and DNS SANs for SNI matching; cert is swapped atomically on
// reload.
type certEntry struct {
	certFile string
	keyFile  string
	names    []string
	cert     atomic.Pointer[tls.Certificate]
}

func (e *certEntry) load() error {
	c, err := tls.LoadX509KeyPair(e.certFile, e.keyFile)
	if err != nil {
		return fmt.Errorf("load %s: %w", e.certFile, err)
	}
	leaf := c.Leaf
	if leaf == nil {
		leaf, err = x509.ParseCertificate(c.Certificate[0])
		if err != nil {
			return fmt.Errorf("parse %s: %w", e.certFile, err)
		}
		c.Leaf = leaf
	}
	var names []string
	if leaf.Subject.CommonName != "" {
		names = append(names, leaf.Subject.CommonName)
	}
	names = append(names, leaf.DNSNames...)
	e.names = names
	e.cert.Store(&c)
	return nil
}

// CertStore holds the ordered certificate list of one listener. The
// first entry is the default when no name matches.
type CertStore struct {
	entries []*certEntry
}

// NewCertStore loads every cert/key pair. Order is the configuration
// order; SNI matching walks it front to back.
func NewCertStore(pairs [][2]string) (*CertStore, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("tls: no certificates configured")
	}
	s := &CertStore{}
	for _, p := range pairs {
		e := &certEntry{certFile: p[0], keyFile: p[1]}
		if err := e.load(); err != nil {
			return nil, err
		}
		s.entries = append(s.entries, e)
	}
	return s, nil
}

// matchName compares a certificate name against the SNI server name.
// Certificate names are shell globs, so "*.example.org" covers its
// subdomains.
func matchName(certName, serverName string) bool {
	certName = strings.ToLower(certName)
	serverName = strings.ToLower(serverName)
	if certName == serverName {
		return true
	}
	ok, err := path.Match(certName, serverName)
	return err == nil && ok
}

// GetCertificate is the tls.Config callback: first entry whose CN or
// any DNS SAN glob-matches the requested name wins; no match falls back
// to the first entry.
func (s *CertStore) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if hello.ServerName != "" {
		for _, e := range s.entries {
			for _, name := range e.names {
				if matchName(name, hello.ServerName) {
					return e.cert.Load(), nil
				}
			}
		}
	}
	return s.entries[0].cert.Load(), nil
}

// ServerConfig assembles a listener's tls.Config. clientCheck: 0 none,
// 1 verify-if-given, 2 require-and-verify, 3 request-without-verify.
// clientCAs is required for modes 1 and 2.
func ServerConfig(store *CertStore, clientCheck int, clientCAs *x509.CertPool) (*tls.Config, error) {
	cfg := &tls.Config{
		GetCertificate: store.GetCertificate,
		NextProtos:     []string{"http/1.1"},
		MinVersion:     tls.VersionTLS12,
	}
	switch clientCheck {
	case 0:
		cfg.ClientAuth = tls.NoClientCert
	case 1:
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	case 2:
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	case 3:
		cfg.ClientAuth = tls.RequestClientCert
	default:
		return nil, fmt.Errorf("tls: bad client-check mode %d", clientCheck)
	}
	if clientCheck == 1 || clientCheck == 2 {
		if clientCAs == nil {
			return nil, fmt.Errorf("tls: client-check %d needs a CA list", clientCheck)
		}
		cfg.ClientCAs = clientCAs
	}
	return cfg, nil
}

// ClientConfig builds a backend-side TLS configuration.
func ClientConfig(serverName string, insecure bool, rootCAs *x509.CertPool) *tls.Config {
	return &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: insecure,
		RootCAs:            rootCAs,
		NextProtos:         []string{"http/1.1"},
		MinVersion:         tls.VersionTLS12,
	}
}
