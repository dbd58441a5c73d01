package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/shoalproxy/shoal/internal/model"
	"github.com/shoalproxy/shoal/internal/tlsutil"
)

type rawCertPair struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

func (ld *loader) buildServerTLS(pairs []rawCertPair, clientCheck int, caFile string) (*tls.Config, error) {
	var files [][2]string
	for i, p := range pairs {
		if p.Cert == "" || p.Key == "" {
			return nil, fmt.Errorf("certificates[%d]: cert and key are required", i)
		}
		files = append(files, [2]string{ld.resolvePath(p.Cert), ld.resolvePath(p.Key)})
	}
	store, err := tlsutil.NewCertStore(files)
	if err != nil {
		return nil, err
	}
	ld.certStores = append(ld.certStores, store)

	var pool *x509.CertPool
	if caFile != "" {
		pool, err = loadCertPool(ld.resolvePath(caFile))
		if err != nil {
			return nil, err
		}
	}
	return tlsutil.ServerConfig(store, clientCheck, pool)
}

func (ld *loader) applyBackendTLS(be *model.Backend, serverName string, insecure bool, caFile string) error {
	var pool *x509.CertPool
	if caFile != "" {
		var err error
		pool, err = loadCertPool(ld.resolvePath(caFile))
		if err != nil {
			return err
		}
	}
	be.TLS = tlsutil.ClientConfig(serverName, insecure, pool)
	be.ServerName = serverName
	return nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ca_file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, fmt.Errorf("ca_file %s: no certificates found", path)
	}
	return pool, nil
}
