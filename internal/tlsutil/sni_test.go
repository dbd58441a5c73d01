package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeCert generates a self-signed pair for the given names and writes
// PEM files under dir.
func writeCert(t *testing.T, dir, base, cn string, sans []string) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		DNSNames:     sans,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPath := filepath.Join(dir, base+".crt")
	keyPath := filepath.Join(dir, base+".key")

	cf, err := os.Create(certPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(cf, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, cf.Close())

	kb, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	kf, err := os.Create(keyPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(kf, &pem.Block{Type: "EC PRIVATE KEY", Bytes: kb}))
	require.NoError(t, kf.Close())

	return certPath, keyPath
}

func leafCN(t *testing.T, c *tls.Certificate) string {
	t.Helper()
	require.NotNil(t, c)
	require.NotNil(t, c.Leaf)
	return c.Leaf.Subject.CommonName
}

func TestSNISelection(t *testing.T) {
	dir := t.TempDir()
	c1, k1 := writeCert(t, dir, "default", "default.example", nil)
	c2, k2 := writeCert(t, dir, "www", "www.example.org", []string{"www.example.org", "example.org"})
	c3, k3 := writeCert(t, dir, "wild", "*.apps.example.org", nil)

	store, err := NewCertStore([][2]string{{c1, k1}, {c2, k2}, {c3, k3}})
	require.NoError(t, err)

	cases := []struct {
		serverName string
		wantCN     string
	}{
		{"www.example.org", "www.example.org"},
		{"example.org", "www.example.org"},      // SAN match
		{"foo.apps.example.org", "*.apps.example.org"}, // glob
		{"WWW.EXAMPLE.ORG", "www.example.org"},  // case-insensitive
		{"nomatch.example.net", "default.example"}, // fallback: first entry
		{"", "default.example"},                 // no SNI at all
	}
	for _, tc := range cases {
		got, err := store.GetCertificate(&tls.ClientHelloInfo{ServerName: tc.serverName})
		require.NoError(t, err)
		require.Equal(t, tc.wantCN, leafCN(t, got), "server name %q", tc.serverName)
	}
}

func TestServerConfigModes(t *testing.T) {
	dir := t.TempDir()
	c1, k1 := writeCert(t, dir, "a", "a.example", nil)
	store, err := NewCertStore([][2]string{{c1, k1}})
	require.NoError(t, err)

	pool := x509.NewCertPool()

	cfg, err := ServerConfig(store, 0, nil)
	require.NoError(t, err)
	require.Equal(t, tls.NoClientCert, cfg.ClientAuth)

	cfg, err = ServerConfig(store, 1, pool)
	require.NoError(t, err)
	require.Equal(t, tls.VerifyClientCertIfGiven, cfg.ClientAuth)

	cfg, err = ServerConfig(store, 2, pool)
	require.NoError(t, err)
	require.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)

	// mode 3 asks for a certificate but does not verify it
	cfg, err = ServerConfig(store, 3, nil)
	require.NoError(t, err)
	require.Equal(t, tls.RequestClientCert, cfg.ClientAuth)

	_, err = ServerConfig(store, 2, nil)
	require.Error(t, err, "require-and-verify without a CA list")

	_, err = ServerConfig(store, 9, nil)
	require.Error(t, err)
}

func TestNewCertStore_Errors(t *testing.T) {
	_, err := NewCertStore(nil)
	require.Error(t, err)

	_, err = NewCertStore([][2]string{{"/nonexistent.crt", "/nonexistent.key"}})
	require.Error(t, err)
}

func TestMatchName(t *testing.T) {
	require.True(t, matchName("*.example.org", "a.example.org"))
	// shell-style globs span label boundaries
	require.True(t, matchName("*.example.org", "a.b.example.org"))
	require.False(t, matchName("*.example.org", "example.org"))
}
