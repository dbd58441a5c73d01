package matcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func writeHtpasswd(t *testing.T, lines string) *Htpasswd {
	t.Helper()
	path := filepath.Join(t.TempDir(), "htpasswd")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o600))
	h, err := LoadHtpasswd(path)
	require.NoError(t, err)
	return h
}

func TestVerifyBcrypt(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	h := writeHtpasswd(t, "alice:"+string(hash)+"\n")

	require.True(t, h.Verify("alice", "s3cret"))
	require.False(t, h.Verify("alice", "wrong"))
	require.False(t, h.Verify("bob", "s3cret"))
}

func TestVerifySHA(t *testing.T) {
	// {SHA} is base64(sha1(password))
	h := writeHtpasswd(t, "carol:{SHA}W6ph5Mm5Pz8GgiULbPgzG37mj9g=\n")
	require.True(t, h.Verify("carol", "password"))
	require.False(t, h.Verify("carol", "Password"))
}

func TestVerifyAprMD5(t *testing.T) {
	// openssl passwd -apr1 -salt xxxxxxxx password
	h := writeHtpasswd(t, "dave:$apr1$xxxxxxxx$dxHfLAsjHkDRmG83UXe8K0\n")
	require.True(t, h.Verify("dave", "password"))
	require.False(t, h.Verify("dave", "passw0rd"))
}

func TestVerifyPlain(t *testing.T) {
	h := writeHtpasswd(t, "eve:plaintextpw\n")
	require.True(t, h.Verify("eve", "plaintextpw"))
	require.False(t, h.Verify("eve", "other"))
}

func TestLoadHtpasswd_SkipsCommentsAndBlanks(t *testing.T) {
	h := writeHtpasswd(t, "# users\n\nfrank:pw\n")
	require.True(t, h.Verify("frank", "pw"))
}

func TestLoadHtpasswd_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "htpasswd")
	require.NoError(t, os.WriteFile(path, []byte("no-colon-here\n"), 0o600))
	_, err := LoadHtpasswd(path)
	require.Error(t, err)
}
