package matcher

import (
	"bufio"
	"crypto/md5"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Htpasswd holds the parsed contents of an Apache htpasswd file.
// Supported entry formats: bcrypt ($2a$/$2b$/$2y$), MD5-crypt ($apr1$),
// {SHA}, and plain text.
type Htpasswd struct {
	Path  string
	users map[string]string
}

// LoadHtpasswd parses path. Malformed lines are rejected with their
// line number.
func LoadHtpasswd(path string) (*Htpasswd, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("htpasswd: %w", err)
	}
	defer f.Close()

	h := &Htpasswd{Path: path, users: make(map[string]string)}
	sc := bufio.NewScanner(f)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, hash, ok := strings.Cut(line, ":")
		if !ok || user == "" {
			return nil, fmt.Errorf("%s:%d: malformed entry", path, lineno)
		}
		h.users[user] = hash
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("htpasswd %s: %w", path, err)
	}
	return h, nil
}

// Verify checks password for user.
func (h *Htpasswd) Verify(user, password string) bool {
	hash, ok := h.users[user]
	if !ok {
		return false
	}
	switch {
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	case strings.HasPrefix(hash, "$apr1$"):
		parts := strings.SplitN(hash[len("$apr1$"):], "$", 2)
		if len(parts) != 2 {
			return false
		}
		computed := aprMD5(password, parts[0])
		return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
	case strings.HasPrefix(hash, "{SHA}"):
		sum := sha1.Sum([]byte(password))
		want := base64.StdEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(want), []byte(hash[len("{SHA}"):])) == 1
	default:
		return subtle.ConstantTimeCompare([]byte(password), []byte(hash)) == 1
	}
}

const itoa64 = "./0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// aprMD5 implements Apache's MD5-crypt variant ($apr1$).
func aprMD5(password, salt string) string {
	if len(salt) > 8 {
		salt = salt[:8]
	}
	d := md5.New()
	d.Write([]byte(password))
	d.Write([]byte("$apr1$"))
	d.Write([]byte(salt))

	alt := md5.Sum([]byte(password + salt + password))
	for n := len(password); n > 0; n -= 16 {
		if n > 16 {
			d.Write(alt[:])
		} else {
			d.Write(alt[:n])
		}
	}
	for n := len(password); n > 0; n >>= 1 {
		if n&1 != 0 {
			d.Write([]byte{0})
		} else {
			d.Write([]byte{password[0]})
		}
	}
	sum := d.Sum(nil)

	for i := 0; i < 1000; i++ {
		d2 := md5.New()
		if i&1 != 0 {
			d2.Write([]byte(password))
		} else {
			d2.Write(sum)
		}
		if i%3 != 0 {
			d2.Write([]byte(salt))
		}
		if i%7 != 0 {
			d2.Write([]byte(password))
		}
		if i&1 != 0 {
			d2.Write(sum)
		} else {
			d2.Write([]byte(password))
		}
		sum = d2.Sum(nil)
	}

	var out strings.Builder
	out.WriteString("$apr1$")
	out.WriteString(salt)
	out.WriteByte('$')
	enc := func(a, b, c byte, n int) {
		v := uint(a)<<16 | uint(b)<<8 | uint(c)
		for ; n > 0; n-- {
			out.WriteByte(itoa64[v&0x3f])
			v >>= 6
		}
	}
	enc(sum[0], sum[6], sum[12], 4)
	enc(sum[1], sum[7], sum[13], 4)
	enc(sum[2], sum[8], sum[14], 4)
	enc(sum[3], sum[9], sum[15], 4)
	enc(sum[4], sum[10], sum[5], 4)
	enc(0, 0, sum[11], 2)
	return out.String()
}
