package accesslog

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleRecord() *Record {
	loc := time.FixedZone("UTC", 0)
	return &Record{
		Time:        time.Date(2024, 3, 9, 12, 30, 45, 0, loc),
		ClientAddr:  "192.0.2.7",
		RequestLine: "GET /x HTTP/1.1",
		Status:      200,
		BytesOut:    123,
		Duration:    1500 * time.Millisecond,
		Listener:    "web",
		Service:     "app",
		Backend:     "10.0.0.2:8080",
		User:        "alice",
		ReqHeader: func(name string) string {
			if strings.EqualFold(name, "User-agent") {
				return "curl/8.0"
			}
			return ""
		},
		ResHeader: func(name string) string {
			if strings.EqualFold(name, "Content-type") {
				return "text/html"
			}
			return ""
		},
	}
}

func render(t *testing.T, format string, r *Record) string {
	t.Helper()
	f, err := Compile(format)
	require.NoError(t, err)
	var sb strings.Builder
	require.NoError(t, f.Render(&sb, r))
	return sb.String()
}

func TestCommonFormat(t *testing.T) {
	got := render(t, "common", sampleRecord())
	require.Equal(t,
		`192.0.2.7 - alice [09/Mar/2024:12:30:45 +0000] "GET /x HTTP/1.1" 200 123`+"\n",
		got)
}

func TestDirectives(t *testing.T) {
	r := sampleRecord()
	cases := []struct {
		format, want string
	}{
		{"%a", "192.0.2.7"},
		{"%s", "200"},
		{"%b", "123"},
		{"%T", "1"},
		{"%{ms}T", "1500"},
		{"%u", "alice"},
		{"%v", "web"},
		{"%{User-agent}i", "curl/8.0"},
		{"%{Content-type}o", "text/html"},
		{"%{service}N", "app"},
		{"%{backend}N", "10.0.0.2:8080"},
		{"%{listener}N", "web"},
		{"100%%", "100%"},
		{"plain text", "plain text"},
	}
	for _, tc := range cases {
		if got := render(t, tc.format, r); got != tc.want+"\n" {
			t.Errorf("format %q = %q, want %q", tc.format, got, tc.want+"\n")
		}
	}
}

func TestDashForMissing(t *testing.T) {
	r := &Record{RequestLine: "GET / HTTP/1.0", Status: 503}
	got := render(t, `%a %u %b %{X-None}i`, r)
	require.Equal(t, "- - - -\n", got)
}

func TestCompileErrors(t *testing.T) {
	for _, bad := range []string{"%q", "%{unterminated", "%{bogus}N"} {
		if _, err := Compile(bad); err == nil {
			t.Errorf("Compile(%q): want error", bad)
		}
	}
}

func TestAnonymiseAddr(t *testing.T) {
	require.Equal(t, "192.0.2.0", AnonymiseAddr("192.0.2.77"))
	require.Equal(t, "2001:db8::0", AnonymiseAddr("2001:db8::beef"))
	require.Equal(t, "nohost", AnonymiseAddr("nohost"))
}
