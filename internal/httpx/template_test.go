package httpx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandTemplate(t *testing.T) {
	req := &Request{}
	req.AddHeader("Host: example.org")
	req.AddHeader("X-Tag: v7")
	req.PushSubmatches([]string{"/foo/bar", "bar"})

	res := &Response{}
	res.SetHeader("X-Out: zz")

	cases := []struct {
		tmpl, want string
	}{
		{"plain", "plain"},
		{"$1", "bar"},
		{"pre-$1-post", "pre-bar-post"},
		{"$$1", "$1"},
		{"$9", ""}, // out-of-range group
		{"%{Host}i", "example.org"},
		{"%{x-tag}i", "v7"},
		{"%{X-Out}o", "zz"},
		{"%{Missing}i!", "!"},
		{"%{unclosed", "%{unclosed"},
		{"100% sure", "100% sure"},
	}
	for _, tc := range cases {
		if got := ExpandTemplate(tc.tmpl, req, res, false); got != tc.want {
			t.Errorf("ExpandTemplate(%q) = %q, want %q", tc.tmpl, got, tc.want)
		}
	}
}

func TestExpandTemplate_URLEscape(t *testing.T) {
	req := &Request{}
	req.PushSubmatches([]string{"", `a b"><`})
	got := ExpandTemplate("/r/$1", req, nil, true)
	require.Equal(t, "/r/a%20b%22%3E%3C", got)

	// literal template text is not escaped, only substitutions
	got = ExpandTemplate("/r?x=$1", req, nil, true)
	require.Equal(t, "/r?x=a%20b%22%3E%3C", got)
}
