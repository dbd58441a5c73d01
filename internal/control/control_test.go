package control

import (
	"encoding/json"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shoalproxy/shoal/internal/httpx"
	"github.com/shoalproxy/shoal/internal/lb"
	"github.com/shoalproxy/shoal/internal/metrics"
	"github.com/shoalproxy/shoal/internal/model"
)

var peer = netip.MustParseAddr("127.0.0.1")

func testCore() (*Core, *model.Backend, *model.Backend) {
	svc := &model.Service{Name: "app"}
	b1 := model.NewRegular("10.0.0.1:80", 1)
	b2 := model.NewRegular("10.0.0.2:80", 2)
	b1.Service, b2.Service = svc, svc
	svc.Normal = lb.New(lb.Random, []lb.Backend{b1, b2})
	lst := &model.Listener{Name: "web", Addr: ":80", Services: []*model.Service{svc}}
	return &Core{
		Listeners: []*model.Listener{lst},
		Metrics:   metrics.NewRegistry(),
	}, b1, b2
}

func doReq(t *testing.T, core *Core, method, path string) (int, string) {
	t.Helper()
	req, err := httpx.ParseRequestLine(method+" "+path+" HTTP/1.1", 4)
	require.NoError(t, err)
	var sb strings.Builder
	ctl := model.NewTerminal(model.BackendControl, 1)
	status := core.Handle(&sb, req, peer, ctl)
	return status, sb.String()
}

func TestStateListing(t *testing.T) {
	core, _, _ := testCore()
	status, out := doReq(t, core, "GET", "/")
	require.Equal(t, 200, status)

	_, body, found := strings.Cut(out, "\r\n\r\n")
	require.True(t, found)
	var state []struct {
		Name     string `json:"name"`
		Services []struct {
			Name     string `json:"name"`
			Backends []struct {
				Addr  string `json:"addr"`
				Alive bool   `json:"alive"`
			} `json:"backends"`
		} `json:"services"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &state))
	require.Len(t, state, 1)
	require.Equal(t, "web", state[0].Name)
	require.Len(t, state[0].Services[0].Backends, 2)
	require.True(t, state[0].Services[0].Backends[0].Alive)
}

func TestDisableEnable(t *testing.T) {
	core, b1, _ := testCore()

	status, _ := doReq(t, core, "POST", "/services/app/backends/0/disable")
	require.Equal(t, 200, status)
	require.True(t, b1.Disabled())
	require.False(t, b1.Usable())

	status, _ = doReq(t, core, "POST", "/services/app/backends/0/enable")
	require.Equal(t, 200, status)
	require.False(t, b1.Disabled())
}

func TestDisableUnknown(t *testing.T) {
	core, _, _ := testCore()
	status, _ := doReq(t, core, "POST", "/services/app/backends/9/disable")
	require.Equal(t, 404, status)
	status, _ = doReq(t, core, "POST", "/services/ghost/backends/0/disable")
	require.Equal(t, 404, status)
	status, _ = doReq(t, core, "GET", "/services/app/backends/0/disable")
	require.Equal(t, 501, status)
}

func TestMetricsExport(t *testing.T) {
	core, _, _ := testCore()
	core.Metrics.IncRequest("web", "app", "10.0.0.1:80", 200)

	req, err := httpx.ParseRequestLine("GET /whatever HTTP/1.1", 0)
	require.NoError(t, err)
	var sb strings.Builder
	mb := model.NewTerminal(model.BackendMetrics, 1)
	status := core.Handle(&sb, req, peer, mb)
	require.Equal(t, 200, status)
	require.Contains(t, sb.String(), "requests_total")
}

func TestForeachBackend(t *testing.T) {
	core, _, _ := testCore()
	n := 0
	core.ForeachBackend(func(_ *model.Listener, _ *model.Service, _ *model.Backend) { n++ })
	require.Equal(t, 2, n)
}
