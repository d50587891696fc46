package clash

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const proxiesFixture = `{"proxies":{
 "GLOBAL":{"name":"GLOBAL","type":"Selector","now":"Proxy","all":["Proxy","Auto","DIRECT","Hidden"]},
 "Proxy":{"name":"Proxy","type":"Selector","now":"Auto","all":["Auto","HK-01","JP-02"]},
 "Auto":{"name":"Auto","type":"URLTest","now":"JP-02","fixed":"","all":["HK-01","JP-02"]},
 "Hidden":{"name":"Hidden","type":"Selector","hidden":true,"now":"HK-01","all":["HK-01"]},
 "Extra":{"name":"Extra","type":"Fallback","now":"HK-01","all":["HK-01"]},
 "HK-01":{"name":"HK-01","type":"Shadowsocks","history":[{"time":"t","delay":180}]},
 "JP-02":{"name":"JP-02","type":"Vmess","history":[{"time":"t","delay":0}]},
 "DIRECT":{"name":"DIRECT","type":"Direct","history":[]}
}}`

type fakeController struct {
	mu       sync.Mutex
	requests []string
	bodies   []string
	proxies  atomic.Int32
	handler  http.HandlerFunc
}

func newFakeController(t *testing.T, override http.HandlerFunc) (*httptest.Server, *fakeController) {
	t.Helper()
	fc := &fakeController{handler: override}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fc.mu.Lock()
		fc.requests = append(fc.requests, r.Method+" "+r.URL.Path)
		fc.bodies = append(fc.bodies, string(body))
		fc.mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Unauthorized"}`))
			return
		}
		if fc.handler != nil {
			fc.handler(w, r)
			return
		}
		if r.Method == http.MethodGet && r.URL.Path == "/proxies" {
			fc.proxies.Add(1)
			_, _ = w.Write([]byte(proxiesFixture))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, fc
}

func (fc *fakeController) last() (string, string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	n := len(fc.requests)
	return fc.requests[n-1], fc.bodies[n-1]
}

func newTestClient(t *testing.T, baseURL string, ttl time.Duration) *Client {
	t.Helper()
	client, err := NewClient(Options{
		BaseURL:     baseURL,
		Secret:      "s3cret",
		SnapshotTTL: ttl,
		Retry:       RetryConfig{Enabled: true, MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1},
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return client
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(Options{})
	require.Error(t, err)

	_, err = NewClient(Options{BaseURL: "unix:///tmp/clash.sock"})
	require.Error(t, err)
}

func TestQueryGroupNamesFollowsGlobalOrder(t *testing.T) {
	srv, _ := newFakeController(t, nil)
	client := newTestClient(t, srv.URL, 0)

	names, err := client.QueryGroupNames(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Proxy", "Auto", "Extra"}, names)

	selectable, err := client.QueryGroupNames(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"Proxy"}, selectable)
}

func TestQueryGroupMapsMemberDelays(t *testing.T) {
	srv, fc := newFakeController(t, nil)
	client := newTestClient(t, srv.URL, time.Minute)

	group, err := client.QueryGroup(context.Background(), "Proxy", SortDefault)
	require.NoError(t, err)
	assert.Equal(t, TypeSelector, group.Type)
	assert.Equal(t, "Auto", group.Now)
	require.Len(t, group.Proxies, 3)
	assert.Equal(t, Proxy{Name: "Auto", Type: TypeURLTest, Delay: DelayNotTested}, group.Proxies[0])
	assert.Equal(t, 180, group.Proxies[1].Delay)
	assert.Equal(t, DelayFailed, group.Proxies[2].Delay)

	_, err = client.QueryGroup(context.Background(), "Auto", SortDefault)
	require.NoError(t, err)
	assert.EqualValues(t, 1, fc.proxies.Load(), "snapshot should be reused within ttl")
}

func TestQueryGroupErrors(t *testing.T) {
	srv, _ := newFakeController(t, nil)
	client := newTestClient(t, srv.URL, 0)

	_, err := client.QueryGroup(context.Background(), "Missing", SortDefault)
	require.ErrorIs(t, err, ErrGroupNotFound)

	_, err = client.QueryGroup(context.Background(), "HK-01", SortDefault)
	require.ErrorIs(t, err, ErrNotGroup)
}

func TestQueryGroupSortOrders(t *testing.T) {
	srv, _ := newFakeController(t, nil)
	client := newTestClient(t, srv.URL, 0)

	byDelay, err := client.QueryGroup(context.Background(), "Proxy", SortDelay)
	require.NoError(t, err)
	assert.Equal(t, "HK-01", byDelay.Proxies[0].Name)

	byTitle, err := client.QueryGroup(context.Background(), "Proxy", SortTitle)
	require.NoError(t, err)
	assert.Equal(t, []string{"Auto", "HK-01", "JP-02"}, []string{byTitle.Proxies[0].Name, byTitle.Proxies[1].Name, byTitle.Proxies[2].Name})
}

func TestPatchSelector(t *testing.T) {
	srv, fc := newFakeController(t, nil)
	client := newTestClient(t, srv.URL, 0)

	ok, err := client.PatchSelector(context.Background(), "Proxy", "HK-01")
	require.NoError(t, err)
	assert.True(t, ok)
	req, body := fc.last()
	assert.Equal(t, "PUT /proxies/Proxy", req)
	assert.JSONEq(t, `{"name":"HK-01"}`, body)
}

func TestPatchSelectorRejected(t *testing.T) {
	srv, _ := newFakeController(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Selector update error: proxy not exist"}`))
	})
	client := newTestClient(t, srv.URL, 0)

	ok, err := client.PatchSelector(context.Background(), "Proxy", "Nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPatchForceSelectorBlankClearsPin(t *testing.T) {
	srv, fc := newFakeController(t, nil)
	client := newTestClient(t, srv.URL, 0)

	ok, err := client.PatchForceSelector(context.Background(), "Auto", "")
	require.NoError(t, err)
	assert.True(t, ok)
	req, _ := fc.last()
	assert.Equal(t, "DELETE /proxies/Auto", req)
}

func TestGetRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv, _ := newFakeController(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"mode":"rule","mixed-port":7890,"tun":{"enable":true}}`))
	})
	client := newTestClient(t, srv.URL, 0)

	state, err := client.QueryTunnelState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TunnelState{Mode: "rule", TunEnabled: true, MixedPort: 7890}, state)
	assert.EqualValues(t, 3, calls.Load())
}

func TestUnauthorizedIsPermanent(t *testing.T) {
	srv, fc := newFakeController(t, nil)
	client, err := NewClient(Options{BaseURL: srv.URL, Secret: "wrong", Retry: DefaultRetryConfig()})
	require.NoError(t, err)

	_, err = client.QueryTunnelState(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Unauthorized", apiErr.Message)
	fc.mu.Lock()
	assert.Len(t, fc.requests, 1)
	fc.mu.Unlock()
}

func TestHealthCheckGroup(t *testing.T) {
	srv, _ := newFakeController(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/group/Auto/delay", r.URL.Path)
		assert.Equal(t, "5000", r.URL.Query().Get("timeout"))
		assert.NotEmpty(t, r.URL.Query().Get("url"))
		_, _ = w.Write([]byte(`{"HK-01":120,"JP-02":88}`))
	})
	client := newTestClient(t, srv.URL, 0)

	delays, err := client.HealthCheckGroup(context.Background(), "Auto")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"HK-01": 120, "JP-02": 88}, delays)
}

func TestTrafficQueries(t *testing.T) {
	srv, _ := newFakeController(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/traffic":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("{\"up\":10,\"down\":20}\n{\"up\":11,\"down\":21}\n"))
		case "/connections":
			_, _ = w.Write([]byte(`{"uploadTotal":100,"downloadTotal":200,"connections":[{},{}]}`))
		}
	})
	client := newTestClient(t, srv.URL, 0)

	now, err := client.QueryTrafficNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Traffic{Up: 10, Down: 20}, now)

	total, err := client.QueryTrafficTotal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TrafficTotal{Up: 100, Down: 200, Connections: 2}, total)
}

func TestRuntimePatches(t *testing.T) {
	srv, fc := newFakeController(t, nil)
	client := newTestClient(t, srv.URL, 0)
	ctx := context.Background()

	require.NoError(t, client.LoadProfile(ctx, "/data/p.yaml"))
	req, body := fc.last()
	assert.Equal(t, "PUT /configs", req)
	assert.JSONEq(t, `{"path":"/data/p.yaml"}`, body)

	require.NoError(t, client.EnableTun(ctx, true, "gvisor"))
	_, body = fc.last()
	assert.JSONEq(t, `{"tun":{"enable":true,"stack":"gvisor"}}`, body)

	require.NoError(t, client.SetMixedPort(ctx, 0))
	_, body = fc.last()
	assert.JSONEq(t, `{"mixed-port":0}`, body)
}

func TestSubscribeLogs(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv, _ := newFakeController(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/logs", r.URL.Path)
		assert.Equal(t, "info", r.URL.Query().Get("level"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, line := range []string{"first", "second"} {
			payload, _ := json.Marshal(map[string]string{"type": "info", "payload": line})
			_ = conn.WriteMessage(websocket.TextMessage, payload)
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})
	client := newTestClient(t, srv.URL, 0)

	var got []string
	err := client.SubscribeLogs(context.Background(), "info", func(entry LogEntry) {
		got = append(got, entry.Level+":"+entry.Payload)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"info:first", "info:second"}, got)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, CategoryRetryable, ClassifyError(&APIError{Status: 503}))
	assert.Equal(t, CategoryPermanent, ClassifyError(&APIError{Status: 404}))
	assert.Equal(t, CategoryPermanent, ClassifyError(context.Canceled))
	assert.Equal(t, CategoryRetryable, ClassifyError(io.ErrUnexpectedEOF))
	assert.True(t, strings.Contains((&APIError{Status: 400, Message: "bad"}).Error(), "bad"))
}
