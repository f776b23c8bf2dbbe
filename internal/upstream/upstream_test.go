package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func configFor(t *testing.T, srv *httptest.Server, prefix string) Config {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return Config{Protocol: "http", Host: u.Hostname(), Port: port, Prefix: prefix}
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	cfg := ConfigFromEnv(envMap(nil))
	assert.Equal(t, Config{Protocol: "http", Host: "127.0.0.1", Port: 5001, Prefix: "/v1"}, cfg)
	assert.Equal(t, "http://127.0.0.1:5001/v1/state", cfg.URL("/state"))
}

func TestConfigFromEnv_Overrides(t *testing.T) {
	cfg := ConfigFromEnv(envMap(map[string]string{
		"UPSTREAM_PROTOCOL": "HTTPS",
		"UPSTREAM_HOST":     "peer.local",
		"UPSTREAM_PORT":     "8443",
		"UPSTREAM_PREFIX":   "api/v2/",
	}))
	assert.Equal(t, Config{Protocol: "https", Host: "peer.local", Port: 8443, Prefix: "/api/v2"}, cfg)
	assert.Equal(t, "https://peer.local:8443/api/v2/tx", cfg.URL("tx"))
}

func TestConfigFromEnv_BadValuesFallBack(t *testing.T) {
	cfg := ConfigFromEnv(envMap(map[string]string{
		"UPSTREAM_PROTOCOL": "gopher",
		"UPSTREAM_PORT":     "not-a-port",
	}))
	assert.Equal(t, "http", cfg.Protocol)
	assert.Equal(t, 5001, cfg.Port)
}

func TestNormalizePrefix(t *testing.T) {
	cases := map[string]string{
		"/v1":  "/v1",
		"v1":   "/v1",
		"/v1/": "/v1",
		"v1/":  "/v1",
		"/":    "",
		"":     "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePrefix(in), "prefix %q", in)
	}
}

func TestStatePath(t *testing.T) {
	assert.Equal(t, "/state", StatePath(""))
	assert.Equal(t, "/state?key=app%2Ftuxedex%2Fab", StatePath("app/tuxedex/ab"))
	assert.Equal(t, "/state?key=a%20b%26c%3Dd", StatePath("a b&c=d"))
}

func TestClient_StatePassThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/state", r.URL.Path)
		require.Equal(t, "app/x y", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	defer srv.Close()

	c := NewClient(configFor(t, srv, "/v1"), srv.Client())
	resp, err := c.State(context.Background(), "app/x y")
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.Status)
	assert.Equal(t, "short and stout", string(resp.Body))
	assert.Equal(t, "text/plain", resp.ContentType)
	assert.False(t, resp.OK())
}

func TestClient_SubmitTxForwardsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/tx", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.JSONEq(t, `{"command":"{\"type\":\"catch\"}"}`, string(b))
		// no content type set: the client supplies the JSON default
		w.Header()["Content-Type"] = nil
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(configFor(t, srv, ""), nil)
	resp, err := c.SubmitTx(context.Background(), []byte(`{"command":"{\"type\":\"catch\"}"}`))
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, DefaultContentType, resp.ContentType)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestClient_NetworkFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	cfg := configFor(t, srv, "/v1")
	srv.Close()

	_, err := NewClient(cfg, nil).State(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream GET")
}

func TestNewClient_NoTimeoutByDefault(t *testing.T) {
	c := NewClient(Config{}, nil)
	assert.Zero(t, c.httpClient.Timeout)
}

func TestClient_CallEndsWithContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(configFor(t, srv, ""), nil).State(ctx, "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
