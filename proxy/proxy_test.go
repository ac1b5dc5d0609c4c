package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/strixlabs/strix/config"
	"github.com/strixlabs/strix/internal/metrics"
)

func startProxy(t *testing.T) *Server {
	t.Helper()
	s := NewServer(config.ProxyConfig{ListenAddr: "127.0.0.1:0", HistoryCapacity: 100}, zap.NewNop())
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func proxyClient(t *testing.T, s *Server) *http.Client {
	t.Helper()
	proxyURL, err := url.Parse(s.URL())
	require.NoError(t, err)
	return &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
}

func TestProxy_CapturesExchange(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Srv", "up")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("echo:" + string(body)))
	}))
	defer upstream.Close()

	s := startProxy(t)
	client := proxyClient(t, s)

	resp, err := client.Post(upstream.URL+"/submit?x=1", "text/plain", strings.NewReader("payload"))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "echo:payload", string(body))

	entries := s.History().List(Filter{}, 0)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "POST", e.Method)
	assert.Equal(t, "/submit?x=1", e.Path)
	assert.Equal(t, http.StatusCreated, e.Status)
	assert.Equal(t, "payload", string(e.ReqBody))
	assert.Equal(t, "echo:payload", string(e.RespBody))
	assert.Equal(t, "up", e.RespHeaders["X-Srv"])
}

func TestProxy_LargeBodiesPassThrough(t *testing.T) {
	const size = 2 * maxCapturedBody
	payload := bytes.Repeat([]byte("a"), size)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fmt.Fprintf(w, "got:%d;", len(body))
		w.Write(payload)
	}))
	defer upstream.Close()

	s := startProxy(t)
	client := proxyClient(t, s)

	resp, err := client.Post(upstream.URL+"/big", "application/octet-stream", bytes.NewReader(payload))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	// the full request reached upstream and the full response came back
	prefix := fmt.Sprintf("got:%d;", size)
	require.True(t, strings.HasPrefix(string(body), prefix))
	assert.Equal(t, len(prefix)+size, len(body))

	// only the history copy is capped
	entries := s.History().List(Filter{}, 0)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].ReqBody, maxCapturedBody)
	assert.Len(t, entries[0].RespBody, maxCapturedBody)
}

func TestProxy_RecordsMetrics(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	collector := metrics.NewCollector("strix", zap.NewNop())
	s := NewServer(config.ProxyConfig{ListenAddr: "127.0.0.1:0", HistoryCapacity: 10}, zap.NewNop())
	s.SetMetrics(collector)
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Close(context.Background()) })

	client := proxyClient(t, s)
	resp, err := client.Get(upstream.URL)
	require.NoError(t, err)
	resp.Body.Close()

	families, err := collector.Gather()
	require.NoError(t, err)
	var exchanges float64
	for _, f := range families {
		if f.GetName() != "strix_proxy_exchanges_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			exchanges += m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, exchanges)
}

func TestProxy_Replay(t *testing.T) {
	var gotAuth string
	var gotMethod string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	s := startProxy(t)
	client := proxyClient(t, s)

	req, _ := http.NewRequest(http.MethodGet, upstream.URL+"/admin", nil)
	req.Header.Set("Authorization", "Bearer original")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	entries := s.History().List(Filter{}, 0)
	require.Len(t, entries, 1)

	replayed, err := s.Replay(context.Background(), entries[0].ID, ReplayMods{
		Method:  http.MethodPost,
		Headers: map[string]string{"Authorization": "Bearer forged"},
	})
	require.NoError(t, err)
	assert.Equal(t, "POST", gotMethod)
	assert.Equal(t, "Bearer forged", gotAuth)
	assert.Equal(t, http.StatusOK, replayed.Status)

	// replay is captured too
	assert.Equal(t, 2, s.History().Len())
}

func TestProxy_ReplayUnknownID(t *testing.T) {
	s := startProxy(t)
	_, err := s.Replay(context.Background(), 999, ReplayMods{})
	assert.Error(t, err)
}

func TestProxy_RejectsOriginForm(t *testing.T) {
	s := startProxy(t)

	resp, err := http.Get(s.URL() + "/not-absolute")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
