package rewrite

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestProxy(t *testing.T, upstream string, opts ...Option) (*Proxy, *Metrics) {
	t.Helper()
	table, err := NewTable([]Definition{{
		Source:      "/churn-dashboard/:path*",
		Destination: upstream + "/:path*",
	}})
	require.NoError(t, err)

	metrics := NewMetrics(prometheus.NewRegistry())
	return NewProxy(table, append([]Option{WithMetrics(metrics)}, opts...)...), metrics
}

func TestProxyForwards(t *testing.T) {
	var got *http.Request
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(r.Context())
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "streamlit")
	}))
	defer upstream.Close()

	proxy, metrics := newTestProxy(t, upstream.URL, WithLogger(zaptest.NewLogger(t)))

	req := httptest.NewRequest(http.MethodGet, "http://portfolio.example/churn-dashboard/_stcore/health?embed=true", nil)
	rec := httptest.NewRecorder()
	require.True(t, proxy.Handles(req))
	proxy.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "streamlit", rec.Body.String())
	require.NotNil(t, got)
	assert.Equal(t, "/_stcore/health", got.URL.Path)
	assert.Equal(t, "embed=true", got.URL.RawQuery)
	assert.Equal(t, strings.TrimPrefix(upstream.URL, "http://"), got.Host)
	assert.Equal(t, "portfolio.example", got.Header.Get("X-Forwarded-Host"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Requests.WithLabelValues("/churn-dashboard/:path*", "200")))
}

func TestProxyUnmatched(t *testing.T) {
	proxy, _ := newTestProxy(t, "http://127.0.0.1:1")

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	rec := httptest.NewRecorder()
	assert.False(t, proxy.Handles(req))
	proxy.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProxyUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()

	proxy, metrics := newTestProxy(t, addr, WithLogger(zaptest.NewLogger(t)))

	req := httptest.NewRequest(http.MethodGet, "/churn-dashboard/", nil)
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Requests.WithLabelValues("/churn-dashboard/:path*", "502")))
}

func TestProxySlowUpstreamTimesOut(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	proxy, metrics := newTestProxy(t, upstream.URL, WithTimeout(50*time.Millisecond))

	start := time.Now()
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/churn-dashboard/", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Requests.WithLabelValues("/churn-dashboard/:path*", "502")))
}

func TestProxyWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_stcore/stream" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(mt, append([]byte("echo:"), msg...))
	}))
	defer upstream.Close()

	proxy, _ := newTestProxy(t, upstream.URL)
	front := httptest.NewServer(proxy)
	defer front.Close()

	wsURL := "ws" + strings.TrimPrefix(front.URL, "http") + "/churn-dashboard/_stcore/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(msg))
}
