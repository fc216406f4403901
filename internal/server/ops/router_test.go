package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/linkgate/internal/metrics"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthz(t *testing.T) {
	up := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("refused") })

	srv := httptest.NewServer(NewRouter(Checks{"postgres": up, "revocation": up}, prometheus.NewRegistry(), zaptest.NewLogger(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, map[string]string{"postgres": "up", "revocation": "up"}, body)

	srv2 := httptest.NewServer(NewRouter(Checks{"postgres": up, "revocation": down}, prometheus.NewRegistry(), nil))
	defer srv2.Close()
	resp2, err := http.Get(srv2.URL + "/healthz")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
	body = nil
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body))
	require.Equal(t, "down", body["revocation"])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Session("reissue", "ok")

	srv := httptest.NewServer(NewRouter(nil, reg, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(b), `linkgate_session_operations_total{op="reissue",result="ok"} 1`)
}

func TestUnknownRoute(t *testing.T) {
	srv := httptest.NewServer(NewRouter(nil, prometheus.NewRegistry(), nil))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
