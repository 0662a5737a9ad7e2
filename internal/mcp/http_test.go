package mcp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_Health(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","version":"1.2.3","forms":2}`, string(body))
}

func TestHandler_ArtifactDownload(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.server.handleFormGenerate(context.Background(), callRequest(map[string]interface{}{
		"form_id": "general",
		"user_id": "jane",
	}))
	require.NoError(t, err)

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/artifacts/jane_general_20261016_093005.pdf")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="jane_general_20261016_093005.pdf"`, resp.Header.Get("Content-Disposition"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(body[:5]))

	missing, err := http.Get(srv.URL + "/artifacts/nope.pdf")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	traversal, err := http.Get(srv.URL + "/artifacts/..%5Cusers.json")
	require.NoError(t, err)
	traversal.Body.Close()
	assert.Equal(t, http.StatusBadRequest, traversal.StatusCode)
}

func TestHandler_MetricsExposeRouteLabels(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `forms_http_requests_total{method="GET",route="/healthz",status="200"}`)
}

func TestServer_Run_ServerModeStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	env.config.Mode = "server"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancellation")
	}
}
