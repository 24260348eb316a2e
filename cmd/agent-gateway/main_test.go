package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/amoylab/agent-gateway/internal/common/cnst"
	"github.com/amoylab/agent-gateway/internal/common/config"
	"github.com/amoylab/agent-gateway/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func captureOutput(f func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() { os.Stdout = old }()

	f()
	_ = w.Close()
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent-gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

// newHealthGateway accepts the handshake and answers health
func newHealthGateway(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			var req protocol.RequestFrame
			if err := ws.ReadJSON(&req); err != nil {
				return
			}
			payload := json.RawMessage(`{"status":"healthy"}`)
			if req.Method == protocol.MethodConnect {
				payload = json.RawMessage(`{"protocol":3,"policy":{"maxPayload":1024}}`)
			}
			_ = ws.WriteJSON(protocol.ResponseFrame{ID: req.ID, OK: true, Payload: payload})
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRootCmd_Version(t *testing.T) {
	t.Cleanup(func() { rootCmd.SetArgs([]string{}) })
	rootCmd.SetArgs([]string{"version"})
	out := captureOutput(func() { _ = rootCmd.Execute() })
	assert.Contains(t, out, "agent-gateway version")
}

func TestRootCmd_Help(t *testing.T) {
	t.Cleanup(func() { rootCmd.SetArgs([]string{}) })
	rootCmd.SetArgs([]string{"--help"})
	assert.NoError(t, rootCmd.Execute())
}

func TestTestCommand(t *testing.T) {
	t.Cleanup(func() { rootCmd.SetArgs([]string{}); configPath = cnst.AgentGatewayYaml })

	good := writeConfig(t, "gateway:\n  url: ws://127.0.0.1:18789\n")
	rootCmd.SetArgs([]string{"test", "--conf", good})
	out := captureOutput(func() { assert.NoError(t, rootCmd.Execute()) })
	assert.Contains(t, out, "test is successful")

	bad := writeConfig(t, "gateway:\n  url: http://127.0.0.1:18789\n")
	rootCmd.SetArgs([]string{"test", "--conf", bad})
	assert.Error(t, rootCmd.Execute())
}

func TestPing(t *testing.T) {
	cfg := &config.AgentGatewayConfig{Gateway: config.GatewayConfig{URL: newHealthGateway(t)}}
	cfg.SetDefaults()

	out := captureOutput(func() {
		assert.NoError(t, ping(context.Background(), cfg, zap.NewNop()))
	})
	assert.Contains(t, out, `policy: {"maxPayload":1024}`)
	assert.Contains(t, out, `health: {"status":"healthy"}`)
}

func TestPing_Unreachable(t *testing.T) {
	cfg := &config.AgentGatewayConfig{Gateway: config.GatewayConfig{URL: "ws://127.0.0.1:1", ConnectTimeout: time.Second}}
	cfg.SetDefaults()
	assert.Error(t, ping(context.Background(), cfg, zap.NewNop()))
}

func TestNewApp_Routes(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.AgentGatewayConfig{
		Gateway:  config.GatewayConfig{URL: newHealthGateway(t)},
		Usage:    config.UsageConfig{Enabled: true, DefaultLimit: 5},
		Database: config.DatabaseConfig{Type: "sqlite", DBName: filepath.Join(t.TempDir(), "usage.db")},
		Redis:    config.RedisConfig{Addr: mr.Addr()},
		Metrics:  config.MetricsConfig{Enabled: true},
	}
	cfg.SetDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := newApp(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NotNil(t, a.store)
	require.NotNil(t, a.cache)
	assert.True(t, a.pool.IsRunning())

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/pool/stats", nil))
	assert.JSONEq(t, `{"size":0,"ready":0,"pending":0,"subscribers":0}`, w.Body.String())

	w = httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{"message":""}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "agent_gateway_http_requests_total")
}

func TestNewApp_UnreachableRedisDisablesCache(t *testing.T) {
	cfg := &config.AgentGatewayConfig{
		Usage:    config.UsageConfig{Enabled: true},
		Database: config.DatabaseConfig{Type: "sqlite", DBName: filepath.Join(t.TempDir(), "usage.db")},
		Redis:    config.RedisConfig{Addr: "127.0.0.1:1"},
	}
	cfg.SetDefaults()

	a, err := newApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	assert.NotNil(t, a.store)
	assert.Nil(t, a.cache)
}
