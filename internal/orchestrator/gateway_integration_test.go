package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/amoylab/agent-gateway/internal/common/config"
	"github.com/amoylab/agent-gateway/internal/gateway"
	"github.com/amoylab/agent-gateway/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newEchoAgent serves the gateway protocol and answers every chat.send by
// streaming the message back as two fragments followed by completion.
func newEchoAgent(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		var seq int64
		event := func(params map[string]any) {
			seq++
			data, _ := json.Marshal(params)
			_ = ws.WriteJSON(protocol.EventFrame{Type: protocol.FrameTypeEvent, Event: "agent", Seq: seq, Params: data})
		}
		for {
			var req struct {
				ID     string                  `json:"id"`
				Method string                  `json:"method"`
				Params protocol.ChatSendParams `json:"params"`
			}
			if err := ws.ReadJSON(&req); err != nil {
				return
			}
			if req.Method == protocol.MethodChatSend {
				half := len(req.Params.Message) / 2
				event(map[string]any{"type": "text", "text": req.Params.Message[:half], "sessionKey": req.Params.SessionKey})
				event(map[string]any{"type": "text", "text": req.Params.Message[half:], "sessionKey": req.Params.SessionKey})
				event(map[string]any{"type": "done", "sessionKey": req.Params.SessionKey,
					"usage": map[string]any{"promptTokens": 1, "completionTokens": 2}})
			}
			_ = ws.WriteJSON(protocol.ResponseFrame{ID: req.ID, OK: true, Payload: json.RawMessage(`{"runId":"r"}`)})
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestProcessStreamRequest_OverPooledConnection(t *testing.T) {
	url := newEchoAgent(t)
	opts := gateway.OptionsFromConfig(&config.GatewayConfig{
		URL:            url,
		ConnectTimeout: time.Second,
		RequestTimeout: time.Second,
	})
	pool := gateway.NewPool(func(string) gateway.Client {
		return gateway.NewConnection(opts, zap.NewNop())
	}, config.PoolConfig{}, zap.NewNop())
	t.Cleanup(pool.Stop)

	orch, err := New(pool, config.StreamConfig{Timeout: 2 * time.Second}, zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		sink := &recordingSink{}
		res, err := orch.ProcessStreamRequest(context.Background(),
			StreamRequest{Message: "ping-pong", ConversationID: "c1"}, sink, CallerContext{})
		require.NoError(t, err)
		assert.Equal(t, "ping-pong", res.Content)
		assert.Equal(t, "r", res.RunID)
		assert.Equal(t, []string{EventInit, EventText, EventText, EventDone}, sink.names())
	}

	// both turns reused the one pooled connection, which stays open
	assert.Equal(t, gateway.PoolStats{Size: 1, Ready: 1}, pool.Stats())
}
