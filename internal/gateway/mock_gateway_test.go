package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amoylab/agent-gateway/pkg/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// mockConn is the server side of one client socket
type mockConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (m *mockConn) send(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ws.WriteJSON(v)
}

func (m *mockConn) sendRaw(s string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ws.WriteMessage(websocket.TextMessage, []byte(s))
}

func (m *mockConn) reply(id string, payload any) error {
	data, _ := json.Marshal(payload)
	return m.send(protocol.ResponseFrame{ID: id, OK: true, Payload: data})
}

func (m *mockConn) fail(id, message string) error {
	return m.send(protocol.ResponseFrame{ID: id, OK: false, Error: &protocol.ErrorShape{Message: message, Code: "E_TEST"}})
}

func (m *mockConn) event(seq int64, params any) error {
	data, _ := json.Marshal(params)
	return m.send(protocol.EventFrame{Type: protocol.FrameTypeEvent, Event: "agent", Seq: seq, Params: data})
}

// mockGateway is an in-process agent gateway speaking the wire protocol
type mockGateway struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu         sync.Mutex
	conns      []*mockConn
	requests   []protocol.RequestFrame
	connects   []protocol.ConnectParams
	handshakes int
	pings      int

	// rejectConnect answers the handshake with ok:false and this message
	rejectConnect string
	// silentConnect never answers the handshake
	silentConnect bool
	// policy is returned in the handshake ack
	policy any
	// onRequest handles every non-connect request; nil leaves it unanswered
	onRequest func(mc *mockConn, req protocol.RequestFrame)
}

func newMockGateway(t *testing.T) *mockGateway {
	t.Helper()
	g := &mockGateway{t: t}
	g.srv = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.shutdown)
	return g
}

func (g *mockGateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *mockGateway) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	mc := &mockConn{ws: ws}
	ws.SetPingHandler(func(data string) error {
		g.mu.Lock()
		g.pings++
		g.mu.Unlock()
		mc.mu.Lock()
		defer mc.mu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	g.mu.Lock()
	g.conns = append(g.conns, mc)
	g.mu.Unlock()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var req protocol.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		g.handle(mc, req, data)
	}
}

func (g *mockGateway) handle(mc *mockConn, req protocol.RequestFrame, raw []byte) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	reject, silent, policy, onRequest := g.rejectConnect, g.silentConnect, g.policy, g.onRequest
	g.mu.Unlock()

	if req.Method != protocol.MethodConnect {
		if onRequest != nil {
			onRequest(mc, req)
		}
		return
	}

	var frame struct {
		Params protocol.ConnectParams `json:"params"`
	}
	_ = json.Unmarshal(raw, &frame)
	g.mu.Lock()
	g.connects = append(g.connects, frame.Params)
	g.handshakes++
	g.mu.Unlock()

	switch {
	case silent:
	case reject != "":
		_ = mc.fail(req.ID, reject)
	default:
		_ = mc.reply(req.ID, map[string]any{"protocol": protocol.MaxProtocolVersion, "policy": policy})
	}
}

func (g *mockGateway) set(fn func(g *mockGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

func (g *mockGateway) handshakeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.handshakes
}

func (g *mockGateway) pingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pings
}

func (g *mockGateway) lastConn() *mockConn {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.conns) == 0 {
		return nil
	}
	return g.conns[len(g.conns)-1]
}

func (g *mockGateway) requestsFor(method string) []protocol.RequestFrame {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []protocol.RequestFrame
	for _, r := range g.requests {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

// dropClients closes every server-side socket without a close handshake
func (g *mockGateway) dropClients() {
	g.mu.Lock()
	conns := g.conns
	g.conns = nil
	g.mu.Unlock()
	for _, mc := range conns {
		_ = mc.ws.Close()
	}
}

// stopListening refuses new dials while existing sockets stay open
func (g *mockGateway) stopListening() {
	_ = g.srv.Listener.Close()
}

func (g *mockGateway) shutdown() {
	g.stopListening()
	g.dropClients()
	g.srv.Close()
}

// recordingObserver captures Observer callbacks
type recordingObserver struct {
	mu      sync.Mutex
	delays  []time.Duration
	drops   []string
	done    []string
	started []string
}

func (o *recordingObserver) RPCStart(method string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, method)
}

func (o *recordingObserver) RPCDone(method string, _ time.Time, status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.done = append(o.done, method+":"+status)
}

func (o *recordingObserver) ReconnectScheduled(_ int, delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delays = append(o.delays, delay)
}

func (o *recordingObserver) FrameDropped(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.drops = append(o.drops, reason)
}

func (o *recordingObserver) reconnectDelays() []time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]time.Duration(nil), o.delays...)
}

func (o *recordingObserver) dropped() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.drops...)
}

func (o *recordingObserver) completed() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.done...)
}

func testOptions(url string) Options {
	return Options{
		URL:                  url,
		Token:                "tok",
		ClientID:             "agent-gateway-test",
		DisplayName:          "Test",
		Role:                 "operator",
		Scopes:               []string{"operator.write"},
		ConnectTimeout:       time.Second,
		RequestTimeout:       time.Second,
		HeartbeatInterval:    time.Hour,
		ReconnectBaseDelay:   5 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}
}

func newTestConnection(t *testing.T, opts Options, options ...Option) *Connection {
	t.Helper()
	c := NewConnection(opts, zap.NewNop(), options...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}
