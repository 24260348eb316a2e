package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/amoylab/agent-gateway/internal/common/cnst"
	"github.com/amoylab/agent-gateway/pkg/protocol"
	"github.com/amoylab/agent-gateway/pkg/trace"
	"github.com/gorilla/websocket"
	"github.com/ifuryst/lol"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// State is the lifecycle state of a Connection
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// handshakeAttempt is shared by every Connect caller while a handshake is in flight
type handshakeAttempt struct {
	done chan struct{}
	err  error
}

// Connection is a single duplex session with the agent gateway.
//
// One read goroutine owns the socket's inbound side, so responses and events
// are dispatched in arrival order and subscribers see events in frame order.
type Connection struct {
	id       string
	opts     Options
	logger   *zap.Logger
	observer Observer
	dialer   *websocket.Dialer
	header   http.Header
	tracer   *trace.Builder

	mu             sync.Mutex
	state          State
	ws             *websocket.Conn
	handshake      *handshakeAttempt
	attempts       int
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	explicitClose  bool
	policy         json.RawMessage

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	subMu       sync.RWMutex
	subscribers map[string]Subscriber
}

var _ Client = (*Connection)(nil)

// NewConnection creates a disconnected Connection. Nothing is dialed until Connect or RPC.
func NewConnection(opts Options, logger *zap.Logger, options ...Option) *Connection {
	opts.setDefaults()
	id := lol.RandomString(8)
	c := &Connection{
		id:          id,
		opts:        opts,
		logger:      logger.Named("gateway.conn").With(zap.String("conn_id", id)),
		observer:    nopObserver{},
		dialer:      websocket.DefaultDialer,
		tracer:      trace.Tracer(cnst.TraceGateway),
		state:       StateDisconnected,
		pending:     make(map[string]*pendingRequest),
		subscribers: make(map[string]Subscriber),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// ID returns the short random identity of this connection
func (c *Connection) ID() string {
	return c.id
}

// State returns the current lifecycle state
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsReady reports whether the socket is open and the handshake has completed
func (c *Connection) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && c.ws != nil
}

// Policy returns the policy object from the last successful handshake ack, if any
func (c *Connection) Policy() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy
}

// Connect dials and performs the handshake. It returns immediately when
// already connected, and joins the in-flight attempt when one is running.
// The handshake itself is bounded by ConnectTimeout, not by ctx; ctx only
// limits how long this caller waits for it.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.explicitClose {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateConnected && c.ws != nil {
		c.mu.Unlock()
		return nil
	}
	attempt := c.handshake
	if attempt == nil {
		attempt = &handshakeAttempt{done: make(chan struct{})}
		c.handshake = attempt
		c.state = StateConnecting
		go c.runHandshake(attempt)
	}
	c.mu.Unlock()

	select {
	case <-attempt.done:
		return attempt.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) runHandshake(attempt *handshakeAttempt) {
	err := c.handshakeOnce()

	c.mu.Lock()
	c.handshake = nil
	if err != nil && c.state == StateConnecting {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	attempt.err = err
	close(attempt.done)
}

func (c *Connection) handshakeOnce() error {
	timeout := c.opts.ConnectTimeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ws, _, err := c.dialer.DialContext(ctx, c.opts.URL, c.header)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &ConnectTimeoutError{Timeout: timeout}
		}
		return &ConnectFailedError{Reason: err.Error(), Err: err}
	}

	c.mu.Lock()
	if c.explicitClose {
		c.mu.Unlock()
		_ = ws.Close()
		return ErrClosed
	}
	c.ws = ws
	c.mu.Unlock()

	go c.readLoop(ws)

	start := time.Now()
	payload, err := c.call(ctx, ws, protocol.MethodConnect, c.opts.connectParams(), timeout)
	if err != nil {
		var timeoutErr *RPCTimeoutError
		var remoteErr *RemoteError
		switch {
		case errors.Is(err, ErrClosed):
			return ErrClosed
		case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
			c.dropSocket(ws)
			c.logger.Warn("handshake timed out", zap.Duration("timeout", timeout))
			return &ConnectTimeoutError{Timeout: timeout}
		case errors.As(err, &remoteErr):
			c.dropSocket(ws)
			c.logger.Warn("handshake rejected", zap.String("reason", remoteErr.Message))
			return &ConnectFailedError{Reason: remoteErr.Message, Err: err}
		default:
			c.dropSocket(ws)
			return &ConnectFailedError{Reason: err.Error(), Err: err}
		}
	}

	var hello protocol.HelloOK
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &hello); err != nil {
			c.logger.Debug("ignoring undecodable handshake payload", zap.Error(err))
		}
	}

	c.mu.Lock()
	if c.explicitClose {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.ws != ws {
		c.mu.Unlock()
		return &ConnectFailedError{Reason: "connection lost during handshake", Err: ErrConnectionLost}
	}
	c.state = StateConnected
	c.attempts = 0
	c.policy = hello.Policy
	stop := make(chan struct{})
	c.heartbeatStop = stop
	c.mu.Unlock()

	go c.heartbeat(ws, stop)

	c.logger.Info("connected to agent gateway",
		zap.String("url", c.opts.URL),
		zap.Int("protocol", hello.Protocol),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// dropSocket force-closes a socket that never became the connected one
func (c *Connection) dropSocket(ws *websocket.Conn) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	c.mu.Unlock()
	_ = ws.Close()
}

func (c *Connection) readLoop(ws *websocket.Conn) {
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			c.handleDisconnect(ws, err)
			return
		}
		if msgType != websocket.TextMessage {
			c.observer.FrameDropped("binary")
			continue
		}
		c.dispatch(data)
	}
}

func (c *Connection) dispatch(data []byte) {
	frame, err := protocol.ParseFrame(data)
	if err != nil {
		c.logger.Warn("dropping malformed frame", zap.Error(err), zap.Int("size", len(data)))
		c.observer.FrameDropped("malformed")
		return
	}
	switch frame.Kind {
	case protocol.KindResponse:
		c.resolve(frame.Response)
	case protocol.KindEvent:
		c.broadcast(frame.Event)
	default:
		c.logger.Warn("dropping unrecognized frame", zap.ByteString("frame", truncate(data, 256)))
		c.observer.FrameDropped("unknown")
	}
}

// handleDisconnect runs when the read side of ws fails
func (c *Connection) handleDisconnect(ws *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.ws != ws {
		// already replaced, dropped during handshake, or closed explicitly
		c.mu.Unlock()
		return
	}
	wasConnected := c.state == StateConnected
	c.ws = nil
	c.stopHeartbeatLocked()
	if !c.explicitClose {
		c.state = StateDisconnected
	}
	var next *reconnectPlan
	if wasConnected && !c.explicitClose {
		next = c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	_ = ws.Close()
	c.failPending(ErrConnectionLost)

	if wasConnected {
		c.logger.Warn("connection to agent gateway lost", zap.Error(cause))
	}
	c.announceReconnect(next)
}

func (c *Connection) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

func (c *Connection) heartbeat(ws *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("heartbeat ping failed", zap.Error(err))
				return
			}
		}
	}
}

type reconnectPlan struct {
	attempt int
	delay   time.Duration
}

// scheduleReconnectLocked arms the next reconnect attempt, or gives up past
// MaxReconnectAttempts. The caller holds c.mu.
func (c *Connection) scheduleReconnectLocked() *reconnectPlan {
	if c.explicitClose {
		return nil
	}
	if c.attempts >= c.opts.MaxReconnectAttempts {
		c.logger.Error("giving up reconnecting to agent gateway", zap.Int("attempts", c.attempts))
		return nil
	}
	c.attempts++
	delay := c.opts.ReconnectBaseDelay * time.Duration(1<<(c.attempts-1))
	c.reconnectTimer = time.AfterFunc(delay, c.reconnect)
	return &reconnectPlan{attempt: c.attempts, delay: delay}
}

func (c *Connection) announceReconnect(plan *reconnectPlan) {
	if plan == nil {
		return
	}
	c.logger.Info("reconnect scheduled",
		zap.Int("attempt", plan.attempt),
		zap.Duration("delay", plan.delay))
	c.observer.ReconnectScheduled(plan.attempt, plan.delay)
}

func (c *Connection) reconnect() {
	c.mu.Lock()
	c.reconnectTimer = nil
	closed := c.explicitClose
	c.mu.Unlock()
	if closed {
		return
	}

	err := c.Connect(context.Background())
	if err == nil || errors.Is(err, ErrClosed) {
		return
	}
	c.logger.Warn("reconnect attempt failed", zap.Error(err))

	c.mu.Lock()
	var next *reconnectPlan
	if c.state != StateConnected {
		next = c.scheduleReconnectLocked()
	}
	c.mu.Unlock()
	c.announceReconnect(next)
}

// Close shuts the connection down for good. Pending requests fail with
// ErrClosed, subscribers are dropped and no reconnect happens afterwards.
// Calling Close more than once is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.explicitClose {
		c.mu.Unlock()
		return nil
	}
	c.explicitClose = true
	c.state = StateClosing
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.stopHeartbeatLocked()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = ws.Close()
	}
	c.failPending(ErrClosed)

	c.subMu.Lock()
	c.subscribers = make(map[string]Subscriber)
	c.subMu.Unlock()

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	c.logger.Debug("connection closed")
	return nil
}

func (c *Connection) writeFrame(ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, data)
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
