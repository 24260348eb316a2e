package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amoylab/agent-gateway/internal/common/cnst"
	"github.com/amoylab/agent-gateway/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Outcome labels reported to the Observer
const (
	statusOK      = "ok"
	statusError   = "error"
	statusTimeout = "timeout"
)

type rpcResult struct {
	payload json.RawMessage
	err     error
}

// pendingRequest is owned by the pending map until taken. Whoever takes it
// (response, timeout, close or caller cancel) is the only one that resolves it.
type pendingRequest struct {
	method    string
	startedAt time.Time
	timer     *time.Timer
	result    chan rpcResult
}

// RPC sends a request and waits for its correlated response. A zero timeout
// uses the configured RequestTimeout. When the connection is not ready a
// handshake is attempted first.
func (c *Connection) RPC(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.opts.RequestTimeout
	}
	if !c.IsReady() {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	ws := c.ws
	ready := c.state == StateConnected && ws != nil
	c.mu.Unlock()
	if !ready {
		return nil, ErrNotReady
	}

	span := c.tracer.Start(ctx, cnst.SpanRPCPrefix+method).
		WithAttrs(attribute.String(cnst.AttrRPCMethod, method), attribute.String(cnst.AttrConnectionID, c.id))
	defer span.End()

	start := time.Now()
	c.observer.RPCStart(method)
	payload, err := c.call(span.Ctx, ws, method, params, timeout)
	c.observer.RPCDone(method, start, rpcStatus(err))
	span.Fail(err)
	return payload, err
}

// SendChat submits a chat message. The immediate acknowledgement is returned;
// the reply itself arrives as events.
func (c *Connection) SendChat(ctx context.Context, params protocol.ChatSendParams, timeout time.Duration) (*protocol.ChatSendResult, error) {
	payload, err := c.RPC(ctx, protocol.MethodChatSend, params, timeout)
	if err != nil {
		return nil, err
	}
	var result protocol.ChatSendResult
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &result); err != nil {
			return nil, fmt.Errorf("decode chat.send result: %w", err)
		}
	}
	return &result, nil
}

func (c *Connection) call(ctx context.Context, ws *websocket.Conn, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := uuid.NewString()
	p := &pendingRequest{
		method:    method,
		startedAt: time.Now(),
		result:    make(chan rpcResult, 1),
	}

	c.pendingMu.Lock()
	c.pending[id] = p
	p.timer = time.AfterFunc(timeout, func() {
		if c.takePending(id) != nil {
			p.result <- rpcResult{err: &RPCTimeoutError{
				Method:  method,
				Timeout: timeout,
				Elapsed: time.Since(p.startedAt),
			}}
		}
	})
	c.pendingMu.Unlock()

	if err := c.writeFrame(ws, protocol.NewRequest(id, method, params)); err != nil {
		if c.takePending(id) != nil {
			return nil, fmt.Errorf("send %s: %w", method, err)
		}
		// resolved concurrently, fall through to its result
	}

	select {
	case res := <-p.result:
		return res.payload, res.err
	case <-ctx.Done():
		if c.takePending(id) != nil {
			return nil, ctx.Err()
		}
		res := <-p.result
		return res.payload, res.err
	}
}

// takePending removes and returns the request, or nil if it was already resolved
func (c *Connection) takePending(id string) *pendingRequest {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}

func (c *Connection) resolve(resp *protocol.ResponseFrame) {
	p := c.takePending(resp.ID)
	if p == nil {
		c.logger.Debug("ignoring response for unknown or expired request", zap.String("id", resp.ID))
		return
	}
	if resp.OK {
		p.result <- rpcResult{payload: resp.Payload}
		return
	}
	remote := &RemoteError{Method: p.method, Message: resp.ErrorMessage()}
	if resp.Error != nil {
		remote.Code = resp.Error.Code
		remote.Details = resp.Error.Details
	}
	p.result <- rpcResult{err: remote}
}

// failPending resolves every outstanding request with err
func (c *Connection) failPending(err error) {
	c.pendingMu.Lock()
	taken := c.pending
	c.pending = make(map[string]*pendingRequest)
	for _, p := range taken {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	c.pendingMu.Unlock()

	for _, p := range taken {
		p.result <- rpcResult{err: fmt.Errorf("%s: %w", p.method, err)}
	}
}

// PendingCount returns the number of requests awaiting a response
func (c *Connection) PendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

func rpcStatus(err error) string {
	var timeoutErr *RPCTimeoutError
	switch {
	case err == nil:
		return statusOK
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return statusTimeout
	default:
		return statusError
	}
}
