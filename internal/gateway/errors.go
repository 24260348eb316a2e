package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrClosed is returned once Close has been called on a connection
	ErrClosed = errors.New("connection closed")
	// ErrNotReady is returned when a request is issued on a connection whose handshake has not completed
	ErrNotReady = errors.New("connection not ready")
	// ErrConnectionLost fails requests still pending when the socket drops unexpectedly
	ErrConnectionLost = errors.New("connection lost")
)

// ConnectTimeoutError is returned when the handshake does not complete in time
type ConnectTimeoutError struct {
	Timeout time.Duration
}

func (e *ConnectTimeoutError) Error() string {
	return fmt.Sprintf("connect timed out after %s", e.Timeout)
}

// ConnectFailedError is returned when dialing fails or the gateway rejects the handshake
type ConnectFailedError struct {
	Reason string
	Err    error
}

func (e *ConnectFailedError) Error() string {
	return "connect failed: " + e.Reason
}

func (e *ConnectFailedError) Unwrap() error {
	return e.Err
}

// RPCTimeoutError is returned when no response arrives within the request timeout
type RPCTimeoutError struct {
	Method  string
	Timeout time.Duration
	Elapsed time.Duration
}

func (e *RPCTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Method, e.Timeout)
}

// RemoteError is a response with ok=false
type RemoteError struct {
	Method  string
	Message string
	Code    any
	Details json.RawMessage
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Method, e.Message)
}
