package orchestrator

import (
	"errors"
	"fmt"

	"github.com/amoylab/agent-gateway/internal/usage"
)

// ErrStreamTimeout is returned when no terminal event arrives within the stream timeout
var ErrStreamTimeout = errors.New("stream timed out")

// ValidationError rejects a request before any network I/O
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// LimitExceededError is returned when the caller is over their spend limit
type LimitExceededError struct {
	Status  usage.LimitStatus
	Message string
}

func (e *LimitExceededError) Error() string {
	return e.Message
}

// AgentError carries the message of an error event reported by the agent
type AgentError struct {
	Message string
}

func (e *AgentError) Error() string {
	return "agent error: " + e.Message
}
