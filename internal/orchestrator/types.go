package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/amoylab/agent-gateway/internal/gateway"
	"github.com/amoylab/agent-gateway/internal/usage"
	"github.com/amoylab/agent-gateway/pkg/protocol"
)

// Output event names
const (
	EventInit       = "init"
	EventText       = "text"
	EventToolStart  = "tool_start"
	EventToolResult = "tool_result"
	EventDone       = "done"
	EventError      = "error"
)

// Stream outcomes reported to the observer
const (
	OutcomeDone     = "done"
	OutcomeError    = "error"
	OutcomeTimeout  = "timeout"
	OutcomeLimited  = "limited"
	OutcomeCanceled = "canceled"
)

type (
	// StreamRequest is one chat turn submitted by a caller
	StreamRequest struct {
		Message        string
		ConversationID string
		Mode           string
		Timeout        time.Duration
		Attachments    []protocol.Attachment
		Thinking       string
	}

	// CallerContext is the identity forwarded by the upstream auth layer.
	// AdToken is only ever reported as present or absent.
	CallerContext struct {
		UserID       string
		Email        string
		AccountName  string
		AdAccountIDs []string
		AdToken      string
	}

	// ToolCall is one tool invocation observed during a turn
	ToolCall struct {
		Name      string          `json:"name"`
		Args      json.RawMessage `json:"args,omitempty"`
		StartedAt time.Time       `json:"-"`
		Resolved  bool            `json:"resolved"`
		Success   bool            `json:"success"`
		Error     string          `json:"error,omitempty"`
		Duration  int64           `json:"duration"` // ms
	}

	// StreamResult is the outcome of a completed turn
	StreamResult struct {
		Content   string
		ToolCalls []ToolCall
		Duration  time.Duration
		Usage     *protocol.Usage
		Model     string
		RunID     string
	}
)

// Output event payloads. Durations are milliseconds.
type (
	InitEvent struct {
		ConversationID string `json:"conversationId"`
		Mode           string `json:"mode"`
	}

	TextEvent struct {
		Text  string `json:"text"`
		Total string `json:"total"`
	}

	ToolStartEvent struct {
		Name string          `json:"name"`
		Args json.RawMessage `json:"args,omitempty"`
	}

	ToolResultEvent struct {
		Name     string `json:"name"`
		Success  bool   `json:"success"`
		Duration int64  `json:"duration"`
		Error    string `json:"error,omitempty"`
	}

	DoneEvent struct {
		Content   string          `json:"content"`
		ToolCalls []ToolCall      `json:"toolCalls"`
		Duration  int64           `json:"duration"`
		Usage     *protocol.Usage `json:"usage,omitempty"`
	}

	ErrorEvent struct {
		Message  string `json:"message"`
		Duration int64  `json:"duration"`
	}
)

// OutputSink receives the output events of one call, in order.
// Emit is never called concurrently for the same call.
type OutputSink interface {
	Emit(event string, data any)
}

// SinkFunc adapts a function to OutputSink
type SinkFunc func(event string, data any)

func (f SinkFunc) Emit(event string, data any) { f(event, data) }

// ClientSource hands out the gateway client for a conversation
type ClientSource interface {
	Get(sessionKey string) gateway.Client
}

// SpendLimiter gates calls on the caller's spend
type SpendLimiter interface {
	CheckLimit(ctx context.Context, userID string) (usage.LimitStatus, error)
	FormatLimitMessage(status usage.LimitStatus) string
}

// UsageRecorder stores the token usage of a completed turn
type UsageRecorder interface {
	RecordUsage(ctx context.Context, userID, model string, u protocol.Usage) error
}

// StreamObserver is notified about finished streams and tool calls
type StreamObserver interface {
	StreamDone(mode, outcome string, since time.Time)
	ToolCallDone(toolName string, success bool, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) StreamDone(string, string, time.Time)     {}
func (nopObserver) ToolCallDone(string, bool, time.Duration) {}
