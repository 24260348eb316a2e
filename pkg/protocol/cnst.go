package protocol

// Protocol version bounds offered in the connect handshake
const (
	MinProtocolVersion = 3
	MaxProtocolVersion = 3
)

// Frame types
const (
	FrameTypeRequest = "req"
	FrameTypeEvent   = "event"
)

// Methods
const (
	MethodConnect  = "connect"
	MethodChatSend = "chat.send"
	MethodHealth   = "health"
)

// Agent event param types carried in params.type
const (
	AgentEventText       = "text"
	AgentEventContent    = "content"
	AgentEventDelta      = "delta"
	AgentEventTextDelta  = "text_delta"
	AgentEventToolStart  = "tool_start"
	AgentEventToolUse    = "tool_use"
	AgentEventToolCall   = "tool_call"
	AgentEventToolResult = "tool_result"
	AgentEventToolEnd    = "tool_end"
	AgentEventDone       = "done"
	AgentEventTurnEnd    = "turn_end"
	AgentEventError      = "error"
)

// Client modes
const (
	ClientModeBackend = "backend"
	ClientModeCLI     = "cli"
)
