package cnst

// Tracer names used across the service
const (
	// TraceGateway is the tracer name for the agent gateway connection
	TraceGateway = "agent-gateway/gateway"
	// TraceOrchestrator is the tracer name for stream orchestration
	TraceOrchestrator = "agent-gateway/orchestrator"
)

// Span names
const (
	SpanRPCPrefix     = "gateway.rpc."
	SpanStreamRequest = "orchestrator.stream"
)

// Attribute keys
const (
	AttrRPCMethod      = "rpc.method"
	AttrConnectionID   = "gateway.connection_id"
	AttrSessionKey     = "gateway.session_key"
	AttrConversationID = "stream.conversation_id"
	AttrStreamMode     = "stream.mode"
	AttrStreamOutcome  = "stream.outcome"
	AttrToolCalls      = "stream.tool_calls"
	AttrErrorReason    = "error.reason"
)
