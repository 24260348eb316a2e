package protocol

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// AgentEvent is the closed set of agent event kinds carried in event params.
// Implementations: TextFragment, ToolStart, ToolResult, Completion, Failure, Other.
type AgentEvent interface {
	agentEvent()
}

type (
	// TextFragment is an incremental piece of reply text
	TextFragment struct {
		Text string
	}

	// ToolStart announces a tool invocation
	ToolStart struct {
		Name string
		Args json.RawMessage
	}

	// ToolResult reports the outcome of a tool invocation
	ToolResult struct {
		Name    string
		Success bool
		Error   string
	}

	// Completion ends the turn successfully
	Completion struct {
		Usage *Usage
		Model string
	}

	// Failure ends the turn with an error
	Failure struct {
		Message string
	}

	// Other is anything this layer does not interpret
	Other struct {
		Type string
	}
)

func (TextFragment) agentEvent() {}
func (ToolStart) agentEvent()    {}
func (ToolResult) agentEvent()   {}
func (Completion) agentEvent()   {}
func (Failure) agentEvent()      {}
func (Other) agentEvent()        {}

// DecodeAgentEvent decodes the params of an event frame into an AgentEvent.
// It never fails: unrecognised or missing params decode to Other.
func DecodeAgentEvent(ev *EventFrame) AgentEvent {
	if ev == nil || len(ev.Params) == 0 || !gjson.ValidBytes(ev.Params) {
		return Other{}
	}
	params := gjson.ParseBytes(ev.Params)
	if !params.IsObject() {
		return Other{}
	}

	typ := params.Get("type").String()
	switch {
	case typ == AgentEventError:
		return Failure{Message: failureMessage(params)}
	case typ == AgentEventDone || typ == AgentEventTurnEnd || truthy(params.Get("done")):
		return Completion{
			Usage: decodeUsage(params.Get("usage")),
			Model: params.Get("model").String(),
		}
	}

	switch typ {
	case AgentEventText, AgentEventContent, AgentEventDelta, AgentEventTextDelta:
		return TextFragment{Text: firstString(params, "text", "content", "delta")}
	case AgentEventToolStart, AgentEventToolUse, AgentEventToolCall:
		return ToolStart{
			Name: firstString(params, "name", "tool"),
			Args: firstRaw(params, "args", "input", "arguments"),
		}
	case AgentEventToolResult, AgentEventToolEnd:
		errMsg := errorText(params.Get("error"))
		success := errMsg == ""
		if v := params.Get("success"); v.Exists() {
			success = v.Bool()
		} else if v := params.Get("ok"); v.Exists() {
			success = v.Bool()
		}
		return ToolResult{
			Name:    firstString(params, "name", "tool"),
			Success: success,
			Error:   errMsg,
		}
	}
	return Other{Type: typ}
}

// truthy applies JavaScript truthiness to a JSON value
func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return v.Num != 0
	case gjson.String:
		return v.Str != ""
	case gjson.JSON:
		return true
	default:
		return false
	}
}

func failureMessage(params gjson.Result) string {
	if msg := params.Get("message").String(); msg != "" {
		return msg
	}
	if msg := errorText(params.Get("error")); msg != "" {
		return msg
	}
	return "agent reported an error"
}

func errorText(v gjson.Result) string {
	if !v.Exists() || v.Type == gjson.Null || v.Type == gjson.False {
		return ""
	}
	if v.IsObject() {
		return v.Get("message").String()
	}
	return v.String()
}

func decodeUsage(v gjson.Result) *Usage {
	if !v.IsObject() {
		return nil
	}
	return &Usage{
		PromptTokens:     int(firstInt(v, "promptTokens", "prompt_tokens", "inputTokens", "input_tokens")),
		CompletionTokens: int(firstInt(v, "completionTokens", "completion_tokens", "outputTokens", "output_tokens")),
	}
}

func firstString(v gjson.Result, keys ...string) string {
	for _, k := range keys {
		if r := v.Get(k); r.Exists() && r.String() != "" {
			return r.String()
		}
	}
	return ""
}

func firstInt(v gjson.Result, keys ...string) int64 {
	for _, k := range keys {
		if r := v.Get(k); r.Exists() {
			return r.Int()
		}
	}
	return 0
}

func firstRaw(v gjson.Result, keys ...string) json.RawMessage {
	for _, k := range keys {
		if r := v.Get(k); r.Exists() && r.Type != gjson.Null {
			return json.RawMessage(r.Raw)
		}
	}
	return nil
}
