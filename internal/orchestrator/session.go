package orchestrator

import (
	"strings"
	"sync"
	"time"

	"github.com/amoylab/agent-gateway/pkg/protocol"
)

// streamSession accumulates the events of one turn and signals its end.
// Every event of the pooled connection belongs to the turn; once completed
// is set no further output is emitted from OnEvent.
type streamSession struct {
	sink     OutputSink
	observer StreamObserver
	now      func() time.Time

	mu        sync.Mutex
	text      strings.Builder
	toolCalls []*ToolCall
	completed bool
	usage     *protocol.Usage
	model     string
	terminal  chan error
}

func newStreamSession(sink OutputSink, observer StreamObserver, now func() time.Time) *streamSession {
	return &streamSession{
		sink:     sink,
		observer: observer,
		now:      now,
		terminal: make(chan error, 1),
	}
}

func (s *streamSession) OnEvent(ev *protocol.EventFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return
	}

	switch e := protocol.DecodeAgentEvent(ev).(type) {
	case protocol.TextFragment:
		if e.Text == "" {
			return
		}
		s.text.WriteString(e.Text)
		s.sink.Emit(EventText, TextEvent{Text: e.Text, Total: s.text.String()})

	case protocol.ToolStart:
		s.toolCalls = append(s.toolCalls, &ToolCall{Name: e.Name, Args: e.Args, StartedAt: s.now()})
		s.sink.Emit(EventToolStart, ToolStartEvent{Name: e.Name, Args: e.Args})

	case protocol.ToolResult:
		out := ToolResultEvent{Name: e.Name, Success: e.Success, Error: e.Error}
		if call := s.openToolCall(e.Name); call != nil {
			d := s.now().Sub(call.StartedAt)
			call.Resolved = true
			call.Success = e.Success
			call.Error = e.Error
			call.Duration = d.Milliseconds()
			out.Duration = call.Duration
			s.observer.ToolCallDone(call.Name, call.Success, d)
		}
		s.sink.Emit(EventToolResult, out)

	case protocol.Completion:
		s.completed = true
		s.usage = e.Usage
		s.model = e.Model
		s.terminal <- nil

	case protocol.Failure:
		s.completed = true
		s.terminal <- &AgentError{Message: e.Message}
	}
}

// openToolCall returns the most recent unresolved call named name
func (s *streamSession) openToolCall(name string) *ToolCall {
	for i := len(s.toolCalls) - 1; i >= 0; i-- {
		if c := s.toolCalls[i]; c.Name == name && !c.Resolved {
			return c
		}
	}
	return nil
}

// abandon marks the session complete on behalf of the caller. It returns
// false when a terminal event got there first.
func (s *streamSession) abandon() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return false
	}
	s.completed = true
	return true
}

// snapshot returns the accumulated state. Only valid once completed.
func (s *streamSession) snapshot() (string, []ToolCall, *protocol.Usage, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := make([]ToolCall, len(s.toolCalls))
	for i, c := range s.toolCalls {
		calls[i] = *c
	}
	return s.text.String(), calls, s.usage, s.model
}
