package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/amoylab/agent-gateway/internal/gateway"
	"github.com/amoylab/agent-gateway/internal/usage"
	"github.com/amoylab/agent-gateway/pkg/protocol"
)

type fakeClient struct {
	mu         sync.Mutex
	subs       map[int]gateway.Subscriber
	nextSub    int
	seq        int64
	connects   int
	closed     int
	sends      []protocol.ChatSendParams
	connectErr error
	// onSend runs inside SendChat; events it emits are seen before the ack returns
	onSend func(f *fakeClient, p protocol.ChatSendParams) (*protocol.ChatSendResult, error)
}

func newFakeClient() *fakeClient {
	return &fakeClient{subs: make(map[int]gateway.Subscriber)}
}

func (f *fakeClient) ID() string { return "fake" }

func (f *fakeClient) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeClient) IsReady() bool { return true }

func (f *fakeClient) Subscribe(s gateway.Subscriber) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = s
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeClient) SendChat(_ context.Context, p protocol.ChatSendParams, _ time.Duration) (*protocol.ChatSendResult, error) {
	f.mu.Lock()
	f.sends = append(f.sends, p)
	onSend := f.onSend
	f.mu.Unlock()
	if onSend == nil {
		return &protocol.ChatSendResult{RunID: "run-1", Status: "started"}, nil
	}
	return onSend(f, p)
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

// emit delivers an agent event to every subscriber, like the read loop would
func (f *fakeClient) emit(params map[string]any) {
	data, _ := json.Marshal(params)
	f.mu.Lock()
	f.seq++
	ev := &protocol.EventFrame{Type: protocol.FrameTypeEvent, Event: "agent", Seq: f.seq, Params: data}
	subs := make([]gateway.Subscriber, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()
	for _, s := range subs {
		s.OnEvent(ev)
	}
}

func (f *fakeClient) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeClient) sent() []protocol.ChatSendParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.ChatSendParams(nil), f.sends...)
}

type fakeSource struct {
	client gateway.Client
	mu     sync.Mutex
	keys   []string
}

func (s *fakeSource) Get(key string) gateway.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	return s.client
}

type sinkEvent struct {
	name string
	data any
}

type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (r *recordingSink) Emit(name string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sinkEvent{name: name, data: data})
}

func (r *recordingSink) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.name
	}
	return out
}

func (r *recordingSink) last() sinkEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func (r *recordingSink) all() []sinkEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sinkEvent(nil), r.events...)
}

type fakeLimiter struct {
	status usage.LimitStatus
	err    error
	calls  []string
}

func (l *fakeLimiter) CheckLimit(_ context.Context, userID string) (usage.LimitStatus, error) {
	l.calls = append(l.calls, userID)
	return l.status, l.err
}

func (l *fakeLimiter) FormatLimitMessage(status usage.LimitStatus) string {
	return "over limit"
}

type usageCall struct {
	userID string
	model  string
	usage  protocol.Usage
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []usageCall
	err   error
}

func (r *fakeRecorder) RecordUsage(_ context.Context, userID, model string, u protocol.Usage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, usageCall{userID: userID, model: model, usage: u})
	return r.err
}

type fakeObserver struct {
	mu       sync.Mutex
	outcomes []string
	tools    []string
}

func (o *fakeObserver) StreamDone(_ string, outcome string, _ time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *fakeObserver) ToolCallDone(name string, success bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if success {
		o.tools = append(o.tools, name+":ok")
	} else {
		o.tools = append(o.tools, name+":error")
	}
}

var errSendFailed = errors.New("send failed")
