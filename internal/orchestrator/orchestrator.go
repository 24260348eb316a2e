package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/amoylab/agent-gateway/internal/common/cnst"
	"github.com/amoylab/agent-gateway/internal/common/config"
	"github.com/amoylab/agent-gateway/pkg/protocol"
	"github.com/amoylab/agent-gateway/pkg/trace"
	"github.com/amoylab/agent-gateway/pkg/utils"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Orchestrator turns one caller message into a streamed agent turn over a
// pooled gateway connection.
type Orchestrator struct {
	clients  ClientSource
	cfg      config.StreamConfig
	logger   *zap.Logger
	preamble *preambleRenderer
	limiter  SpendLimiter
	recorder UsageRecorder
	observer StreamObserver
	tracer   *trace.Builder
	now      func() time.Time
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithSpendLimiter gates calls from identified callers on their spend
func WithSpendLimiter(l SpendLimiter) Option {
	return func(o *Orchestrator) {
		o.limiter = l
	}
}

// WithUsageRecorder records usage reported on completion
func WithUsageRecorder(r UsageRecorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

func WithStreamObserver(obs StreamObserver) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// New creates an Orchestrator. It fails only on an unparsable preamble template.
func New(clients ClientSource, cfg config.StreamConfig, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 32000
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = "chat"
	}
	preamble, err := newPreambleRenderer(cfg.Preamble)
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{
		clients:  clients,
		cfg:      cfg,
		logger:   logger.Named("orchestrator"),
		preamble: preamble,
		observer: nopObserver{},
		tracer:   trace.Tracer(cnst.TraceOrchestrator),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Validate checks a request without touching the network
func (o *Orchestrator) Validate(req StreamRequest) error {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return &ValidationError{Field: "message", Reason: "must not be empty"}
	}
	if n := utf8.RuneCountInString(req.Message); n > o.cfg.MaxMessageLength {
		return &ValidationError{
			Field:  "message",
			Reason: fmt.Sprintf("length %d exceeds the maximum of %d characters", n, o.cfg.MaxMessageLength),
		}
	}
	if strings.TrimSpace(req.ConversationID) == "" {
		return &ValidationError{Field: "conversationId", Reason: "is required"}
	}
	return nil
}

// ProcessStreamRequest runs one chat turn and reports its progress to sink.
// Apart from validation failures, sink always receives exactly one terminal
// done or error event. The pooled connection is never closed here.
func (o *Orchestrator) ProcessStreamRequest(ctx context.Context, req StreamRequest, sink OutputSink, caller CallerContext) (*StreamResult, error) {
	if err := o.Validate(req); err != nil {
		return nil, err
	}

	start := o.now()
	mode := req.Mode
	if mode == "" {
		mode = o.cfg.DefaultMode
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = o.cfg.Timeout
	}
	sessionKey := o.cfg.SessionPrefix + req.ConversationID
	logger := o.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("conversation_id", req.ConversationID),
		zap.String("mode", mode))

	span := o.tracer.Start(ctx, cnst.SpanStreamRequest).
		WithAttrs(
			attribute.String(cnst.AttrConversationID, req.ConversationID),
			attribute.String(cnst.AttrSessionKey, sessionKey),
			attribute.String(cnst.AttrStreamMode, mode))
	defer span.End()
	ctx = span.Ctx

	fail := func(outcome string, err error) (*StreamResult, error) {
		sink.Emit(EventError, ErrorEvent{Message: err.Error(), Duration: o.elapsedMs(start)})
		o.observer.StreamDone(mode, outcome, start)
		span.Fail(err).WithAttrs(attribute.String(cnst.AttrStreamOutcome, outcome))
		logger.Warn("stream request failed", zap.String("outcome", outcome), zap.Error(err))
		return nil, err
	}

	if err := o.checkLimit(ctx, caller, logger); err != nil {
		var limitErr *LimitExceededError
		if errors.As(err, &limitErr) {
			sink.Emit(EventError, ErrorEvent{Message: limitErr.Message, Duration: o.elapsedMs(start)})
			sink.Emit(EventDone, DoneEvent{ToolCalls: []ToolCall{}, Duration: o.elapsedMs(start)})
			o.observer.StreamDone(mode, OutcomeLimited, start)
			span.WithAttrs(attribute.String(cnst.AttrStreamOutcome, OutcomeLimited))
			logger.Info("stream request rejected by spend limit",
				zap.String("user_id", caller.UserID),
				zap.Float64("spent", limitErr.Status.Spent),
				zap.Float64("limit", limitErr.Status.Limit))
			return nil, err
		}
	}

	// the stream timeout bounds everything from here on, the handshake included
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := o.clients.Get(req.ConversationID)
	if err := client.Connect(waitCtx); err != nil {
		return fail(o.outcomeOf(ctx, err), o.streamError(ctx, err, timeout))
	}
	span.WithAttrs(attribute.String(cnst.AttrConnectionID, client.ID()))

	sink.Emit(EventInit, InitEvent{ConversationID: req.ConversationID, Mode: mode})

	session := newStreamSession(sink, o.observer, o.now)
	unsubscribe := client.Subscribe(session)
	defer unsubscribe()

	message := req.Message
	if preamble, err := o.preamble.Render(caller, mode); err != nil {
		logger.Warn("failed to render context preamble", zap.Error(err))
	} else if preamble != "" {
		message = preamble + "\n\n" + message
	}

	ack, err := client.SendChat(waitCtx, protocol.ChatSendParams{
		SessionKey:     sessionKey,
		Message:        message,
		IdempotencyKey: uuid.NewString(),
		TimeoutMs:      timeout.Milliseconds(),
		Deliver:        false,
		Attachments:    req.Attachments,
		Thinking:       req.Thinking,
	}, 0)
	if err != nil && session.abandon() {
		return fail(o.outcomeOf(ctx, err), o.streamError(ctx, err, timeout))
	}
	// when the send failed after a terminal event, that event decides the outcome

	select {
	case err = <-session.terminal:
	case <-waitCtx.Done():
		if session.abandon() {
			return fail(o.outcomeOf(ctx, waitCtx.Err()), o.streamError(ctx, waitCtx.Err(), timeout))
		}
		err = <-session.terminal
	}
	if err != nil {
		return fail(OutcomeError, err)
	}

	content, toolCalls, u, model := session.snapshot()
	model = utils.FirstNonEmpty(model, o.cfg.DefaultModel)
	if u != nil && o.recorder != nil && caller.UserID != "" {
		if err := o.recorder.RecordUsage(ctx, caller.UserID, model, *u); err != nil {
			logger.Warn("failed to record usage", zap.String("user_id", caller.UserID), zap.Error(err))
		}
	}

	duration := o.now().Sub(start)
	sink.Emit(EventDone, DoneEvent{
		Content:   content,
		ToolCalls: toolCalls,
		Duration:  duration.Milliseconds(),
		Usage:     u,
	})
	o.observer.StreamDone(mode, OutcomeDone, start)
	span.WithAttrs(
		attribute.String(cnst.AttrStreamOutcome, OutcomeDone),
		attribute.Int(cnst.AttrToolCalls, len(toolCalls)))

	result := &StreamResult{
		Content:   content,
		ToolCalls: toolCalls,
		Duration:  duration,
		Usage:     u,
		Model:     model,
	}
	if ack != nil {
		result.RunID = ack.RunID
	}
	logger.Info("stream request completed",
		zap.Duration("duration", duration),
		zap.Int("tool_calls", len(toolCalls)),
		zap.Int("content_length", len(content)))
	return result, nil
}

// checkLimit returns a *LimitExceededError when the caller is over their limit.
// Checker failures are logged and the call proceeds.
func (o *Orchestrator) checkLimit(ctx context.Context, caller CallerContext, logger *zap.Logger) error {
	if o.limiter == nil || caller.UserID == "" {
		return nil
	}
	status, err := o.limiter.CheckLimit(ctx, caller.UserID)
	if err != nil {
		logger.Warn("spend limit check failed, allowing request", zap.String("user_id", caller.UserID), zap.Error(err))
		return nil
	}
	if status.Allowed {
		return nil
	}
	return &LimitExceededError{Status: status, Message: o.limiter.FormatLimitMessage(status)}
}

// streamError maps an expired stream deadline to ErrStreamTimeout
func (o *Orchestrator) streamError(parent context.Context, err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("%w after %s", ErrStreamTimeout, timeout)
	}
	return err
}

func (o *Orchestrator) outcomeOf(parent context.Context, err error) string {
	switch {
	case parent.Err() != nil:
		return OutcomeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}

func (o *Orchestrator) elapsedMs(start time.Time) int64 {
	return o.now().Sub(start).Milliseconds()
}
