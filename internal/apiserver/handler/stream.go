package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/amoylab/agent-gateway/internal/common/cnst"
	"github.com/amoylab/agent-gateway/internal/gateway"
	"github.com/amoylab/agent-gateway/internal/orchestrator"
	"github.com/amoylab/agent-gateway/pkg/protocol"
	"github.com/amoylab/agent-gateway/pkg/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PoolStatser reports connection pool occupancy
type PoolStatser interface {
	Stats() gateway.PoolStats
}

type Stream struct {
	orch   *orchestrator.Orchestrator
	pool   PoolStatser
	logger *zap.Logger
}

func NewStream(orch *orchestrator.Orchestrator, pool PoolStatser, logger *zap.Logger) *Stream {
	return &Stream{
		orch:   orch,
		pool:   pool,
		logger: logger.Named("handler.stream"),
	}
}

type chatStreamRequest struct {
	Message        string                `json:"message"`
	ConversationID string                `json:"conversationId"`
	Mode           string                `json:"mode"`
	TimeoutMs      int64                 `json:"timeoutMs"`
	Attachments    []protocol.Attachment `json:"attachments"`
	Thinking       string                `json:"thinking"`
}

// HandleChatStream runs one chat turn and streams its events as SSE
func (h *Stream) HandleChatStream(c *gin.Context) {
	var body chatStreamRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	req := orchestrator.StreamRequest{
		Message:        body.Message,
		ConversationID: body.ConversationID,
		Mode:           body.Mode,
		Timeout:        time.Duration(body.TimeoutMs) * time.Millisecond,
		Attachments:    body.Attachments,
		Thinking:       body.Thinking,
	}
	if err := h.orch.Validate(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache, no-transform")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	sink := &sseSink{c: c, logger: h.logger}
	_, err := h.orch.ProcessStreamRequest(c.Request.Context(), req, sink, callerFromHeaders(c.Request.Header))
	if err != nil {
		var limitErr *orchestrator.LimitExceededError
		if !errors.As(err, &limitErr) {
			h.logger.Debug("stream request ended with error",
				zap.String("conversation_id", req.ConversationID),
				zap.Error(err))
		}
	}
}

// HandlePoolStats reports the size of the gateway connection pool
func (h *Stream) HandlePoolStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.pool.Stats())
}

func (h *Stream) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func callerFromHeaders(hdr http.Header) orchestrator.CallerContext {
	caller := orchestrator.CallerContext{
		UserID:      strings.TrimSpace(hdr.Get(cnst.HeaderUserID)),
		Email:       strings.TrimSpace(hdr.Get(cnst.HeaderUserEmail)),
		AccountName: strings.TrimSpace(hdr.Get(cnst.HeaderAccountName)),
		AdToken:     strings.TrimSpace(hdr.Get(cnst.HeaderAdToken)),
	}
	caller.AdAccountIDs = utils.SplitList(hdr.Get(cnst.HeaderAdAccountIDs))
	return caller
}

// sseSink writes output events to the response. After the first write
// failure the client is assumed gone and further events are dropped.
type sseSink struct {
	c      *gin.Context
	logger *zap.Logger

	mu     sync.Mutex
	failed bool
}

func (s *sseSink) Emit(event string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal stream event", zap.String("event", event), zap.Error(err))
		return
	}
	if _, err := fmt.Fprintf(s.c.Writer, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		s.failed = true
		s.logger.Debug("failed to write stream event", zap.String("event", event), zap.Error(err))
		return
	}
	s.c.Writer.Flush()
}
