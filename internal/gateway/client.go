package gateway

import (
	"context"
	"time"

	"github.com/amoylab/agent-gateway/pkg/protocol"
)

// Client is the part of a Connection the pool and the orchestrator depend on
type Client interface {
	ID() string
	Connect(ctx context.Context) error
	IsReady() bool
	Subscribe(s Subscriber) (unsubscribe func())
	SendChat(ctx context.Context, params protocol.ChatSendParams, timeout time.Duration) (*protocol.ChatSendResult, error)
	Close() error
}
