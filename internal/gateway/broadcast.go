package gateway

import (
	"sync"

	"github.com/amoylab/agent-gateway/pkg/protocol"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Subscriber receives every event frame of a connection, in frame order.
// OnEvent runs on the connection's read goroutine and must not block.
type Subscriber interface {
	OnEvent(ev *protocol.EventFrame)
}

// SubscriberFunc adapts a function to Subscriber
type SubscriberFunc func(ev *protocol.EventFrame)

func (f SubscriberFunc) OnEvent(ev *protocol.EventFrame) { f(ev) }

// Subscribe registers s and returns a function that removes it. The returned
// function is safe to call more than once.
func (c *Connection) Subscribe(s Subscriber) (unsubscribe func()) {
	id := uuid.NewString()
	c.subMu.Lock()
	c.subscribers[id] = s
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subscribers, id)
			c.subMu.Unlock()
		})
	}
}

// SubscriberCount returns the number of registered subscribers
func (c *Connection) SubscriberCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscribers)
}

func (c *Connection) broadcast(ev *protocol.EventFrame) {
	c.subMu.RLock()
	subs := make([]Subscriber, 0, len(c.subscribers))
	for _, s := range c.subscribers {
		subs = append(subs, s)
	}
	c.subMu.RUnlock()

	for _, s := range subs {
		c.deliver(s, ev)
	}
}

// deliver isolates subscriber panics from the read loop and other subscribers
func (c *Connection) deliver(s Subscriber, ev *protocol.EventFrame) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event subscriber panicked",
				zap.Any("panic", r),
				zap.String("event", ev.Event),
				zap.Int64("seq", ev.Seq))
		}
	}()
	s.OnEvent(ev)
}
