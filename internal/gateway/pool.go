package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amoylab/agent-gateway/internal/common/config"
	"go.uber.org/zap"
)

// Factory builds a new, unconnected client for a session key
type Factory func(sessionKey string) Client

type poolEntry struct {
	client    Client
	createdAt time.Time
	lastUsed  time.Time
}

// PoolStats is a point-in-time view of the pool
type PoolStats struct {
	Size        int `json:"size"`
	Ready       int `json:"ready"`
	Pending     int `json:"pending"`
	Subscribers int `json:"subscribers"`
}

// loadReporter is implemented by clients that expose in-flight work
type loadReporter interface {
	PendingCount() int
	SubscriberCount() int
}

// Pool keeps one client per session key and evicts idle or aged entries
// on a periodic sweep driven by Start/Stop.
type Pool struct {
	factory       Factory
	logger        *zap.Logger
	maxIdle       time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	sizeHook      func(int)

	mu      sync.Mutex
	entries map[string]*poolEntry

	running  atomic.Bool
	stopped  atomic.Bool
	stopChan chan struct{}
	done     chan struct{}
}

// PoolOption customizes a Pool
type PoolOption func(*Pool)

// withClock replaces time.Now
func withClock(now func() time.Time) PoolOption {
	return func(p *Pool) {
		p.now = now
	}
}

// WithSizeHook is called with the pool size after every change
func WithSizeHook(fn func(int)) PoolOption {
	return func(p *Pool) {
		p.sizeHook = fn
	}
}

// NewPool creates a Pool. Call Start to enable eviction.
func NewPool(factory Factory, cfg config.PoolConfig, logger *zap.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		factory:       factory,
		logger:        logger.Named("gateway.pool"),
		maxIdle:       cfg.MaxIdle,
		sweepInterval: cfg.SweepInterval,
		now:           time.Now,
		sizeHook:      func(int) {},
		entries:       make(map[string]*poolEntry),
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}
	if p.maxIdle <= 0 {
		p.maxIdle = 5 * time.Minute
	}
	if p.sweepInterval <= 0 {
		p.sweepInterval = time.Minute
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Get returns the pooled client for sessionKey. A ready client is reused;
// otherwise a fresh one replaces it. The returned client is not connected.
func (p *Pool) Get(sessionKey string) Client {
	now := p.now()

	p.mu.Lock()
	entry, ok := p.entries[sessionKey]
	if ok && entry.client.IsReady() {
		entry.lastUsed = now
		p.mu.Unlock()
		return entry.client
	}
	var stale Client
	if ok {
		stale = entry.client
	}
	client := p.factory(sessionKey)
	p.entries[sessionKey] = &poolEntry{client: client, createdAt: now, lastUsed: now}
	size := len(p.entries)
	p.mu.Unlock()

	if stale != nil {
		p.logger.Debug("replacing stale pooled connection",
			zap.String("session_key", sessionKey),
			zap.String("conn_id", stale.ID()))
		_ = stale.Close()
	}
	p.sizeHook(size)
	return client
}

// Stats returns the number of pooled clients, how many are ready and the
// requests and subscribers currently attached to them
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := PoolStats{Size: len(p.entries)}
	for _, e := range p.entries {
		if e.client.IsReady() {
			stats.Ready++
		}
		if lr, ok := e.client.(loadReporter); ok {
			stats.Pending += lr.PendingCount()
			stats.Subscribers += lr.SubscriberCount()
		}
	}
	return stats
}

// Start begins the periodic eviction sweep
func (p *Pool) Start(ctx context.Context) {
	if p.stopped.Load() {
		return
	}
	if p.running.CompareAndSwap(false, true) {
		go p.sweepLoop(ctx)
		p.logger.Info("started connection pool sweeper",
			zap.Duration("interval", p.sweepInterval),
			zap.Duration("max_idle", p.maxIdle))
	}
}

// Stop halts the sweep and closes every pooled client
func (p *Pool) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	close(p.stopChan)
	if p.running.Load() {
		<-p.done
	}

	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*poolEntry)
	p.mu.Unlock()

	for _, e := range entries {
		_ = e.client.Close()
	}
	p.sizeHook(0)
	p.logger.Info("stopped connection pool", zap.Int("closed", len(entries)))
}

// IsRunning returns whether the sweeper is running
func (p *Pool) IsRunning() bool {
	return p.running.Load() && !p.stopped.Load()
}

func (p *Pool) sweepLoop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pool sweeper stopped due to context cancellation")
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			if n := p.sweep(); n > 0 {
				p.logger.Debug("evicted pooled connections", zap.Int("count", n))
			}
		}
	}
}

// sweep evicts entries idle longer than maxIdle or older than twice maxIdle
func (p *Pool) sweep() int {
	now := p.now()

	p.mu.Lock()
	var evicted []Client
	for key, e := range p.entries {
		if now.Sub(e.lastUsed) > p.maxIdle || now.Sub(e.createdAt) > 2*p.maxIdle {
			evicted = append(evicted, e.client)
			delete(p.entries, key)
		}
	}
	size := len(p.entries)
	p.mu.Unlock()

	for _, c := range evicted {
		_ = c.Close()
	}
	if len(evicted) > 0 {
		p.sizeHook(size)
	}
	return len(evicted)
}
