package main

import (
	"context"
	"fmt"

	"github.com/amoylab/agent-gateway/internal/apiserver/handler"
	"github.com/amoylab/agent-gateway/internal/common/config"
	"github.com/amoylab/agent-gateway/internal/gateway"
	"github.com/amoylab/agent-gateway/internal/orchestrator"
	"github.com/amoylab/agent-gateway/internal/usage"
	"github.com/amoylab/agent-gateway/pkg/metrics"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// app holds everything serve wires together
type app struct {
	router  *gin.Engine
	pool    *gateway.Pool
	metrics *metrics.Metrics
	store   *usage.Store
	cache   *usage.SpendCache
}

func newApp(ctx context.Context, cfg *config.AgentGatewayConfig, lg *zap.Logger) (*app, error) {
	a := &app{metrics: metrics.New(cfg.Metrics)}

	opts := gateway.OptionsFromConfig(&cfg.Gateway)
	a.pool = gateway.NewPool(func(string) gateway.Client {
		return gateway.NewConnection(opts, lg, gateway.WithObserver(a.metrics))
	}, cfg.Pool, lg, gateway.WithSizeHook(a.metrics.SetPoolSize))
	a.pool.Start(ctx)

	orchOpts := []orchestrator.Option{orchestrator.WithStreamObserver(a.metrics)}
	if cfg.Usage.Enabled {
		limiter, recorder, err := a.initUsage(ctx, cfg, lg)
		if err != nil {
			a.Close()
			return nil, err
		}
		orchOpts = append(orchOpts, orchestrator.WithSpendLimiter(limiter), orchestrator.WithUsageRecorder(recorder))
	}

	orch, err := orchestrator.New(a.pool, cfg.Stream, lg, orchOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.router = initRouter(cfg, a.metrics, handler.NewStream(orch, a.pool, lg))
	return a, nil
}

// initUsage opens the usage store and, when redis is configured, the spend cache.
// A redis that cannot be reached only disables caching.
func (a *app) initUsage(ctx context.Context, cfg *config.AgentGatewayConfig, lg *zap.Logger) (*usage.Limiter, *usage.Recorder, error) {
	store, err := usage.NewStore(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize usage store: %w", err)
	}
	a.store = store

	if cfg.Redis.Addr != "" {
		cache, err := usage.NewSpendCache(ctx, cfg.Redis, cfg.Usage.CacheTTL)
		if err != nil {
			lg.Warn("spend cache disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			a.cache = cache
		}
	}

	limiter := usage.NewLimiter(store, a.cache, cfg.Usage.DefaultLimit, lg)
	recorder := usage.NewRecorder(store, a.cache, usage.NewPricer(cfg.Usage.Prices), lg)
	return limiter, recorder, nil
}

func initRouter(cfg *config.AgentGatewayConfig, m *metrics.Metrics, stream *handler.Stream) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	if cfg.Metrics.Enabled {
		r.Use(m.Middleware())
		r.GET(cfg.Metrics.Path, gin.WrapH(m.Handler()))
	}

	r.GET("/health", stream.HandleHealth)
	api := r.Group("/api")
	api.POST("/chat/stream", stream.HandleChatStream)
	api.GET("/pool/stats", stream.HandlePoolStats)
	return r
}

// Close stops the pool and releases the usage backends
func (a *app) Close() {
	if a.pool != nil {
		a.pool.Stop()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
