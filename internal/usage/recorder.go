package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/amoylab/agent-gateway/pkg/protocol"
	"go.uber.org/zap"
)

// Recorder persists per-turn usage and keeps the spend cache coherent
type Recorder struct {
	store  *Store
	cache  *SpendCache
	pricer *Pricer
	logger *zap.Logger
	now    func() time.Time
}

// NewRecorder creates a Recorder. cache may be nil.
func NewRecorder(store *Store, cache *SpendCache, pricer *Pricer, logger *zap.Logger) *Recorder {
	return &Recorder{
		store:  store,
		cache:  cache,
		pricer: pricer,
		logger: logger.Named("usage.recorder"),
		now:    time.Now,
	}
}

// RecordUsage stores one turn's usage for userID
func (r *Recorder) RecordUsage(ctx context.Context, userID, model string, u protocol.Usage) error {
	now := r.now().UTC()
	record := &Record{
		UserID:           userID,
		Model:            model,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		Cost:             r.pricer.Cost(model, u),
		CreatedAt:        now,
	}
	if err := r.store.SaveRecord(ctx, record); err != nil {
		return fmt.Errorf("save usage record: %w", err)
	}
	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, userID, monthStart(now)); err != nil {
			r.logger.Warn("spend cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	r.logger.Debug("usage recorded",
		zap.String("user_id", userID),
		zap.String("model", model),
		zap.Int("tokens", u.TotalTokens()),
		zap.Float64("cost", record.Cost))
	return nil
}
