package usage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Limiter checks a user's month-to-date spend against their monthly limit
type Limiter struct {
	store        *Store
	cache        *SpendCache
	defaultLimit float64
	logger       *zap.Logger
	now          func() time.Time
}

// NewLimiter creates a Limiter. cache may be nil.
func NewLimiter(store *Store, cache *SpendCache, defaultLimit float64, logger *zap.Logger) *Limiter {
	return &Limiter{
		store:        store,
		cache:        cache,
		defaultLimit: defaultLimit,
		logger:       logger.Named("usage.limiter"),
		now:          time.Now,
	}
}

// CheckLimit reports whether userID may spend more this month.
// A user without an override gets the default limit; a limit of zero is unlimited.
func (l *Limiter) CheckLimit(ctx context.Context, userID string) (LimitStatus, error) {
	limit, found, err := l.store.GetLimit(ctx, userID)
	if err != nil {
		return LimitStatus{}, fmt.Errorf("get spend limit: %w", err)
	}
	if !found {
		limit = l.defaultLimit
	}

	spent, err := l.monthSpend(ctx, userID)
	if err != nil {
		return LimitStatus{}, fmt.Errorf("get month spend: %w", err)
	}

	if limit <= 0 {
		return LimitStatus{Allowed: true, Spent: spent}, nil
	}
	remaining := limit - spent
	if remaining < 0 {
		remaining = 0
	}
	return LimitStatus{
		Allowed:   spent < limit,
		Limit:     limit,
		Spent:     spent,
		Remaining: remaining,
	}, nil
}

// FormatLimitMessage renders the user-facing message for a denied check
func (l *Limiter) FormatLimitMessage(status LimitStatus) string {
	return fmt.Sprintf("Monthly spend limit reached: $%.2f of $%.2f used. Contact your administrator to raise the limit.",
		status.Spent, status.Limit)
}

func (l *Limiter) monthSpend(ctx context.Context, userID string) (float64, error) {
	month := monthStart(l.now())
	if l.cache != nil {
		spent, ok, err := l.cache.Get(ctx, userID, month)
		if err != nil {
			l.logger.Warn("spend cache read failed", zap.String("user_id", userID), zap.Error(err))
		} else if ok {
			return spent, nil
		}
	}

	spent, err := l.store.SpentSince(ctx, userID, month)
	if err != nil {
		return 0, err
	}
	if l.cache != nil {
		if err := l.cache.Set(ctx, userID, month, spent); err != nil {
			l.logger.Warn("spend cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return spent, nil
}
