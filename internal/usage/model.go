package usage

import "time"

// Record is one completed turn's token usage and its cost
type Record struct {
	ID               uint      `gorm:"primaryKey;autoIncrement"`
	UserID           string    `gorm:"type:varchar(128);not null;index:idx_usage_user_time,priority:1"`
	Model            string    `gorm:"type:varchar(128)"`
	PromptTokens     int       `gorm:"not null;default:0"`
	CompletionTokens int       `gorm:"not null;default:0"`
	Cost             float64   `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"index:idx_usage_user_time,priority:2"`
}

func (Record) TableName() string {
	return "usage_records"
}

// SpendLimit overrides the default monthly limit for one user
type SpendLimit struct {
	UserID       string  `gorm:"primaryKey;type:varchar(128)"`
	MonthlyLimit float64 `gorm:"not null"`
	UpdatedAt    time.Time
}

func (SpendLimit) TableName() string {
	return "spend_limits"
}

// LimitStatus is the outcome of a spend-limit check. A zero Limit means unlimited.
type LimitStatus struct {
	Allowed   bool    `json:"allowed"`
	Limit     float64 `json:"limit"`
	Spent     float64 `json:"spent"`
	Remaining float64 `json:"remaining"`
}

// monthStart returns the first instant of t's month in UTC
func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
