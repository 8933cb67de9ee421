package models

import (
	"time"
)

// Market status values
const (
	MarketStatusPending   = "pending"
	MarketStatusSettled   = "settled"
	MarketStatusExhausted = "exhausted"
)

// Market represents a tracked prediction market, keyed by its on-chain condition id
type Market struct {
	ConditionID            string     `gorm:"primaryKey;size:66" json:"condition_id"`
	Creator                string     `gorm:"size:66;index" json:"creator"`
	Question               *string    `gorm:"type:text" json:"question,omitempty"`
	EndTime                *int64     `gorm:"index" json:"end_time,omitempty"`
	EndTimeKnown           bool       `gorm:"not null;default:false" json:"end_time_known"`
	ProcessedForSettlement bool       `gorm:"not null;default:false;index" json:"processed_for_settlement"`
	SettledOnLedger        bool       `gorm:"not null;default:false" json:"settled_on_ledger"`
	LastLedgerCheck        *time.Time `json:"last_ledger_check,omitempty"`
	WinningOutcomeToken    string     `gorm:"size:100" json:"winning_outcome_token,omitempty"` // string to avoid precision loss on large token ids
	RetryCount             int        `gorm:"not null;default:0" json:"retry_count"`
	Status                 string     `gorm:"size:20;default:pending;index" json:"status"` // pending, settled, exhausted
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for Market model
func (Market) TableName() string {
	return "markets"
}

// HasFailedAttempts reports whether the market carries failed settlement history
func (m *Market) HasFailedAttempts() bool {
	return m.RetryCount > 0 || m.Status == MarketStatusExhausted
}
