package models

import (
	"time"
)

// Journal entry status values
const (
	JournalStatusPending   = "pending"
	JournalStatusCompleted = "completed"
	JournalStatusFailed    = "failed"
)

// Journal operation tags, one per mutating store operation
const (
	JournalOpUpsert          = "upsert"
	JournalOpSetEndTime      = "set_end_time"
	JournalOpSetQuestion     = "set_question"
	JournalOpMarkProcessed   = "mark_processed"
	JournalOpSetLedgerStatus = "set_ledger_status"
	JournalOpSetWinningToken = "set_winning_token"
	JournalOpIncrementRetry  = "increment_retry"
	JournalOpResetRetry      = "reset_retry"
)

// JournalEntry is a write-ahead record of an attempted market mutation.
// Rows are created and owned solely by the entity store.
type JournalEntry struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Operation   string    `gorm:"size:50;not null" json:"operation"`
	ConditionID string    `gorm:"size:66;not null;index" json:"condition_id"`
	Payload     string    `gorm:"type:text" json:"payload"` // JSON-encoded mutation input
	Status      string    `gorm:"size:20;not null;default:pending;index" json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for JournalEntry model
func (JournalEntry) TableName() string {
	return "settlement_journal"
}
