package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"market-settler/internal/models"

	"gorm.io/gorm"
)

// Store owns the markets table and the settlement journal. Every mutating
// operation writes a pending journal row durably before touching the market
// row, then applies the mutation and completes the journal row in one
// transaction. No other component writes to either table.
type Store struct {
	db         *gorm.DB
	maxRetries int
}

func NewStore(db *gorm.DB, maxRetries int) *Store {
	return &Store{db: db, maxRetries: maxRetries}
}

// Journal payload shapes, one per operation
type upsertPayload struct {
	Creator string `json:"creator"`
}

type endTimePayload struct {
	EndTime int64 `json:"end_time"`
}

type questionPayload struct {
	Question string `json:"question"`
}

type ledgerStatusPayload struct {
	Settled   bool      `json:"settled"`
	CheckedAt time.Time `json:"checked_at"`
}

type winningTokenPayload struct {
	Token string `json:"token"`
}

type retryPayload struct {
	NewCount int `json:"new_count"`
}

type emptyPayload struct{}

// journalBegin commits a pending journal row in its own transaction so it is
// durable before the guarded mutation runs.
func (s *Store) journalBegin(ctx context.Context, op, conditionID string, payload interface{}) (*models.JournalEntry, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode journal payload: %w", err)
	}

	entry := &models.JournalEntry{
		Operation:   op,
		ConditionID: conditionID,
		Payload:     string(data),
		Status:      models.JournalStatusPending,
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to write journal entry: %w", err)
	}

	return entry, nil
}

// runJournaled applies a mutation under write-ahead discipline: pending journal
// row first, then mutation + journal completion in a single transaction. A row
// can be left pending only by a crash between the two steps; recovery replays it.
func (s *Store) runJournaled(ctx context.Context, op, conditionID string, payload interface{}, mutate func(tx *gorm.DB) error) error {
	entry, err := s.journalBegin(ctx, op, conditionID, payload)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := mutate(tx); err != nil {
			return err
		}
		return tx.Model(&models.JournalEntry{}).
			Where("id = ?", entry.ID).
			Update("status", models.JournalStatusCompleted).Error
	})

	if err != nil {
		// The mutation rolled back; park the journal row so recovery skips it.
		s.db.WithContext(ctx).Model(&models.JournalEntry{}).
			Where("id = ?", entry.ID).
			Update("status", models.JournalStatusFailed)
		return err
	}

	return nil
}

// Upsert inserts a market on first sighting or merges mutable fields on
// re-ingestion. The creator is rewritten only when the feed reports a different
// value, so duplicate deliveries never touch updated_at.
func (s *Store) Upsert(ctx context.Context, conditionID, creator string) error {
	return s.runJournaled(ctx, models.JournalOpUpsert, conditionID, upsertPayload{Creator: creator}, func(tx *gorm.DB) error {
		return applyUpsert(tx, conditionID, creator)
	})
}

// SetEndTime records the market end time fetched from the ledger
func (s *Store) SetEndTime(ctx context.Context, conditionID string, endTime int64) error {
	return s.runJournaled(ctx, models.JournalOpSetEndTime, conditionID, endTimePayload{EndTime: endTime}, func(tx *gorm.DB) error {
		return applySetEndTime(tx, conditionID, endTime)
	})
}

// SetQuestion records the market question fetched from the ledger
func (s *Store) SetQuestion(ctx context.Context, conditionID, question string) error {
	return s.runJournaled(ctx, models.JournalOpSetQuestion, conditionID, questionPayload{Question: question}, func(tx *gorm.DB) error {
		return applySetQuestion(tx, conditionID, question)
	})
}

// MarkProcessed records a terminal local settlement outcome
func (s *Store) MarkProcessed(ctx context.Context, conditionID string) error {
	return s.runJournaled(ctx, models.JournalOpMarkProcessed, conditionID, emptyPayload{}, func(tx *gorm.DB) error {
		return applyMarkProcessed(tx, conditionID)
	})
}

// SetLedgerStatus records the last-observed on-chain settlement flag
func (s *Store) SetLedgerStatus(ctx context.Context, conditionID string, settled bool, checkedAt time.Time) error {
	payload := ledgerStatusPayload{Settled: settled, CheckedAt: checkedAt}
	return s.runJournaled(ctx, models.JournalOpSetLedgerStatus, conditionID, payload, func(tx *gorm.DB) error {
		return applySetLedgerStatus(tx, conditionID, settled, checkedAt)
	})
}

// SetWinningToken records the winning outcome token id
func (s *Store) SetWinningToken(ctx context.Context, conditionID, token string) error {
	return s.runJournaled(ctx, models.JournalOpSetWinningToken, conditionID, winningTokenPayload{Token: token}, func(tx *gorm.DB) error {
		return applySetWinningToken(tx, conditionID, token)
	})
}

// IncrementRetry bumps the retry counter after a failed settlement attempt.
// Reaching the ceiling moves the market to the terminal exhausted status so
// operators can tell "gave up" apart from "still pending". The journal payload
// carries the target count, which keeps replay an idempotent set.
func (s *Store) IncrementRetry(ctx context.Context, conditionID string) error {
	market, err := s.GetMarket(ctx, conditionID)
	if err != nil {
		return err
	}

	newCount := market.RetryCount + 1
	return s.runJournaled(ctx, models.JournalOpIncrementRetry, conditionID, retryPayload{NewCount: newCount}, func(tx *gorm.DB) error {
		return applyRetryCount(tx, conditionID, newCount, s.maxRetries)
	})
}

// ResetRetry is the administrative reset: clears the processed flag and retry
// counter, but only for markets that currently show failed-attempt history.
func (s *Store) ResetRetry(ctx context.Context, conditionID string) error {
	market, err := s.GetMarket(ctx, conditionID)
	if err != nil {
		return err
	}

	if !market.HasFailedAttempts() {
		return fmt.Errorf("market %s has no failed settlement attempts to reset", conditionID)
	}

	return s.runJournaled(ctx, models.JournalOpResetRetry, conditionID, emptyPayload{}, func(tx *gorm.DB) error {
		return applyResetRetry(tx, conditionID)
	})
}

// GetMarket retrieves a market by condition id
func (s *Store) GetMarket(ctx context.Context, conditionID string) (*models.Market, error) {
	var market models.Market
	err := s.db.WithContext(ctx).Where("condition_id = ?", conditionID).First(&market).Error
	if err != nil {
		return nil, err
	}
	return &market, nil
}

// EligibleMarkets returns markets ready for the settlement pipeline, earliest
// expiring first: end time known and past the settlement delay, not yet
// processed locally or settled on chain, and under the retry ceiling.
func (s *Store) EligibleMarkets(ctx context.Context, now time.Time, settlementDelay time.Duration) ([]*models.Market, error) {
	cutoff := now.Add(-settlementDelay).Unix()

	var markets []*models.Market
	err := s.db.WithContext(ctx).
		Where("end_time_known = ? AND end_time < ?", true, cutoff).
		Where("processed_for_settlement = ? AND settled_on_ledger = ?", false, false).
		Where("retry_count < ? AND status <> ?", s.maxRetries, models.MarketStatusExhausted).
		Order("end_time ASC").
		Find(&markets).Error
	if err != nil {
		return nil, err
	}

	return markets, nil
}

// MarketsMissingMetadata returns a bounded batch of markets still lacking an
// end time or question, oldest first
func (s *Store) MarketsMissingMetadata(ctx context.Context, limit int) ([]*models.Market, error) {
	var markets []*models.Market
	err := s.db.WithContext(ctx).
		Where("end_time_known = ? OR question IS NULL", false).
		Where("processed_for_settlement = ?", false).
		Order("created_at ASC").
		Limit(limit).
		Find(&markets).Error
	if err != nil {
		return nil, err
	}

	return markets, nil
}

// PendingJournal returns unresolved journal rows in insertion order
func (s *Store) PendingJournal(ctx context.Context) ([]*models.JournalEntry, error) {
	var entries []*models.JournalEntry
	err := s.db.WithContext(ctx).
		Where("status = ?", models.JournalStatusPending).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// ============================================================================
// Mutation bodies, shared between the journaled path and recovery replay
// ============================================================================

func applyUpsert(tx *gorm.DB, conditionID, creator string) error {
	var existing models.Market
	err := tx.Where("condition_id = ?", conditionID).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		market := models.Market{
			ConditionID: conditionID,
			Creator:     creator,
			Status:      models.MarketStatusPending,
		}
		return tx.Create(&market).Error
	}
	if err != nil {
		return err
	}

	// True merge: only write when the feed re-reports a different creator
	if creator != "" && creator != existing.Creator {
		return tx.Model(&existing).Update("creator", creator).Error
	}
	return nil
}

func applySetEndTime(tx *gorm.DB, conditionID string, endTime int64) error {
	return tx.Model(&models.Market{}).
		Where("condition_id = ?", conditionID).
		Updates(map[string]interface{}{
			"end_time":       endTime,
			"end_time_known": true,
		}).Error
}

func applySetQuestion(tx *gorm.DB, conditionID, question string) error {
	return tx.Model(&models.Market{}).
		Where("condition_id = ?", conditionID).
		Update("question", question).Error
}

func applyMarkProcessed(tx *gorm.DB, conditionID string) error {
	return tx.Model(&models.Market{}).
		Where("condition_id = ?", conditionID).
		Updates(map[string]interface{}{
			"processed_for_settlement": true,
			"status":                   models.MarketStatusSettled,
		}).Error
}

func applySetLedgerStatus(tx *gorm.DB, conditionID string, settled bool, checkedAt time.Time) error {
	return tx.Model(&models.Market{}).
		Where("condition_id = ?", conditionID).
		Updates(map[string]interface{}{
			"settled_on_ledger": settled,
			"last_ledger_check": checkedAt,
		}).Error
}

func applySetWinningToken(tx *gorm.DB, conditionID, token string) error {
	return tx.Model(&models.Market{}).
		Where("condition_id = ?", conditionID).
		Update("winning_outcome_token", token).Error
}

func applyRetryCount(tx *gorm.DB, conditionID string, newCount, maxRetries int) error {
	updates := map[string]interface{}{
		"retry_count": newCount,
	}
	if newCount >= maxRetries {
		updates["status"] = models.MarketStatusExhausted
	}
	return tx.Model(&models.Market{}).
		Where("condition_id = ?", conditionID).
		Updates(updates).Error
}

func applyResetRetry(tx *gorm.DB, conditionID string) error {
	return tx.Model(&models.Market{}).
		Where("condition_id = ?", conditionID).
		Updates(map[string]interface{}{
			"processed_for_settlement": false,
			"retry_count":              0,
			"status":                   models.MarketStatusPending,
		}).Error
}
