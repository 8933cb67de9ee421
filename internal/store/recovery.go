package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"market-settler/internal/models"
)

// ReplayPending re-applies journal rows left pending by a crash between the
// journal commit and the guarded mutation's commit. Runs once at startup,
// before any job is armed. Rows whose replay fails are marked failed and are
// not retried; completed rows are never touched.
func (s *Store) ReplayPending(ctx context.Context) (int, int, error) {
	entries, err := s.PendingJournal(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to scan journal: %w", err)
	}

	if len(entries) == 0 {
		return 0, 0, nil
	}

	log.Printf("[Recovery] Replaying %d pending journal entries", len(entries))

	replayed := 0
	failed := 0
	for _, entry := range entries {
		if err := s.replayEntry(ctx, entry); err != nil {
			log.Printf("[Recovery] Replay failed for entry %d (%s on %s): %v",
				entry.ID, entry.Operation, entry.ConditionID, err)
			s.markJournal(ctx, entry.ID, models.JournalStatusFailed)
			failed++
			continue
		}

		if err := s.markJournal(ctx, entry.ID, models.JournalStatusCompleted); err != nil {
			return replayed, failed, err
		}
		replayed++
	}

	log.Printf("[Recovery] Replay complete: %d applied, %d failed", replayed, failed)
	return replayed, failed, nil
}

// replayEntry re-applies one journaled mutation directly, bypassing the
// journaled path. All mutation bodies are idempotent field-sets.
func (s *Store) replayEntry(ctx context.Context, entry *models.JournalEntry) error {
	db := s.db.WithContext(ctx)

	switch entry.Operation {
	case models.JournalOpUpsert:
		var p upsertPayload
		if err := json.Unmarshal([]byte(entry.Payload), &p); err != nil {
			return err
		}
		return applyUpsert(db, entry.ConditionID, p.Creator)

	case models.JournalOpSetEndTime:
		var p endTimePayload
		if err := json.Unmarshal([]byte(entry.Payload), &p); err != nil {
			return err
		}
		return applySetEndTime(db, entry.ConditionID, p.EndTime)

	case models.JournalOpSetQuestion:
		var p questionPayload
		if err := json.Unmarshal([]byte(entry.Payload), &p); err != nil {
			return err
		}
		return applySetQuestion(db, entry.ConditionID, p.Question)

	case models.JournalOpMarkProcessed:
		return applyMarkProcessed(db, entry.ConditionID)

	case models.JournalOpSetLedgerStatus:
		var p ledgerStatusPayload
		if err := json.Unmarshal([]byte(entry.Payload), &p); err != nil {
			return err
		}
		return applySetLedgerStatus(db, entry.ConditionID, p.Settled, p.CheckedAt)

	case models.JournalOpSetWinningToken:
		var p winningTokenPayload
		if err := json.Unmarshal([]byte(entry.Payload), &p); err != nil {
			return err
		}
		return applySetWinningToken(db, entry.ConditionID, p.Token)

	case models.JournalOpIncrementRetry:
		var p retryPayload
		if err := json.Unmarshal([]byte(entry.Payload), &p); err != nil {
			return err
		}
		return applyRetryCount(db, entry.ConditionID, p.NewCount, s.maxRetries)

	case models.JournalOpResetRetry:
		return applyResetRetry(db, entry.ConditionID)

	default:
		return fmt.Errorf("unknown journal operation %q", entry.Operation)
	}
}

func (s *Store) markJournal(ctx context.Context, id uint, status string) error {
	return s.db.WithContext(ctx).Model(&models.JournalEntry{}).
		Where("id = ?", id).
		Update("status", status).Error
}
