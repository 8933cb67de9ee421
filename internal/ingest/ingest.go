package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"market-settler/internal/indexer"
	"market-settler/internal/ledger"
	"market-settler/internal/store"
	"market-settler/internal/utils"
)

// Adapter consumes condition-creation events and upserts market records,
// enriching them with ledger metadata as they are first seen. Event delivery
// is at-least-once; the store's merge semantics keep application idempotent.
type Adapter struct {
	store    *store.Store
	ledger   ledger.Client
	source   indexer.Source
	pageSize int
}

func NewAdapter(st *store.Store, lg ledger.Client, source indexer.Source, pageSize int) *Adapter {
	return &Adapter{
		store:    st,
		ledger:   lg,
		source:   source,
		pageSize: pageSize,
	}
}

// SyncHistorical replays the feed from the checkpoint until it is drained and
// returns the cursor the live subscription should continue from.
func (a *Adapter) SyncHistorical(ctx context.Context, fromCursor int64) (int64, error) {
	cursor := fromCursor
	total := 0

	for {
		events, err := a.source.FetchEvents(ctx, cursor, a.pageSize)
		if err != nil {
			return cursor, fmt.Errorf("historical sync failed at cursor %d: %w", cursor, err)
		}
		if len(events) == 0 {
			break
		}

		for _, event := range events {
			if err := a.applyEvent(ctx, event); err != nil {
				log.Printf("[Ingest] Failed to apply event %s: %v", event.ConditionID, err)
			} else {
				total++
			}

			// The cursor must advance past every delivered event, applied or
			// not; a permanently failing event would otherwise pin the replay
			// on the same page forever. Delivery is at-least-once, so skipped
			// events can be redelivered later.
			if event.Sequence >= cursor {
				cursor = event.Sequence + 1
			}
		}
	}

	log.Printf("[Ingest] Historical sync complete: %d events applied, cursor %d", total, cursor)
	return cursor, nil
}

// OnLive applies a single live event
func (a *Adapter) OnLive(ctx context.Context, event indexer.ConditionEvent) error {
	return a.applyEvent(ctx, event)
}

// applyEvent upserts the market and, when metadata is missing, fetches the end
// time and question from the ledger in this call. Markets discovered already
// settled on chain are short-circuited to processed immediately.
func (a *Adapter) applyEvent(ctx context.Context, event indexer.ConditionEvent) error {
	conditionID, err := utils.NormalizeConditionID(event.ConditionID)
	if err != nil {
		return err
	}

	if err := a.store.Upsert(ctx, conditionID, event.Creator); err != nil {
		return fmt.Errorf("upsert failed: %w", err)
	}

	market, err := a.store.GetMarket(ctx, conditionID)
	if err != nil {
		return err
	}

	if market.ProcessedForSettlement {
		return nil
	}

	if market.EndTimeKnown && market.Question != nil {
		return nil
	}

	return a.Enrich(ctx, conditionID)
}

// Enrich fetches missing metadata for a market from the ledger and persists
// it. Shared with the backfill job.
func (a *Adapter) Enrich(ctx context.Context, conditionID string) error {
	market, err := a.store.GetMarket(ctx, conditionID)
	if err != nil {
		return err
	}

	if !market.EndTimeKnown {
		endTime, err := a.ledger.GetEndTime(ctx, conditionID)
		if err != nil {
			return fmt.Errorf("failed to fetch end time: %w", err)
		}
		if err := a.store.SetEndTime(ctx, conditionID, endTime); err != nil {
			return err
		}
	}

	if market.Question == nil {
		question, err := a.ledger.GetQuestion(ctx, conditionID)
		if err != nil {
			return fmt.Errorf("failed to fetch question: %w", err)
		}
		if err := a.store.SetQuestion(ctx, conditionID, question); err != nil {
			return err
		}
	}

	settled, err := a.ledger.IsSettled(ctx, conditionID)
	if err != nil {
		return fmt.Errorf("failed to check settlement status: %w", err)
	}

	if settled {
		// Market settled before we indexed it: record the terminal state now
		// so the scheduler never picks it up.
		if err := a.store.SetLedgerStatus(ctx, conditionID, true, time.Now()); err != nil {
			return err
		}
		if err := a.store.MarkProcessed(ctx, conditionID); err != nil {
			return err
		}

		// Winning token recording is best-effort here
		if token, err := a.ledger.WinningToken(ctx, conditionID); err != nil {
			log.Printf("[Ingest] Could not fetch winning token for %s: %v", conditionID, err)
		} else if token != "" {
			if err := a.store.SetWinningToken(ctx, conditionID, token); err != nil {
				log.Printf("[Ingest] Could not record winning token for %s: %v", conditionID, err)
			}
		}

		log.Printf("[Ingest] Market %s was already settled on ledger, marked processed", conditionID)
	}

	return nil
}
