package jobs

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"market-settler/internal/store"

	"github.com/google/uuid"
)

// Enricher fetches missing metadata for one market from the ledger
type Enricher interface {
	Enrich(ctx context.Context, conditionID string) error
}

// BackfillJob periodically fills in end times and questions for markets the
// ingestion pass could not enrich. Independently gated from the settlement
// job; both may run at once and serialize through the store.
type BackfillJob struct {
	store      *store.Store
	enricher   Enricher
	interval   time.Duration
	batchSize  int
	callPause  time.Duration
	inProgress atomic.Bool
	stopChan   chan struct{}
}

func NewBackfillJob(st *store.Store, enricher Enricher, interval, callPause time.Duration, batchSize int) *BackfillJob {
	return &BackfillJob{
		store:     st,
		enricher:  enricher,
		interval:  interval,
		batchSize: batchSize,
		callPause: callPause,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the backfill loop
func (j *BackfillJob) Start() {
	log.Printf("[BackfillJob] Starting metadata backfill job (interval: %v, batch: %d)", j.interval, j.batchSize)

	go func() {
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				j.RunOnce(context.Background())
			case <-j.stopChan:
				log.Println("[BackfillJob] Stopping metadata backfill job")
				return
			}
		}
	}()
}

// Stop stops the backfill loop
func (j *BackfillJob) Stop() {
	close(j.stopChan)
}

// RunOnce executes a single backfill pass over a bounded batch, oldest first
func (j *BackfillJob) RunOnce(ctx context.Context) int {
	if !j.inProgress.CompareAndSwap(false, true) {
		log.Println("[BackfillJob] Previous run still in progress, skipping")
		return 0
	}
	defer j.inProgress.Store(false)

	runID := uuid.New().String()[:8]

	markets, err := j.store.MarketsMissingMetadata(ctx, j.batchSize)
	if err != nil {
		log.Printf("[BackfillJob] run=%s Error querying markets: %v", runID, err)
		return 0
	}

	if len(markets) == 0 {
		return 0
	}

	log.Printf("[BackfillJob] run=%s Backfilling metadata for %d markets", runID, len(markets))

	enriched := 0
	for i, market := range markets {
		if err := j.enricher.Enrich(ctx, market.ConditionID); err != nil {
			log.Printf("[BackfillJob] run=%s Failed to enrich %s: %v", runID, market.ConditionID, err)
		} else {
			enriched++
		}

		if i < len(markets)-1 {
			time.Sleep(j.callPause)
		}
	}

	log.Printf("[BackfillJob] run=%s Pass complete: %d markets enriched", runID, enriched)
	return enriched
}
