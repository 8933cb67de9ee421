package jobs

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"market-settler/internal/models"
	"market-settler/internal/store"

	"github.com/google/uuid"
)

// Processor settles a single eligible market
type Processor interface {
	Process(ctx context.Context, market *models.Market) error
}

// SettlementJob periodically scans for eligible markets and feeds them one at
// a time into the settlement pipeline. A compare-and-swap gate makes each run
// mutually exclusive with itself: a tick that lands while a run is still in
// flight is skipped, not queued.
type SettlementJob struct {
	store           *store.Store
	pipeline        Processor
	interval        time.Duration
	settlementDelay time.Duration
	entityPause     time.Duration
	inProgress      atomic.Bool
	stopChan        chan struct{}
}

func NewSettlementJob(st *store.Store, pipeline Processor, interval, settlementDelay, entityPause time.Duration) *SettlementJob {
	return &SettlementJob{
		store:           st,
		pipeline:        pipeline,
		interval:        interval,
		settlementDelay: settlementDelay,
		entityPause:     entityPause,
		stopChan:        make(chan struct{}),
	}
}

// Start begins the settlement loop
func (j *SettlementJob) Start() {
	log.Printf("[SettlementJob] Starting settlement job (interval: %v, delay: %v)", j.interval, j.settlementDelay)

	go func() {
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				j.RunOnce(context.Background())
			case <-j.stopChan:
				log.Println("[SettlementJob] Stopping settlement job")
				return
			}
		}
	}()
}

// Stop stops the settlement loop
func (j *SettlementJob) Stop() {
	close(j.stopChan)
}

// RunOnce executes a single scheduler pass. Returns the number of markets fed
// to the pipeline; a pass skipped because another is in flight returns 0.
func (j *SettlementJob) RunOnce(ctx context.Context) int {
	if !j.inProgress.CompareAndSwap(false, true) {
		log.Println("[SettlementJob] Previous run still in progress, skipping")
		return 0
	}
	defer j.inProgress.Store(false)

	runID := uuid.New().String()[:8]

	markets, err := j.store.EligibleMarkets(ctx, time.Now(), j.settlementDelay)
	if err != nil {
		log.Printf("[SettlementJob] run=%s Error querying eligible markets: %v", runID, err)
		return 0
	}

	if len(markets) == 0 {
		return 0
	}

	log.Printf("[SettlementJob] run=%s Processing %d eligible markets", runID, len(markets))

	processed := 0
	for i, market := range markets {
		if err := j.pipeline.Process(ctx, market); err != nil {
			log.Printf("[SettlementJob] run=%s Market %s attempt failed: %v", runID, market.ConditionID, err)
		}
		processed++

		// Bound the external call rate between markets
		if i < len(markets)-1 {
			time.Sleep(j.entityPause)
		}
	}

	log.Printf("[SettlementJob] run=%s Pass complete: %d markets processed", runID, processed)
	return processed
}
