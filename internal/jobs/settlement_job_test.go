package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"market-settler/internal/models"
	"market-settler/internal/store"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}

	if err := db.AutoMigrate(&models.Market{}, &models.JournalEntry{}); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return db
}

func seedEligibleMarket(t *testing.T, db *gorm.DB, conditionID string) {
	t.Helper()

	end := time.Now().Add(-time.Hour).Unix()
	market := models.Market{
		ConditionID:  conditionID,
		EndTime:      &end,
		EndTimeKnown: true,
		Status:       models.MarketStatusPending,
	}
	if err := db.Create(&market).Error; err != nil {
		t.Fatalf("fixture insert failed: %v", err)
	}
}

// blockingProcessor counts invocations and can hold the run open until released
type blockingProcessor struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func (p *blockingProcessor) Process(ctx context.Context, market *models.Market) error {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.started != nil {
		close(p.started)
		p.started = nil
	}
	if p.release != nil {
		<-p.release
	}
	return nil
}

func (p *blockingProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestRunOnceProcessesEligibleMarkets(t *testing.T) {
	db := setupTestDB(t)
	s := store.NewStore(db, 5)
	seedEligibleMarket(t, db, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	seedEligibleMarket(t, db, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	proc := &blockingProcessor{}
	job := NewSettlementJob(s, proc, time.Minute, time.Minute, 0)

	processed := job.RunOnce(context.Background())
	if processed != 2 {
		t.Errorf("expected 2 markets processed, got %d", processed)
	}
	if proc.callCount() != 2 {
		t.Errorf("expected 2 pipeline invocations, got %d", proc.callCount())
	}
}

// A second run triggered while the first is still executing must be skipped
// entirely: across both runs the pipeline is invoked once per eligible market.
func TestOverlappingRunIsSkipped(t *testing.T) {
	db := setupTestDB(t)
	s := store.NewStore(db, 5)
	seedEligibleMarket(t, db, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	proc := &blockingProcessor{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	job := NewSettlementJob(s, proc, time.Minute, time.Minute, 0)

	started := proc.started
	done := make(chan int)
	go func() {
		done <- job.RunOnce(context.Background())
	}()

	// Wait for the first run to be mid-flight, then trigger an overlap
	<-started
	if skipped := job.RunOnce(context.Background()); skipped != 0 {
		t.Errorf("overlapping run processed %d markets, expected skip", skipped)
	}

	close(proc.release)
	if first := <-done; first != 1 {
		t.Errorf("first run processed %d markets, expected 1", first)
	}

	if proc.callCount() != 1 {
		t.Errorf("expected exactly 1 pipeline invocation across both runs, got %d", proc.callCount())
	}
}

// countingEnricher records which markets the backfill pass touched
type countingEnricher struct {
	mu  sync.Mutex
	ids []string
}

func (e *countingEnricher) Enrich(ctx context.Context, conditionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, conditionID)
	return nil
}

func TestBackfillRunEnrichesBoundedBatch(t *testing.T) {
	db := setupTestDB(t)
	s := store.NewStore(db, 5)

	// Three markets missing metadata, batch size two
	for i, id := range []string{
		"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		"0xcccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc",
	} {
		market := models.Market{
			ConditionID: id,
			Status:      models.MarketStatusPending,
			CreatedAt:   time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := db.Create(&market).Error; err != nil {
			t.Fatalf("fixture insert failed: %v", err)
		}
	}

	enricher := &countingEnricher{}
	job := NewBackfillJob(s, enricher, time.Minute, 0, 2)

	enriched := job.RunOnce(context.Background())
	if enriched != 2 {
		t.Errorf("expected batch of 2 enriched, got %d", enriched)
	}
	if len(enricher.ids) != 2 {
		t.Errorf("expected 2 enricher calls, got %d", len(enricher.ids))
	}
}
