package store

import (
	"context"
	"testing"
	"time"

	"market-settler/internal/models"

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

const testConditionID = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func TestUpsertCreatesOnce(t *testing.T) {
	db := setupTestDB(t)
	s := NewStore(db, 5)
	ctx := context.Background()

	if err := s.Upsert(ctx, testConditionID, "creator1"); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if err := s.Upsert(ctx, testConditionID, "creator1"); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	var count int64
	db.Model(&models.Market{}).Count(&count)
	if count != 1 {
		t.Errorf("expected 1 market row, got %d", count)
	}
}

func TestUpsertIdempotentMerge(t *testing.T) {
	db := setupTestDB(t)
	s := NewStore(db, 5)
	ctx := context.Background()

	if err := s.Upsert(ctx, testConditionID, "creator1"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	first, err := s.GetMarket(ctx, testConditionID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	// Same id, same creator: the merge must not touch the row
	if err := s.Upsert(ctx, testConditionID, "creator1"); err != nil {
		t.Fatalf("duplicate upsert failed: %v", err)
	}

	second, err := s.GetMarket(ctx, testConditionID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Errorf("duplicate upsert changed updated_at: %v -> %v", first.UpdatedAt, second.UpdatedAt)
	}

	time.Sleep(10 * time.Millisecond)

	// An unrelated mutation must refresh updated_at
	if err := s.SetEndTime(ctx, testConditionID, 12345); err != nil {
		t.Fatalf("set end time failed: %v", err)
	}

	third, err := s.GetMarket(ctx, testConditionID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !third.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("mutation did not refresh updated_at: %v -> %v", first.UpdatedAt, third.UpdatedAt)
	}
}

func TestUpsertOverwritesChangedCreator(t *testing.T) {
	db := setupTestDB(t)
	s := NewStore(db, 5)
	ctx := context.Background()

	if err := s.Upsert(ctx, testConditionID, "creator1"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := s.Upsert(ctx, testConditionID, "creator2"); err != nil {
		t.Fatalf("re-upsert failed: %v", err)
	}

	market, err := s.GetMarket(ctx, testConditionID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if market.Creator != "creator2" {
		t.Errorf("expected creator2, got %s", market.Creator)
	}
}

func TestEligibilityPredicate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	delay := 60 * time.Second
	pastEnd := now.Add(-120 * time.Second).Unix()

	tests := []struct {
		name     string
		mutate   func(m *models.Market)
		eligible bool
	}{
		{
			name:     "all terms hold",
			mutate:   func(m *models.Market) {},
			eligible: true,
		},
		{
			name: "end time unknown",
			mutate: func(m *models.Market) {
				m.EndTimeKnown = false
				m.EndTime = nil
			},
			eligible: false,
		},
		{
			name: "delay not elapsed",
			mutate: func(m *models.Market) {
				end := now.Add(-30 * time.Second).Unix()
				m.EndTime = &end
			},
			eligible: false,
		},
		{
			name: "already processed",
			mutate: func(m *models.Market) {
				m.ProcessedForSettlement = true
			},
			eligible: false,
		},
		{
			name: "settled on ledger",
			mutate: func(m *models.Market) {
				m.SettledOnLedger = true
			},
			eligible: false,
		},
		{
			name: "retries exhausted",
			mutate: func(m *models.Market) {
				m.RetryCount = 5
				m.Status = models.MarketStatusExhausted
			},
			eligible: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := setupTestDB(t)
			s := NewStore(db, 5)

			end := pastEnd
			market := models.Market{
				ConditionID:  testConditionID,
				Creator:      "creator1",
				EndTime:      &end,
				EndTimeKnown: true,
				Status:       models.MarketStatusPending,
			}
			tt.mutate(&market)

			if err := db.Create(&market).Error; err != nil {
				t.Fatalf("fixture insert failed: %v", err)
			}

			eligible, err := s.EligibleMarkets(context.Background(), now, delay)
			if err != nil {
				t.Fatalf("eligibility query failed: %v", err)
			}

			if tt.eligible && len(eligible) != 1 {
				t.Errorf("expected market to be eligible, got %d results", len(eligible))
			}
			if !tt.eligible && len(eligible) != 0 {
				t.Errorf("expected market to be excluded, got %d results", len(eligible))
			}
		})
	}
}

func TestEligibleMarketsOrderedByEndTime(t *testing.T) {
	db := setupTestDB(t)
	s := NewStore(db, 5)
	now := time.Unix(1_700_000_000, 0)

	late := now.Add(-100 * time.Second).Unix()
	early := now.Add(-500 * time.Second).Unix()

	for id, end := range map[string]*int64{
		"0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb": &late,
		"0xcccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc": &early,
	} {
		market := models.Market{
			ConditionID:  id,
			EndTime:      end,
			EndTimeKnown: true,
			Status:       models.MarketStatusPending,
		}
		if err := db.Create(&market).Error; err != nil {
			t.Fatalf("fixture insert failed: %v", err)
		}
	}

	eligible, err := s.EligibleMarkets(context.Background(), now, 60*time.Second)
	if err != nil {
		t.Fatalf("eligibility query failed: %v", err)
	}
	if len(eligible) != 2 {
		t.Fatalf("expected 2 eligible markets, got %d", len(eligible))
	}
	if *eligible[0].EndTime != early {
		t.Errorf("expected earliest-expiring market first, got end time %d", *eligible[0].EndTime)
	}
}

func TestIncrementRetryReachesExhausted(t *testing.T) {
	db := setupTestDB(t)
	s := NewStore(db, 2)
	ctx := context.Background()

	if err := s.Upsert(ctx, testConditionID, "creator1"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	if err := s.IncrementRetry(ctx, testConditionID); err != nil {
		t.Fatalf("first increment failed: %v", err)
	}

	market, _ := s.GetMarket(ctx, testConditionID)
	if market.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", market.RetryCount)
	}
	if market.Status == models.MarketStatusExhausted {
		t.Error("market exhausted before reaching ceiling")
	}

	if err := s.IncrementRetry(ctx, testConditionID); err != nil {
		t.Fatalf("second increment failed: %v", err)
	}

	market, _ = s.GetMarket(ctx, testConditionID)
	if market.RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", market.RetryCount)
	}
	if market.Status != models.MarketStatusExhausted {
		t.Errorf("expected exhausted status at ceiling, got %s", market.Status)
	}
}

func TestResetRetryRequiresFailedHistory(t *testing.T) {
	db := setupTestDB(t)
	s := NewStore(db, 5)
	ctx := context.Background()

	if err := s.Upsert(ctx, testConditionID, "creator1"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	// No failed attempts yet: reset must error
	if err := s.ResetRetry(ctx, testConditionID); err == nil {
		t.Error("expected reset to fail for market without failed attempts")
	}

	if err := s.IncrementRetry(ctx, testConditionID); err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if err := s.MarkProcessed(ctx, testConditionID); err != nil {
		t.Fatalf("mark processed failed: %v", err)
	}

	if err := s.ResetRetry(ctx, testConditionID); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	market, _ := s.GetMarket(ctx, testConditionID)
	if market.RetryCount != 0 {
		t.Errorf("expected retry count 0 after reset, got %d", market.RetryCount)
	}
	if market.ProcessedForSettlement {
		t.Error("expected processed flag cleared after reset")
	}
	if market.Status != models.MarketStatusPending {
		t.Errorf("expected pending status after reset, got %s", market.Status)
	}
}

func TestMutationsCompleteJournalRows(t *testing.T) {
	db := setupTestDB(t)
	s := NewStore(db, 5)
	ctx := context.Background()

	if err := s.Upsert(ctx, testConditionID, "creator1"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := s.SetEndTime(ctx, testConditionID, 12345); err != nil {
		t.Fatalf("set end time failed: %v", err)
	}
	if err := s.SetQuestion(ctx, testConditionID, "Will it rain?"); err != nil {
		t.Fatalf("set question failed: %v", err)
	}

	var entries []models.JournalEntry
	if err := db.Find(&entries).Error; err != nil {
		t.Fatalf("journal query failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 journal rows, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.Status != models.JournalStatusCompleted {
			t.Errorf("journal entry %d (%s) not completed: %s", entry.ID, entry.Operation, entry.Status)
		}
	}
}

func TestMarketsMissingMetadataOldestFirst(t *testing.T) {
	db := setupTestDB(t)
	s := NewStore(db, 5)

	older := models.Market{
		ConditionID: "0xdddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddd",
		Status:      models.MarketStatusPending,
		CreatedAt:   time.Now().Add(-time.Hour),
	}
	newer := models.Market{
		ConditionID: "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee",
		Status:      models.MarketStatusPending,
		CreatedAt:   time.Now(),
	}
	if err := db.Create(&newer).Error; err != nil {
		t.Fatalf("fixture insert failed: %v", err)
	}
	if err := db.Create(&older).Error; err != nil {
		t.Fatalf("fixture insert failed: %v", err)
	}

	markets, err := s.MarketsMissingMetadata(context.Background(), 1)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("expected batch of 1, got %d", len(markets))
	}
	if markets[0].ConditionID != older.ConditionID {
		t.Errorf("expected oldest market first, got %s", markets[0].ConditionID)
	}
}
