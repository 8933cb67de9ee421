package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"market-settler/internal/config"
	"market-settler/internal/database"
	"market-settler/internal/store"
	"market-settler/internal/utils"
)

// reset clears the processed flag and retry counter for a market that shows
// failed settlement attempts, so the next scheduler pass retries it.
//
// Usage: reset <condition-id>
func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "Usage: reset <condition-id>")
		os.Exit(1)
	}

	conditionID, err := utils.NormalizeConditionID(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid condition id: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := database.Connect(cfg.Database.Driver, cfg.GetDSN()); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	marketStore := store.NewStore(database.GetDB(), cfg.Scheduler.MaxRetries)

	if err := marketStore.ResetRetry(context.Background(), conditionID); err != nil {
		fmt.Fprintf(os.Stderr, "Reset failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Market %s reset for settlement retry\n", conditionID)
}
